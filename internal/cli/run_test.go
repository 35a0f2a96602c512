package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/tpodg/smscampaign/internal/app"
	"github.com/tpodg/smscampaign/internal/campaign"
	"github.com/tpodg/smscampaign/internal/config"
	"github.com/tpodg/smscampaign/internal/fault"
	"github.com/tpodg/smscampaign/internal/history"
	"github.com/tpodg/smscampaign/internal/testutils"
)

const contacts = "NAME;SURNAME;NUMBER\n" +
	"Léon;Blum;+33600000001\n" +
	"Rosa;Luxemburg;+33600000002\n" +
	"Jean;Jaurès;\n"

// testConfig points a campaign at srv with files in a temp directory.
func testConfig(t *testing.T, srv *testutils.SSHServer) *config.Config {
	t.Helper()
	dir := t.TempDir()

	host, portStr, err := net.SplitHostPort(srv.Address)
	if err != nil {
		t.Fatalf("split address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	recipients := filepath.Join(dir, "contacts.csv")
	if err := os.WriteFile(recipients, []byte(contacts), 0o600); err != nil {
		t.Fatalf("write recipients: %v", err)
	}
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("SMSCAMPAIGN_TEST_PASSWORD=secret\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	useAgent := false
	cfg := &config.Config{
		Remote: config.RemoteConfig{
			Name:           "test-phone",
			Host:           host,
			Port:           port,
			User:           "termux",
			KnownHostsPath: filepath.Join(dir, "known_hosts"),
			UseAgent:       &useAgent,
			ConnectTimeout: 2 * time.Second,
			CommandTimeout: 2 * time.Second,
			Capability:     campaign.DefaultCapability,
		},
		Credentials: config.CredentialsConfig{EnvFile: envFile, Key: "SMSCAMPAIGN_TEST_PASSWORD"},
		Campaign: config.CampaignConfig{
			Recipients: recipients,
			Pacing:     10 * time.Millisecond,
			Workers:    1,
			Report:     filepath.Join(dir, "report.yaml"),
		},
		History: config.HistoryConfig{Path: filepath.Join(dir, "history.db")},
	}
	return cfg
}

func TestRunCampaign(t *testing.T) {
	srv := testutils.StartSSHServer(t, testutils.SSHServerOptions{User: "termux", Password: "secret"})
	cfg := testConfig(t, srv)

	var out bytes.Buffer
	a := app.New(cfg, app.Options{Out: &out})

	report, err := runCampaign(context.Background(), a)
	if err != nil {
		t.Fatalf("runCampaign failed: %v\n%s", err, out.String())
	}

	s := report.Summary()
	if s.Total != 2 || s.Sent != 2 || s.Rejected != 1 {
		t.Fatalf("unexpected summary %+v\n%s", s, out.String())
	}
	if report.OK() {
		t.Fatal("expected a rejected record to make the run incomplete")
	}

	cmds := srv.Commands()
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %q", cmds)
	}
	if !strings.HasPrefix(cmds[0], "~/send_sms.sh '+33600000001' 'Bonjour camarade Léon Blum,") {
		t.Fatalf("unexpected first command %q", cmds[0])
	}
	if !strings.HasPrefix(cmds[1], "~/send_sms.sh '+33600000002' 'Bonjour camarade Rosa Luxemburg,") {
		t.Fatalf("unexpected second command %q", cmds[1])
	}

	output := out.String()
	for _, want := range []string{
		"WARN: Skipping Jean Jaurès on line 4",
		"Sending to Léon Blum at +33600000001...",
		"Sending to Rosa Luxemburg at +33600000002...",
		"Sent.",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, output)
		}
	}
	if strings.Contains(output, "secret") {
		t.Errorf("credential leaked into output:\n%s", output)
	}

	data, err := os.ReadFile(cfg.Campaign.Report)
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	if !strings.Contains(string(data), "run_id: "+report.RunID) {
		t.Fatalf("unexpected report:\n%s", data)
	}

	store, err := history.Open(context.Background(), cfg.History.Path)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()
	runs, err := store.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Sent != 2 {
		t.Fatalf("unexpected history %+v", runs)
	}
}

func TestRunCampaign_RemoteFailure(t *testing.T) {
	srv := testutils.StartSSHServer(t, testutils.SSHServerOptions{
		User:     "termux",
		Password: "secret",
		Handler: func(command string) (string, string, int) {
			if strings.Contains(command, "+33600000001") {
				return "", "no SIM card\n", 1
			}
			return "queued\n", "", 0
		},
	})
	cfg := testConfig(t, srv)
	cfg.History.Path = ""

	var out bytes.Buffer
	report, err := runCampaign(context.Background(), app.New(cfg, app.Options{Out: &out}))
	if err != nil {
		t.Fatalf("runCampaign failed: %v", err)
	}

	if report.Outcomes[0].Status != campaign.StatusFailed || report.Outcomes[1].Status != campaign.StatusSent {
		t.Fatalf("unexpected outcomes %+v", report.Outcomes)
	}
	if !errors.Is(report.Outcomes[0].Err, fault.RemoteCommand) {
		t.Fatalf("expected remote command error, got %v", report.Outcomes[0].Err)
	}
	if !strings.Contains(out.String(), "WARN: Failed: remote command error") {
		t.Fatalf("expected failure line, got:\n%s", out.String())
	}
}

func TestRunCampaign_SetupErrors(t *testing.T) {
	srv := testutils.StartSSHServer(t, testutils.SSHServerOptions{User: "termux", Password: "secret"})

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name:   "missing recipients file",
			mutate: func(c *config.Config) { c.Campaign.Recipients = filepath.Join(t.TempDir(), "missing.csv") },
		},
		{
			name:   "missing template file",
			mutate: func(c *config.Config) { c.Campaign.Template = filepath.Join(t.TempDir(), "missing.tmpl") },
		},
		{
			name: "unparsable credential file",
			mutate: func(c *config.Config) {
				if err := os.WriteFile(c.Credentials.EnvFile, []byte("BAD-KEY=1\n"), 0o600); err != nil {
					t.Fatalf("write env file: %v", err)
				}
			},
		},
		{
			name:   "missing host",
			mutate: func(c *config.Config) { c.Remote.Host = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, srv)
			tt.mutate(cfg)

			_, err := runCampaign(context.Background(), app.New(cfg, app.Options{Out: &bytes.Buffer{}}))
			if !errors.Is(err, fault.Config) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}

	if cmds := srv.Commands(); len(cmds) != 0 {
		t.Fatalf("expected no command after setup errors, got %q", cmds)
	}
}

func TestRunCommand_ExitStatus(t *testing.T) {
	srv := testutils.StartSSHServer(t, testutils.SSHServerOptions{User: "termux", Password: "secret"})
	cfg := testConfig(t, srv)
	cfg.History.Path = ""

	if err := os.WriteFile(cfg.Campaign.Recipients, []byte("NAME;SURNAME;NUMBER\nLéon;Blum;+33600000001\n"), 0o600); err != nil {
		t.Fatalf("write recipients: %v", err)
	}

	a := app.New(cfg, app.Options{Out: &bytes.Buffer{}})
	runCmd.SetContext(context.WithValue(context.Background(), appKey, a))
	if err := runCmd.RunE(runCmd, nil); err != nil {
		t.Fatalf("expected complete run to succeed, got %v", err)
	}

	if err := os.WriteFile(cfg.Campaign.Recipients, []byte(contacts), 0o600); err != nil {
		t.Fatalf("write recipients: %v", err)
	}
	if err := runCmd.RunE(runCmd, nil); !errors.Is(err, errIncomplete) {
		t.Fatalf("expected errIncomplete, got %v", err)
	}
}

func TestApplyCampaignFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	addCampaignFlags(cmd)

	cfg := &config.Config{Campaign: config.CampaignConfig{Pacing: campaign.DefaultPacing, Workers: 1, Report: "kept.yaml"}}
	if err := cmd.Flags().Set("pacing", "0"); err != nil {
		t.Fatalf("set pacing: %v", err)
	}
	if err := cmd.Flags().Set("workers", "3"); err != nil {
		t.Fatalf("set workers: %v", err)
	}
	applyCampaignFlags(cmd, cfg)

	if cfg.Campaign.Pacing != 0 {
		t.Fatalf("expected --pacing 0 to disable pacing, got %s", cfg.Campaign.Pacing)
	}
	if cfg.Campaign.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Campaign.Workers)
	}
	if cfg.Campaign.Report != "kept.yaml" {
		t.Fatalf("expected unset flag to keep config value, got %q", cfg.Campaign.Report)
	}
}
