package remote

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tpodg/smscampaign/internal/credential"
	"github.com/tpodg/smscampaign/internal/fault"
	"github.com/tpodg/smscampaign/internal/shell"
	"github.com/tpodg/smscampaign/internal/testutils"
)

func TestSSHChannel_Integration(t *testing.T) {
	ctx := context.Background()
	sshC := testutils.SetupSSHContainer(t, ctx)
	defer sshC.Container.Terminate(ctx)

	// Wait a bit for the SSH server to be fully ready
	time.Sleep(2 * time.Second)

	endpoint := Endpoint{
		Name:           "test-container",
		Host:           sshC.Host,
		Port:           sshC.Port,
		User:           sshC.User,
		KnownHostsPath: sshC.KnownHostsPath,
	}

	t.Run("password credential sends message", func(t *testing.T) {
		ch := NewSSHChannel(endpoint, credential.New(sshC.Password), SSHOptions{UseAgent: noAgent()})

		message := "Bonjour camarade Léon Blum, it's a \"test\"; `id`"
		res, err := ch.Execute(ctx, shell.BuildSendCommand(sshC.CapabilityPath, "+33600000001", message))
		if err != nil {
			t.Fatalf("Execute failed: %v\nStderr: %s", err, res.Stderr)
		}
		if strings.TrimSpace(res.Stdout) != "queued +33600000001" {
			t.Fatalf("unexpected stdout %q", res.Stdout)
		}

		log, err := ch.Execute(ctx, "cat "+sshC.SentLogPath)
		if err != nil {
			t.Fatalf("read sent log failed: %v", err)
		}
		if !strings.Contains(log.Stdout, "+33600000001\t"+message) {
			t.Fatalf("expected literal message in sent log, got %q", log.Stdout)
		}
	})

	t.Run("key auth with remote failure", func(t *testing.T) {
		keyEndpoint := endpoint
		keyEndpoint.SSHKey = sshC.KeyPath
		ch := NewSSHChannel(keyEndpoint, credential.Credential{}, SSHOptions{UseAgent: noAgent()})

		res, err := ch.Execute(ctx, shell.BuildSendCommand(sshC.CapabilityPath, "+0001", "hello"))
		if !errors.Is(err, fault.RemoteCommand) {
			t.Fatalf("expected remote command error, got %v", err)
		}
		if res.ExitCode != 3 || !strings.Contains(res.Stderr, "invalid number") {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("accepts new host", func(t *testing.T) {
		fresh := endpoint
		fresh.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
		ch := NewSSHChannel(fresh, credential.New(sshC.Password), SSHOptions{UseAgent: noAgent()})

		if _, err := ch.Execute(ctx, "true"); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	})
}
