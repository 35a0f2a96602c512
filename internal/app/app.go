package app

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/tpodg/smscampaign/internal/config"
	"github.com/tpodg/smscampaign/internal/progress"
)

type App struct {
	Logger   *slog.Logger
	Config   *config.Config
	Progress *progress.Printer
}

type Options struct {
	Verbose bool
	// Out receives logs and progress lines. Defaults to os.Stdout.
	Out io.Writer
}

func New(cfg *config.Config, opts Options) *App {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	}))

	return &App{
		Logger:   logger,
		Config:   cfg,
		Progress: progress.NewPrinter(out, isTerminal(out)),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
