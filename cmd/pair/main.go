package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clive/pair/internal/config"
	"github.com/clive/pair/internal/logging"
	"github.com/clive/pair/internal/metrics"
	"github.com/clive/pair/internal/orchestrator"
	"github.com/clive/pair/internal/tui"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts a session in the current directory. Arguments are files to
// add to the chat.
func run(files []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	sessionID := orchestrator.NewSessionID()
	logger, err := logging.New(cfg.LogDir, root, sessionID, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
		logger = logging.Discard()
	}
	defer logger.Close()
	logger.Info("session starting", "engine", cfg.Engine, "config", cfg.Sources)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv, err := metrics.Serve(cfg.MetricsAddr, m, logger.Logger)
		if err != nil {
			logger.Warn("metrics endpoint disabled", "addr", cfg.MetricsAddr, "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
		}
	}

	orch := orchestrator.New(
		orchestrator.ConfigSetup(cfg, root, sessionID, files, logger.Logger),
		logger.Logger,
		m,
	)
	orch.Start()
	defer orch.Shutdown()

	p := tea.NewProgram(
		tui.NewRootModel(orch, tui.Options{
			Root:  root,
			Mode:  cfg.Mode,
			Debug: cfg.LogLevel == "debug",
		}),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	logger.Info("session ended")
	return nil
}
