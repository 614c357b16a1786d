package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ldapsyncd/ldapsyncd/internal/cookie"
	"github.com/ldapsyncd/ldapsyncd/internal/daemon"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single refresh pass over every configured source",
		Long:  "Connects each source, runs exactly one Tick, reports its disposition, and exits — useful for cron-driven refreshOnly sources or verifying a config change before running the daemon.",
		RunE:  runOnce,
	}
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx := cmd.Context()

	cfg := cc.Holder.Config()

	databases, err := daemon.OpenDatabases(ctx, cfg, cc.Store, logger)
	if err != nil {
		return err
	}
	defer closeDatabases(databases, logger)

	sources, err := daemon.BuildSources(cfg, databases, logger)
	if err != nil {
		return err
	}

	var failed int

	for _, src := range sources {
		result := src.Tick(ctx, cookie.Resumer(func() {}))

		cc.Statusf("%s: %s\n", src.Name, result.Disposition)

		if result.Err != nil {
			logger.Error("once: source failed", slog.String("source", src.Name), slog.String("error", result.Err.Error()))

			failed++
		}

		if src.Close != nil {
			if err := src.Close(); err != nil {
				logger.Warn("once: error closing source connection", slog.String("source", src.Name), slog.String("error", err.Error()))
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("once: %d of %d sources failed", failed, len(sources))
	}

	return nil
}
