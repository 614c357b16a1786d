package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ldapsyncd/ldapsyncd/internal/config"
	"github.com/ldapsyncd/ldapsyncd/internal/daemon"
	"github.com/ldapsyncd/ldapsyncd/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	var pidPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the replication engine until terminated",
		Long:  "Connects every configured source, performs refreshOnly/refreshAndPersist/dirSync cycles on their configured intervals, and reloads source directives on SIGHUP or a config-file change.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, pidPath)
		},
	}

	cmd.Flags().StringVar(&pidPath, "pidfile", "", "write the daemon PID to this path (defaults under --data-dir)")

	return cmd
}

// daemonState is the live, reload-able half of `run`: the open
// databases and the run queue, plus which source names are currently
// inserted. Config reload only ever adds or removes sources against
// already-open databases — adding a brand new `[[database]]` section
// requires a restart.
type daemonState struct {
	mu        sync.Mutex
	databases map[string]*daemon.Database
	runner    *scheduler.Runner
	active    map[string]bool
	logger    *slog.Logger
}

func runDaemon(cmd *cobra.Command, pidPath string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	if pidPath == "" {
		pidPath = defaultPIDPath()
	}

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	cfg := cc.Holder.Config()

	databases, err := daemon.OpenDatabases(ctx, cfg, cc.Store, logger)
	if err != nil {
		return err
	}
	defer closeDatabases(databases, logger)

	ds := &daemonState{
		databases: databases,
		runner:    scheduler.New(ctx, scheduler.Options{Logger: logger}),
		active:    make(map[string]bool),
		logger:    logger,
	}

	if err := ds.reconcile(cfg); err != nil {
		return err
	}

	stopWatch, err := cc.Holder.WatchReload(logger, func(newCfg *config.Config) {
		if err := ds.reconcile(newCfg); err != nil {
			logger.Error("reload: reconciling sources failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		logger.Warn("config file watch unavailable, SIGHUP reload still works", slog.String("error", err.Error()))
	} else {
		defer stopWatch()
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sighup:
				logger.Info("SIGHUP received, reloading config")

				newCfg, err := config.Load(cc.Holder.Path(), logger)
				if err != nil {
					logger.Error("reload: loading config failed, keeping previous config", slog.String("error", err.Error()))

					continue
				}

				cc.Holder.Update(newCfg)

				if err := ds.reconcile(newCfg); err != nil {
					logger.Error("reload: reconciling sources failed", slog.String("error", err.Error()))
				}
			case <-ctx.Done():
				signal.Stop(sighup)

				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping run queue")

	return ds.runner.Stop()
}

// reconcile brings the run queue in line with newCfg's `[[source]]`
// directives: sources no longer listed are removed, sources not yet
// running are built and inserted. Sources whose directive changed in
// place (same rid, different fields) are left running as-is until the
// next restart — only add/remove is handled live.
func (ds *daemonState) reconcile(newCfg *config.Config) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	wanted := make(map[string]config.SourceSection, len(newCfg.Sources))
	for _, sec := range newCfg.Sources {
		wanted[sourceName(sec)] = sec
	}

	for name := range ds.active {
		if _, ok := wanted[name]; !ok {
			ds.logger.Info("reload: removing source", slog.String("source", name))
			ds.runner.Remove(name)
			delete(ds.active, name)
		}
	}

	var toAdd []config.SourceSection

	for name, sec := range wanted {
		if !ds.active[name] {
			toAdd = append(toAdd, sec)
		}
	}

	if len(toAdd) == 0 {
		return nil
	}

	addCfg := &config.Config{Sources: toAdd}

	sources, err := daemon.BuildSources(addCfg, ds.databases, ds.logger)
	if err != nil {
		return fmt.Errorf("run: building new sources: %w", err)
	}

	for i, src := range sources {
		if err := ds.runner.Insert(toAdd[i].Database, src); err != nil {
			return fmt.Errorf("run: inserting source %q: %w", src.Name, err)
		}

		ds.active[src.Name] = true
		ds.logger.Info("reload: added source", slog.String("source", src.Name))
	}

	return nil
}

func sourceName(sec config.SourceSection) string {
	return fmt.Sprintf("rid=%d %s", sec.RID, sec.Provider)
}

func closeDatabases(databases map[string]*daemon.Database, logger *slog.Logger) {
	for name, db := range databases {
		if err := db.Close(); err != nil {
			logger.Warn("error closing database connection", slog.String("database", name), slog.String("error", err.Error()))
		}
	}
}
