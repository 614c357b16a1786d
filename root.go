package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ldapsyncd/ldapsyncd/internal/config"
	"github.com/ldapsyncd/ldapsyncd/internal/cookiestore"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that handle config loading
// themselves, skipping the automatic config+cookiestore bootstrap in
// PersistentPreRunE.
const skipConfigAnnotation = "skipConfig"

// Flags holds the persistent CLI flags, bound once in newRootCmd.
type Flags struct {
	ConfigPath string
	DataDir    string
	Quiet      bool
	JSON       bool
	Verbose    bool
	Debug      bool
}

var flags Flags

// CLIContext bundles everything a subcommand's RunE needs: the loaded
// config (watched for reload), the cookie-store handle, a logger, and
// the parsed flags. Built once in PersistentPreRunE.
type CLIContext struct {
	Holder *config.Holder
	Store  *cookiestore.Store
	Logger *slog.Logger
	Flags  Flags
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Use in RunE handlers for commands that require config (no
// skipConfigAnnotation).
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation) or " +
			"explicitly loads config in its RunE")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ldapsyncd",
		Short:         "LDAP Sync (RFC 4533) replication consumer",
		Long:          "A consumer-side LDAP replication engine: RFC 4533 refreshOnly/refreshAndPersist sync, plus dirSync and changelog dialects, writing into a local host directory over LDAP.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return bootstrap(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", config.DefaultConfigPath(), "config file path")
	cmd.PersistentFlags().StringVar(&flags.DataDir, "data-dir", config.DefaultDataDir(), "data directory (cookie store, PID file)")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newOnceCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCookieCmd())
	cmd.AddCommand(newReloadCmd())

	return cmd
}

// bootstrap loads the config file, opens the cookie store, and stashes
// the resulting CLIContext in the command's context. Every subcommand
// except those annotated skipConfig goes through this exact path, so
// there is exactly one place a config file and a cookie store get
// opened.
func bootstrap(cmd *cobra.Command) error {
	logger := buildLogger()

	cfgPath := flags.ConfigPath
	if cfgPath == "" {
		return fmt.Errorf("cannot determine config path: set --config or $HOME")
	}

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dataDir := flags.DataDir
	if dataDir == "" {
		return fmt.Errorf("cannot determine data directory: set --data-dir or $HOME")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := cookiestore.Open(ctx, dataDir+"/cookies.db", logger)
	if err != nil {
		return fmt.Errorf("opening cookie store: %w", err)
	}

	cc := &CLIContext{
		Holder: config.NewHolder(cfg, cfgPath),
		Store:  store,
		Logger: logger,
		Flags:  flags,
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger whose level follows the mutually
// exclusive --verbose/--debug/--quiet flags. Output goes to stderr so
// stdout stays clean for --json.
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// isColorTerminal reports whether stdout is an interactive terminal. No
// command calls it; the status command always prints a plain table.
func isColorTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
