package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ldapsyncd/ldapsyncd/internal/config"
)

func newReloadCmd() *cobra.Command {
	var pidPath string

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Signal a running daemon to reload its config file",
		Long:  "Sends SIGHUP to the daemon named by --pidfile. The daemon re-reads its config file and adds/removes sources to match — equivalent to what happens automatically on a config-file write, triggered on demand.",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pidPath == "" {
				pidPath = defaultPIDPath()
			}

			if err := sendSIGHUP(pidPath); err != nil {
				return fmt.Errorf("reload: %w", err)
			}

			fmt.Println("reload signal sent")

			return nil
		},
	}

	cmd.Flags().StringVar(&pidPath, "pidfile", "", "daemon PID file path (defaults under --data-dir)")

	return cmd
}

// defaultPIDPath mirrors the conventional location `run --pidfile` writes to
// when no explicit path is given to either command.
func defaultPIDPath() string {
	dir := flags.DataDir
	if dir == "" {
		dir = config.DefaultDataDir()
	}

	return dir + "/ldapsyncd.pid"
}
