package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ldapsyncd/ldapsyncd/internal/config"
	"github.com/ldapsyncd/ldapsyncd/internal/cookiestore"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every configured source's last-known cookie state",
		Long:  "Reads configuration and the cookie store only — does not connect to any provider. For each source, prints its database, rid, and the age of its last persisted cookie.",
		RunE:  runStatus,
	}
}

// sourceStatus is one source's persisted-state summary for status
// reporting.
type sourceStatus struct {
	RID         int    `json:"rid"`
	Provider    string `json:"provider"`
	Database    string `json:"database"`
	Type        string `json:"type"`
	CookieState string `json:"cookie_state"`
	LastSaved   string `json:"last_saved,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Holder.Config()

	if len(cfg.Sources) == 0 {
		fmt.Println("No sources configured.")

		return nil
	}

	statuses := buildSourceStatuses(cmd.Context(), cfg, cc.Store)

	if cc.Flags.JSON {
		return printStatusJSON(statuses)
	}

	printStatusText(statuses)

	return nil
}

func buildSourceStatuses(ctx context.Context, cfg *config.Config, store *cookiestore.Store) []sourceStatus {
	out := make([]sourceStatus, 0, len(cfg.Sources))

	for _, sec := range cfg.Sources {
		st := sourceStatus{
			RID:      sec.RID,
			Provider: sec.Provider,
			Database: sec.Database,
			Type:     sec.Type,
		}

		if _, err := store.Get(ctx, sec.Database); err != nil {
			st.CookieState = "never synced"
		} else {
			st.CookieState = "persisted"

			if when, err := store.LastUpdated(ctx, sec.Database); err == nil {
				st.LastSaved = humanize.Time(when)
			}
		}

		out = append(out, st)
	}

	return out
}

func printStatusJSON(statuses []sourceStatus) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(statuses); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(statuses []sourceStatus) {
	headers := []string{"RID", "PROVIDER", "DATABASE", "TYPE", "COOKIE", "LAST SAVED"}
	rows := make([][]string, 0, len(statuses))

	for _, st := range statuses {
		lastSaved := st.LastSaved
		if lastSaved == "" {
			lastSaved = "-"
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", st.RID), st.Provider, st.Database, st.Type, st.CookieState, lastSaved,
		})
	}

	printTable(os.Stdout, headers, rows)
}
