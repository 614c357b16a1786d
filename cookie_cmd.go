package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ldapsyncd/ldapsyncd/internal/csn"
)

func newCookieCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookie",
		Short: "Inspect or clear a database's persisted sync cookie",
	}

	cmd.AddCommand(newCookieShowCmd())
	cmd.AddCommand(newCookieResetCmd())

	return cmd
}

func newCookieShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <database>",
		Short: "Print the persisted cookie for a database",
		Args:  cobra.ExactArgs(1),
		RunE:  runCookieShow,
	}
}

func runCookieShow(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	database := args[0]

	raw, err := cc.Store.Get(cmd.Context(), database)
	if err != nil {
		return fmt.Errorf("cookie show %s: %w", database, err)
	}

	cookie, err := csn.Parse(raw)
	if err != nil {
		return fmt.Errorf("cookie show %s: stored cookie is unparsable: %w", database, err)
	}

	fmt.Printf("database: %s\n", database)
	fmt.Printf("rid:      %d\n", cookie.RID)

	if cookie.SID == csn.NoSID {
		fmt.Println("sid:      (none)")
	} else {
		fmt.Printf("sid:      %d\n", cookie.SID)
	}

	if cookie.Vector.Len() == 0 {
		fmt.Println("csn:      (empty)")

		return nil
	}

	fmt.Println("csn:")

	for i, sid := range cookie.Vector.SIDs {
		fmt.Printf("  sid=%d %s\n", sid, cookie.Vector.Stamps[i])
	}

	return nil
}

func newCookieResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset <database>",
		Short: "Clear a database's cached cookie in the local cookie store",
		Long:  "Overwrites the cookie store's record for database with an empty cookie. The directory's own context entry is not changed and stays the starting point of the next run or once invocation; the cleared record only matters when that directory read fails.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCookieReset(cmd, args, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")

	return cmd
}

func runCookieReset(cmd *cobra.Command, args []string, force bool) error {
	cc := mustCLIContext(cmd.Context())
	database := args[0]

	if !force {
		fmt.Printf("This clears the cached cookie for %q in the local cookie store; the directory's context entry is not changed.\n", database)
		fmt.Print("Re-run with --force to proceed.\n")

		return nil
	}

	if err := cc.Store.Save(cmd.Context(), database, 0, ""); err != nil {
		return fmt.Errorf("cookie reset %s: %w", database, err)
	}

	cc.Statusf("cookie for %q cleared\n", database)

	return nil
}
