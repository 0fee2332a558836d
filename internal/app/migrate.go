package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the cache schema",
	Long: `Apply every pending schema migration to the cache named by --db.

Run this once before using any other cache command, and again after
upgrading pacache. Running it on an up-to-date cache does nothing.`,
	Example: `  pacache migrate
  pacache migrate --db postgres://pacache@localhost/pacache`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	RootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return err
	}

	version, dirty, err := st.SchemaVersion()
	if err != nil {
		return err
	}
	logger.Debug("schema migrated", "backend", st.Backend(), "version", version, "dirty", dirty)

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s cache at schema version %d\n", st.Backend(), version)
	return nil
}
