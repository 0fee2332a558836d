package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pacache/internal/output"
	"github.com/blackwell-systems/pacache/internal/pacscript"
)

var sourcePreference int

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage the sources pacscripts are cached from",
	Long: `Register, list and remove the remote sources whose package listings
populate the cache. A source cannot be removed while cached pacscripts
still reference it.`,
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Register a source or change its preference",
	Example: `  pacache source add https://raw.githubusercontent.com/pacstall/pacstall-programs/master
  pacache source add https://example.org/programs --preference 10`,
	Args: cobra.ExactArgs(1),
	RunE: runSourceAdd,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources by preference",
	Args:  cobra.NoArgs,
	RunE:  runSourceList,
}

var sourceRmCmd = &cobra.Command{
	Use:     "rm <url>",
	Aliases: []string{"remove"},
	Short:   "Remove a source no pacscript references",
	Args:    cobra.ExactArgs(1),
	RunE:    runSourceRm,
}

func init() {
	sourceAddCmd.Flags().IntVar(&sourcePreference, "preference", 0, "source preference")

	sourceCmd.AddCommand(sourceAddCmd, sourceListCmd, sourceRmCmd)
	RootCmd.AddCommand(sourceCmd)
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	src := &pacscript.Source{URL: args[0], LastUpdated: time.Now(), Preference: sourcePreference}
	if err := st.UpsertSource(commandContext(cmd), src); err != nil {
		return err
	}

	logger.Debug("source registered", "url", src.URL, "preference", src.Preference)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ source %s registered (preference %d)\n", src.URL, src.Preference)
	return nil
}

func runSourceList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sources, err := st.ListSources(commandContext(cmd))
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), sources, func() string {
		return output.RenderSourceTable(sources)
	})
}

func runSourceRm(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteSource(commandContext(cmd), args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ source %s removed\n", args[0])
	return nil
}
