package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pacache/internal/output"
	"github.com/blackwell-systems/pacache/internal/pacscript"
	"github.com/blackwell-systems/pacache/internal/scanner"
	"github.com/blackwell-systems/pacache/internal/store"
)

var (
	addStatus string

	showStatus string

	listStatus string
	listSource string
	listName   string
	listLimit  int
	listOffset int

	markFrom          string
	markTo            string
	markReplace       bool
	markVersion       string
	markInstalledSize int64

	rmStatus string
)

var addCmd = &cobra.Command{
	Use:   "add <record.json>",
	Short: "Insert a pacscript record from a JSON file",
	Long: `Insert one pacscript row read from a JSON object ("-" reads stdin).

Required fields are name, version, url, description, download_size and
date. Missing apt and pacscript dependencies are added to the dependency
catalog in the same transaction. Inserting a name at a status it already
has fails; use 'pacache mark' to change the status of an existing row.`,
	Example: `  pacache add neovim.json
  pacache add neovim.json --status direct
  cat neovim.json | pacache add -`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show every cached row of a pacscript",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached pacscripts",
	Example: `  pacache list --status direct
  pacache list --name vim --limit 20
  pacache list --source https://example.org/programs -o json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var markCmd = &cobra.Command{
	Use:   "mark <name>",
	Short: "Copy a pacscript row to another install status",
	Long: `Copy the row of a pacscript at one install status to another status,
optionally overriding its version and installed size. With --replace the
original row is removed in the same transaction.`,
	Example: `  # Record an installation and keep the source row
  pacache mark neovim --from not_installed --to direct --installed-size 31457280

  # A dependency was promoted to an explicit install
  pacache mark libfoo --from indirect --to direct --replace`,
	Args: cobra.ExactArgs(1),
	RunE: runMark,
}

var rmCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"remove"},
	Short:   "Delete one pacscript row",
	Args:    cobra.ExactArgs(1),
	RunE:    runRm,
}

func init() {
	addCmd.Flags().StringVar(&addStatus, "status", "", "override the install status of the record")

	showCmd.Flags().StringVar(&showStatus, "status", "", "show only the row at this install status")

	listCmd.Flags().StringVar(&listStatus, "status", "", "only rows at this install status")
	listCmd.Flags().StringVar(&listSource, "source", "", "only rows from this source URL")
	listCmd.Flags().StringVar(&listName, "name", "", "only names containing this text")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of rows (0 for all)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "rows to skip")

	markCmd.Flags().StringVar(&markFrom, "from", "", "current install status")
	markCmd.Flags().StringVar(&markTo, "to", "", "new install status")
	markCmd.Flags().BoolVar(&markReplace, "replace", false, "remove the row at --from")
	markCmd.Flags().StringVar(&markVersion, "version", "", "version of the new row")
	markCmd.Flags().Int64Var(&markInstalledSize, "installed-size", -1, "installed size in bytes of the new row")
	markCmd.MarkFlagRequired("from")
	markCmd.MarkFlagRequired("to")

	rmCmd.Flags().StringVar(&rmStatus, "status", "", "install status of the row to delete")
	rmCmd.MarkFlagRequired("status")

	RootCmd.AddCommand(addCmd, showCmd, listCmd, markCmd, rmCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	rec, err := readRecord(cmd, args[0])
	if err != nil {
		return err
	}
	if addStatus != "" {
		status, err := pacscript.ParseInstallStatus(addStatus)
		if err != nil {
			return err
		}
		rec.InstallStatus = status
	}

	p, err := rec.Pacscript()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.InsertPacscript(commandContext(cmd), p); err != nil {
		return err
	}

	logger.Debug("pacscript inserted", "name", p.Name, "status", p.InstallStatus, "source", p.Source)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ added %s\n", p.Key())
	return nil
}

// readRecord decodes a pacscript from path, or stdin when path is "-".
func readRecord(cmd *cobra.Command, path string) (*scanner.Record, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open record: %w", err)
		}
		defer f.Close()
		r = f
	}

	rec, err := scanner.DecodeRecord(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", path, err)
	}
	return rec, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	name := args[0]

	var rows []*pacscript.Pacscript
	if showStatus != "" {
		status, err := pacscript.ParseInstallStatus(showStatus)
		if err != nil {
			return err
		}
		p, err := st.GetPacscript(ctx, name, status)
		if err != nil {
			return err
		}
		rows = []*pacscript.Pacscript{p}
	} else {
		rows, err = st.QueryByName(ctx, name)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("pacscript %s: %w", name, store.ErrNotFound)
		}
	}

	return render(cmd.OutOrStdout(), rows, func() string {
		return output.RenderPacscriptDetail(rows)
	})
}

func runList(cmd *cobra.Command, args []string) error {
	filter := store.Filter{
		Source: listSource,
		Name:   listName,
		Limit:  listLimit,
		Offset: listOffset,
	}
	if listStatus != "" {
		status, err := pacscript.ParseInstallStatus(listStatus)
		if err != nil {
			return err
		}
		filter.Status = &status
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return fmt.Errorf("--limit and --offset must not be negative")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.ListPacscripts(commandContext(cmd), filter)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), rows, func() string {
		return output.RenderPacscriptTable(rows)
	})
}

func runMark(cmd *cobra.Command, args []string) error {
	from, err := pacscript.ParseInstallStatus(markFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := pacscript.ParseInstallStatus(markTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	versionSet := cmd.Flags().Changed("version")
	next, err := st.TransitionStatus(commandContext(cmd), store.Transition{
		Name:      args[0],
		From:      from,
		To:        to,
		RemoveOld: markReplace,
		Update: func(p *pacscript.Pacscript) {
			if versionSet {
				p.Version = markVersion
			}
			if markInstalledSize >= 0 {
				size := markInstalledSize
				p.InstalledSize = &size
			}
		},
	})
	if err != nil {
		return err
	}

	logger.Debug("pacscript marked", "name", next.Name, "from", from, "to", to, "replace", markReplace)

	verb := "copied to"
	if markReplace {
		verb = "moved to"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s %s %s\n", next.Name, verb, next.InstallStatus)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	status, err := pacscript.ParseInstallStatus(rmStatus)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeletePacscript(commandContext(cmd), args[0], status); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ removed %s\n", pacscript.Key{Name: args[0], Status: status})
	return nil
}
