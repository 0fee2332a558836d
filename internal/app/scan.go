package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pacache/internal/output"
	"github.com/blackwell-systems/pacache/internal/scanner"
)

var (
	scanSource     string
	scanPreference int
	scanFile       string
	scanQuiet      bool

	orphansGraph bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Import a source's package listing into the cache",
	Long: `Import the package listing published by a source and store it in the cache.

The listing is a JSON array of pacscript records. Every record becomes a
not-installed row linked to the source, or refreshes the row it already
has. Not-installed rows of the source that the listing no longer carries
are removed. Installed rows are never touched.

The scan command should be run:
  • After registering a new source
  • Whenever a source publishes a new listing`,
	Example: `  # Import a listing file
  pacache scan --source https://example.org/programs --file packagelist.json

  # Import from stdin with a preference
  curl -s https://example.org/packagelist.json | pacache scan --source https://example.org/programs --preference 5`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List dependencies no installed pacscript requires",
	Long: `List pacscripts installed only as a dependency that no installed
pacscript requires any more. These are safe candidates for removal.

With --graph, print the pacscript dependency graph of installed rows
instead.`,
	Args: cobra.NoArgs,
	RunE: runOrphans,
}

func init() {
	scanCmd.Flags().StringVar(&scanSource, "source", "", "URL of the source publishing the listing")
	scanCmd.Flags().IntVar(&scanPreference, "preference", 0, "source preference")
	scanCmd.Flags().StringVarP(&scanFile, "file", "f", "-", "listing file, - for stdin")
	scanCmd.Flags().BoolVar(&scanQuiet, "quiet", false, "suppress progress output")
	scanCmd.MarkFlagRequired("source")

	orphansCmd.Flags().BoolVar(&orphansGraph, "graph", false, "print the installed dependency graph")

	RootCmd.AddCommand(scanCmd, orphansCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if scanFile != "-" {
		f, err := os.Open(scanFile)
		if err != nil {
			return fmt.Errorf("failed to open listing: %w", err)
		}
		defer f.Close()
		r = f
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var spinner *output.Spinner
	if !scanQuiet {
		spinner = output.NewSpinner("Importing " + scanSource)
		spinner.SetWriter(cmd.ErrOrStderr())
		spinner.Start()
	}

	s := scanner.New(st).WithLogger(logger)
	summary, err := s.ImportSource(commandContext(cmd), scanSource, scanPreference, r)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", scanSource, err)
	}

	return render(cmd.OutOrStdout(), summary, func() string {
		return fmt.Sprintf("✓ %s: %d added, %d updated, %d removed\n",
			scanSource, summary.Added, summary.Updated, summary.Removed)
	})
}

func runOrphans(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	s := scanner.New(st).WithLogger(logger)
	ctx := commandContext(cmd)

	if orphansGraph {
		graph, err := s.DependencyGraph(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), graph, func() string {
			return renderGraph(graph)
		})
	}

	orphans, err := s.Orphans(ctx)
	if err != nil {
		return err
	}
	if orphans == nil {
		orphans = []string{}
	}

	return render(cmd.OutOrStdout(), orphans, func() string {
		if len(orphans) == 0 {
			return "No orphaned dependencies.\n"
		}
		var sb strings.Builder
		for _, name := range orphans {
			sb.WriteString(name + "\n")
		}
		return sb.String()
	})
}

func renderGraph(graph map[string][]string) string {
	if len(graph) == 0 {
		return "No installed pacscripts.\n"
	}

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		deps := graph[name]
		if len(deps) == 0 {
			sb.WriteString(name + "\n")
			continue
		}
		sb.WriteString(name + " → " + strings.Join(deps, ", ") + "\n")
	}
	return sb.String()
}
