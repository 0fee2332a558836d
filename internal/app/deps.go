package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pacache/internal/output"
	"github.com/blackwell-systems/pacache/internal/pacscript"
)

var (
	depsKind  string
	depsPrune bool
)

var depsCmd = &cobra.Command{
	Use:   "deps [dependency]",
	Short: "Inspect the apt and pacscript dependency catalogs",
	Long: `Without an argument, list the dependency catalog with the number of
pacscript rows requiring each entry. With a dependency name, list the
pacscript rows that require it.

Catalog entries outlive the rows that created them; --prune deletes the
entries nothing requires any more.`,
	Example: `  pacache deps
  pacache deps --kind apt
  pacache deps libc6 --kind apt
  pacache deps --prune`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeps,
}

func init() {
	depsCmd.Flags().StringVar(&depsKind, "kind", "", "dependency kind: apt or pacscript (default: both)")
	depsCmd.Flags().BoolVar(&depsPrune, "prune", false, "delete catalog entries no pacscript requires")

	RootCmd.AddCommand(depsCmd)
}

// dependentsResult is the structured output of 'deps <name>'.
type dependentsResult struct {
	Kind       pacscript.DependencyKind `json:"kind" yaml:"kind"`
	Dependency string                   `json:"dependency" yaml:"dependency"`
	Dependents []pacscript.Key          `json:"dependents" yaml:"dependents"`
}

func runDeps(cmd *cobra.Command, args []string) error {
	if depsPrune && len(args) > 0 {
		return fmt.Errorf("--prune takes no dependency name")
	}

	kinds := pacscript.DependencyKinds
	if depsKind != "" {
		kind, err := pacscript.ParseDependencyKind(depsKind)
		if err != nil {
			return err
		}
		kinds = []pacscript.DependencyKind{kind}
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	w := cmd.OutOrStdout()

	if depsPrune {
		removed, err := st.PruneDependencies(ctx)
		if err != nil {
			return err
		}
		for _, kind := range pacscript.DependencyKinds {
			logger.Debug("dependency catalog pruned", "kind", kind, "removed", removed[kind])
		}
		fmt.Fprintf(w, "✓ pruned %d apt and %d pacscript dependencies\n",
			removed[pacscript.APTDependency], removed[pacscript.PacscriptDependency])
		return nil
	}

	if len(args) == 0 {
		var usage []pacscript.DependencyUsage
		for _, kind := range kinds {
			deps, err := st.ListDependencies(ctx, kind)
			if err != nil {
				return err
			}
			usage = append(usage, deps...)
		}
		return render(w, usage, func() string {
			return output.RenderDependencyTable(usage)
		})
	}

	results := make([]dependentsResult, 0, len(kinds))
	for _, kind := range kinds {
		keys, err := st.Dependents(ctx, kind, args[0])
		if err != nil {
			return err
		}
		results = append(results, dependentsResult{Kind: kind, Dependency: args[0], Dependents: keys})
	}

	return render(w, results, func() string {
		parts := make([]string, len(results))
		for i, r := range results {
			parts[i] = output.RenderDependents(r.Kind, r.Dependency, r.Dependents)
		}
		return strings.Join(parts, "")
	})
}
