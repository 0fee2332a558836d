package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pacache/internal/config"
	"github.com/blackwell-systems/pacache/internal/output"
	"github.com/blackwell-systems/pacache/internal/probe"
)

var (
	validateConcurrency int
	validateQuiet       bool
)

// prober is what 'config validate' needs from a reachability prober.
type prober interface {
	config.Prober
	Close() error
}

// newProber is replaced in tests.
var newProber = func() prober {
	return probe.New()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, validate or watch the pacstall configuration",
	Long: `Inspect the pacstall configuration file (--config, $PACSTALL_CONFIG or
` + config.DefaultPath + `). A missing file is created with defaults.

Settings resolve in order: the file, then the environment ($EDITOR, then
$VISUAL for the editor), then built-in defaults (` + config.DefaultEditor + `,
one job per CPU).`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved settings and repositories",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config structure and repository reachability",
	Long: `Check that the config file has settings and repository tables of the
right types, and that every repository URL answers a GET with 200, 301
or 302. Unknown keys and a missing official repository are reported as
warnings. Repositories are probed in parallel.`,
	Example: `  pacache config validate
  pacache config validate --concurrency 8`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the resolved settings whenever the config file changes",
	Args:  cobra.NoArgs,
	RunE:  runConfigWatch,
}

func init() {
	configValidateCmd.Flags().IntVar(&validateConcurrency, "concurrency", config.DefaultProbeConcurrency, "repositories probed at once")
	configValidateCmd.Flags().BoolVar(&validateQuiet, "quiet", false, "suppress progress output")

	configCmd.AddCommand(configShowCmd, configValidateCmd, configWatchCmd)
	RootCmd.AddCommand(configCmd)
}

// configView is the structured output of 'config show'.
type configView struct {
	Path         string            `json:"path" yaml:"path"`
	Settings     config.Settings   `json:"settings" yaml:"settings"`
	Repositories map[string]string `json:"repositories" yaml:"repositories"`
}

func viewOf(cfg *config.Config) configView {
	return configView{Path: cfg.Path, Settings: cfg.Settings, Repositories: cfg.Repositories()}
}

func (v configView) table() string {
	return output.RenderSettings(v.Path, v.Settings.Jobs, v.Settings.Editor, v.Repositories)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}

	view := viewOf(cfg)
	return render(cmd.OutOrStdout(), view, view.table)
}

// validateResult is the structured output of 'config validate'.
type validateResult struct {
	Path     string   `json:"path" yaml:"path"`
	Valid    bool     `json:"valid" yaml:"valid"`
	Warnings []string `json:"warnings" yaml:"warnings"`
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := getConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	doc, err := config.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	p := newProber()
	defer p.Close()

	opts := []config.ValidatorOption{
		config.WithConcurrency(validateConcurrency),
		config.WithLogger(logger),
	}
	var progress *output.ProgressBar
	if !validateQuiet {
		progress = output.NewProgress(len(doc.RepositoryNames()), "Probing repositories")
		progress.SetWriter(cmd.ErrOrStderr())
		opts = append(opts, config.WithProgress(func(name string, err error) {
			progress.Increment()
		}))
	}

	warnings, err := config.NewValidator(p, opts...).Validate(commandContext(cmd), doc)
	if progress != nil && progress.Current() > 0 {
		progress.Finish()
	}
	for _, w := range warnings {
		logger.Warn(w, "config", path)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	result := validateResult{Path: path, Valid: true, Warnings: warnings}
	if result.Warnings == nil {
		result.Warnings = []string{}
	}
	return render(cmd.OutOrStdout(), result, func() string {
		return output.RenderWarnings(warnings)
	})
}

func runConfigWatch(cmd *cobra.Command, args []string) error {
	path := getConfigPath()

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	view := viewOf(cfg)
	if err := render(cmd.OutOrStdout(), view, view.table); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("watching config", "path", path)
	return watchConfig(ctx, cmd, path)
}

func watchConfig(ctx context.Context, cmd *cobra.Command, path string) error {
	return config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Error("config reload failed", "path", path, "error", err)
			return
		}
		logger.Info("config reloaded", "path", path, "jobs", cfg.Settings.Jobs, "editor", cfg.Settings.Editor)
		view := viewOf(cfg)
		if err := render(cmd.OutOrStdout(), view, view.table); err != nil {
			logger.Error("failed to print config", "error", err)
		}
	})
}
