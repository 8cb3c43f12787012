package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tatimblin/aptitude/internal/agent"
	"github.com/tatimblin/aptitude/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	NoColor    bool

	// WorkDir is where tests run and config is searched from.
	// Empty means the process working directory.
	WorkDir string

	// registry overrides the built-in backends. Set by tests.
	registry *agent.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the aptitude CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aptitude",
		Short: "Behavioral tests for AI coding agents",
		Long: `aptitude runs an AI coding agent on a prompt, records every tool call it
makes, and checks that behavior against the assertions in a YAML test file.

Final output can also be graded by an LLM against a rubric.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.NoColor || opts.Format == "json" {
				color.NoColor = true
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logs, always show tool calls and response)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: nearest "+config.FileName+")")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().StringVarP(&opts.WorkDir, "workdir", "C", "", "directory the agent runs in")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewAnalyzeCommand(opts))
	cmd.AddCommand(NewAgentsCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger builds the diagnostic logger. Logs go to stderr so JSON output
// stays clean.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// agents returns the backend registry.
func (o *RootOptions) agents(logger *slog.Logger) *agent.Registry {
	if o.registry != nil {
		return o.registry
	}
	return agent.DefaultRegistry(logger)
}

// workDir resolves the directory commands operate in.
func (o *RootOptions) workDir() (string, error) {
	if o.WorkDir != "" {
		return o.WorkDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}

// loadConfig resolves configuration, letting the command's flags named
// in keys override file and environment values.
func (o *RootOptions) loadConfig(cmd *cobra.Command, keys map[string]string) (*config.Config, error) {
	wd, err := o.workDir()
	if err != nil {
		return nil, err
	}
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags(), keys); err != nil {
		return nil, err
	}
	return config.Load(v, o.ConfigPath, wd)
}
