package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AgentStatus reports one registered backend.
type AgentStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// NewAgentsCommand creates the agents command.
func NewAgentsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agent backends",
		Long: `List the agent backends aptitude can drive and whether each one's
executable was found.

Examples:
  aptitude agents
  aptitude agents --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgents(rootOpts, cmd)
		},
	}
}

func runAgents(opts *RootOptions, cmd *cobra.Command) error {
	registry := opts.agents(opts.logger(cmd.ErrOrStderr()))

	statuses := []AgentStatus{}
	for _, name := range registry.Names() {
		a, err := registry.Lookup(name)
		if err != nil {
			return opts.commandError(cmd, CodeAgent, "failed to look up agent", err)
		}
		statuses = append(statuses, AgentStatus{Name: name, Available: a.Available(cmd.Context())})
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(statuses)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Registered agents:")
	for _, s := range statuses {
		status := green("available")
		if !s.Available {
			status = yellow("not found")
		}
		fmt.Fprintf(w, "  - %s (%s)\n", s.Name, status)
	}
	return nil
}
