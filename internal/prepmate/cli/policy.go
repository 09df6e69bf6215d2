package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/prepmate/internal/prepmate/config"
)

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with the governance policy file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate a policy file and print the effective policy",
		Long: `Validate a policy file without touching the database. The path
defaults to --policy. Unlike the bot, which falls back to the built-in
defaults, check fails when the file does not exist.

Examples:
  prepmatectl policy check ./policy.yaml
  prepmatectl policy check --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Policy
			if len(args) == 1 {
				path = args[0]
			}
			return runPolicyCheck(rootOpts, cmd, path)
		},
	})
	return cmd
}

func runPolicyCheck(opts *RootOptions, cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("policy file: %w", err)
	}
	p, err := config.LoadPolicyFile(path)
	if err != nil {
		return err
	}

	return opts.formatter(cmd).Emit(p, func(w io.Writer) {
		l := p.Limits
		printf(w, "%s: ok\n\n", path)
		printf(w, "requests     %d/min  %d/hour  %d/day\n", l.RequestsPerMinute, l.RequestsPerHour, l.RequestsPerDay)
		printf(w, "cost         %.2f/hour  %.2f/day\n", l.CostPerHour, l.CostPerDay)
		printf(w, "windows      %s  %s  %s\n", l.MinuteWindow, l.HourWindow, l.DayWindow)
		printf(w, "session      inactivity timeout %s\n", p.Session.InactivityTimeout)
		printf(w, "continuity   threshold %.2f, %d context messages\n", p.Continuity.Threshold, p.Continuity.ContextMessages)
		printf(w, "recall       %d max context tokens, %d per keyword\n", p.Recall.MaxContextTokens, p.Recall.LimitPerKeyword)
		printf(w, "ledger check %s\n", p.LedgerCheck)
	})
}
