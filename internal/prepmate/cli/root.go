// Package cli implements prepmatectl, the operator tool for inspecting and
// adjusting prepmate's governance state directly in its database.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bdobrica/prepmate/common/environment"
	"github.com/bdobrica/prepmate/internal/prepmate/app"
	"github.com/bdobrica/prepmate/internal/prepmate/config"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string
	Policy   string
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the prepmatectl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "prepmatectl",
		Short: "Inspect and manage prepmate usage, sessions and topics",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	env := environment.New("PREPMATE")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", env.StringOr("DB_PATH", "./prepmate.db"), "path to the prepmate database ($PREPMATE_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Policy, "policy", env.StringOr("POLICY_PATH", "./policy.yaml"), "path to the governance policy file ($PREPMATE_POLICY_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewUsageCommand(opts))
	cmd.AddCommand(NewBlockCommand(opts))
	cmd.AddCommand(NewUnblockCommand(opts))
	cmd.AddCommand(NewTopicsCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// conn is what a command needs to touch governance state.
type conn struct {
	store      *store.Store
	components *app.Components
}

// open opens the database and builds the governance stack under the
// configured policy. The caller must call close.
func (o *RootOptions) open(errOut io.Writer) (*conn, error) {
	policy, err := config.LoadPolicyFile(o.Policy)
	if err != nil {
		return nil, err
	}
	st, err := store.New(o.Database)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", o.Database, err)
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return &conn{store: st, components: app.Build(st, policy, nil, nil, logger)}, nil
}

func (e *conn) close() {
	e.store.Close()
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
