package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdobrica/prepmate/internal/prepmate/store"
	"github.com/bdobrica/prepmate/internal/prepmate/usage"
)

// WindowView is one rolling window in `usage show` output.
type WindowView struct {
	Window       string    `json:"window"`
	Requests     int       `json:"requests"`
	RequestLimit int       `json:"request_limit"`
	Cost         float64   `json:"cost"`
	CostLimit    float64   `json:"cost_limit,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// UsageView is the `usage show` result.
type UsageView struct {
	UserID        string       `json:"user_id"`
	Windows       []WindowView `json:"windows"`
	TotalCost     float64      `json:"total_cost"`
	Blocked       bool         `json:"blocked"`
	BlockedReason string       `json:"blocked_reason,omitempty"`
	Decision      string       `json:"decision"`
}

// NewUsageCommand creates the usage command group.
func NewUsageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect usage ledgers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <user>",
		Short: "Show a user's rolling windows and block state",
		Long: `Show a user's usage ledger. Windows that have elapsed are reset
before they are shown, exactly as the bot would on its next request.

Examples:
  prepmatectl usage show @alice:example.org
  prepmatectl usage show @alice:example.org --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsageShow(rootOpts, cmd, args[0])
		},
	})
	return cmd
}

func runUsageShow(opts *RootOptions, cmd *cobra.Command, userID string) error {
	e, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	ledger := e.components.Ledger
	rec, err := ledger.Snapshot(cmd.Context(), userID)
	if err != nil {
		return err
	}
	limits := ledger.Limits()
	view := usageView(rec, limits, usage.Evaluate(rec, limits, time.Now()))

	return opts.formatter(cmd).Emit(view, func(w io.Writer) {
		printf(w, "User:       %s\n", view.UserID)
		printf(w, "Total cost: %.4f\n", view.TotalCost)
		if view.Blocked {
			printf(w, "Blocked:    yes (%s)\n", view.BlockedReason)
		} else {
			printf(w, "Blocked:    no\n")
		}
		printf(w, "Decision:   %s\n\n", view.Decision)
		for _, win := range view.Windows {
			cost := "-"
			if win.CostLimit > 0 {
				cost = fmt.Sprintf("%.4f/%.2f", win.Cost, win.CostLimit)
			}
			printf(w, "%-7s requests %d/%d  cost %s  since %s\n",
				win.Window, win.Requests, win.RequestLimit, cost, formatTime(win.StartedAt))
		}
	})
}

func usageView(rec *store.UsageRecord, limits usage.Limits, d usage.Decision) UsageView {
	requestLimits := map[store.UsageWindow]int{
		store.WindowMinute: limits.RequestsPerMinute,
		store.WindowHour:   limits.RequestsPerHour,
		store.WindowDay:    limits.RequestsPerDay,
	}
	costLimits := map[store.UsageWindow]float64{
		store.WindowHour: limits.CostPerHour,
		store.WindowDay:  limits.CostPerDay,
	}

	view := UsageView{
		UserID:        rec.UserID,
		TotalCost:     rec.TotalCost,
		Blocked:       rec.Blocked,
		BlockedReason: rec.BlockedReason,
		Decision:      "allowed",
	}
	if !d.Allowed {
		view.Decision = "denied: " + string(d.Limit)
	}
	for _, w := range store.UsageWindows {
		c := rec.Window(w)
		view.Windows = append(view.Windows, WindowView{
			Window:       string(w),
			Requests:     c.Requests,
			RequestLimit: requestLimits[w],
			Cost:         c.Cost,
			CostLimit:    costLimits[w],
			StartedAt:    c.StartedAt,
		})
	}
	return view
}

// NewBlockCommand creates the block command.
func NewBlockCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <user>",
		Short: "Deny every further request from a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetBlocked(rootOpts, cmd, args[0], true, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "blocked by operator", "reason recorded with the block")
	return cmd
}

// NewUnblockCommand creates the unblock command.
func NewUnblockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <user>",
		Short: "Lift a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetBlocked(rootOpts, cmd, args[0], false, "")
		},
	}
}

func runSetBlocked(opts *RootOptions, cmd *cobra.Command, userID string, blocked bool, reason string) error {
	e, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	if blocked {
		err = e.components.Ledger.Block(cmd.Context(), userID, reason)
	} else {
		err = e.components.Ledger.Unblock(cmd.Context(), userID)
	}
	if err != nil {
		return err
	}

	data := map[string]any{"user_id": userID, "blocked": blocked}
	return opts.formatter(cmd).Emit(data, func(w io.Writer) {
		if blocked {
			printf(w, "Blocked %s: %s\n", userID, reason)
		} else {
			printf(w, "Unblocked %s\n", userID)
		}
	})
}
