package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdobrica/prepmate/internal/prepmate/session"
)

// SessionView is one session in `sessions list` output.
type SessionView struct {
	ID             string    `json:"id"`
	Topic          string    `json:"topic"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// NewSessionsCommand creates the sessions command group.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and reap conversation sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <user>",
		Short: "List a user's sessions still flagged active",
		Long: `List the sessions still flagged active for a user. A session past the
inactivity timeout is shown as expired; the bot deactivates it on the
user's next message, or run "sessions reap".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(rootOpts, cmd, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reap <user>",
		Short: "Deactivate a user's expired sessions now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsReap(rootOpts, cmd, args[0])
		},
	})
	return cmd
}

func runSessionsList(opts *RootOptions, cmd *cobra.Command, userID string) error {
	e, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	sessions, err := e.store.ListActiveSessions(cmd.Context(), userID)
	if err != nil {
		return err
	}
	timeout := e.components.Sessions.Timeout()
	now := time.Now()

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{
			ID:             s.ID,
			Topic:          s.Topic,
			State:          session.StateOf(s, now, timeout).String(),
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
		})
	}

	return opts.formatter(cmd).Emit(views, func(w io.Writer) {
		if len(views) == 0 {
			printf(w, "No active sessions for %s\n", userID)
			return
		}
		for _, v := range views {
			printf(w, "%s  %-8s  last %s  %s\n", v.ID, v.State, formatTime(v.LastActivityAt), v.Topic)
		}
	})
}

func runSessionsReap(opts *RootOptions, cmd *cobra.Command, userID string) error {
	e, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	n, err := e.components.Sessions.ReapExpired(cmd.Context(), userID)
	if err != nil {
		return err
	}
	return opts.formatter(cmd).Emit(map[string]any{"user_id": userID, "reaped": n}, func(w io.Writer) {
		printf(w, "Reaped %d expired session(s) for %s\n", n, userID)
	})
}
