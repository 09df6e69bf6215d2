package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"
)

// TopicView is one recurring topic in `topics list` output.
type TopicView struct {
	Name        string    `json:"name"`
	Normalized  string    `json:"normalized"`
	Frequency   string    `json:"frequency,omitempty"`
	Occurrences int       `json:"occurrences"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	LastSummary string    `json:"last_summary,omitempty"`
}

// NewTopicsCommand creates the topics command group.
func NewTopicsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Inspect recurring meeting topics",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <user>",
		Short: "List a user's recurring topics, most recently seen first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopicsList(rootOpts, cmd, args[0])
		},
	})
	return cmd
}

func runTopicsList(opts *RootOptions, cmd *cobra.Command, userID string) error {
	e, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	topics, err := e.store.ListRecurringTopics(cmd.Context(), userID)
	if err != nil {
		return err
	}
	views := make([]TopicView, 0, len(topics))
	for _, t := range topics {
		views = append(views, TopicView{
			Name:        t.RawTopicName,
			Normalized:  t.NormalizedName,
			Frequency:   t.Frequency,
			Occurrences: t.OccurrenceCount,
			FirstSeenAt: t.FirstSeenAt,
			LastSeenAt:  t.LastSeenAt,
			LastSummary: t.LastSummary,
		})
	}

	return opts.formatter(cmd).Emit(views, func(w io.Writer) {
		if len(views) == 0 {
			printf(w, "No recurring topics for %s\n", userID)
			return
		}
		for _, v := range views {
			freq := v.Frequency
			if freq == "" {
				freq = "-"
			}
			printf(w, "%-40s  x%-3d  %-9s  last %s\n", v.Name, v.Occurrences, freq, formatTime(v.LastSeenAt))
		}
	})
}
