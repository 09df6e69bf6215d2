package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/bdobrica/prepmate/common/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]string{
				"version":    version.Version,
				"commit":     version.GitCommit,
				"build_time": version.BuildTime,
			}
			return rootOpts.formatter(cmd).Emit(data, func(w io.Writer) {
				printf(w, "prepmatectl %s\n", version.Info())
			})
		},
	}
}
