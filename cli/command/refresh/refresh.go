package refresh

import (
	"zkg/cli/command"
	"zkg/pkg/pm/manager"

	"github.com/spf13/cobra"
)

type refreshOptions struct {
	aggregate      bool
	failOnProblems bool
	push           bool
}

func NewRefreshCommand(zkgCli command.Cli) *cobra.Command {
	var opts refreshOptions

	cmd := &cobra.Command{
		Use:   "refresh [OPTIONS]",
		Short: "Fetch package sources and update outdated-package information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			return mgr.Refresh(cmd.Context(), manager.RefreshOptions{
				Aggregate:      opts.aggregate,
				FailOnProblems: opts.failOnProblems,
				Push:           opts.push,
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.aggregate, "aggregate", false, "Collect package metadata across each source and write its aggregate file")
	flags.BoolVar(&opts.failOnProblems, "fail-on-problems", false, "Abort aggregation on the first metadata problem instead of warning")
	flags.BoolVar(&opts.push, "push", false, "Commit and push a changed aggregate back to the source")

	return cmd
}
