package testcmd

import (
	"fmt"

	"zkg/cli/command"

	"github.com/spf13/cobra"
)

func NewTestCommand(zkgCli command.Cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test PACKAGE [PACKAGE...]",
		Short: "Run package test suites in their dedicated testing areas",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}

			for _, arg := range args {
				path, version := command.ParsePackageArg(arg)
				if err := mgr.Test(cmd.Context(), path, version); err != nil {
					return err
				}
				fmt.Fprintf(zkgCli.Out(), "%s: tests passed\n", path)
			}
			return nil
		},
	}
	return cmd
}
