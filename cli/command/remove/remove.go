package remove

import (
	"zkg/cli/command"

	"github.com/spf13/cobra"
)

func NewRemoveCommand(zkgCli command.Cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove PACKAGE [PACKAGE...]",
		Aliases: []string{"uninstall"},
		Short:   "Remove installed packages",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			for _, arg := range args {
				if err := mgr.Remove(arg); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}

func NewPurgeCommand(zkgCli command.Cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge PACKAGE [PACKAGE...]",
		Short: "Remove installed packages along with their backed-up config files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			for _, arg := range args {
				if err := mgr.Purge(arg); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}
