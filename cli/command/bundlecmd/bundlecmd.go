package bundlecmd

import (
	"fmt"
	"os"

	"zkg/cli/command"
	"zkg/pkg/pm/manager"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func NewBundleCommand(zkgCli command.Cli) *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "bundle FILE",
		Short: "Write installed packages into a self-contained archive for offline transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			if err := mgr.Bundle(cmd.Context(), args[0], names, len(names) > 0); err != nil {
				return err
			}
			if fi, err := os.Stat(args[0]); err == nil {
				fmt.Fprintf(zkgCli.Out(), "bundle written to %s (%s)\n", args[0], units.HumanSize(float64(fi.Size())))
			} else {
				fmt.Fprintf(zkgCli.Out(), "bundle written to %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&names, "manifest", nil, "Bundle only the named packages, reusing their existing clones")
	return cmd
}

func NewUnbundleCommand(zkgCli command.Cli) *cobra.Command {
	var skipTests, force bool

	cmd := &cobra.Command{
		Use:   "unbundle FILE",
		Short: "Install the contents of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			return mgr.Unbundle(cmd.Context(), args[0], manager.InstallOptions{
				SkipTests: skipTests,
				Force:     force,
				Prompt:    command.UserVarPrompt(cmd.Context(), zkgCli.In(), zkgCli.Out()),
			})
		},
	}

	cmd.Flags().BoolVar(&skipTests, "skiptests", false, "Skip running unit tests for packages")
	cmd.Flags().BoolVar(&force, "force", false, "Proceed without prompting, even when tests fail")
	return cmd
}
