package upgrade

import (
	"context"

	"zkg/cli/command"
	"zkg/pkg/pm/manager"

	"github.com/spf13/cobra"
)

type upgradeOptions struct {
	skipTests bool
	force     bool
	userVars  []string
}

func NewUpgradeCommand(zkgCli command.Cli) *cobra.Command {
	var opts upgradeOptions

	cmd := &cobra.Command{
		Use:   "upgrade [OPTIONS] [PACKAGE...]",
		Short: "Upgrade installed packages to their newest eligible versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd.Context(), zkgCli, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.skipTests, "skiptests", false, "Skip running unit tests for packages")
	flags.BoolVar(&opts.force, "force", false, "Proceed without prompting. Does not override failing tests; use --skiptests for that")
	flags.StringArrayVar(&opts.userVars, "user-var", nil, "A NAME=VAL pair overriding any value of a user var")

	return cmd
}

func runUpgrade(ctx context.Context, zkgCli command.Cli, opts upgradeOptions, args []string) error {
	mgr, err := zkgCli.Manager()
	if err != nil {
		return err
	}

	userVars, err := command.ParseUserVarArgs(opts.userVars)
	if err != nil {
		return err
	}

	targets := args
	if len(targets) == 0 {
		for _, ipkg := range mgr.InstalledPackages() {
			if !ipkg.Status.IsPinned {
				targets = append(targets, ipkg.Package.Name())
			}
		}
	}

	for _, target := range targets {
		if err := mgr.Upgrade(ctx, target, manager.InstallOptions{
			SkipTests: opts.skipTests,
			Force:     opts.force,
			UserVars:  userVars,
			Prompt:    command.UserVarPrompt(ctx, zkgCli.In(), zkgCli.Out()),
		}); err != nil {
			return err
		}
	}
	return nil
}
