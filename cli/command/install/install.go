package install

import (
	"context"

	"zkg/cli/command"
	"zkg/pkg/pm/manager"

	"github.com/spf13/cobra"
)

type installOptions struct {
	skipTests bool
	force     bool
	noLoad    bool
	userVars  []string
}

func NewInstallCommand(zkgCli command.Cli) *cobra.Command {
	var opts installOptions

	cmd := &cobra.Command{
		Use:   "install [OPTIONS] PACKAGE [PACKAGE...]",
		Short: "Install packages and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), zkgCli, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.skipTests, "skiptests", false, "Skip running unit tests for packages")
	flags.BoolVar(&opts.force, "force", false, "Proceed without prompting, even when tests fail")
	flags.BoolVar(&opts.noLoad, "noload", false, "Do not mark installed packages as loaded")
	flags.StringArrayVar(&opts.userVars, "user-var", nil, "A NAME=VAL pair overriding any value of a user var")

	return cmd
}

func runInstall(ctx context.Context, zkgCli command.Cli, opts installOptions, args []string) error {
	mgr, err := zkgCli.Manager()
	if err != nil {
		return err
	}

	userVars, err := command.ParseUserVarArgs(opts.userVars)
	if err != nil {
		return err
	}

	var requests []manager.InstallRequest
	for _, arg := range args {
		path, version := command.ParsePackageArg(arg)
		requests = append(requests, manager.InstallRequest{Path: path, Version: version})
	}

	return mgr.Install(ctx, requests, manager.InstallOptions{
		SkipTests: opts.skipTests,
		Force:     opts.force,
		NoLoad:    opts.noLoad,
		UserVars:  userVars,
		Prompt:    command.UserVarPrompt(ctx, zkgCli.In(), zkgCli.Out()),
	})
}
