package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"zkg/cli/command"
	"zkg/cli/command/commands"
	cliflags "zkg/cli/flags"
	"zkg/cli/version"

	"github.com/spf13/cobra"
)

func main() {
	zkgCli, err := command.NewZkgCli()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// An interrupt between packages rolls back the current plan; the
	// context cancellation also terminates any running external command.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newZkgCommand(zkgCli)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(zkgCli.Err(), err)
		os.Exit(1)
	}
}

func newZkgCommand(zkgCli *command.ZkgCli) *cobra.Command {
	opts := cliflags.NewClientOptions()

	cmd := &cobra.Command{
		Use:              "zkg [OPTIONS] COMMAND [ARG...]",
		Short:            "Zeek Package Manager",
		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return zkgCli.Initialize(opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return fmt.Errorf("zkg: unknown command: zkg %s\n\nRun 'zkg --help' for more information on a command", args[0])
		},
		Version: version.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   false,
			HiddenDefaultCmd:    true,
			DisableDescriptions: true,
		},
	}

	opts.InstallFlags(cmd.PersistentFlags())
	commands.AddCommands(cmd, zkgCli)

	return cmd
}
