package commands

import (
	"zkg/cli/command"
	"zkg/cli/command/bundlecmd"
	"zkg/cli/command/configcmd"
	"zkg/cli/command/create"
	"zkg/cli/command/install"
	"zkg/cli/command/listing"
	"zkg/cli/command/loadstate"
	"zkg/cli/command/refresh"
	"zkg/cli/command/remove"
	"zkg/cli/command/testcmd"
	"zkg/cli/command/upgrade"

	"github.com/spf13/cobra"
)

func AddCommands(cmd *cobra.Command, zkgCli command.Cli) {
	cmd.AddCommand(
		install.NewInstallCommand(zkgCli),
		remove.NewRemoveCommand(zkgCli),
		remove.NewPurgeCommand(zkgCli),
		upgrade.NewUpgradeCommand(zkgCli),
		refresh.NewRefreshCommand(zkgCli),
		loadstate.NewLoadCommand(zkgCli),
		loadstate.NewUnloadCommand(zkgCli),
		loadstate.NewPinCommand(zkgCli),
		loadstate.NewUnpinCommand(zkgCli),
		listing.NewListCommand(zkgCli),
		listing.NewSearchCommand(zkgCli),
		listing.NewInfoCommand(zkgCli),
		bundlecmd.NewBundleCommand(zkgCli),
		bundlecmd.NewUnbundleCommand(zkgCli),
		create.NewCreateCommand(zkgCli),
		create.NewTemplateCommand(zkgCli),
		testcmd.NewTestCommand(zkgCli),
		configcmd.NewConfigCommand(zkgCli),
		configcmd.NewAutoconfigCommand(zkgCli),
		configcmd.NewEnvCommand(zkgCli),
	)
}
