package loadstate

import (
	"fmt"

	"zkg/cli/command"

	"github.com/spf13/cobra"
)

func NewLoadCommand(zkgCli command.Cli) *cobra.Command {
	var noDeps bool

	cmd := &cobra.Command{
		Use:   "load PACKAGE [PACKAGE...]",
		Short: "Mark installed packages as loaded by the platform",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			for _, arg := range args {
				if !noDeps {
					loaded, err := mgr.LoadWithDependencies(arg)
					if err != nil {
						return err
					}
					for _, name := range loaded {
						fmt.Fprintf(zkgCli.Out(), "loaded %s\n", name)
					}
					continue
				}
				if err := mgr.Load(arg); err != nil {
					return err
				}
				fmt.Fprintf(zkgCli.Out(), "loaded %s\n", arg)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noDeps, "nodeps", false, "Do not load the package's installed dependencies")
	return cmd
}

func NewUnloadCommand(zkgCli command.Cli) *cobra.Command {
	var force bool
	var withDependers bool

	cmd := &cobra.Command{
		Use:   "unload PACKAGE [PACKAGE...]",
		Short: "Mark loaded packages as unloaded",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			for _, arg := range args {
				if withDependers {
					unloaded, err := mgr.UnloadWithUnusedDependers(arg, force)
					if err != nil {
						return err
					}
					for _, name := range unloaded {
						fmt.Fprintf(zkgCli.Out(), "unloaded %s\n", name)
					}
					continue
				}
				if err := mgr.Unload(arg, force); err != nil {
					return err
				}
				fmt.Fprintf(zkgCli.Out(), "unloaded %s\n", arg)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Unload even when loaded packages depend on the package")
	cmd.Flags().BoolVar(&withDependers, "with-unused-deps", false, "Also unload dependencies no other loaded package needs")
	return cmd
}

func NewPinCommand(zkgCli command.Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pin PACKAGE [PACKAGE...]",
		Short: "Protect packages from upgrade or replacement",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			for _, arg := range args {
				if err := mgr.Pin(arg); err != nil {
					return err
				}
				fmt.Fprintf(zkgCli.Out(), "pinned %s\n", arg)
			}
			return nil
		},
	}
}

func NewUnpinCommand(zkgCli command.Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "unpin PACKAGE [PACKAGE...]",
		Short: "Allow upgrades of previously pinned packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			for _, arg := range args {
				if err := mgr.Unpin(arg); err != nil {
					return err
				}
				fmt.Fprintf(zkgCli.Out(), "unpinned %s\n", arg)
			}
			return nil
		},
	}
}
