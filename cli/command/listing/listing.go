package listing

import (
	"fmt"
	"strings"

	"zkg/cli/command"
	"zkg/pkg/pm"
	"zkg/pkg/pm/manager"

	"github.com/spf13/cobra"
)

func NewListCommand(zkgCli command.Cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "list [all|installed|loaded|unloaded|pinned|outdated|not_installed]",
		Short:     "List packages",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"all", "installed", "loaded", "unloaded", "pinned", "outdated", "not_installed"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}

			filter := manager.ListInstalled
			if len(args) == 1 {
				switch args[0] {
				case "all":
					filter = manager.ListAll
				case "loaded":
					filter = manager.ListLoaded
				case "unloaded":
					filter = manager.ListUnloaded
				case "pinned":
					filter = manager.ListPinned
				case "outdated":
					filter = manager.ListOutdated
				case "not_installed":
					filter = manager.ListNotInstalled
				}
			}

			entries, err := mgr.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			for _, e := range entries {
				if e.Installed {
					fmt.Fprintf(zkgCli.Out(), "%s (installed: %s) - %s\n",
						e.Package.QualifiedName(), e.Status.CurrentVersion, describe(e))
				} else {
					fmt.Fprintf(zkgCli.Out(), "%s - %s\n", e.Package.QualifiedName(), describe(e))
				}
			}
			return nil
		},
	}
	return cmd
}

func describe(e manager.ListEntry) string {
	if e.Package.Meta != nil && e.Package.Meta.Description != "" {
		return strings.Split(e.Package.Meta.Description, "\n")[0]
	}
	return e.Package.GitURL
}

func NewSearchCommand(zkgCli command.Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "search TERM [TERM...]",
		Short: "Search packages by name, description, or tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}

			matches, err := mgr.Search(cmd.Context(), args)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Fprintln(zkgCli.Out(), "no matches")
				return nil
			}
			for _, e := range matches {
				fmt.Fprintln(zkgCli.Out(), e.Package.QualifiedName())
			}
			return nil
		},
	}
}

func NewInfoCommand(zkgCli command.Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "info PACKAGE [PACKAGE...]",
		Short: "Show detailed package information",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}

			for _, arg := range args {
				path, version := command.ParsePackageArg(arg)
				info, err := mgr.Info(cmd.Context(), path, version)
				if err != nil {
					return err
				}
				printInfo(zkgCli, info)
			}
			return nil
		},
	}
}

func printInfo(zkgCli command.Cli, info *pm.PackageInfo) {
	out := zkgCli.Out()
	fmt.Fprintf(out, "%s\n", info.Package.QualifiedName())

	if info.InvalidReason != "" {
		fmt.Fprintf(out, "  invalid: %s\n", info.InvalidReason)
		return
	}

	if info.Status != nil {
		fmt.Fprintf(out, "  installed: %s (%s)\n", info.Status.CurrentVersion, info.Status.TrackingMethod)
		fmt.Fprintf(out, "  loaded: %v  pinned: %v  outdated: %v\n",
			info.Status.IsLoaded, info.Status.IsPinned, info.Status.IsOutdated)
	}

	if meta := info.Package.Meta; meta != nil {
		if meta.Description != "" {
			fmt.Fprintf(out, "  description: %s\n", strings.Split(meta.Description, "\n")[0])
		}
		if len(meta.Tags) > 0 {
			fmt.Fprintf(out, "  tags: %s\n", strings.Join(meta.Tags, ", "))
		}
		if len(meta.Aliases) > 0 {
			fmt.Fprintf(out, "  aliases: %s\n", strings.Join(meta.Aliases, ", "))
		}
		for _, dep := range meta.Depends {
			fmt.Fprintf(out, "  depends: %s %s\n", dep.Name, dep.Constraint)
		}
	}

	if len(info.Versions) > 0 {
		fmt.Fprintf(out, "  versions: %s\n", strings.Join(info.Versions, ", "))
	}
	if info.MetadataFile != "" {
		fmt.Fprintf(out, "  metadata file: %s\n", info.MetadataFile)
	}
}
