package configcmd

import (
	"fmt"
	"sort"

	"zkg/cli/command"
	"zkg/pkg/config"
	"zkg/pkg/pm/manager"

	"github.com/spf13/cobra"
)

func NewConfigCommand(zkgCli command.Cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [KEY]",
		Short: "Show the effective configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := zkgCli.Config()
			if err != nil {
				return err
			}

			values := map[string]string{
				"state_dir":  cfg.StateDir,
				"script_dir": cfg.ScriptDir,
				"plugin_dir": cfg.PluginDir,
				"bin_dir":    cfg.BinDir,
				"zeek_dist":  cfg.ZeekDist,
			}

			if len(args) == 1 {
				val, ok := values[args[0]]
				if !ok {
					return fmt.Errorf("unknown config key %q", args[0])
				}
				fmt.Fprintln(zkgCli.Out(), val)
				return nil
			}

			keys := make([]string, 0, len(values))
			for key := range values {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(zkgCli.Out(), "%s = %s\n", key, values[key])
			}

			for name, url := range cfg.Sources {
				fmt.Fprintf(zkgCli.Out(), "source.%s = %s\n", name, url)
			}
			return nil
		},
	}
	return cmd
}

func NewAutoconfigCommand(zkgCli command.Cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoconfig",
		Short: "Generate a configuration by querying the platform's configuration tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := manager.Autoconfig(cmd.Context(), zkgCli.Platform(), config.DefaultPath())
			if err != nil {
				return err
			}
			fmt.Fprintf(zkgCli.Out(), "wrote %s\n", cfg.Filename)
			return nil
		},
	}
	return cmd
}

func NewEnvCommand(zkgCli command.Cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print shell environment wiring the platform to installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}
			return mgr.PrintEnv(cmd.Context())
		},
	}
	return cmd
}
