package create

import (
	"fmt"
	"sort"

	"zkg/cli/command"
	"zkg/pkg/pm/manager"

	"github.com/spf13/cobra"
)

type createOptions struct {
	template  string
	version   string
	outputDir string
	features  []string
	userVars  []string
	force     bool
}

func NewCreateCommand(zkgCli command.Cli) *cobra.Command {
	var opts createOptions

	cmd := &cobra.Command{
		Use:   "create [OPTIONS]",
		Short: "Create a new package from a package template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}

			userVars, err := command.ParseUserVarArgs(opts.userVars)
			if err != nil {
				return err
			}

			if err := mgr.Create(cmd.Context(), manager.CreateOptions{
				TemplateURL: opts.template,
				Version:     opts.version,
				OutputDir:   opts.outputDir,
				Features:    opts.features,
				UserVars:    userVars,
				Force:       opts.force,
				Prompt:      command.TemplateParamPrompt(cmd.Context(), zkgCli.In(), zkgCli.Out()),
			}); err != nil {
				return err
			}

			fmt.Fprintln(zkgCli.Out(), "package created")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.template, "template", "t", "", "Template repository to instantiate (default from config)")
	flags.StringVar(&opts.version, "template-version", "", "Template version to use (default: newest release)")
	flags.StringVarP(&opts.outputDir, "packagedir", "p", "", "Output directory for the new package")
	flags.StringSliceVar(&opts.features, "feature", nil, "Template features to apply")
	flags.StringArrayVar(&opts.userVars, "user-var", nil, "A NAME=VAL pair supplying a template parameter")
	flags.BoolVar(&opts.force, "force", false, "Overwrite an existing output directory")

	return cmd
}

func NewTemplateCommand(zkgCli command.Cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Inspect package templates",
		RunE:  command.ShowHelp(zkgCli.Err()),
	}
	cmd.AddCommand(newTemplateInfoCommand(zkgCli))
	return cmd
}

func newTemplateInfoCommand(zkgCli command.Cli) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "info [TEMPLATE]",
		Short: "Show a template's parameters and features",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := zkgCli.Manager()
			if err != nil {
				return err
			}

			url := ""
			if len(args) == 1 {
				url = args[0]
			}

			tmpl, err := mgr.TemplateInfo(cmd.Context(), url, version)
			if err != nil {
				return err
			}

			out := zkgCli.Out()
			fmt.Fprintf(out, "API version: %s\n", tmpl.APIVersion)
			fmt.Fprintf(out, "origin: %s\n", tmpl.Origin)
			if tmpl.Version != "" {
				fmt.Fprintf(out, "version: %s\n", tmpl.Version)
			}
			for _, p := range tmpl.Params {
				fmt.Fprintf(out, "parameter %s: %s (default %q)\n", p.Name, p.Description, p.Default)
			}

			features := make([]string, 0, len(tmpl.Features))
			for name := range tmpl.Features {
				features = append(features, name)
			}
			sort.Strings(features)
			for _, name := range features {
				fmt.Fprintf(out, "feature %s: %s\n", name, tmpl.Features[name])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Template version to inspect")
	return cmd
}
