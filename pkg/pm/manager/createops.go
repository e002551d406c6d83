package manager

import (
	"context"
	"path/filepath"

	"zkg/pkg/git"
	"zkg/pkg/pm"
	"zkg/pkg/pm/template"

	"github.com/pkg/errors"
)

// CreateOptions parameterize package creation from a template.
type CreateOptions struct {
	// TemplateURL names the template repository; empty selects the
	// configured default.
	TemplateURL string
	// Version picks a template ref; empty selects the highest release,
	// else the default branch.
	Version string
	// OutputDir receives the instantiated package.
	OutputDir string
	// Features select template features to apply.
	Features []string
	// UserVars are command-line NAME=VAL parameter values.
	UserVars map[string]string
	// Force overwrites an existing output directory.
	Force bool
	// Prompt asks for unresolved parameters; nil refuses and fails.
	Prompt func(p template.Param) (string, error)
}

// Create instantiates a new package from a template.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) error {
	tmpl, err := m.loadTemplate(ctx, opts.TemplateURL, opts.Version)
	if err != nil {
		return err
	}

	prompt := opts.Prompt
	if !m.Interactive {
		prompt = nil
	}

	vars, err := tmpl.ResolveVars(opts.UserVars, prompt)
	if err != nil {
		return err
	}

	if opts.OutputDir == "" {
		if name, ok := vars["name"]; ok {
			opts.OutputDir = name
		} else {
			return errors.New("no output directory given and the template declares no \"name\" parameter")
		}
	}

	return tmpl.Instantiate(ctx, m.Driver, template.InstantiateOptions{
		OutputDir:  opts.OutputDir,
		Features:   opts.Features,
		Vars:       vars,
		Force:      opts.Force,
		ZkgVersion: m.Version,
	})
}

// TemplateInfo loads a template and reports its parameters and features.
func (m *Manager) TemplateInfo(ctx context.Context, templateURL, version string) (*template.Template, error) {
	return m.loadTemplate(ctx, templateURL, version)
}

func (m *Manager) loadTemplate(ctx context.Context, templateURL, version string) (*template.Template, error) {
	if templateURL == "" {
		templateURL = m.Config.DefaultTemplate
	}

	clone := filepath.Join(m.Config.TemplateClonesDir(), pm.NameFromPath(templateURL))
	if err := git.EnsureClone(ctx, m.Driver, templateURL, clone, false); err != nil {
		return nil, errors.Wrapf(err, "failed to obtain template %s", templateURL)
	}
	if err := m.Driver.Fetch(ctx, clone); err != nil {
		return nil, errors.Wrapf(err, "failed to refresh template %s", templateURL)
	}

	ref := version
	if ref == "" {
		tags, err := m.Driver.ListTags(ctx, clone)
		if err != nil {
			return nil, err
		}
		if ref = pm.LatestReleaseTag(tags); ref == "" {
			if ref, err = m.Driver.DefaultBranch(ctx, clone); err != nil {
				return nil, err
			}
		}
	}
	if err := m.Driver.Checkout(ctx, clone, ref); err != nil {
		return nil, errors.Wrapf(err, "template has no version %q", version)
	}

	return template.Load(ctx, m.Driver, clone)
}
