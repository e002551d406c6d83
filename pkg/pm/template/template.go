// Package template instantiates new packages from template repositories.
// A template declares its API version, parameters, and features in a
// zkg.template control file; its package/ tree is rendered with variable
// substitution and feature trees overlay additional files.
package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"zkg/pkg/git"
	"zkg/pkg/pm"
	"zkg/pkg/zkgmeta"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const (
	// ControlFilename declares the template's API surface.
	ControlFilename = "zkg.template"
	// APIVersion is the template API this engine implements. Templates
	// with a different major version are rejected.
	APIVersion = "1.0.0"

	packageDir  = "package"
	featuresDir = "features"
)

// Param is one user-suppliable template variable.
type Param struct {
	Name        string
	Description string
	Default     string
	// Validator is an optional regular expression a supplied value must
	// match in full.
	Validator string
}

// Template is a loaded template repository.
type Template struct {
	Dir        string
	Origin     string
	Commit     string
	Version    string
	APIVersion string
	Params     []Param
	Features   map[string]string // name -> description
}

// Load reads the control file of the template cloned at dir. Origin,
// commit, and version describe the clone and end up in the instantiated
// package's template record.
func Load(ctx context.Context, d git.Driver, dir string) (*Template, error) {
	cfg, err := ini.Load(filepath.Join(dir, ControlFilename))
	if err != nil {
		return nil, errors.Wrapf(err, "not a package template: missing %s", ControlFilename)
	}

	sec, err := cfg.GetSection("template")
	if err != nil {
		return nil, errors.Errorf("%s is missing its [template] section", ControlFilename)
	}

	t := &Template{
		Dir:        dir,
		APIVersion: sec.Key("api_version").Value(),
		Features:   map[string]string{},
	}

	if err := checkAPICompatible(t.APIVersion); err != nil {
		return nil, err
	}

	for _, s := range cfg.Sections() {
		switch {
		case strings.HasPrefix(s.Name(), "param."):
			t.Params = append(t.Params, Param{
				Name:        strings.TrimPrefix(s.Name(), "param."),
				Description: s.Key("description").Value(),
				Default:     s.Key("default").Value(),
				Validator:   s.Key("validator").Value(),
			})
		case strings.HasPrefix(s.Name(), "feature."):
			t.Features[strings.TrimPrefix(s.Name(), "feature.")] = s.Key("description").Value()
		}
	}

	sort.Slice(t.Params, func(i, j int) bool { return t.Params[i].Name < t.Params[j].Name })

	if t.Origin, err = d.RemoteURL(ctx, dir); err != nil {
		t.Origin = dir
	}
	if t.Commit, err = d.CurrentCommit(ctx, dir); err != nil {
		return nil, errors.Wrap(err, "failed to determine template commit")
	}
	if tags, err := d.ListTags(ctx, dir); err == nil {
		t.Version = pm.LatestReleaseTag(tags)
	}

	return t, nil
}

func checkAPICompatible(apiVersion string) error {
	tv, err := pm.ParseSemver(apiVersion)
	if err != nil {
		return errors.Errorf("template declares invalid api_version %q", apiVersion)
	}
	ours := semver.MustParse(APIVersion)
	if tv.Major() != ours.Major() || tv.GreaterThan(ours) {
		return errors.Errorf("template requires API %s but this zkg provides %s", apiVersion, APIVersion)
	}
	return nil
}

// ResolveVars decides every parameter's value. Priority order: explicit
// overrides (command line), environment variables of the same name,
// declared defaults. With prompt == nil (non-interactive) an unresolved
// parameter is an error instead of a question.
func (t *Template) ResolveVars(overrides map[string]string, prompt func(p Param) (string, error)) (map[string]string, error) {
	vals := map[string]string{}

	for _, p := range t.Params {
		val, ok := overrides[p.Name]
		if !ok {
			if env, found := os.LookupEnv(p.Name); found {
				val, ok = env, true
			}
		}
		if !ok && p.Default != "" {
			val, ok = p.Default, true
		}

		if !ok {
			if prompt == nil {
				return nil, errors.Errorf("no value for template parameter %q and not prompting in non-interactive mode", p.Name)
			}
			answered, err := prompt(p)
			if err != nil {
				return nil, err
			}
			val = answered
		}

		if p.Validator != "" {
			re, err := regexp.Compile("^(?:" + p.Validator + ")$")
			if err != nil {
				return nil, errors.Errorf("template parameter %q has invalid validator %q", p.Name, p.Validator)
			}
			if !re.MatchString(val) {
				return nil, errors.Errorf("value %q for template parameter %q does not match %q", val, p.Name, p.Validator)
			}
		}

		vals[p.Name] = val
	}

	return vals, nil
}

// InstantiateOptions control rendering.
type InstantiateOptions struct {
	OutputDir string
	Features  []string
	Vars      map[string]string
	// Force overwrites an existing output directory.
	Force bool
	// ZkgVersion is recorded in the created package's metadata.
	ZkgVersion string
}

// Instantiate renders the template: the package tree, then each selected
// feature tree overlaid, then git init, template record, and an initial
// commit. Values pass through verbatim, unicode included.
func (t *Template) Instantiate(ctx context.Context, d git.Driver, opts InstantiateOptions) error {
	for _, feature := range opts.Features {
		if _, ok := t.Features[feature]; !ok {
			return errors.Errorf("template provides no feature named %q", feature)
		}
	}

	if _, err := os.Stat(opts.OutputDir); err == nil {
		if !opts.Force {
			return errors.Errorf("output directory %s already exists (use --force to overwrite)", opts.OutputDir)
		}
		if err := os.RemoveAll(opts.OutputDir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return err
	}

	if err := t.renderTree(filepath.Join(t.Dir, packageDir), opts.OutputDir, opts.Vars); err != nil {
		return err
	}
	for _, feature := range opts.Features {
		if err := t.renderTree(filepath.Join(t.Dir, featuresDir, feature), opts.OutputDir, opts.Vars); err != nil {
			return err
		}
	}

	features := append([]string(nil), opts.Features...)
	sort.Strings(features)

	record := &pm.TemplateRecord{
		Source:   t.Origin,
		Commit:   t.Commit,
		Version:  t.Version,
		ZkgVer:   opts.ZkgVersion,
		Features: features,
		UserVars: opts.Vars,
	}
	if err := zkgmeta.WriteTemplateRecord(opts.OutputDir, record); err != nil {
		return err
	}

	if err := d.Init(ctx, opts.OutputDir); err != nil {
		return errors.Wrap(err, "failed to initialize repository in output directory")
	}
	return d.AddAndCommit(ctx, opts.OutputDir, t.commitMessage(features, opts.ZkgVersion))
}

func (t *Template) commitMessage(features []string, zkgVersion string) string {
	version := "no versioning"
	if t.Version != "" {
		version = "version " + t.Version
	}
	msg := fmt.Sprintf("Initial commit.\n\nzkg %s created this package from template %q using %s",
		zkgVersion, pm.NameFromPath(t.Origin), version)
	if len(features) > 0 {
		msg += fmt.Sprintf(", with features %s", strings.Join(features, ", "))
	}
	return msg + "."
}

// renderTree copies src into dst, substituting %(name)s references in
// both file paths and contents.
func (t *Template) renderTree(src, dst string, vars map[string]string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}

		rendered, err := substitute(rel, vars)
		if err != nil {
			return errors.Wrapf(err, "bad variable reference in template path %s", rel)
		}
		target := filepath.Join(dst, rendered)

		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		content, err := substitute(string(data), vars)
		if err != nil {
			return errors.Wrapf(err, "bad variable reference in template file %s", rel)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, []byte(content), info.Mode())
	})
}

var varRef = regexp.MustCompile(`%\(([^)]+)\)s`)

func substitute(text string, vars map[string]string) (string, error) {
	var missing []string
	out := varRef.ReplaceAllStringFunc(text, func(ref string) string {
		name := varRef.FindStringSubmatch(ref)[1]
		val, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return ref
		}
		return val
	})
	if len(missing) > 0 {
		return "", errors.Errorf("undefined template variable(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}
