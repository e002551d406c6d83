// Package config reads and writes the user configuration file that tells
// the engine where its state directory and stage directories live and
// which package sources it consults.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const (
	// DefaultSourceName is the name given to the source configured out of
	// the box.
	DefaultSourceName = "zeek"
	// DefaultSourceURL is the package index used when the user has not
	// configured any source.
	DefaultSourceURL = "https://github.com/zeek/packages"
	// DefaultTemplateURL is the package template used by create when the
	// user names none.
	DefaultTemplateURL = "https://github.com/zeek/package-template"

	// EnvDefaultSource overrides DefaultSourceURL.
	EnvDefaultSource = "ZKG_DEFAULT_SOURCE"
	// EnvDefaultTemplate overrides the default template URL.
	EnvDefaultTemplate = "ZKG_DEFAULT_TEMPLATE"
)

// Config is the parsed user configuration.
type Config struct {
	// Sources maps source names to git URLs of package indices.
	Sources map[string]string

	// StateDir holds clones, scratch space, the manifest, logs.
	StateDir string `validate:"required"`
	// ScriptDir is the stage directory for package scripts.
	ScriptDir string `validate:"required"`
	// PluginDir is the stage directory for native plugins.
	PluginDir string `validate:"required"`
	// BinDir is the stage directory for package executables.
	BinDir string `validate:"required"`
	// ZeekDist points at the platform source distribution, which package
	// build commands may reference via %(zeek_dist)s.
	ZeekDist string

	// UserVars are persisted answers to package user_vars prompts.
	UserVars map[string]string

	// DefaultTemplate is the template repository create uses when the user
	// names none.
	DefaultTemplate string

	// Filename records where the config was loaded from.
	Filename string
}

var validate = validator.New()

// DefaultPath returns the config file location: $ZKG_CONFIG_FILE, else
// ~/.zkg/config.
func DefaultPath() string {
	if p := os.Getenv("ZKG_CONFIG_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".zkg", "config")
}

// Default returns the configuration used when no config file exists,
// rooted under ~/.zkg.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, ".zkg")

	sourceURL := DefaultSourceURL
	if env := os.Getenv(EnvDefaultSource); env != "" {
		sourceURL = env
	}

	return &Config{
		Sources:         map[string]string{DefaultSourceName: sourceURL},
		StateDir:        root,
		ScriptDir:       filepath.Join(root, "script_dir"),
		PluginDir:       filepath.Join(root, "plugin_dir"),
		BinDir:          filepath.Join(root, "bin"),
		UserVars:        map[string]string{},
		DefaultTemplate: defaultTemplate(),
	}
}

func defaultTemplate() string {
	if env := os.Getenv(EnvDefaultTemplate); env != "" {
		return env
	}
	return DefaultTemplateURL
}

// Load reads the config file at path, filling unset values from Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.Filename = path

	file, err := ini.LoadSources(ini.LoadOptions{SpaceBeforeInlineComment: true}, path)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	if sec, err := file.GetSection("sources"); err == nil {
		cfg.Sources = map[string]string{}
		for _, key := range sec.Keys() {
			cfg.Sources[key.Name()] = key.Value()
		}
	}

	if sec, err := file.GetSection("paths"); err == nil {
		read := func(name, fallback string) string {
			if sec.HasKey(name) {
				return expandUser(sec.Key(name).Value())
			}
			return fallback
		}
		cfg.StateDir = read("state_dir", cfg.StateDir)
		cfg.ScriptDir = read("script_dir", cfg.ScriptDir)
		cfg.PluginDir = read("plugin_dir", cfg.PluginDir)
		cfg.BinDir = read("bin_dir", cfg.BinDir)
		cfg.ZeekDist = read("zeek_dist", read("bro_dist", cfg.ZeekDist))
	}

	if sec, err := file.GetSection("user_vars"); err == nil {
		for _, key := range sec.Keys() {
			cfg.UserVars[key.Name()] = key.Value()
		}
	}

	if sec, err := file.GetSection("templates"); err == nil {
		if sec.HasKey("default") {
			cfg.DefaultTemplate = sec.Key("default").Value()
		}
	}
	if env := os.Getenv(EnvDefaultTemplate); env != "" {
		cfg.DefaultTemplate = env
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// Save writes the config back to its file, creating parent directories as
// needed. The write goes through a temp file and rename.
func (c *Config) Save() error {
	if c.Filename == "" {
		c.Filename = DefaultPath()
	}

	file := ini.Empty()

	sources, _ := file.NewSection("sources")
	for _, name := range sortedKeys(c.Sources) {
		sources.NewKey(name, c.Sources[name])
	}

	paths, _ := file.NewSection("paths")
	paths.NewKey("state_dir", c.StateDir)
	paths.NewKey("script_dir", c.ScriptDir)
	paths.NewKey("plugin_dir", c.PluginDir)
	paths.NewKey("bin_dir", c.BinDir)
	if c.ZeekDist != "" {
		paths.NewKey("zeek_dist", c.ZeekDist)
	}

	uvars, _ := file.NewSection("user_vars")
	for _, name := range sortedKeys(c.UserVars) {
		uvars.NewKey(name, c.UserVars[name])
	}

	if c.DefaultTemplate != "" && c.DefaultTemplate != DefaultTemplateURL {
		templates, _ := file.NewSection("templates")
		templates.NewKey("default", c.DefaultTemplate)
	}

	if err := os.MkdirAll(filepath.Dir(c.Filename), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Filename), ".config-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary config file")
	}
	defer os.Remove(tmp.Name())

	if err := file.SaveTo(tmp.Name()); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write config file")
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), c.Filename)
}

// PathsEnv returns the [paths] values under the names metadata
// interpolation may reference.
func (c *Config) PathsEnv() map[string]string {
	return map[string]string{
		"state_dir":  c.StateDir,
		"script_dir": c.ScriptDir,
		"plugin_dir": c.PluginDir,
		"bin_dir":    c.BinDir,
	}
}

// Filesystem layout under the state directory.

func (c *Config) PackageClonesDir() string  { return filepath.Join(c.StateDir, "clones", "package") }
func (c *Config) SourceClonesDir() string   { return filepath.Join(c.StateDir, "clones", "source") }
func (c *Config) TemplateClonesDir() string { return filepath.Join(c.StateDir, "clones", "template") }
func (c *Config) ScratchDir() string        { return filepath.Join(c.StateDir, "scratch") }
func (c *Config) TestingDir() string        { return filepath.Join(c.StateDir, "testing") }
func (c *Config) LogsDir() string           { return filepath.Join(c.StateDir, "logs") }
func (c *Config) BackupsDir() string        { return filepath.Join(c.StateDir, "backups") }
func (c *Config) ManifestPath() string      { return filepath.Join(c.StateDir, "manifest.json") }
func (c *Config) LockPath() string          { return filepath.Join(c.StateDir, ".lock") }

func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
