package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"zkg/pkg/config"
	"zkg/pkg/platform"
	"zkg/pkg/pm/installer"

	"github.com/pkg/errors"
)

// Env returns the environment variables wiring the platform to the stage:
// the script search path and the plugin search path, with the engine's
// packages subtrees included.
func (m *Manager) Env(ctx context.Context) (map[string]string, error) {
	scriptPaths := []string{
		m.Config.ScriptDir,
		filepath.Join(m.Config.ScriptDir, installer.PackagesSubdir),
	}
	pluginPaths := []string{
		filepath.Join(m.Config.PluginDir, installer.PackagesSubdir),
	}

	if dir, err := m.Platform.ScriptDir(ctx); err == nil && dir != "" {
		scriptPaths = append([]string{dir}, scriptPaths...)
	}
	if dir, err := m.Platform.PluginDir(ctx); err == nil && dir != "" {
		pluginPaths = append([]string{dir}, pluginPaths...)
	}

	return map[string]string{
		"ZEEKPATH":         strings.Join(scriptPaths, ":"),
		"ZEEK_PLUGIN_PATH": strings.Join(pluginPaths, ":"),
		"PATH":             m.Config.BinDir + ":$PATH",
	}, nil
}

// PrintEnv writes Env's result as export statements.
func (m *Manager) PrintEnv(ctx context.Context) error {
	env, err := m.Env(ctx)
	if err != nil {
		return err
	}
	for _, key := range []string{"ZEEKPATH", "ZEEK_PLUGIN_PATH", "PATH"} {
		fmt.Fprintf(m.Out, "export %s=%q\n", key, env[key])
	}
	return nil
}

// Autoconfig generates a user config by querying the platform's
// configuration tool for its directories, and saves it.
func Autoconfig(ctx context.Context, plat platform.Platform, path string) (*config.Config, error) {
	cfg := config.Default()
	cfg.Filename = path

	scriptDir, err := plat.ScriptDir(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "the platform configuration tool is not available")
	}
	cfg.ScriptDir = scriptDir

	if pluginDir, err := plat.PluginDir(ctx); err == nil {
		cfg.PluginDir = pluginDir
	}
	if dist, err := plat.ZeekDist(ctx); err == nil {
		cfg.ZeekDist = dist
	}

	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}
