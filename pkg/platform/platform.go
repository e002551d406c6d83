// Package platform talks to the host analysis platform's configuration
// tool. The engine uses it to learn the platform version, the stage
// directories autoconfig writes into the user config, and the built-in
// capabilities that can satisfy dependencies without an installed package.
package platform

import (
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Capability is a dependency-satisfying facility the platform advertises,
// e.g. a bundled analyzer plugin.
type Capability struct {
	Name    string
	Version string
}

// Platform answers questions about the host analysis platform. The
// exec-backed implementation shells out to zeek-config; tests substitute a
// fake.
type Platform interface {
	// Version returns the platform version, e.g. "6.0.1".
	Version(ctx context.Context) (string, error)
	// ScriptDir returns the platform's site script directory.
	ScriptDir(ctx context.Context) (string, error)
	// PluginDir returns the platform's plugin directory.
	PluginDir(ctx context.Context) (string, error)
	// ZeekDist returns the platform source distribution path, if known.
	ZeekDist(ctx context.Context) (string, error)
	// Capabilities returns the built-in capabilities the platform
	// advertises, keyed by name.
	Capabilities(ctx context.Context) (map[string]Capability, error)
}

// ConfigTool is the exec-backed Platform. Tool is the config executable
// name or path, typically "zeek-config".
type ConfigTool struct {
	Tool string
}

// NewConfigTool returns a Platform backed by the named config executable,
// defaulting to zeek-config from PATH.
func NewConfigTool(tool string) *ConfigTool {
	if tool == "" {
		tool = "zeek-config"
	}
	return &ConfigTool{Tool: tool}
}

func (p *ConfigTool) run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, p.Tool, args...).Output()
	if err != nil {
		return "", errors.Wrapf(err, "%s %s failed", p.Tool, strings.Join(args, " "))
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *ConfigTool) Version(ctx context.Context) (string, error) {
	v, err := p.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	// Strip any -dev/commit suffix so the version parses as semver.
	if idx := strings.IndexByte(v, '-'); idx > 0 {
		v = v[:idx]
	}
	return v, nil
}

func (p *ConfigTool) ScriptDir(ctx context.Context) (string, error) {
	return p.run(ctx, "--site_dir")
}

func (p *ConfigTool) PluginDir(ctx context.Context) (string, error) {
	return p.run(ctx, "--plugin_dir")
}

func (p *ConfigTool) ZeekDist(ctx context.Context) (string, error) {
	return p.run(ctx, "--zeek_dist")
}

// Capabilities queries the platform for bundled plugin provides. Platforms
// that predate the query report none; that is not an error.
func (p *ConfigTool) Capabilities(ctx context.Context) (map[string]Capability, error) {
	out, err := p.run(ctx, "--include_plugins")
	if err != nil {
		logrus.WithError(err).Debug("platform does not report built-in plugins")
		return map[string]Capability{}, nil
	}

	caps := map[string]Capability{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, version := line, ""
		if fields := strings.Fields(line); len(fields) > 1 {
			name, version = fields[0], fields[1]
		}
		caps[name] = Capability{Name: name, Version: version}
	}
	return caps, nil
}
