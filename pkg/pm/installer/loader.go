package installer

import (
	"os"
	"path/filepath"
	"strings"

	"zkg/pkg/pm"
)

const (
	// LoaderIndexName is the file inside the script stage's packages
	// subtree naming loaded packages via @load directives.
	LoaderIndexName = "packages.zeek"

	// PluginMarker is the magic file a plugin subtree carries; renaming
	// it to PluginMarkerDisabled unloads the plugin without reinstalling.
	PluginMarker         = "__plugin_marker__"
	PluginMarkerDisabled = "__plugin_marker__.disabled"
)

// ReadLoaderIndex returns the package names currently listed, in file
// order. A missing index reads as empty.
func ReadLoaderIndex(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &pm.StageError{Op: "read", Path: path, Err: err}
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "@load ./"); ok {
			names = append(names, rest)
		}
	}
	return names, nil
}

func writeLoaderIndex(path string, names []string) error {
	var b strings.Builder
	b.WriteString("# Loaded packages. This file is managed by zkg; do not edit.\n")
	for _, name := range names {
		b.WriteString("@load ./" + name + "\n")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &pm.StageError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return &pm.StageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// AddLoad lists name in the loader index. Idempotent: a name already
// listed stays listed exactly once.
func AddLoad(path, name string) error {
	names, err := ReadLoaderIndex(path)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	return writeLoaderIndex(path, append(names, name))
}

// RemoveLoad delists name. Idempotent.
func RemoveLoad(path, name string) error {
	names, err := ReadLoaderIndex(path)
	if err != nil {
		return err
	}

	var kept []string
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(names) {
		return nil
	}
	return writeLoaderIndex(path, kept)
}

// SetPluginEnabled flips the plugin marker of the package's plugin
// subtree between its enabled and disabled names. A package without a
// plugin is a no-op.
func SetPluginEnabled(pluginPkgDir string, enabled bool) error {
	from := filepath.Join(pluginPkgDir, PluginMarkerDisabled)
	to := filepath.Join(pluginPkgDir, PluginMarker)
	if !enabled {
		from, to = to, from
	}

	if _, err := os.Stat(to); err == nil {
		return nil
	}
	if _, err := os.Stat(from); os.IsNotExist(err) {
		return nil
	}
	if err := os.Rename(from, to); err != nil {
		return &pm.StageError{Op: "rename", Path: from, Err: err}
	}
	return nil
}

// WritePluginMarker drops the marker file into a freshly staged plugin
// subtree, named for whether the package is loaded.
func WritePluginMarker(pluginPkgDir string, enabled bool) error {
	name := PluginMarker
	if !enabled {
		name = PluginMarkerDisabled
	}
	path := filepath.Join(pluginPkgDir, name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return &pm.StageError{Op: "write", Path: path, Err: err}
	}
	return nil
}
