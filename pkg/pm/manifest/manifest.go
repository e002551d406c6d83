// Package manifest persists the engine's record of installed packages:
// identity, resolved version, load and pin state, and the metadata
// snapshot the engine must remember independently of the clone.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"zkg/pkg/pm"

	"github.com/pkg/errors"
)

// SchemaVersion is the current on-disk schema. Version 1 was a bare map
// of package names to entries without the envelope; reads migrate it.
const SchemaVersion = 2

// Entry is the persisted record of one installed package.
type Entry struct {
	GitURL    string `json:"git_url"`
	Source    string `json:"source,omitempty"`
	ModuleDir string `json:"module_dir,omitempty"`

	Version        string `json:"current_version"`
	TrackingMethod string `json:"tracking_method"`
	CurrentHash    string `json:"current_hash"`

	IsLoaded   bool `json:"is_loaded"`
	IsPinned   bool `json:"is_pinned"`
	IsOutdated bool `json:"is_outdated,omitempty"`

	// Metadata is the snapshot taken at install time so removing a clone
	// does not erase knowledge of the install.
	Metadata *pm.Metadata `json:"metadata,omitempty"`

	// ConfigFileHashes maps declared config-file paths (clone-relative,
	// as listed in config_files) to content hashes of the staged copies
	// recorded at install, so later operations can tell
	// user-modified files apart from pristine ones.
	ConfigFileHashes map[string]string `json:"config_file_hashes,omitempty"`
}

// Manifest is the envelope serialized to manifest.json.
type Manifest struct {
	Schema   int               `json:"manifest_version"`
	Packages map[string]*Entry `json:"installed_packages"`

	path string
}

// New returns an empty manifest bound to path.
func New(path string) *Manifest {
	return &Manifest{
		Schema:   SchemaVersion,
		Packages: map[string]*Entry{},
		path:     path,
	}
}

// Load reads the manifest at path. A missing file yields an empty
// manifest; an unreadable or future-schema file yields pm.ManifestError.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(path), nil
		}
		return nil, &pm.ManifestError{Path: path, Reason: err.Error()}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &pm.ManifestError{Path: path, Reason: err.Error()}
	}

	if m.Schema == 0 {
		// Schema 1 had no envelope: the file was the package map itself.
		migrated, err := migrateV1(data)
		if err != nil {
			return nil, &pm.ManifestError{Path: path, Reason: err.Error()}
		}
		m = *migrated
	}

	if m.Schema > SchemaVersion {
		return nil, &pm.ManifestError{
			Path:   path,
			Reason: "manifest was written by a newer zkg; upgrade required",
		}
	}

	if m.Packages == nil {
		m.Packages = map[string]*Entry{}
	}
	m.path = path
	return &m, nil
}

func migrateV1(data []byte) (*Manifest, error) {
	var flat map[string]*Entry
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, errors.Wrap(err, "unrecognized manifest schema")
	}
	return &Manifest{Schema: SchemaVersion, Packages: flat}, nil
}

// Save writes the manifest atomically: temp file in the same directory,
// fsync, rename. Observers see either the old or the new state.
func (m *Manifest) Save() error {
	m.Schema = SchemaVersion

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal manifest")
	}
	data = append(data, '\n')

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create state directory")
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary manifest")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write manifest")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), m.path)
}

// Path returns where the manifest lives on disk.
func (m *Manifest) Path() string { return m.path }

// Clone returns a deep copy, used to stash pre-plan state for rollback.
func (m *Manifest) Clone() *Manifest {
	data, _ := json.Marshal(m)
	out := New(m.path)
	_ = json.Unmarshal(data, out)
	out.path = m.path
	return out
}

// Names returns installed package names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Packages))
	for name := range m.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find locates an installed package by any accepted path form: git URL,
// qualified name, module/name, short name, or declared alias.
func (m *Manifest) Find(pkgPath string) (string, *Entry) {
	for _, name := range m.Names() {
		entry := m.Packages[name]
		if entry.Package(name).MatchesPath(pkgPath) {
			return name, entry
		}
	}
	// Fall back to alias lookup.
	for _, name := range m.Names() {
		entry := m.Packages[name]
		if entry.Metadata == nil {
			continue
		}
		for _, alias := range entry.Metadata.Aliases {
			if alias == pkgPath {
				return name, entry
			}
		}
	}
	return "", nil
}

// Package reconstructs the pm.Package view of an entry.
func (e *Entry) Package(name string) *pm.Package {
	return &pm.Package{
		GitURL:      e.GitURL,
		Source:      e.Source,
		ModuleDir:   e.ModuleDir,
		Meta:        e.Metadata,
		Version:     pm.Version{Ref: e.Version, Method: pm.ParseTrackingMethod(e.TrackingMethod)},
		CurrentHash: e.CurrentHash,
	}
}

// Installed returns the pm.InstalledPackage view of an entry.
func (e *Entry) Installed(name string) *pm.InstalledPackage {
	return &pm.InstalledPackage{
		Package: e.Package(name),
		Status: &pm.PackageStatus{
			IsLoaded:       e.IsLoaded,
			IsPinned:       e.IsPinned,
			IsOutdated:     e.IsOutdated,
			TrackingMethod: e.TrackingMethod,
			CurrentVersion: e.Version,
			CurrentHash:    e.CurrentHash,
		},
	}
}

// Aliases maps every alias (including short names) of every installed
// package to its owner. Invariant: this mapping is a function.
func (m *Manifest) Aliases() map[string]string {
	out := map[string]string{}
	for name, entry := range m.Packages {
		for _, alias := range entry.Package(name).Aliases() {
			out[alias] = name
		}
	}
	return out
}

// CheckAliasConflicts verifies that installing pkg would keep the alias
// mapping a function, ignoring any existing entry for the same package
// (reinstall and upgrade replace it).
func (m *Manifest) CheckAliasConflicts(pkg *pm.Package) error {
	for name, entry := range m.Packages {
		if name == pkg.Name() {
			continue
		}
		existing := map[string]bool{}
		for _, alias := range entry.Package(name).Aliases() {
			existing[alias] = true
		}
		for _, alias := range pkg.Aliases() {
			if existing[alias] {
				return &pm.AliasConflictError{
					Package:  pkg.Name(),
					Alias:    alias,
					Existing: name,
				}
			}
		}
	}
	return nil
}

// LoadedNames returns the names of loaded packages, sorted.
func (m *Manifest) LoadedNames() []string {
	var names []string
	for name, entry := range m.Packages {
		if entry.IsLoaded {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Dependers returns the installed packages whose metadata declares a
// dependency on pkgName.
func (m *Manifest) Dependers(pkgName string) []string {
	var out []string
	for name, entry := range m.Packages {
		if name == pkgName || entry.Metadata == nil {
			continue
		}
		for _, dep := range entry.Metadata.Depends {
			if pm.NameFromPath(dep.Name) == pkgName {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
