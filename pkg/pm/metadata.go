package pm

// DependKind is the tagged variant of things a `depends` line can name.
type DependKind int

const (
	// DependPackage names another installable package, by short name or URL.
	DependPackage DependKind = iota
	// DependPlatform names the analysis platform itself ("zeek"/"bro").
	DependPlatform
	// DependManager names the package manager ("zkg"/"bro-pkg").
	DependManager
	// DependBuiltin names a capability the platform may advertise without
	// an installed package backing it.
	DependBuiltin
)

// Depend is one parsed dependency declaration.
type Depend struct {
	Name       string     `json:"name"`
	Constraint string     `json:"constraint"`
	Kind       DependKind `json:"kind"`
}

// UserVar is a value the user must supply to a package's build, with a
// package-declared default and a description shown when prompting.
type UserVar struct {
	Name        string `json:"name"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"`
}

// TemplateRecord describes the template a package was instantiated from.
// It is written into the created package's metadata and remembered in the
// manifest so the package can be re-instantiated.
type TemplateRecord struct {
	Source   string            `json:"source"`
	Commit   string            `json:"commit"`
	Version  string            `json:"version,omitempty"`
	ZkgVer   string            `json:"zkg_version"`
	Features []string          `json:"features,omitempty"`
	UserVars map[string]string `json:"user_vars,omitempty"`
}

// Metadata is the typed view of a package's zkg.meta file. String fields
// keep their raw (possibly uninterpolated) values; interpolation happens
// on access through the metadata parser.
type Metadata struct {
	Description     string          `json:"description,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Credits         []string        `json:"credits,omitempty"`
	Aliases         []string        `json:"aliases,omitempty"`
	ScriptDir       string          `json:"script_dir,omitempty"`
	PluginDir       string          `json:"plugin_dir,omitempty"`
	Executables     []string        `json:"executables,omitempty"`
	ConfigFiles     []string        `json:"config_files,omitempty"`
	BuildCommand    string          `json:"build_command,omitempty"`
	TestCommand     string          `json:"test_command,omitempty"`
	UserVars        []UserVar       `json:"user_vars,omitempty"`
	Depends         []Depend        `json:"depends,omitempty"`
	ExternalDepends []Depend        `json:"external_depends,omitempty"`
	Suggests        []Depend        `json:"suggests,omitempty"`
	Template        *TemplateRecord `json:"template,omitempty"`
}

// DependNamed returns the declaration for name, if any.
func (m *Metadata) DependNamed(name string) (Depend, bool) {
	for _, d := range m.Depends {
		if d.Name == name {
			return d, true
		}
	}
	return Depend{}, false
}
