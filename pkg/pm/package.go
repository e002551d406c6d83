// Package pm holds the core domain types of the package lifecycle engine:
// package identity, version tracking, metadata records, and the typed
// errors every engine operation can surface.
package pm

import (
	"path"
	"strings"
)

// Reserved dependency names that never refer to an installable package.
var reservedNames = map[string]bool{
	"zeek":    true,
	"bro":     true,
	"zkg":     true,
	"bro-pkg": true,
}

// IsReservedName reports whether name is claimed by the platform or the
// manager itself.
func IsReservedName(name string) bool {
	return reservedNames[strings.ToLower(name)]
}

// NameFromPath returns the short name of a package: the last path component
// of its URL or qualified name, with any ".git" suffix dropped.
func NameFromPath(p string) string {
	return strings.TrimSuffix(path.Base(strings.TrimRight(p, "/")), ".git")
}

// Package is the installable unit: identity plus a snapshot of the
// metadata observed at its resolved version. Instances are immutable for
// the duration of a resolution cycle; ReloadMetadata returns a fresh one.
type Package struct {
	// GitURL is where the package's repository lives.
	GitURL string
	// Source names the package index this package was discovered in, or
	// "" for packages installed directly from a URL.
	Source string
	// ModuleDir is the sub-path under the source tree, typically the
	// author segment of the qualified name.
	ModuleDir string
	// Meta is the metadata snapshot for the resolved version.
	Meta *Metadata
	// Version is the resolved ref once resolution decided one.
	Version Version
	// CurrentHash is the commit the resolved ref pointed at, recorded so
	// branch pins can detect upstream movement.
	CurrentHash string
}

// Name returns the package's short name.
func (p *Package) Name() string {
	return NameFromPath(p.GitURL)
}

// QualifiedName returns "source/module_dir/name" for packages that came
// from a source, else the raw git URL.
func (p *Package) QualifiedName() string {
	if p.Source == "" {
		return p.GitURL
	}
	if p.ModuleDir == "" {
		return p.Source + "/" + p.Name()
	}
	return p.Source + "/" + p.ModuleDir + "/" + p.Name()
}

// MatchesPath reports whether a user-supplied path refers to this package.
// Accepted forms, most to least specific: the full git URL, the qualified
// name, module_dir/name, and the bare short name.
func (p *Package) MatchesPath(pkgPath string) bool {
	pkgPath = strings.TrimSuffix(strings.TrimRight(pkgPath, "/"), ".git")
	if pkgPath == p.GitURL || pkgPath == strings.TrimSuffix(p.GitURL, ".git") {
		return true
	}
	if pkgPath == p.QualifiedName() {
		return true
	}
	if p.ModuleDir != "" && pkgPath == p.ModuleDir+"/"+p.Name() {
		return true
	}
	return pkgPath == p.Name()
}

// ReloadMetadata returns a copy of the package carrying new metadata,
// typically after a checkout changed the tree.
func (p *Package) ReloadMetadata(meta *Metadata) *Package {
	clone := *p
	clone.Meta = meta
	return &clone
}

// Aliases returns the alias set declared in metadata, always including the
// short name itself.
func (p *Package) Aliases() []string {
	names := []string{p.Name()}
	if p.Meta == nil {
		return names
	}
	for _, a := range p.Meta.Aliases {
		if a != p.Name() {
			names = append(names, a)
		}
	}
	return names
}

// PackageStatus tracks the mutable state of an installed package.
type PackageStatus struct {
	IsLoaded       bool   `json:"is_loaded"`
	IsPinned       bool   `json:"is_pinned"`
	IsOutdated     bool   `json:"is_outdated"`
	TrackingMethod string `json:"tracking_method"`
	CurrentVersion string `json:"current_version"`
	CurrentHash    string `json:"current_hash"`
}

// Tracking returns the typed tracking method.
func (s *PackageStatus) Tracking() TrackingMethod {
	return ParseTrackingMethod(s.TrackingMethod)
}

// InstalledPackage pairs a package with its status. The metadata inside
// Package is the remembered snapshot, valid even when the clone is gone.
type InstalledPackage struct {
	Package *Package
	Status  *PackageStatus
}

// PackageInfo is the aggregate the info operation reports.
type PackageInfo struct {
	Package       *Package
	Status        *PackageStatus
	Versions      []string
	MetadataFile  string
	DefaultBranch string
	InvalidReason string
}
