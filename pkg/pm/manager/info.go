package manager

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"zkg/pkg/git"
	"zkg/pkg/pm"
	"zkg/pkg/zkgmeta"
)

// ListFilter selects which packages List reports.
type ListFilter int

const (
	ListAll ListFilter = iota
	ListInstalled
	ListLoaded
	ListUnloaded
	ListPinned
	ListOutdated
	ListNotInstalled
)

// ListEntry is one List result.
type ListEntry struct {
	Package   *pm.Package
	Status    *pm.PackageStatus
	Installed bool
}

// List reports packages matching the filter, combining installed state
// with source listings.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]ListEntry, error) {
	var entries []ListEntry
	installedNames := map[string]bool{}

	for _, ipkg := range m.InstalledPackages() {
		installedNames[ipkg.Package.Name()] = true

		keep := true
		switch filter {
		case ListLoaded:
			keep = ipkg.Status.IsLoaded
		case ListUnloaded:
			keep = !ipkg.Status.IsLoaded
		case ListPinned:
			keep = ipkg.Status.IsPinned
		case ListOutdated:
			keep = ipkg.Status.IsOutdated
		case ListNotInstalled:
			keep = false
		}
		if keep {
			entries = append(entries, ListEntry{Package: ipkg.Package, Status: ipkg.Status, Installed: true})
		}
	}

	if filter == ListAll || filter == ListNotInstalled {
		pkgs, err := m.SourcePackages(ctx)
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			if !installedNames[pkg.Name()] {
				entries = append(entries, ListEntry{Package: pkg})
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Package.QualifiedName() < entries[j].Package.QualifiedName()
	})
	return entries, nil
}

// Search matches source packages against search terms, consulting each
// source's aggregated metadata for descriptions and tags.
func (m *Manager) Search(ctx context.Context, terms []string) ([]ListEntry, error) {
	sources, err := m.Sources(ctx)
	if err != nil {
		return nil, err
	}

	var matches []ListEntry
	seen := map[string]bool{}

	for _, src := range sources {
		pkgs, err := src.Packages()
		if err != nil {
			return nil, err
		}
		agg, err := src.AggregatedMetadata()
		if err != nil {
			return nil, err
		}

		for _, pkg := range pkgs {
			key := strings.TrimPrefix(pkg.QualifiedName(), src.Name+"/")
			haystack := strings.ToLower(pkg.QualifiedName())
			if meta, ok := agg[key]; ok {
				haystack += " " + strings.ToLower(meta["description"]) + " " + strings.ToLower(meta["tags"])
			}

			for _, term := range terms {
				if strings.Contains(haystack, strings.ToLower(term)) && !seen[pkg.GitURL] {
					seen[pkg.GitURL] = true
					matches = append(matches, ListEntry{Package: pkg})
					break
				}
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Package.QualifiedName() < matches[j].Package.QualifiedName()
	})
	return matches, nil
}

// Info gathers detailed information about a package, preferring installed
// state when present.
func (m *Manager) Info(ctx context.Context, pkgPath, version string) (*pm.PackageInfo, error) {
	if name, entry := m.Manifest.Find(pkgPath); entry != nil {
		info := &pm.PackageInfo{
			Package: entry.Package(name),
			Status:  entry.Installed(name).Status,
		}
		clone := filepath.Join(m.Config.PackageClonesDir(), name)
		if git.IsValidClone(clone) {
			if tags, err := m.Driver.ListTags(ctx, clone); err == nil {
				pm.SortVersionTags(tags)
				info.Versions = tags
			}
			info.MetadataFile = zkgmeta.PickMetadataFile(clone)
			if branch, err := m.Driver.DefaultBranch(ctx, clone); err == nil {
				info.DefaultBranch = branch
			}
		}
		return info, nil
	}

	pkg, err := m.resolvePackagePath(ctx, pkgPath)
	if err != nil {
		return nil, err
	}

	// Clone into scratch to inspect a package that is not installed.
	clone := filepath.Join(m.Config.ScratchDir(), "info", pkg.Name())
	if err := git.EnsureClone(ctx, m.Driver, pkg.GitURL, clone, true); err != nil {
		return &pm.PackageInfo{Package: pkg, InvalidReason: err.Error()}, nil
	}

	ref := version
	if ref == "" {
		tags, _ := m.Driver.ListTags(ctx, clone)
		if ref = pm.LatestReleaseTag(tags); ref == "" {
			if ref, err = m.Driver.DefaultBranch(ctx, clone); err != nil {
				return nil, err
			}
		}
	}
	if err := m.Driver.Checkout(ctx, clone, ref); err != nil {
		return &pm.PackageInfo{Package: pkg, InvalidReason: "no such version " + version}, nil
	}

	info := &pm.PackageInfo{Package: pkg}
	meta, file, err := zkgmeta.Load(clone, pkg.Name())
	if err != nil {
		info.InvalidReason = err.Error()
		return info, nil
	}

	info.Package = pkg.ReloadMetadata(meta)
	info.MetadataFile = file
	if tags, err := m.Driver.ListTags(ctx, clone); err == nil {
		pm.SortVersionTags(tags)
		info.Versions = tags
	}
	if branch, err := m.Driver.DefaultBranch(ctx, clone); err == nil {
		info.DefaultBranch = branch
	}
	return info, nil
}
