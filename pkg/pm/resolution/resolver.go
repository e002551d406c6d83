// Package resolution turns a set of package requests plus the installed
// state into a totally ordered install plan, solving semantic-version
// range constraints mixed with branch pins and raw commits.
package resolution

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"zkg/pkg/dag"
	"zkg/pkg/git"
	"zkg/pkg/platform"
	"zkg/pkg/pm"
	"zkg/pkg/pm/manifest"
	"zkg/pkg/zkgmeta"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Request asks for one root package at a version.
type Request struct {
	Package *pm.Package
	// Version is the user-requested ref: a release tag, branch name,
	// commit hash, or "" for the default (highest release, else default
	// branch tip).
	Version string
}

// Candidate is one entry of the resolved plan.
type Candidate struct {
	Package *pm.Package
	// Requested is true for root requests, false for pulled-in deps.
	Requested bool
	// Builtin is set when the dependency is satisfied by a platform
	// capability; no clone exists and the pipeline skips it.
	Builtin *platform.Capability
}

// Lookup finds a package by dependency name: a short name resolved
// against the configured sources, or a git URL taken verbatim. A nil
// result means the name is not obtainable.
type Lookup func(name string) *pm.Package

// Resolver solves one resolution cycle.
type Resolver struct {
	driver         git.Driver
	platform       platform.Platform
	manifest       *manifest.Manifest
	lookup         Lookup
	cloneArea      string
	managerVersion string

	// relaxed names are not pinned to their installed version, allowing
	// upgrade to move them.
	relaxed map[string]bool

	nodes map[string]*node
	order []string
}

type constraintRec struct {
	requester string
	spec      string
}

type node struct {
	name        string
	pkg         *pm.Package
	constraints []constraintRec
	installed   *manifest.Entry
	requested   bool
	expanded    bool

	resolved pm.Version
	hash     string
	meta     *pm.Metadata
	builtin  *platform.Capability
}

// New returns a resolver over the given collaborators.
func New(d git.Driver, plat platform.Platform, m *manifest.Manifest, lookup Lookup, cloneArea, managerVersion string) *Resolver {
	return &Resolver{
		driver:         d,
		platform:       plat,
		manifest:       m,
		lookup:         lookup,
		cloneArea:      cloneArea,
		managerVersion: managerVersion,
		relaxed:        map[string]bool{},
		nodes:          map[string]*node{},
	}
}

// Relax marks an installed package as upgradable: it is not seeded with
// an ==installed constraint.
func (r *Resolver) Relax(name string) { r.relaxed[name] = true }

// Resolve computes the plan for the requests. The plan is ordered with
// dependencies first; ties break by qualified name.
func (r *Resolver) Resolve(ctx context.Context, requests []Request) ([]*Candidate, error) {
	// Seed with installed packages: each contributes an ==installed
	// constraint, immovable for pinned packages and removable for
	// packages the caller relaxed.
	for _, name := range r.manifest.Names() {
		entry := r.manifest.Packages[name]
		n := r.addNode(name, entry.Package(name))
		n.installed = entry
		if !r.relaxed[name] || entry.IsPinned {
			n.constraints = append(n.constraints, constraintRec{
				requester: "<installed>",
				spec:      installedSpec(entry),
			})
		}
	}

	for _, req := range requests {
		name := req.Package.Name()
		n := r.addNode(name, req.Package)
		n.requested = true
		if req.Version != "" {
			n.constraints = append(n.constraints, constraintRec{requester: "<request>", spec: requestSpec(req.Version)})
		}
	}

	// Iterative expansion: resolving a node may add nodes for its
	// dependencies, which are then resolved in turn.
	for {
		name, ok := r.nextUnexpanded()
		if !ok {
			break
		}
		if err := r.expand(ctx, r.nodes[name]); err != nil {
			return nil, err
		}
	}

	return r.plan()
}

func (r *Resolver) addNode(name string, pkg *pm.Package) *node {
	if n, ok := r.nodes[name]; ok {
		if n.pkg.GitURL == "" {
			n.pkg = pkg
		}
		return n
	}
	n := &node{name: name, pkg: pkg}
	r.nodes[name] = n
	r.order = append(r.order, name)
	return n
}

func (r *Resolver) nextUnexpanded() (string, bool) {
	for _, name := range r.order {
		if !r.nodes[name].expanded {
			return name, true
		}
	}
	return "", false
}

// installedSpec renders an installed package's version as a constraint
// matching its tracking method.
func installedSpec(entry *manifest.Entry) string {
	switch pm.ParseTrackingMethod(entry.TrackingMethod) {
	case pm.TrackBranch:
		return "branch=" + entry.Version
	case pm.TrackCommit:
		return "commit=" + entry.Version
	}
	return "==" + entry.Version
}

func requestSpec(version string) string {
	if pm.LooksLikeCommit(version) {
		return "commit=" + version
	}
	if pm.IsRelease(version) {
		return "==" + strings.TrimPrefix(version, "v")
	}
	return "branch=" + version
}

// expand resolves a node's version against its accumulated constraints
// and queues its dependencies.
func (r *Resolver) expand(ctx context.Context, n *node) error {
	n.expanded = true

	if err := r.resolveVersion(ctx, n); err != nil {
		return err
	}
	if n.builtin != nil {
		return nil
	}

	if n.meta == nil {
		meta, _, err := zkgmeta.Load(r.clonePath(n), n.name)
		if err != nil {
			return err
		}
		n.meta = meta
		n.pkg = n.pkg.ReloadMetadata(meta)
	}

	for _, dep := range n.meta.Depends {
		if err := r.expandDepend(ctx, n, dep); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) expandDepend(ctx context.Context, from *node, dep pm.Depend) error {
	switch dep.Kind {
	case pm.DependPlatform:
		ver, err := r.platform.Version(ctx)
		if err != nil || ver == "" {
			return &pm.DependencyError{
				Name:   from.name,
				Reason: "requires the platform at " + dep.Constraint + " but the platform version is unknown",
			}
		}
		if !zkgmeta.ConstraintSatisfied(dep.Constraint, ver) {
			return &pm.DependencyError{
				Name:   from.name,
				Reason: fmt.Sprintf("requires platform version %s but %s is running", dep.Constraint, ver),
			}
		}
		return nil

	case pm.DependManager:
		if !zkgmeta.ConstraintSatisfied(dep.Constraint, r.managerVersion) {
			return &pm.DependencyError{
				Name:   from.name,
				Reason: fmt.Sprintf("requires package manager version %s but this is %s", dep.Constraint, r.managerVersion),
			}
		}
		return nil
	}

	depName := pm.NameFromPath(dep.Name)

	// An installed package (possibly under an alias) wins over anything
	// else with the same name.
	if name, entry := r.manifest.Find(dep.Name); name != "" {
		n := r.addNode(name, entry.Package(name))
		n.constraints = append(n.constraints, constraintRec{requester: from.name, spec: dep.Constraint})
		if n.expanded && n.builtin == nil {
			return r.checkDecided(n)
		}
		return nil
	}

	if n, ok := r.nodes[depName]; ok {
		n.constraints = append(n.constraints, constraintRec{requester: from.name, spec: dep.Constraint})
		if n.expanded && n.builtin == nil {
			// Already resolved earlier in this cycle; re-check the new
			// constraint against the decided version.
			return r.checkDecided(n)
		}
		return nil
	}

	pkg := r.lookup(dep.Name)
	if pkg == nil {
		// Package candidates first, then built-in capabilities.
		return r.satisfyBuiltin(ctx, from, dep)
	}

	n := r.addNode(depName, pkg)
	n.constraints = append(n.constraints, constraintRec{requester: from.name, spec: dep.Constraint})
	return nil
}

// satisfyBuiltin tries to meet a dependency with a platform-advertised
// capability. A capability at the wrong version is an unsatisfiable
// constraint even though the name matches.
func (r *Resolver) satisfyBuiltin(ctx context.Context, from *node, dep pm.Depend) error {
	caps, err := r.platform.Capabilities(ctx)
	if err != nil {
		return err
	}

	depName := pm.NameFromPath(dep.Name)
	cap, ok := caps[depName]
	if !ok {
		return &pm.DependencyError{
			Name: dep.Name,
			Reason: fmt.Sprintf("required by %s but not available from any configured source or platform capability",
				from.name),
		}
	}

	if dep.Constraint != zkgmeta.WildcardConstraint &&
		!zkgmeta.ConstraintSatisfied(dep.Constraint, cap.Version) {
		return &pm.DependencyError{
			Name: dep.Name,
			Reason: fmt.Sprintf("%s requires %s but the platform provides the built-in capability at %s",
				from.name, dep.Constraint, cap.Version),
		}
	}

	n := r.addNode(depName, &pm.Package{GitURL: dep.Name})
	n.expanded = true
	n.builtin = &platform.Capability{Name: cap.Name, Version: cap.Version}
	n.constraints = append(n.constraints, constraintRec{requester: from.name, spec: dep.Constraint})
	return nil
}

func (r *Resolver) clonePath(n *node) string {
	return filepath.Join(r.cloneArea, n.name)
}

// resolveVersion decides the node's ref: the highest tag satisfying every
// constraint, else the pinned branch tip, else the requested commit.
func (r *Resolver) resolveVersion(ctx context.Context, n *node) error {
	if n.installed != nil && n.installed.IsPinned {
		// A pinned package contributes ==current; nothing can move it,
		// only fail against it.
		n.resolved = pm.Version{Ref: n.installed.Version, Method: n.installed.Package(n.name).Version.Method}
		n.hash = n.installed.CurrentHash
		n.meta = n.installed.Metadata
		return r.checkDecided(n)
	}

	branch, commit, exact, ranges, err := r.splitConstraints(n)
	if err != nil {
		return err
	}

	clone := r.clonePath(n)
	if err := git.EnsureClone(ctx, r.driver, n.pkg.GitURL, clone, commit == ""); err != nil {
		return &pm.DependencyError{Name: n.name, Reason: "failed to obtain repository: " + err.Error()}
	}
	if err := r.driver.Fetch(ctx, clone); err != nil {
		return &pm.DependencyError{Name: n.name, Reason: "failed to fetch repository: " + err.Error()}
	}

	switch {
	case commit != "":
		n.resolved = pm.Version{Ref: commit, Method: pm.TrackCommit}

	case branch != "":
		branches, err := r.driver.ListBranches(ctx, clone)
		if err != nil {
			return err
		}
		if !contains(branches, branch) {
			return &pm.VersionResolutionError{
				Package:    n.name,
				Constraint: "branch=" + branch,
				Reason:     "no such branch",
			}
		}
		n.resolved = pm.Version{Ref: branch, Method: pm.TrackBranch}

	default:
		tags, err := r.driver.ListTags(ctx, clone)
		if err != nil {
			return err
		}

		best := pickBestTag(tags, exact, ranges)
		if best == "" {
			if len(exact) > 0 || len(ranges) > 0 {
				return &pm.VersionResolutionError{
					Package:    n.name,
					Constraint: describeConstraints(n.constraints),
					Reason:     "no release satisfies every constraint" + requesterSuffix(n.constraints),
				}
			}
			// No releases at all: track the default branch tip.
			def, err := r.driver.DefaultBranch(ctx, clone)
			if err != nil {
				return err
			}
			n.resolved = pm.Version{Ref: def, Method: pm.TrackBranch}
			break
		}
		n.resolved = pm.Version{Ref: best, Method: pm.TrackTag}
	}

	if err := r.driver.Checkout(ctx, clone, n.resolved.Ref); err != nil {
		return &pm.VersionResolutionError{Package: n.name, Constraint: n.resolved.Ref, Reason: err.Error()}
	}
	hash, err := r.driver.CurrentCommit(ctx, clone)
	if err != nil {
		return err
	}
	n.hash = hash

	pkg := *n.pkg
	pkg.Version = n.resolved
	pkg.CurrentHash = hash
	n.pkg = &pkg
	n.meta = nil // force a re-read at the decided ref
	return nil
}

// splitConstraints partitions a node's constraints and detects
// irreconcilable mixtures up front, naming both requesters.
func (r *Resolver) splitConstraints(n *node) (branch, commit string, exact []string, ranges []rangeRec, err error) {
	var branchFrom, commitFrom string

	for _, c := range n.constraints {
		switch {
		case c.spec == zkgmeta.WildcardConstraint || c.spec == "":
			continue

		case strings.HasPrefix(c.spec, "branch="):
			b := strings.TrimPrefix(c.spec, "branch=")
			if branch != "" && branch != b {
				return "", "", nil, nil, conflict(n.name, branchFrom, "branch="+branch, c.requester, c.spec)
			}
			branch, branchFrom = b, c.requester

		case strings.HasPrefix(c.spec, "commit="):
			h := strings.TrimPrefix(c.spec, "commit=")
			if commit != "" && commit != h {
				return "", "", nil, nil, conflict(n.name, commitFrom, "commit="+commit, c.requester, c.spec)
			}
			commit, commitFrom = h, c.requester

		case strings.HasPrefix(c.spec, "=="):
			exact = append(exact, strings.TrimPrefix(c.spec, "=="))

		default:
			con, cerr := semver.NewConstraint(c.spec)
			if cerr != nil {
				return "", "", nil, nil, &pm.DependencyError{
					Name:   n.name,
					Reason: fmt.Sprintf("%s declares malformed constraint %q", c.requester, c.spec),
				}
			}
			ranges = append(ranges, rangeRec{requester: c.requester, spec: c.spec, con: con})
		}
	}

	if branch != "" && (commit != "" || len(exact) > 0 || len(ranges) > 0) {
		other := firstVersionConstraint(n.constraints)
		return "", "", nil, nil, conflict(n.name, branchFrom, "branch="+branch, other.requester, other.spec)
	}
	if commit != "" && (len(exact) > 0 || len(ranges) > 0) {
		other := firstVersionConstraint(n.constraints)
		return "", "", nil, nil, conflict(n.name, commitFrom, "commit="+commit, other.requester, other.spec)
	}
	if len(exact) > 1 && !allEqual(exact) {
		return "", "", nil, nil, &pm.VersionResolutionError{
			Package:    n.name,
			Constraint: describeConstraints(n.constraints),
			Reason:     "conflicting exact version requirements" + requesterSuffix(n.constraints),
		}
	}

	return branch, commit, exact, ranges, nil
}

type rangeRec struct {
	requester string
	spec      string
	con       *semver.Constraints
}

// pickBestTag returns the highest tag satisfying the exact pins and every
// range, or "".
func pickBestTag(tags, exact []string, ranges []rangeRec) string {
	var best *semver.Version
	var bestTag string

	for _, tag := range tags {
		v, err := pm.ParseSemver(tag)
		if err != nil {
			continue
		}

		ok := true
		for _, e := range exact {
			ev, err := pm.ParseSemver(e)
			if err != nil || !v.Equal(ev) {
				ok = false
				break
			}
		}
		for _, r := range ranges {
			if !ok {
				break
			}
			if !r.con.Check(v) {
				ok = false
			}
		}
		if !ok {
			continue
		}

		if best == nil || v.GreaterThan(best) {
			best = v
			bestTag = tag
		}
	}
	return bestTag
}

// checkDecided re-validates every constraint against a version that is
// already fixed (pinned packages, nodes resolved before a late constraint
// arrived).
func (r *Resolver) checkDecided(n *node) error {
	ver := n.resolved
	if ver.Ref == "" && n.installed != nil {
		ver = pm.Version{Ref: n.installed.Version, Method: pm.ParseTrackingMethod(n.installed.TrackingMethod)}
	}

	for _, c := range n.constraints {
		if c.spec == zkgmeta.WildcardConstraint || c.spec == "" {
			continue
		}

		satisfied := false
		switch {
		case strings.HasPrefix(c.spec, "branch="):
			satisfied = ver.Method == pm.TrackBranch && ver.Ref == strings.TrimPrefix(c.spec, "branch=")
		case strings.HasPrefix(c.spec, "commit="):
			satisfied = ver.Method == pm.TrackCommit && strings.HasPrefix(n.hash, strings.TrimPrefix(c.spec, "commit="))
		case strings.HasPrefix(c.spec, "=="):
			want, err := pm.ParseSemver(strings.TrimPrefix(c.spec, "=="))
			if err == nil && ver.Method == pm.TrackTag {
				got, gerr := pm.ParseSemver(ver.Ref)
				satisfied = gerr == nil && got.Equal(want)
			} else {
				satisfied = ver.Ref == strings.TrimPrefix(c.spec, "==")
			}
		default:
			satisfied = ver.Method == pm.TrackTag && zkgmeta.ConstraintSatisfied(c.spec, ver.Ref)
		}

		if !satisfied {
			state := "resolved"
			if n.installed != nil && n.installed.IsPinned {
				state = "pinned"
			}
			return &pm.VersionResolutionError{
				Package:    n.name,
				Constraint: c.spec,
				Reason: fmt.Sprintf("%s requires %s but %s is %s at %s",
					c.requester, c.spec, n.name, state, ver.Ref),
			}
		}
	}
	return nil
}

// plan orders resolved nodes dependencies-first with ties broken by
// qualified name, and rejects dependency cycles.
func (r *Resolver) plan() ([]*Candidate, error) {
	g := dag.New()

	names := make([]string, 0, len(r.nodes))
	for _, name := range r.order {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.nodes[names[i]].pkg.QualifiedName() < r.nodes[names[j]].pkg.QualifiedName()
	})

	for _, name := range names {
		g.AddNode(name)
	}
	for _, name := range names {
		n := r.nodes[name]
		if n.meta == nil {
			continue
		}
		for _, dep := range n.meta.Depends {
			if dep.Kind != pm.DependPackage {
				continue
			}
			depName := pm.NameFromPath(dep.Name)
			if mName, _ := r.manifest.Find(dep.Name); mName != "" {
				depName = mName
			}
			if _, ok := r.nodes[depName]; ok {
				g.AddEdge(depName, name)
			}
		}
	}

	ordered, err := g.TopologicalSort()
	if err != nil {
		var cerr *dag.CycleError
		if errors.As(err, &cerr) {
			return nil, &pm.DependencyError{
				Name:   strings.Join(cerr.Cycle, " -> "),
				Reason: "dependency cycle detected",
			}
		}
		return nil, err
	}

	var plan []*Candidate
	for _, name := range ordered {
		n := r.nodes[name]
		plan = append(plan, &Candidate{
			Package:   n.pkg,
			Requested: n.requested,
			Builtin:   n.builtin,
		})
	}
	return plan, nil
}

func conflict(name, reqA, specA, reqB, specB string) error {
	return &pm.DependencyError{
		Name:   name,
		Reason: fmt.Sprintf("%s requires %q but %s requires %q", reqA, specA, reqB, specB),
	}
}

func firstVersionConstraint(cs []constraintRec) constraintRec {
	for _, c := range cs {
		if c.spec == zkgmeta.WildcardConstraint || c.spec == "" {
			continue
		}
		if !strings.HasPrefix(c.spec, "branch=") && !strings.HasPrefix(c.spec, "commit=") {
			return c
		}
	}
	return constraintRec{}
}

func describeConstraints(cs []constraintRec) string {
	var parts []string
	for _, c := range cs {
		if c.spec == zkgmeta.WildcardConstraint || c.spec == "" {
			continue
		}
		parts = append(parts, c.spec)
	}
	return strings.Join(parts, ", ")
}

func requesterSuffix(cs []constraintRec) string {
	var parts []string
	for _, c := range cs {
		if c.spec == zkgmeta.WildcardConstraint || c.spec == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s wants %s", c.requester, c.spec))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "; ") + ")"
}

func allEqual(vals []string) bool {
	for _, v := range vals[1:] {
		av, err1 := pm.ParseSemver(vals[0])
		bv, err2 := pm.ParseSemver(v)
		if err1 == nil && err2 == nil {
			if !av.Equal(bv) {
				return false
			}
			continue
		}
		if v != vals[0] {
			return false
		}
	}
	return true
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
