package zkgmeta

import (
	"strings"

	"zkg/pkg/pm"

	"github.com/Masterminds/semver/v3"
)

// WildcardConstraint matches any version.
const WildcardConstraint = "*"

// ParseDepends turns the multi-line value of a depends-style field into
// typed declarations. Each line is "name SPEC" where SPEC is either a
// semver range expression, "branch=NAME", or "*".
func ParseDepends(pkgName, field, text string) ([]pm.Depend, error) {
	var deps []pm.Depend

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, ","))
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		name := fields[0]
		constraint := WildcardConstraint
		if len(fields) > 1 {
			constraint = strings.Join(fields[1:], " ")
		}

		if err := ValidateConstraint(constraint); err != nil {
			return nil, &pm.BadMetadataError{
				Package: pkgName,
				Field:   field,
				Reason:  "invalid version constraint for " + name + ": " + err.Error(),
			}
		}

		deps = append(deps, pm.Depend{
			Name:       name,
			Constraint: constraint,
			Kind:       classifyDepend(name),
		})
	}

	return deps, nil
}

func classifyDepend(name string) pm.DependKind {
	switch strings.ToLower(name) {
	case "zeek", "bro":
		return pm.DependPlatform
	case "zkg", "bro-pkg":
		return pm.DependManager
	}
	return pm.DependPackage
}

// BranchConstraint extracts the branch name from a "branch=NAME" spec, or
// "" when the spec is a version range.
func BranchConstraint(constraint string) string {
	if rest, ok := strings.CutPrefix(constraint, "branch="); ok {
		return rest
	}
	return ""
}

// ValidateConstraint checks a constraint string parses: either the
// wildcard, a branch pin, or a semver range expression.
func ValidateConstraint(constraint string) error {
	if constraint == WildcardConstraint || BranchConstraint(constraint) != "" {
		return nil
	}
	_, err := semver.NewConstraint(constraint)
	return err
}

// ConstraintSatisfied reports whether a release tag satisfies a version
// range constraint. Branch pins never match tags.
func ConstraintSatisfied(constraint, tag string) bool {
	if constraint == WildcardConstraint {
		return true
	}
	if BranchConstraint(constraint) != "" {
		return false
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}
	v, err := pm.ParseSemver(tag)
	if err != nil {
		return false
	}
	return c.Check(v)
}
