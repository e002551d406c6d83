package zkgmeta

import (
	"regexp"
	"strings"

	"zkg/pkg/pm"
)

var interpRef = regexp.MustCompile(`%\(([^)]+)\)s`)

// Interpolate expands %(name)s references in value against env. Resolution
// is lazy and recursive: a referenced value may itself contain references.
// A reference to an unknown name or a reference cycle is a metadata error
// naming the offender.
func Interpolate(pkgName, value string, env map[string]string) (string, error) {
	return interpolate(pkgName, value, env, nil)
}

func interpolate(pkgName, value string, env map[string]string, seen []string) (string, error) {
	var firstErr error

	out := interpRef.ReplaceAllStringFunc(value, func(ref string) string {
		if firstErr != nil {
			return ref
		}

		name := interpRef.FindStringSubmatch(ref)[1]

		for _, s := range seen {
			if s == name {
				firstErr = &pm.BadMetadataError{
					Package: pkgName,
					Field:   name,
					Reason:  "interpolation cycle: " + strings.Join(append(seen, name), " -> "),
				}
				return ref
			}
		}

		repl, ok := env[name]
		if !ok {
			firstErr = &pm.BadMetadataError{
				Package: pkgName,
				Field:   name,
				Reason:  "reference to undefined value in interpolation",
			}
			return ref
		}

		expanded, err := interpolate(pkgName, repl, env, append(seen, name))
		if err != nil {
			firstErr = err
			return ref
		}
		return expanded
	})

	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// InterpolationEnv builds the union of values metadata interpolation may
// reference: persisted user vars, the [paths] section, the platform
// distribution path under both of its historical names, the package's own
// clone path as package_base, and any command-line overrides (highest
// priority).
func InterpolationEnv(paths, userVars, overrides map[string]string, zeekDist, packageBase string) map[string]string {
	env := make(map[string]string, len(paths)+len(userVars)+len(overrides)+3)
	for k, v := range userVars {
		env[k] = v
	}
	for k, v := range paths {
		env[k] = v
	}
	if zeekDist != "" {
		env["zeek_dist"] = zeekDist
		env["bro_dist"] = zeekDist
	}
	if packageBase != "" {
		env["package_base"] = packageBase
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}
