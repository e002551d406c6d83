package zkgmeta

import (
	"os"

	"zkg/pkg/pm"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PromptFunc asks the user for a user-var value, offering a suggestion.
type PromptFunc func(uv pm.UserVar, suggestion string) (string, error)

// ResolveUserVars decides a value for every declared user var. Priority
// order: explicit command-line override, an environment variable of the
// same name, the persisted answer from the user config, the
// package-declared default. Unresolved vars go to prompt; with prompt ==
// nil (non-interactive) an unresolved var is an error.
//
// The second return value names the vars that were answered via prompt,
// so interactive callers can opt into persisting them.
func ResolveUserVars(pkgName string, uvars []pm.UserVar, overrides, persisted map[string]string, prompt PromptFunc) (map[string]string, []string, error) {
	resolved := map[string]string{}
	var answered []string

	for _, uv := range uvars {
		if val, ok := overrides[uv.Name]; ok {
			resolved[uv.Name] = val
			continue
		}

		if val, ok := os.LookupEnv(uv.Name); ok {
			logrus.Debugf("%q uses value of %q from environment: %s", pkgName, uv.Name, val)
			resolved[uv.Name] = val
			continue
		}

		suggestion := uv.Default
		if val, ok := persisted[uv.Name]; ok {
			suggestion = val
		}

		if prompt == nil {
			if suggestion == "" {
				return nil, nil, errors.Errorf(
					"package %q requires a value for %q (%s) and none is available non-interactively",
					pkgName, uv.Name, uv.Description)
			}
			resolved[uv.Name] = suggestion
			continue
		}

		val, err := prompt(uv, suggestion)
		if err != nil {
			return nil, nil, err
		}
		resolved[uv.Name] = val
		answered = append(answered, uv.Name)
	}

	return resolved, answered, nil
}
