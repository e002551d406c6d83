// Package zkgmeta parses package metadata files (zkg.meta and the legacy
// bro-pkg.meta) into typed records and handles the %(name)s interpolation
// dialect those files use.
package zkgmeta

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"zkg/pkg/pm"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

const (
	// MetadataFilename is the current metadata file name.
	MetadataFilename = "zkg.meta"
	// LegacyMetadataFilename is accepted when MetadataFilename is absent.
	LegacyMetadataFilename = "bro-pkg.meta"
)

var knownPackageFields = map[string]bool{
	"description":      true,
	"tags":             true,
	"credits":          true,
	"aliases":          true,
	"script_dir":       true,
	"plugin_dir":       true,
	"executables":      true,
	"config_files":     true,
	"build_command":    true,
	"test_command":     true,
	"user_vars":        true,
	"depends":          true,
	"external_depends": true,
	"suggests":         true,
	"version":          true,
}

var validPackageName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.+-]*$`)

// IsValidPackageName reports whether name can serve as a package short
// name or alias.
func IsValidPackageName(name string) bool {
	return validPackageName.MatchString(name) && name != "." && name != ".."
}

// PickMetadataFile returns the metadata file path for a package directory,
// preferring the current file name over the legacy one.
func PickMetadataFile(dir string) string {
	modern := filepath.Join(dir, MetadataFilename)
	if _, err := os.Stat(modern); err == nil {
		return modern
	}
	return filepath.Join(dir, LegacyMetadataFilename)
}

func loadOptions() ini.LoadOptions {
	return ini.LoadOptions{
		AllowPythonMultilineValues: true,
		SpaceBeforeInlineComment:   true,
	}
}

// Load parses the metadata file of the package rooted at dir. The second
// return value is the file that was read.
func Load(dir, pkgName string) (*pm.Metadata, string, error) {
	file := PickMetadataFile(dir)

	if _, err := os.Stat(file); err != nil {
		return nil, file, &pm.BadMetadataError{
			Package: pkgName,
			Reason:  "missing " + MetadataFilename + " (or " + LegacyMetadataFilename + ") metadata file",
		}
	}

	if filepath.Base(file) == LegacyMetadataFilename {
		logrus.WithField("package", pkgName).Debugf("using legacy %s metadata file", LegacyMetadataFilename)
	}

	cfg, err := ini.LoadSources(loadOptions(), file)
	if err != nil {
		return nil, file, &pm.BadMetadataError{Package: pkgName, Reason: err.Error()}
	}

	meta, err := fromINI(cfg, pkgName)
	return meta, file, err
}

func fromINI(cfg *ini.File, pkgName string) (*pm.Metadata, error) {
	sec, err := cfg.GetSection("package")
	if err != nil {
		return nil, &pm.BadMetadataError{
			Package: pkgName,
			Field:   "package",
			Reason:  "metadata is missing a [package] section",
		}
	}

	meta := &pm.Metadata{}
	raw := func(name string) string {
		if !sec.HasKey(name) {
			return ""
		}
		// Raw values; interpolation stays lazy and happens on use.
		return strings.TrimSpace(sec.Key(name).Value())
	}

	meta.Description = raw("description")
	meta.Tags = splitList(raw("tags"))
	meta.Credits = splitList(raw("credits"))
	meta.Aliases = splitList(raw("aliases"))
	meta.ScriptDir = raw("script_dir")
	meta.PluginDir = raw("plugin_dir")
	meta.Executables = splitList(raw("executables"))
	meta.ConfigFiles = splitList(raw("config_files"))
	meta.BuildCommand = raw("build_command")
	meta.TestCommand = raw("test_command")

	for _, alias := range meta.Aliases {
		if !IsValidPackageName(alias) {
			return nil, &pm.BadMetadataError{
				Package: pkgName,
				Field:   "aliases",
				Reason:  "invalid alias " + strconv.Quote(alias),
			}
		}
	}

	uvars, err := ParseUserVars(pkgName, raw("user_vars"))
	if err != nil {
		return nil, err
	}
	meta.UserVars = uvars

	for field, dst := range map[string]*[]pm.Depend{
		"depends":          &meta.Depends,
		"external_depends": &meta.ExternalDepends,
		"suggests":         &meta.Suggests,
	} {
		deps, err := ParseDepends(pkgName, field, raw(field))
		if err != nil {
			return nil, err
		}
		*dst = deps
	}

	for _, key := range sec.KeyStrings() {
		if !knownPackageFields[key] {
			logrus.WithField("package", pkgName).Warnf("metadata has unknown field %q", key)
		}
	}

	meta.Template = templateRecordFromINI(cfg)

	return meta, nil
}

// templateRecordFromINI reads the [template] and [template_vars] sections a
// template-instantiated package carries.
func templateRecordFromINI(cfg *ini.File) *pm.TemplateRecord {
	sec, err := cfg.GetSection("template")
	if err != nil {
		return nil
	}

	rec := &pm.TemplateRecord{
		Source:  sec.Key("source").Value(),
		Commit:  sec.Key("commit").Value(),
		Version: sec.Key("version").Value(),
		ZkgVer:  sec.Key("zkg_version").Value(),
	}
	if features := sec.Key("features").Value(); features != "" {
		rec.Features = splitList(features)
	}

	if vars, err := cfg.GetSection("template_vars"); err == nil {
		rec.UserVars = make(map[string]string)
		for _, key := range vars.Keys() {
			rec.UserVars[key.Name()] = key.Value()
		}
	}

	return rec
}

// ParseUserVars parses the user_vars field. Entries have the shape
//
//	NAME [default value] "description"
//
// and may span multiple lines.
func ParseUserVars(pkgName, text string) ([]pm.UserVar, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	entryRe := regexp.MustCompile(`(\w+)\s+\[(.*?)\]\s+"(.*?)"`)
	matches := entryRe.FindAllStringSubmatchIndex(text, -1)

	if len(matches) == 0 {
		return nil, &pm.BadMetadataError{
			Package: pkgName,
			Field:   "user_vars",
			Reason:  `entries must look like: NAME [default] "description"`,
		}
	}

	// Reject stray text between entries so a malformed declaration does
	// not silently vanish.
	last := 0
	var uvars []pm.UserVar
	for _, m := range matches {
		if strings.TrimSpace(text[last:m[0]]) != "" {
			return nil, &pm.BadMetadataError{
				Package: pkgName,
				Field:   "user_vars",
				Reason:  "malformed entry near " + strconv.Quote(strings.TrimSpace(text[last:m[0]])),
			}
		}
		last = m[1]

		uvars = append(uvars, pm.UserVar{
			Name:        text[m[2]:m[3]],
			Default:     text[m[4]:m[5]],
			Description: text[m[6]:m[7]],
		})
	}
	if strings.TrimSpace(text[last:]) != "" {
		return nil, &pm.BadMetadataError{
			Package: pkgName,
			Field:   "user_vars",
			Reason:  "malformed entry near " + strconv.Quote(strings.TrimSpace(text[last:])),
		}
	}

	return uvars, nil
}

// WriteTemplateRecord rewrites the [template] and [template_vars] sections
// of the metadata file at dir, preserving everything else.
func WriteTemplateRecord(dir string, rec *pm.TemplateRecord) error {
	file := filepath.Join(dir, MetadataFilename)

	cfg, err := ini.LoadSources(loadOptions(), file)
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return errors.Wrapf(err, "failed to read %s", file)
		}
		cfg = ini.Empty()
	}

	cfg.DeleteSection("template")
	sec, _ := cfg.NewSection("template")
	sec.NewKey("source", rec.Source)
	if rec.Version != "" {
		sec.NewKey("version", rec.Version)
	}
	sec.NewKey("commit", rec.Commit)
	sec.NewKey("zkg_version", rec.ZkgVer)
	if len(rec.Features) > 0 {
		sec.NewKey("features", strings.Join(rec.Features, ","))
	}

	cfg.DeleteSection("template_vars")
	if len(rec.UserVars) > 0 {
		vars, _ := cfg.NewSection("template_vars")
		names := make([]string, 0, len(rec.UserVars))
		for name := range rec.UserVars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			vars.NewKey(name, rec.UserVars[name])
		}
	}

	return errors.Wrapf(cfg.SaveTo(file), "failed to write %s", file)
}

func splitList(text string) []string {
	if text == "" {
		return nil
	}

	split := func(r rune) bool { return r == ',' || r == '\n' }

	var out []string
	for _, item := range strings.FieldsFunc(text, split) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

