package pm

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/fvbommel/sortorder"
)

// TrackingMethod says what kind of ref an installed package follows. The
// kind decides upgrade eligibility: tags upgrade to newer tags, branches
// track their tip, commits never move.
type TrackingMethod int

const (
	TrackTag TrackingMethod = iota
	TrackBranch
	TrackCommit
)

func (t TrackingMethod) String() string {
	switch t {
	case TrackTag:
		return "version"
	case TrackBranch:
		return "branch"
	case TrackCommit:
		return "commit"
	}
	return "unknown"
}

// ParseTrackingMethod is the inverse of TrackingMethod.String, used when
// reading manifests and bundle manifests.
func ParseTrackingMethod(s string) TrackingMethod {
	switch s {
	case "branch":
		return TrackBranch
	case "commit":
		return TrackCommit
	default:
		return TrackTag
	}
}

// Version pairs a ref name with how it is tracked.
type Version struct {
	Ref    string
	Method TrackingMethod
}

// ParseSemver parses a release tag, tolerating a leading "v" which is
// stripped for comparison purposes.
func ParseSemver(tag string) (*semver.Version, error) {
	return semver.NewVersion(strings.TrimPrefix(tag, "v"))
}

// IsRelease reports whether the ref parses as a semantic version tag.
func IsRelease(ref string) bool {
	_, err := ParseSemver(ref)
	return err == nil
}

// LooksLikeCommit reports whether text has the shape of an abbreviated or
// full git commit hash.
func LooksLikeCommit(text string) bool {
	if len(text) < 7 || len(text) > 40 {
		return false
	}
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// SortVersionTags orders release tags ascending. Tags that parse as semver
// compare semantically; anything else falls back to natural string order so
// odd tags still sort stably.
func SortVersionTags(tags []string) {
	sort.SliceStable(tags, func(i, j int) bool {
		vi, ei := ParseSemver(tags[i])
		vj, ej := ParseSemver(tags[j])
		if ei == nil && ej == nil {
			return vi.LessThan(vj)
		}
		if ei == nil {
			return false
		}
		if ej == nil {
			return true
		}
		return sortorder.NaturalLess(tags[i], tags[j])
	})
}

// LatestReleaseTag returns the highest semver tag, or "" when none parse.
func LatestReleaseTag(tags []string) string {
	var best *semver.Version
	var bestTag string
	for _, tag := range tags {
		v, err := ParseSemver(tag)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestTag = tag
		}
	}
	return bestTag
}
