// Package version holds the manager's own version, which dependency
// constraints on "zkg" resolve against.
package version

// Version is set at build time via -ldflags.
var Version = "3.0.0"
