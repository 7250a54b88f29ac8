// Package version holds build metadata injected via -ldflags at build time.
package version

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// Commit is the VCS commit hash of this build.
	Commit = "unknown"
)
