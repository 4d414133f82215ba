// Package version holds the build version, set with
// -ldflags "-X github.com/alexcabrera/devflow/internal/version.Version=...".
package version

// Version is the devflow release.
var Version = "dev"
