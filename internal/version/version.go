// Package version provides version information for sbomgen.
package version

// version is the version of `sbomgen`.
// Set to "dev" by default for local builds.
// Overridden by goreleaser.
var version = "dev"

// Get returns the version of `sbomgen`.
func Get() string {
	return version
}
