// Package version exposes build version information for the querycache
// binary. The variables are overridden at build time via ldflags:
//
//	go build -ldflags "-X github.com/rshade/querycache/pkg/version.Version=v1.2.3"
package version

import "fmt"

// Build information. Populated at build time.
var (
	// Version is the semantic version of the build.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// GetVersion returns the version string.
func GetVersion() string {
	return Version
}

// GetFullVersion returns the version with commit and build date.
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
