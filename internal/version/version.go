// Package version reports build metadata for --version output and logs.
package version

import "fmt"

// Overwritten at build time via -ldflags.
var (
	gitCommit = "unknown"
	buildDate = "unknown"
	release   = "dev"
)

// GetVersion returns a human-readable version string for --version and logs.
func GetVersion() string {
	return fmt.Sprintf("mina-indexer/%s (commit %s, built %s)", release, gitCommit, buildDate)
}
