// Package version carries build metadata set through -ldflags.
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the metadata for the version subcommand and startup log.
func String() string {
	return fmt.Sprintf("alquery %s (%s, built %s)", Version, GitSHA, BuildTime)
}
