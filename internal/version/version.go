// Package version exposes the spectaclebot build metadata.
package version

// Populated at build time via -ldflags -X.
var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// Full returns the version with commit and build time, as printed by the
// version command.
func Full() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
