// Package buildinfo carries the version stamp of the typedown auth relay
// binary, printed at startup so deployment logs identify the running build.
package buildinfo

// Populated through -ldflags at release time; the zero values mark a locally
// built development binary.
var (
	// Version is the release tag this binary was built from.
	Version = "dev"

	// Commit is the short SHA of the source revision.
	Commit = "none"

	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)
