// Package version reports build information set at link time, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/alphascan/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// InfoKey is the Info.txt key the version is recorded under.
const InfoKey = "Software Version"

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
