// Package version holds build information stamped in with -ldflags, e.g.
//
//	-X github.com/GoCodeAlone/tally/internal/version.Version=v1.2.0
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String formats the build information for version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
