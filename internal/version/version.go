// Package version carries build information set through -ldflags, e.g.
//
//	go build -ldflags "-X github.com/datajoint/workflow-deeplabcut/internal/version.Version=v0.2.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("%s (git %s, built %s)", Version, GitSHA, BuildTime)
}
