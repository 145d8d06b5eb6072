// Package version reports the build identity of the pagedeploy binary.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X git.home.luguber.info/inful/pagedeploy/internal/version.Version=v1.2.0 \
//	  -X git.home.luguber.info/inful/pagedeploy/internal/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String renders the version line shown by --version.
func String() string {
	return fmt.Sprintf("pagedeploy %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
