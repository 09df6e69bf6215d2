// Package version holds build metadata stamped in at link time:
//
//	go build -ldflags "-X github.com/bdobrica/prepmate/common/version.Version=v0.3.0"
package version

import "fmt"

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the one-line form logged at startup.
func Info() string {
	return fmt.Sprintf("%s (%s) built at %s", Version, GitCommit, BuildTime)
}

// UserAgent identifies prepmate to upstream HTTP APIs.
func UserAgent() string {
	return "prepmate/" + Version
}
