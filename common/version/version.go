// Package version exposes build metadata injected at link time.
package version

// Set via -ldflags at build time, e.g.
// go build -ldflags "-X github.com/parleybot/parley/common/version.Version=v0.3.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
