// Package version holds build information, set with -ldflags at build time.
package version

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
