// Package version carries the build version, set with
// -ldflags "-X github.com/xraph/settle/internal/version.Version=v1.2.3".
package version

// Version is the settle build version.
var Version = "dev"
