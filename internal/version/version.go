// Package version carries the build version stamped via -ldflags.
package version

// Version is overridden at build time:
//
//	go build -ldflags "-X pkt.systems/bundled/internal/version.Version=v1.2.3"
var Version = "0.0.0-dev"

// String returns the version string.
func String() string {
	return Version
}
