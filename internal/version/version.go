// Package version holds build metadata injected with -ldflags.
package version

var (
	Version = "dev"
	Commit  = "none"
)

// String returns "<version> (<commit>)".
func String() string {
	return Version + " (" + Commit + ")"
}
