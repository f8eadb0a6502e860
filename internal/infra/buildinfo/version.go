// Package buildinfo carries the version stamp the release build injects.
//
//	go build -ldflags "-X github.com/Pilotkosinus/mesh2gram/internal/infra/buildinfo.Version=v1.2.0"
package buildinfo

import "runtime"

// Set via ldflags; the defaults identify an untagged dev build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the full stamp as the version subcommand prints it.
type Info struct {
	Version   string
	Commit    string
	BuildTime string
	GoVersion string
}

// Get returns the build stamp. GoVersion comes from the runtime, not
// from ldflags, so it is accurate even for dev builds.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String renders the one-line form used in logs and --version output.
func String() string {
	return Version + " (" + Commit + ") built at " + BuildTime
}
