// Package version holds build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/tickerboard/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/tickerboard/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/tickerboard/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build metadata as reported by the health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String returns "version (commit) built time".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
