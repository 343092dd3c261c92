package version

import "fmt"

// ldflags で上書きされる
var (
	Version = "dev"
	Commit  = "unknown"
	// BuildTime is RFC3339 when set by the release build.
	BuildTime = "unknown"
)

// Info is the build metadata reported by /health.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

func Current() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String returns a formatted version string
func String() string {
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, Commit, BuildTime)
}
