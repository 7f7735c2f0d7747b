package common

import "fmt"

// Build metadata, set via -ldflags "-X github.com/ternarybob/orderflow/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// BuildInfo is the version block reported by the API and the -version flag
type BuildInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
}

// GetBuildInfo returns the linked build metadata
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Build:     Build,
		GitCommit: GitCommit,
	}
}

// String formats the metadata on one line
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", b.Version, b.Build, b.GitCommit)
}
