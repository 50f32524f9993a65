package buildinfo

import "time"

// Set via -ldflags at build time, e.g.
//
//	go build -ldflags "-X github.com/xelth-com/tapcount/internal/buildinfo.CommitHash=$(git rev-parse --short HEAD)" ./cmd/api
var (
	BuildTime  string // when the binary was compiled
	CommitTime string // last git commit time (last code edit)
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// Version is the commit hash, or "dev" for unstamped builds
func Version() string {
	if CommitHash == "" {
		return "dev"
	}
	return CommitHash
}
