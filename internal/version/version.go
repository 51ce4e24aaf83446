// Package version exposes build metadata for the clickgate binaries.
// The linker fills the variables in at release time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is a release tag or short commit hash.
	// Set via: -ldflags "-X clickgate/internal/version.Version=..."
	Version = "dev"

	// BuildDate is the UTC build timestamp.
	// Set via: -ldflags "-X clickgate/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// GitCommit is the full commit SHA.
	// Set via: -ldflags "-X clickgate/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info is build metadata plus a per-process identity used as a telemetry
// resource attribute.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the build metadata. The instance ID is generated once per
// process.
func GetInfo() Info {
	once.Do(func() {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   host,
		}
	})
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("clickgate %s (commit %s, built %s)", i.Version, i.GitCommit, i.BuildDate)
}
