// Package version holds build-time identity for the fastjobd binary and the
// wire-protocol version it speaks, so a worker and control plane built from
// different commits can at least agree on what they're arguing about.
package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden at build time via -ldflags.
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// ProtocolVersion is the transport/messages.go wire format revision (spec.md
// §6). Bump it whenever a request/response shape changes in a way a worker
// built from an older commit would misinterpret; it does not track Version.
const ProtocolVersion = 1

// Build describes one running process: its build identity plus the
// protocol revision it speaks.
type Build struct {
	CommitHash      string `json:"commit_hash"`
	BuildTime       string `json:"build_time"`
	Version         string `json:"version"`
	GoVersion       string `json:"go_version"`
	Platform        string `json:"platform"`
	ProtocolVersion int    `json:"protocol_version"`
}

// Get returns the current process's build identity.
func Get() Build {
	return Build{
		CommitHash:      CommitHash,
		BuildTime:       BuildTime,
		Version:         Version,
		GoVersion:       runtime.Version(),
		Platform:        fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		ProtocolVersion: ProtocolVersion,
	}
}

func (b Build) String() string {
	if b.Version != "dev" {
		return fmt.Sprintf("fastjobd %s (commit %s, built %s, proto v%d)", b.Version, b.CommitHash, b.BuildTime, b.ProtocolVersion)
	}
	return fmt.Sprintf("fastjobd dev (commit %s, built %s, proto v%d)", b.CommitHash, b.BuildTime, b.ProtocolVersion)
}

// Short returns just enough of the commit hash to eyeball in a log line.
func (b Build) Short() string {
	if len(b.CommitHash) >= 7 {
		return b.CommitHash[:7]
	}
	return b.CommitHash
}

// Fields renders the build identity as structured logging key/value pairs,
// for the startup line emitted by internal/runtime.
func (b Build) Fields() []interface{} {
	return []interface{}{
		"version", b.Version,
		"commit", b.Short(),
		"protocol_version", b.ProtocolVersion,
		"go_version", b.GoVersion,
	}
}
