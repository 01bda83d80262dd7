// Package version reports the build identity of the nbexec binary.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/nbexec"

// buildVersion is set via -ldflags "-X pkt.systems/nbexec/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Module    string `json:"module" yaml:"module"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Revision  string `json:"revision,omitempty" yaml:"revision,omitempty"`
	Dirty     bool   `json:"dirty,omitempty" yaml:"dirty,omitempty"`
}

// vcsStamp holds the vcs.* settings the go tool embeds.
type vcsStamp struct {
	revision string
	time     time.Time
	modified bool
}

// Current returns the version without a dirty suffix.
func Current() string {
	return strings.TrimSuffix(Describe().Version, "+dirty")
}

// Module returns the main module path, falling back to the canonical one.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

// Describe collects version details from the linker flag and build info.
func Describe() Info {
	out := Info{Version: "v0.0.0-unknown", Module: Module(), GoVersion: runtime.Version()}
	info, _ := debug.ReadBuildInfo()
	stamp := readStamp(info)
	out.Revision, out.Dirty = stamp.revision, stamp.modified
	switch {
	case strings.TrimSpace(buildVersion) != "":
		out.Version = strings.TrimSpace(buildVersion)
	case info != nil && info.Main.Version != "" && info.Main.Version != "(devel)":
		out.Version = info.Main.Version
	default:
		if pseudo := stamp.pseudoVersion(); pseudo != "" {
			out.Version = pseudo
		}
	}
	return out
}

func readStamp(info *debug.BuildInfo) vcsStamp {
	var stamp vcsStamp
	if info == nil {
		return stamp
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			stamp.revision = setting.Value
		case "vcs.time":
			stamp.time, _ = time.Parse(time.RFC3339, setting.Value)
		case "vcs.modified":
			stamp.modified = setting.Value == "true"
		}
	}
	return stamp
}

// pseudoVersion formats a Go-style pseudo version, or "" without a stamp.
func (s vcsStamp) pseudoVersion() string {
	if s.revision == "" || s.time.IsZero() {
		return ""
	}
	rev := s.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	ver := "v0.0.0-" + s.time.UTC().Format("20060102150405") + "-" + rev
	if s.modified {
		ver += "+dirty"
	}
	return ver
}
