// Package version reports the build version of specfit.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at build time with -ldflags "-X .../version.Commit=<sha>".
var Commit string

// Get returns the release version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Full returns the version with the VCS revision appended when known.
func Full() string {
	rev := Commit
	if rev == "" {
		rev = vcsRevision()
	}
	if rev == "" {
		return Get()
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return Get() + " (" + rev + ")"
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
