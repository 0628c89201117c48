package context

import (
	"fmt"
	"runtime/debug"
)

// VersionInfo describes the build of the running binary.
type VersionInfo struct {
	Semantic string
	Commit   string
	Dirty    bool
}

func (v *VersionInfo) String() string {
	s := v.Semantic
	if v.Commit != "" {
		s += " (" + v.Commit
		if v.Dirty {
			s += "-dirty"
		}
		s += ")"
	}
	return s
}

// GetVersion reads the version information embedded in the binary by the Go
// toolchain.
func GetVersion() (*VersionInfo, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, fmt.Errorf("no build information embedded in the binary")
	}

	v := &VersionInfo{Semantic: info.Main.Version}
	if v.Semantic == "" {
		v.Semantic = "(devel)"
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Commit = s.Value
			if len(v.Commit) > 12 {
				v.Commit = v.Commit[:12]
			}
		case "vcs.modified":
			v.Dirty = s.Value == "true"
		}
	}

	return v, nil
}
