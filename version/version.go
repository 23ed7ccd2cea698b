package version

import (
	"runtime/debug"
	"strings"
	"time"
)

// Overridden at build time:
//
//	go build -ldflags "-X github.com/kbukum/plugkit/version.Version=1.2.0"
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info is the platform's resolved build identity.
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"gitCommit,omitempty"`
	GoVersion string    `json:"goVersion,omitempty"`
	BuildTime time.Time `json:"buildTime"`
	Dirty     bool      `json:"dirty,omitempty"`
	Release   bool      `json:"release"`
}

// Get resolves the build identity: ldflags values win, the VCS metadata the
// Go toolchain stamps into module builds fills the gaps.
func Get() *Info {
	info := &Info{
		Version:   Version,
		GitCommit: GitCommit,
		Release:   Version != "dev" && !strings.Contains(Version, "dirty"),
	}
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		info.BuildTime = t
	}

	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = build.GoVersion
	for _, s := range build.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = shortCommit(s.Value)
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildTime.IsZero() {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.BuildTime = t
				}
			}
		}
	}
	return info
}

// Short returns the compact form used in logs: version, commit, and a dirty
// marker when the work tree was modified.
func Short() string {
	info := Get()
	out := info.Version
	if info.GitCommit != "" {
		out += "-" + info.GitCommit
	}
	if info.Dirty {
		out += "-dirty"
	}
	return out
}

// String returns the long human form.
func (i *Info) String() string {
	out := i.Version
	if i.GitCommit != "" {
		out += "-" + i.GitCommit
	}
	if i.Dirty {
		out += "-dirty"
	}
	if i.GoVersion != "" {
		out += " " + i.GoVersion
	}
	if !i.BuildTime.IsZero() {
		out += " (built " + i.BuildTime.UTC().Format(time.RFC3339) + ")"
	}
	return out
}

func shortCommit(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
