// Package buildinfo reports the version stamped into the capsremap binary.
package buildinfo

import "runtime/debug"

// version is set with -ldflags "-X github.com/offlinefirst/capsremap/internal/buildinfo.version=v1.2.3".
var version = "dev"

var readBuildInfo = debug.ReadBuildInfo

// SetVersion allows build scripts to override the CLI version information.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// Version returns the stamped version, the module version, or "dev".
func Version() string {
	if version != "dev" {
		return version
	}
	if info, ok := readBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// Revision returns the short VCS revision the binary was built from, with a
// "+dirty" suffix for modified trees. It is empty when unknown.
func Revision() string {
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "+dirty"
	}
	return rev
}
