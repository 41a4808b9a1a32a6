// Package version carries the build version and compares client versions.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is set at build time with -ldflags "-X .../version.Version=v1.2.3".
var Version = "dev"

// Normalize ensures version string has "v" prefix for semver compatibility.
// Examples: "1.2.3" -> "v1.2.3", "v1.2.3" -> "v1.2.3"
func Normalize(version string) string {
	if version == "" {
		return ""
	}
	version = strings.TrimSpace(version)
	if !strings.HasPrefix(version, "v") {
		return "v" + version
	}
	return version
}

// AtLeast reports whether current satisfies minimum. Development builds and
// an empty minimum always pass; an unparsable current version never does.
func AtLeast(current, minimum string) bool {
	if minimum == "" || current == "dev" {
		return true
	}

	cur := Normalize(current)
	low := Normalize(minimum)
	if !semver.IsValid(low) {
		return true
	}
	if !semver.IsValid(cur) {
		return false
	}
	return semver.Compare(cur, low) >= 0
}
