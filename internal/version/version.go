// Package version reports the version of the stubjit module for the CLI.
package version

import (
	"runtime/debug"
	"strings"
)

// Default is the default version value used when none was found.
const Default = "dev"

// modulePath is the import path of the compiler module.
const modulePath = "github.com/stubjit/stubjit"

// version holds the version set by ldflag for the CLI.
var version string

// GetVersion returns the version of stubjit either in the go.mod of the main module or set by ldflag for the CLI.
func GetVersion() (ret string) {
	if len(version) != 0 {
		return version
	}

	info, ok := debug.ReadBuildInfo()
	if ok {
		for _, dep := range info.Deps {
			if dep.Path == modulePath {
				ret = dep.Version
			}
		}

		// In the CLI, stubjit is the main module.
		if versionMissing(ret) {
			ret = info.Main.Version
		}
	}
	if versionMissing(ret) {
		return Default
	}
	// Cut the pseudo-version suffix, if any.
	if i := strings.Index(ret, "+"); i > 0 {
		ret = ret[:i]
	}
	return ret
}

func versionMissing(ret string) bool {
	return ret == "" || ret == "(devel)"
}
