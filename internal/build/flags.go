// SPDX-License-Identifier: MIT
//
// Package build exposes metadata embedded at link time, for example:
//
//	go build -ldflags "-X kws/internal/build.buildName=kws -X kws/internal/build.buildVersion=0.3.0"
//
// Unset fields read "unknown" so development builds still start.
package build

import (
	"fmt"

	"github.com/google/uuid"
)

// Info is the build and instance identity reported at startup and attached
// to outbound events.
type Info struct {
	Name     string
	Time     string
	Commit   string
	Version  string
	Instance string // Random per process; identifies this run on shared topics.
}

var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &Info{
		Name:    "unknown",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "unknown",
	}
)

// Initialize copies the ldflags values into the build info and assigns the
// instance ID. It returns an error naming the first missing flag, but the
// info is usable either way.
func Initialize() error {
	buildFlags.Instance = uuid.NewString()

	for _, f := range []struct {
		name string
		src  string
		dst  *string
	}{
		{"BuildName", buildName, &buildFlags.Name},
		{"BuildTime", buildTime, &buildFlags.Time},
		{"BuildCommit", buildCommit, &buildFlags.Commit},
		{"BuildVersion", buildVersion, &buildFlags.Version},
	} {
		if f.src == "" {
			return fmt.Errorf("%s is required", f.name)
		}
		*f.dst = f.src
	}

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildFlags
}

// String formats the info for the startup banner.
func (i *Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}
