// Package version reports build information injected with -ldflags:
//
//	-X chatgw/internal/version.gitVersion=v1.2.3
//	-X chatgw/internal/version.gitCommit=$(git rev-parse HEAD)
//	-X chatgw/internal/version.buildDate=$(date -u +'%Y-%m-%dT%H:%M:%SZ')
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/gosuri/uitable"
)

var (
	gitVersion = "v0.0.0-dev"
	gitCommit  = ""
	buildDate  = "1970-01-01T00:00:00Z"
)

// Info describes the running binary.
type Info struct {
	GitVersion string `json:"gitVersion"`
	GitCommit  string `json:"gitCommit,omitempty"`
	BuildDate  string `json:"buildDate"`
	GoVersion  string `json:"goVersion"`
	Platform   string `json:"platform"`
}

func (i Info) String() string { return i.GitVersion }

func (i Info) JSON() (string, error) {
	b, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal version info: %w", err)
	}
	return string(b), nil
}

// Text renders Info as an aligned two-column table.
func (i Info) Text() string {
	t := uitable.New()
	t.RightAlign(0)
	t.Separator = " "
	t.AddRow("version:", i.GitVersion)
	if i.GitCommit != "" {
		t.AddRow("commit:", i.GitCommit)
	}
	t.AddRow("built:", i.BuildDate)
	t.AddRow("go:", i.GoVersion)
	t.AddRow("platform:", i.Platform)
	return t.String()
}

// Get returns the build information. Without ldflags the commit falls back
// to the VCS revision recorded by the go tool, if any.
func Get() Info {
	commit := gitCommit
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	return Info{
		GitVersion: gitVersion,
		GitCommit:  commit,
		BuildDate:  buildDate,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
