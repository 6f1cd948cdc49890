package version

import (
	"runtime"
	"time"
)

// Set through -ldflags "-X docker-stats-hub/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
	CheckedAt int64  `json:"checked_at_unix" yaml:"checked_at_unix"`
}

func Get() Info {
	return Info{
		Version:   Display(Version),
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		CheckedAt: time.Now().UTC().Unix(),
	}
}

// Display adds the v prefix to release versions.
func Display(v string) string {
	if v == "" || v == "dev" {
		return v
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
