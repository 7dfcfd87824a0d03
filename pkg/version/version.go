package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X .../pkg/version.Version=...".
var (
	Version   = "0.1.0"
	AppName   = "llm-tracekit"
	BuildDate = "unknown"
)

type Info struct {
	AppName   string `json:"app_name"`
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func GetInfo() Info {
	return Info{
		AppName:   AppName,
		Version:   Version,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent is sent by the guardrails HTTP client.
func UserAgent() string {
	return fmt.Sprintf("%s-guardrails/%s", AppName, Version)
}
