// Package misc keeps build-time program identification.
package misc

const appName = "kae"

// Set by linker flags during release builds.
var (
	version = "dev"
	gitHash = "unknown"
)

func GetAppName() string {
	return appName
}

func GetVersion() string {
	return version
}

func GetGitHash() string {
	return gitHash
}
