// Package version holds the dartas build version.
package version

// These variables can be overridden at build time using ldflags:
// go build -ldflags "-X dartas/internal/version.Version=1.0.0 -X dartas/internal/version.Commit=abc123"
var (
	// Version is the semantic version of dartas
	Version = "0.4.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// ClientID identifies dartas to the analysis server.
const ClientID = "dartas"

// Info returns a formatted version string
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "dartas version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}

// ServerArgs are the flags that tell the analysis server which client
// started it.
func ServerArgs() []string {
	return []string{"--client-id", ClientID, "--client-version", Version}
}
