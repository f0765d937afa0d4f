package version

// Set via -ldflags "-X github.com/rxtrust/rxtrust-api/version.Version=..." at build time.
var (
	Version = "0.2.0-dev"
	Commit  = ""
	Date    = ""
)
