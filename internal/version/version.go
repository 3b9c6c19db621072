package version

import "fmt"

// Set at build time via -ldflags.
var (
	Version  = "0.0.0-dev"
	Revision = "unknown"
)

func Detailed() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}
