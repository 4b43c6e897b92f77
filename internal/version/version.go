// Package version exposes the fleet release version embedded at build
// time from the VERSION file.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the release version with surrounding whitespace stripped.
func Get() string {
	return strings.TrimSpace(raw)
}
