// Package version carries build stamping injected via -ldflags.
package version

var (
	Version  = "dev"
	Revision = ""
	BuiltAt  = ""
)
