// Package utils provides bespoke, one off utils that don't make sense to be
// their own package
package utils

// Build metadata, set with -ldflags "-X" at release time.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// UserAgent identifies mnemo in outgoing HTTP requests, e.g. "mnemo/1.2.0 (3f2a9c1)".
func UserAgent() string {
	if Sha == "" || Sha == "HEAD" {
		return "mnemo/" + Version
	}
	return "mnemo/" + Version + " (" + Sha + ")"
}
