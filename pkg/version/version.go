// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/NicolasHaas/gorelay/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/gorelay/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gorelay/pkg/version.date=2026-01-01"
package version

// Populated by -ldflags "-X ...".
var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// String returns the short version used in server replies.
//
//	Tagged:   "gorelay-v0.2.0"
//	Untagged: "gorelay-abc1234"
//	Dev:      "gorelay-dev"
func String() string {
	switch {
	case tag != "":
		return "gorelay-" + tag
	case commit != "unknown":
		return "gorelay-" + commit
	default:
		return "gorelay-dev"
	}
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	if tag != "" {
		return tag + " (" + commit + ") built " + date
	}
	if commit != "unknown" {
		return commit + " built " + date
	}
	return "dev"
}
