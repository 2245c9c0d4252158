package console

import (
	"net/url"
	"regexp"
	"strings"
)

// authURLMarker is the fixed lead-in the auth helper prints before the
// sign-in URL. It is part of the helper's output contract, not
// configuration.
const authURLMarker = "Visit:"

// The URL may land in a later chunk than the marker, so the pattern
// allows whitespace (including the line break the transcript inserts)
// between the two.
var authURLPattern = regexp.MustCompile(
	regexp.QuoteMeta(authURLMarker) + `\s*(https?://[^\s<>"{}|\\^` + "`" + `\[\]]+)`,
)

// extractAuthURL scans the whole transcript for the first marker
// followed by a well-formed absolute URL. It scans everything rather
// than just the newest line because the helper's output buffering can
// split the marker and the URL across frames.
func extractAuthURL(lines []string) (string, bool) {
	text := strings.Join(lines, "\n")
	// a marker followed by garbage must not shadow a later well-formed
	// occurrence, so every match is a candidate
	for _, m := range authURLPattern.FindAllStringSubmatch(text, -1) {
		candidate := m[1]
		u, err := url.Parse(candidate)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		return candidate, true
	}
	return "", false
}
