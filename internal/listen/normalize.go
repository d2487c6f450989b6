package listen

import "regexp"

// leadingAnnotation matches the relay-style speaker/timestamp prefix some
// platform bridges prepend to message text, e.g. "[alice/12:00]: ".
var leadingAnnotation = regexp.MustCompile(`^\[.*?/.*?\]:\s*`)

// Normalize strips at most one leading "[X/Y]:" annotation from text.
// Pure and idempotent beyond the first pass; text without the prefix is
// returned unchanged. Applied to every inbound message before history and
// classification, and to every outbound segment before delivery.
func Normalize(text string) string {
	return leadingAnnotation.ReplaceAllString(text, "")
}
