package shortcuts

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Spacebar is the binding name for a configured " " key.
const Spacebar = "space"

var upper = cases.Upper(language.Und)

// Normalize maps a configured key to its binding name.
func Normalize(key string) string {
	if key == " " {
		return Spacebar
	}
	trimmed := strings.ToLower(strings.TrimSpace(key))
	if trimmed == "spacebar" {
		return Spacebar
	}
	return trimmed
}

// Label renders a key for display: "<spacebar>" for the space key, otherwise
// the upper-cased key name.
func Label(key string) string {
	name := Normalize(key)
	if name == Spacebar {
		return "<spacebar>"
	}
	return upper.String(name)
}

// Labels renders every key in order.
func Labels(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, Label(key))
	}
	return out
}
