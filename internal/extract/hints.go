package extract

import "strings"

// descriptionHints maps phrases found in schema descriptions to the rule
// they announce. Longer phrases come first so that "snapshot at add time"
// wins over "snapshot".
var descriptionHints = []struct {
	phrase string
	rule   string
}{
	{"calculated automatically", "auto-calculated"},
	{"auto-calculated", "auto-calculated"},
	{"auto calculated", "auto-calculated"},
	{"computed from", "auto-calculated"},
	{"generated by the server", "auto-generated"},
	{"auto-generated", "auto-generated"},
	{"auto generated", "auto-generated"},
	{"snapshot at add time", "snapshot"},
	{"snapshot", "snapshot"},
	{"cannot be changed", "read-only"},
	{"read-only", "read-only"},
	{"read only", "read-only"},
	{"immutable", "read-only"},
}

// hintRules returns the rules a free-text description announces.
func hintRules(desc string) []string {
	lower := strings.ToLower(desc)
	var out []string
	for _, h := range descriptionHints {
		if strings.Contains(lower, h.phrase) {
			out = append(out, h.rule)
		}
	}
	return uniqueSorted(out)
}
