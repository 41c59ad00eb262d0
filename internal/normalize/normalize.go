// Package normalize canonicalizes constraint strings so that expected
// (spec-derived) and found (extraction-derived) rules compare as plain
// strings.
//
// Normalize is pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
// Canonical output forms are:
//
//	gt=N ge=N lt=N le=N             numeric bounds
//	min_length=N max_length=N       length bounds
//	enum=A,B                        enumeration (values keep their case)
//	pattern=RE                      regular expression (kept verbatim)
//	email_format uuid_format url_format datetime_format
//	default_<value> foreign_key_<entity>
//	required unique not_null read-only auto-generated auto-calculated
//
// Anything else is lower-cased, trimmed, and has inner whitespace collapsed.
package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	symbolicRe = regexp.MustCompile(`^(>=|<=|=>|=<|>|<|≥|≤)\s*(.+)$`)
	keyedOpRe  = regexp.MustCompile(`^([a-z_][a-z0-9_ ]*?)\s*(>=|<=|>|<)\s*(.+)$`)
	keyValueRe = regexp.MustCompile(`^([a-z_][a-z0-9_ -]*?)\s*[=:]\s*(.+)$`)
	phraseRe   = regexp.MustCompile(`^(greater than or equal to|greater than|less than or equal to|less than|at least|at most|minimum|maximum|min|max)\s+(-?[0-9][0-9.]*)$`)
	spaceRe    = regexp.MustCompile(`\s+`)
	fkCallRe   = regexp.MustCompile(`^foreignkey\(\s*["']?([a-z0-9_]+)(?:\.[a-z0-9_]+)?["']?\s*\)$`)
	fkPhraseRe = regexp.MustCompile(`^(?:foreign key|fk|references)(?:\s+to)?\s+([a-z0-9_]+)(?:\.[a-z0-9_]+)?$`)
)

// symbolicOps maps comparison symbols to canonical operator keys.
var symbolicOps = map[string]string{
	">":  "gt",
	">=": "ge",
	"=>": "ge",
	"≥":  "ge",
	"<":  "lt",
	"<=": "le",
	"=<": "le",
	"≤":  "le",
}

// keyAliases maps bound keys, in any spelling, to canonical keys.
var keyAliases = map[string]string{
	"gt":                "gt",
	"ge":                "ge",
	"gte":               "ge",
	"lt":                "lt",
	"le":                "le",
	"lte":               "le",
	"minimum":           "ge",
	"min":               "ge",
	"maximum":           "le",
	"max":               "le",
	"exclusiveminimum":  "gt",
	"exclusive_minimum": "gt",
	"exclusivemaximum":  "lt",
	"exclusive_maximum": "lt",
	"min_length":        "min_length",
	"minlength":         "min_length",
	"min length":        "min_length",
	"length_min":        "min_length",
	"max_length":        "max_length",
	"maxlength":         "max_length",
	"max length":        "max_length",
	"length_max":        "max_length",
	"min_items":         "min_length",
	"minitems":          "min_length",
	"max_items":         "max_length",
	"maxitems":          "max_length",
	"pattern":           "pattern",
	"regex":             "pattern",
	"format":            "format",
	"default":           "default",
	"foreign_key":       "foreign_key",
	"foreignkey":        "foreign_key",
	"fk":                "foreign_key",
	"references":        "foreign_key",
}

// phraseOps maps prose comparisons to canonical operator keys.
var phraseOps = map[string]string{
	"greater than or equal to": "ge",
	"greater than":             "gt",
	"less than or equal to":    "le",
	"less than":                "lt",
	"at least":                 "ge",
	"at most":                  "le",
	"minimum":                  "ge",
	"maximum":                  "le",
	"min":                      "ge",
	"max":                      "le",
}

// fixedTokens maps recognized phrases to fixed tokens.
var fixedTokens = map[string]string{
	"email format":          "email_format",
	"email":                 "email_format",
	"emailstr":              "email_format",
	"valid email":           "email_format",
	"must be a valid email": "email_format",
	"email_format":          "email_format",
	"uuid format":           "uuid_format",
	"uuid":                  "uuid_format",
	"uuid4":                 "uuid_format",
	"uuid_format":           "uuid_format",
	"url format":            "url_format",
	"url":                   "url_format",
	"uri":                   "url_format",
	"httpurl":               "url_format",
	"url_format":            "url_format",
	"date-time":             "datetime_format",
	"datetime":              "datetime_format",
	"datetime format":       "datetime_format",
	"datetime_format":       "datetime_format",
	"read only":             "read-only",
	"readonly":              "read-only",
	"read_only":             "read-only",
	"read-only":             "read-only",
	"immutable":             "read-only",
	"auto generated":        "auto-generated",
	"auto_generated":        "auto-generated",
	"autogenerated":         "auto-generated",
	"auto-generated":        "auto-generated",
	"auto increment":        "auto-generated",
	"autoincrement":         "auto-generated",
	"auto calculated":       "auto-calculated",
	"auto_calculated":       "auto-calculated",
	"auto-calculated":       "auto-calculated",
	"computed":              "auto-calculated",
	"not null":              "not_null",
	"non-null":              "not_null",
	"non null":              "not_null",
	"not_null":              "not_null",
	"nullable=false":        "not_null",
	"nullable: false":       "not_null",
	"required":              "required",
	"is required":           "required",
	"mandatory":             "required",
	"unique":                "unique",
	"unique=true":           "unique",
	"positive":              "gt=0",
	"non-negative":          "ge=0",
	"non negative":          "ge=0",
	"nonnegative":           "ge=0",
}

// formatTokens maps format names to fixed tokens.
var formatTokens = map[string]string{
	"email":     "email_format",
	"uuid":      "uuid_format",
	"uri":       "url_format",
	"url":       "url_format",
	"date-time": "datetime_format",
	"datetime":  "datetime_format",
}

// Normalize returns the canonical form of a raw constraint string.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	lower := strings.ToLower(spaceRe.ReplaceAllString(s, " "))

	// enum values keep their case
	if strings.HasPrefix(lower, "enum") {
		rest := strings.TrimSpace(s[len("enum"):])
		if strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, ":") {
			return "enum=" + normalizeEnumValues(rest[1:])
		}
	}

	// regular expressions keep their case
	for _, key := range []string{"pattern", "regex"} {
		if strings.HasPrefix(lower, key) {
			rest := strings.TrimSpace(s[len(key):])
			if strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, ":") {
				return "pattern=" + strings.Trim(strings.TrimSpace(rest[1:]), `"'`)
			}
		}
	}

	if tok, ok := fixedTokens[lower]; ok {
		return tok
	}

	if m := symbolicRe.FindStringSubmatch(lower); m != nil {
		return symbolicOps[m[1]] + "=" + normalizeValue(m[2])
	}

	if m := phraseRe.FindStringSubmatch(lower); m != nil {
		return phraseOps[m[1]] + "=" + normalizeValue(m[2])
	}

	if m := fkCallRe.FindStringSubmatch(lower); m != nil {
		return "foreign_key_" + m[1]
	}
	if m := fkPhraseRe.FindStringSubmatch(lower); m != nil {
		return "foreign_key_" + m[1]
	}

	if m := keyedOpRe.FindStringSubmatch(lower); m != nil {
		if key, ok := keyAliases[strings.TrimSpace(m[1])]; ok && isBoundKey(key) {
			return boundWithOp(key, m[2], m[3])
		}
	}

	if m := keyValueRe.FindStringSubmatch(lower); m != nil {
		if key, ok := keyAliases[strings.TrimSpace(m[1])]; ok {
			return normalizeKeyed(key, strings.TrimSpace(m[2]))
		}
	}

	return lower
}

// NormalizeAll normalizes, deduplicates, and sorts a list of raw rules.
// Empty results are dropped.
func NormalizeAll(raws []string) []string {
	seen := make(map[string]bool, len(raws))
	out := make([]string, 0, len(raws))
	for _, r := range raws {
		n := Normalize(r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func isBoundKey(key string) bool {
	switch key {
	case "min_length", "max_length":
		return true
	default:
		return false
	}
}

// boundWithOp handles "min_length >= 3" style rules. The operator is folded
// into the value for strict comparisons.
func boundWithOp(key, op, value string) string {
	v := normalizeValue(value)
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return key + "=" + v
	}
	switch op {
	case ">":
		if key == "min_length" {
			n++
		}
	case "<":
		if key == "max_length" {
			n--
		}
	}
	return key + "=" + formatNumber(n)
}

func normalizeKeyed(key, value string) string {
	switch key {
	case "format":
		if tok, ok := formatTokens[strings.Trim(value, `"'`)]; ok {
			return tok
		}
		return "format=" + strings.Trim(value, `"'`)
	case "default":
		return "default_" + strings.Trim(value, `"'`)
	case "foreign_key":
		target := strings.Trim(value, `"'`)
		if i := strings.Index(target, "."); i > 0 {
			target = target[:i]
		}
		return "foreign_key_" + target
	case "pattern":
		return "pattern=" + strings.Trim(value, `"'`)
	default:
		return key + "=" + normalizeValue(value)
	}
}

// normalizeValue trims a value and renders numbers without trailing zeros.
func normalizeValue(v string) string {
	v = strings.Trim(strings.TrimSpace(v), `"'`)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return formatNumber(n)
	}
	return v
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func normalizeEnumValues(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	parts := strings.Split(raw, ",")
	vals := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		if p != "" {
			vals = append(vals, p)
		}
	}
	return strings.Join(vals, ",")
}
