package normalize

import (
	"regexp"
	"strings"

	"github.com/ShayCichocki/specfit/pkg/models"
)

var (
	braceParamRe = regexp.MustCompile(`\{[^}/]*\}`)
	angleParamRe = regexp.MustCompile(`<[^>/]*>`)
	colonParamRe = regexp.MustCompile(`^:[A-Za-z_][A-Za-z0-9_]*$`)
	slashesRe    = regexp.MustCompile(`/{2,}`)
)

// ParamPlaceholder replaces every path parameter in normalized paths.
const ParamPlaceholder = "{id}"

// Path canonicalizes an endpoint path. Parameter segments in any style
// ({id}, <int:id>, :id) become {id}, duplicate and trailing slashes are
// dropped, and the result is lower-cased.
func Path(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = slashesRe.ReplaceAllString(p, "/")
	p = braceParamRe.ReplaceAllString(p, ParamPlaceholder)
	p = angleParamRe.ReplaceAllString(p, ParamPlaceholder)

	segs := strings.Split(p, "/")
	for i, s := range segs {
		if colonParamRe.MatchString(s) {
			segs[i] = ParamPlaceholder
		}
	}
	p = strings.Join(segs, "/")
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return strings.ToLower(p)
}

// Endpoint returns e with its method upper-cased and its path canonical.
func Endpoint(e models.Endpoint) models.Endpoint {
	m, _ := models.ParseMethod(string(e.Method))
	return models.Endpoint{Method: m, Path: Path(e.Path)}
}
