package openapi

import (
	"fmt"
	"regexp"
	"strings"
)

var templateParam = regexp.MustCompile(`\{[^}/]+\}`)

// PathRewriter maps a composed request path to the path the origin expects.
type PathRewriter func(path string) string

// NewPathRewriter builds the rewriter for one route.
//
// Without an alias the prefix is stripped: "/api/users/1" with prefix "/api" becomes "/users/1".
// With an alias the concrete values bound to the alias parameters are substituted, by position,
// into the original template: prefix "/api", alias "/people/{personId}" and original
// "/users/{id}" turn "/api/people/7" into "/users/7". A path that does not match the alias is
// returned with the prefix stripped.
func NewPathRewriter(prefix, originalPath, alias string) (PathRewriter, error) {
	strip := func(path string) string {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			path = path[len(prefix):]
		}
		if path == "" {
			return "/"
		}
		return path
	}
	if alias == "" {
		return strip, nil
	}

	pattern, err := templatePattern(prefix + alias)
	if err != nil {
		return nil, err
	}
	aliasParams := len(templateParam.FindAllString(alias, -1))
	originalParams := templateParam.FindAllStringIndex(originalPath, -1)
	if aliasParams != len(originalParams) {
		return nil, fmt.Errorf("alias %s declares %d parameters, %s declares %d",
			alias, aliasParams, originalPath, len(originalParams))
	}

	return func(path string) string {
		match := pattern.FindStringSubmatch(path)
		if match == nil {
			return strip(path)
		}
		var b strings.Builder
		last := 0
		for i, loc := range originalParams {
			b.WriteString(originalPath[last:loc[0]])
			b.WriteString(match[i+1])
			last = loc[1]
		}
		b.WriteString(originalPath[last:])
		return b.String()
	}, nil
}

// templatePattern compiles an anchored regexp for a path template, one capture group per parameter.
func templatePattern(template string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range templateParam.FindAllStringIndex(template, -1) {
		b.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		b.WriteString(`([^/]+)`)
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(template[last:]))
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid path template %s: %w", template, err)
	}
	return re, nil
}

// MatchTemplate reports whether path matches the path template.
func MatchTemplate(template, path string) bool {
	re, err := templatePattern(template)
	if err != nil {
		return false
	}
	return re.MatchString(path)
}
