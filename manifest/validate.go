package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"regexp/syntax"
	"strings"
)

// ManifestError reports a validation failure. Manifests failing validation
// are rejected before any network I/O.
type ManifestError struct {
	Field  string
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid manifest: %s: %s", e.Field, e.Reason)
}

func manifestErrorf(field, format string, args ...interface{}) error {
	return &ManifestError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
	"PATCH":  true,
}

// Validate checks placeholder/var consistency, header uniqueness and var
// boundedness. It never touches the network.
func (m *Manifest) Validate() error {
	if m.ManifestVersion == "" {
		return manifestErrorf("manifestVersion", "must not be empty")
	}
	if m.ID == "" {
		return manifestErrorf("id", "must not be empty")
	}
	if err := m.Request.validate(); err != nil {
		return err
	}
	if err := m.Response.validate(); err != nil {
		return err
	}
	return m.Request.validateVars()
}

func (r *Request) validate() error {
	if !allowedMethods[r.Method] {
		return manifestErrorf("request.method", "unsupported method %q", r.Method)
	}
	if r.Version != "" && r.Version != HTTP11 {
		return manifestErrorf("request.version", "only %s is supported, got %q", HTTP11, r.Version)
	}

	// Placeholders make the raw URL unparseable, so strip them first.
	stripped := tokenPattern.ReplaceAllString(r.URL, "x")
	u, err := url.Parse(stripped)
	if err != nil {
		return manifestErrorf("request.url", "unparseable: %v", err)
	}
	if u.Scheme != "https" {
		return manifestErrorf("request.url", "scheme must be https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return manifestErrorf("request.url", "missing host")
	}

	seen := make(map[string]string, len(r.Headers))
	for name := range r.Headers {
		lower := strings.ToLower(name)
		if prev, dup := seen[lower]; dup {
			return manifestErrorf("request.headers", "duplicate header %q / %q", prev, name)
		}
		seen[lower] = name
	}
	return nil
}

func (r *Response) validate() error {
	if r.Status < 100 || r.Status > 599 {
		return manifestErrorf("response.status", "out of range: %d", r.Status)
	}
	if r.Version != "" && r.Version != HTTP11 {
		return manifestErrorf("response.version", "only %s is supported, got %q", HTTP11, r.Version)
	}
	for i, match := range r.Body.Matches {
		selectors := 0
		if match.JSONPath != "" {
			selectors++
		}
		if match.XPath != "" {
			selectors++
		}
		if match.Contains != "" {
			selectors++
		}
		if selectors != 1 {
			return manifestErrorf(fmt.Sprintf("response.body.matches[%d]", i),
				"exactly one of jsonPath, xPath or contains must be set")
		}
	}
	return nil
}

// validateVars checks that every placeholder resolves to a declared var and
// that every var has a resolvable maximum length. Downstream commitment and
// circuit sizing is fixed-width, so unbounded vars are rejected here.
func (r *Request) validateVars() error {
	referenced := make(map[string]bool)
	collect := func(s string) {
		for _, name := range Tokens(s) {
			referenced[name] = true
		}
	}
	collect(r.URL)
	collect(r.Body)
	for _, v := range r.Headers {
		collect(v)
	}

	for name := range referenced {
		if _, ok := r.Vars[name]; !ok {
			return manifestErrorf("request.vars", "token `<%% %s %%>` not declared in vars", name)
		}
	}

	for name, v := range r.Vars {
		if _, err := v.MaxLength(); err != nil {
			return manifestErrorf("request.vars."+name, "%v", err)
		}
		if v.Pattern != "" {
			re, err := regexp.Compile(v.Pattern)
			if err != nil {
				return manifestErrorf("request.vars."+name, "invalid pattern: %v", err)
			}
			if v.Default != nil && !re.MatchString(*v.Default) {
				return manifestErrorf("request.vars."+name, "default value does not match pattern")
			}
		}
	}
	return nil
}

// MaxLength resolves the variable's maximum substituted length: an explicit
// length, a bounded regex pattern, or the default value's length.
func (v *TemplateVar) MaxLength() (int, error) {
	if v.Length > 0 {
		return v.Length, nil
	}
	if v.Pattern != "" {
		if n, ok := patternMaxLength(v.Pattern); ok {
			return n, nil
		}
		if v.Default != nil && !v.Required {
			return len(*v.Default), nil
		}
		return 0, fmt.Errorf("pattern %q has no resolvable max length; set an explicit length", v.Pattern)
	}
	if v.Default != nil {
		return len(*v.Default), nil
	}
	return 0, fmt.Errorf("var has neither length, bounded pattern nor default")
}

// patternMaxLength computes an upper bound on the match length of a regex,
// or reports that the pattern is unbounded.
func patternMaxLength(pattern string) (int, bool) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return 0, false
	}
	return regexMaxLength(re.Simplify())
}

func regexMaxLength(re *syntax.Regexp) (int, bool) {
	switch re.Op {
	case syntax.OpLiteral:
		return len(string(re.Rune)), true
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return 4, true // max UTF-8 rune width
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText, syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return 0, true
	case syntax.OpCapture:
		return regexMaxLength(re.Sub[0])
	case syntax.OpConcat:
		total := 0
		for _, sub := range re.Sub {
			n, ok := regexMaxLength(sub)
			if !ok {
				return 0, false
			}
			total += n
		}
		return total, true
	case syntax.OpAlternate:
		max := 0
		for _, sub := range re.Sub {
			n, ok := regexMaxLength(sub)
			if !ok {
				return 0, false
			}
			if n > max {
				max = n
			}
		}
		return max, true
	case syntax.OpQuest:
		return regexMaxLength(re.Sub[0])
	case syntax.OpRepeat:
		if re.Max < 0 {
			return 0, false
		}
		n, ok := regexMaxLength(re.Sub[0])
		if !ok {
			return 0, false
		}
		return n * re.Max, true
	case syntax.OpStar, syntax.OpPlus:
		return 0, false
	default:
		return 0, false
	}
}
