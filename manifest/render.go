package manifest

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"webnotary/shared"
)

// RenderedRequest is the byte-exact request produced from a manifest.
// Rendering is deterministic: the same manifest and values always produce
// identical bytes, which the redaction engine relies on to recompute
// offsets.
type RenderedRequest struct {
	Method string
	URL    *url.URL
	// Headers in canonical wire order: Host first, remainder sorted.
	Headers [][2]string
	Body    []byte
	// Bytes is the full request as sent on the wire.
	Bytes []byte
	// SensitiveRanges are the byte ranges of substituted variable values
	// inside Bytes. They default to redacted.
	SensitiveRanges []shared.ByteRange
}

// Render substitutes template values into the request and lays out the
// exact wire bytes.
func (m *Manifest) Render(values map[string]string) (*RenderedRequest, error) {
	resolved, err := m.resolveValues(values)
	if err != nil {
		return nil, err
	}

	rawURL, err := substitute(m.Request.URL, resolved)
	if err != nil {
		return nil, manifestErrorf("request.url", "%v", err)
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, manifestErrorf("request.url", "unparseable after substitution: %v", err)
	}

	body, err := substitute(m.Request.Body, resolved)
	if err != nil {
		return nil, manifestErrorf("request.body", "%v", err)
	}

	headers, err := m.canonicalHeaders(target, resolved, len(body))
	if err != nil {
		return nil, err
	}

	path := target.RequestURI()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", m.Request.Method, path, HTTP11)
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	b.WriteString(body)

	wire := []byte(b.String())
	rendered := &RenderedRequest{
		Method:  m.Request.Method,
		URL:     target,
		Headers: headers,
		Body:    []byte(body),
		Bytes:   wire,
	}
	rendered.SensitiveRanges = locateValues(wire, resolved)
	return rendered, nil
}

// resolveValues merges caller values with defaults and enforces var
// constraints.
func (m *Manifest) resolveValues(values map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(m.Request.Vars))
	for name, v := range m.Request.Vars {
		val, ok := values[name]
		if !ok {
			if v.Required {
				return nil, manifestErrorf("request.vars."+name, "required var not provided")
			}
			if v.Default == nil {
				continue
			}
			val = *v.Default
		}
		if v.Pattern != "" {
			re, err := regexp.Compile(v.Pattern)
			if err != nil {
				return nil, manifestErrorf("request.vars."+name, "invalid pattern: %v", err)
			}
			if !re.MatchString(val) {
				return nil, manifestErrorf("request.vars."+name, "value does not match pattern %q", v.Pattern)
			}
		}
		if max, err := v.MaxLength(); err == nil && len(val) > max {
			return nil, manifestErrorf("request.vars."+name, "value length %d exceeds max %d", len(val), max)
		}
		resolved[name] = val
	}
	for name := range values {
		if _, ok := m.Request.Vars[name]; !ok {
			return nil, manifestErrorf("request.vars", "unknown value %q provided", name)
		}
	}
	return resolved, nil
}

func substitute(template string, values map[string]string) (string, error) {
	var missing string
	out := tokenPattern.ReplaceAllStringFunc(template, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		val, ok := values[name]
		if !ok {
			missing = name
			return tok
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("unresolved placeholder `<%% %s %%>`", missing)
	}
	return out, nil
}

// canonicalHeaders produces the deterministic header layout: Host first,
// declared headers sorted case-insensitively, Content-Length appended for
// non-empty bodies unless declared.
func (m *Manifest) canonicalHeaders(target *url.URL, values map[string]string, bodyLen int) ([][2]string, error) {
	var hostDeclared, lengthDeclared bool
	names := make([]string, 0, len(m.Request.Headers))
	for name := range m.Request.Headers {
		switch strings.ToLower(name) {
		case "host":
			hostDeclared = true
			continue
		case "content-length":
			lengthDeclared = true
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	headers := make([][2]string, 0, len(names)+2)
	host := target.Host
	if hostDeclared {
		declared, err := substitute(m.Request.Headers[headerKey(m.Request.Headers, "host")], values)
		if err != nil {
			return nil, manifestErrorf("request.headers.host", "%v", err)
		}
		host = declared
	}
	headers = append(headers, [2]string{"Host", host})

	for _, name := range names {
		val, err := substitute(m.Request.Headers[name], values)
		if err != nil {
			return nil, manifestErrorf("request.headers."+name, "%v", err)
		}
		headers = append(headers, [2]string{name, val})
	}

	if bodyLen > 0 && !lengthDeclared {
		headers = append(headers, [2]string{"Content-Length", fmt.Sprintf("%d", bodyLen)})
	}
	return headers, nil
}

func headerKey(headers map[string]string, lower string) string {
	for name := range headers {
		if strings.ToLower(name) == lower {
			return name
		}
	}
	return ""
}

// locateValues finds the substituted variable values inside the wire bytes
// so they default to redacted. Values shorter than one byte are skipped.
func locateValues(wire []byte, values map[string]string) []shared.ByteRange {
	var ranges []shared.ByteRange
	for _, val := range values {
		if val == "" {
			continue
		}
		needle := []byte(val)
		for offset := 0; offset < len(wire); {
			idx := bytes.Index(wire[offset:], needle)
			if idx < 0 {
				break
			}
			start := offset + idx
			ranges = append(ranges, shared.ByteRange{Start: start, End: start + len(needle)})
			offset = start + len(needle)
		}
	}
	return shared.MergeRanges(ranges)
}
