package manifest

import (
	"regexp"
)

// HTTP11 is the only wire version the proof circuits understand.
const HTTP11 = "HTTP/1.1"

// tokenPattern matches template placeholders of the form <% name %>.
var tokenPattern = regexp.MustCompile(`<%\s*([A-Za-z0-9_]+)\s*%>`)

// TemplateVar constrains one template placeholder in the request.
type TemplateVar struct {
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required"`
	Pattern     string  `json:"pattern,omitempty"`
	Length      int     `json:"length,omitempty"`
	Default     *string `json:"default"`
}

// Request describes the HTTP request to replay on the wire.
type Request struct {
	Method  string                 `json:"method"`
	URL     string                 `json:"url"`
	Version string                 `json:"version,omitempty"`
	Headers map[string]string      `json:"headers,omitempty"`
	Body    string                 `json:"body,omitempty"`
	Vars    map[string]TemplateVar `json:"vars,omitempty"`
}

// BodyMatch asserts one value inside the response body. Exactly one of
// JSONPath, XPath or Contains selects the value; Equals optionally pins it.
type BodyMatch struct {
	Name     string `json:"name,omitempty"`
	JSONPath string `json:"jsonPath,omitempty"`
	XPath    string `json:"xPath,omitempty"`
	Contains string `json:"contains,omitempty"`
	Equals   string `json:"equals,omitempty"`
}

// ResponseBody groups body assertions with the expected body format.
type ResponseBody struct {
	Format  string      `json:"format,omitempty"` // "json", "html" or "text"
	Matches []BodyMatch `json:"matches,omitempty"`
}

// Response describes the expected shape of the server's answer. Headers are
// a subset match: the live response may carry more.
type Response struct {
	Status  int               `json:"status"`
	Version string            `json:"version,omitempty"`
	Message string            `json:"message,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    ResponseBody      `json:"body,omitempty"`
}

// Manifest is the immutable description of one provable HTTP exchange.
type Manifest struct {
	ManifestVersion string   `json:"manifestVersion"`
	ID              string   `json:"id"`
	Title           string   `json:"title,omitempty"`
	Description     string   `json:"description,omitempty"`
	PrepareURL      string   `json:"prepareUrl,omitempty"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
}

// Tokens returns the placeholder names referenced by a template string, in
// order of appearance.
func Tokens(s string) []string {
	matches := tokenPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
