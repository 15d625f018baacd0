// Package disclosure turns a sealed transcript and a manifest into the
// proof artifact's disclosure section: a reveal/redact mask, and either a
// Merkle commitment opening (TLSN mode) or a folded witness pipeline with
// public inputs (Origo mode). Bytes not required by a manifest assertion
// default to redacted.
package disclosure

import (
	"fmt"
	"strings"

	"webnotary/extract"
	"webnotary/manifest"
	"webnotary/proof"
	"webnotary/shared"
	"webnotary/transcript"
)

// Mask is the per-direction reveal mask plus the named references locating
// each disclosed value.
type Mask struct {
	Sent    []shared.ByteRange
	Recv    []shared.ByteRange
	Reveals []proof.RevealedRef
}

// OverRevealError reports a manifest that would disclose secret material.
type OverRevealError struct {
	Name   string
	Reason string
}

func (e *OverRevealError) Error() string {
	return fmt.Sprintf("over-revealing disclosure %q: %s", e.Name, e.Reason)
}

// ComputeMask derives the reveal mask from the manifest's assertions. The
// request start line is revealed to bind the proof to the target resource;
// on the response side the status line, manifest-required headers and
// assertion-matched body ranges are revealed. Everything else stays
// redacted. Reveals overlapping substituted variable values are rejected.
func ComputeMask(snap *transcript.Snapshot, m *manifest.Manifest, rendered *manifest.RenderedRequest, parsed *extract.ParsedResponse) (*Mask, error) {
	mask := &Mask{}

	// request start line
	wire := snap.Contiguous(transcript.Sent)
	lineEnd := indexCRLF(wire)
	if lineEnd < 0 {
		return nil, fmt.Errorf("sent transcript carries no request line")
	}
	requestLine := shared.ByteRange{Start: 0, End: lineEnd}
	for _, sensitive := range rendered.SensitiveRanges {
		if requestLine.Overlaps(sensitive) {
			return nil, &OverRevealError{
				Name:   "request_line",
				Reason: "a substituted variable value lies inside the request line",
			}
		}
	}
	mask.Sent = append(mask.Sent, requestLine)
	mask.Reveals = append(mask.Reveals, proof.RevealedRef{
		Name:      "request_line",
		Direction: transcript.Sent.String(),
		Range:     requestLine,
	})

	// response status line
	mask.Recv = append(mask.Recv, parsed.StatusLineRange)
	mask.Reveals = append(mask.Reveals, proof.RevealedRef{
		Name:      "status",
		Direction: transcript.Received.String(),
		Range:     parsed.StatusLineRange,
	})

	// manifest-required headers (subset match against the live response)
	for name, expected := range m.Response.Headers {
		lower := strings.ToLower(name)
		got, ok := parsed.Headers[lower]
		if !ok {
			return nil, fmt.Errorf("response is missing required header %q", name)
		}
		if got != expected {
			return nil, fmt.Errorf("response header %q is %q, manifest requires %q", name, got, expected)
		}
		r := parsed.HeaderValueRanges[lower]
		mask.Recv = append(mask.Recv, r)
		mask.Reveals = append(mask.Reveals, proof.RevealedRef{
			Name:      "header:" + lower,
			Direction: transcript.Received.String(),
			Range:     r,
		})
	}

	// body assertions
	for i, match := range m.Response.Body.Matches {
		ranges, err := matchRanges(parsed, m.Response.Body.Format, match)
		if err != nil {
			return nil, fmt.Errorf("body match %d: %w", i, err)
		}
		name := match.Name
		if name == "" {
			name = fmt.Sprintf("match_%d", i)
		}
		for _, r := range ranges {
			mask.Recv = append(mask.Recv, r)
			mask.Reveals = append(mask.Reveals, proof.RevealedRef{
				Name:      name,
				Direction: transcript.Received.String(),
				Range:     r,
			})
		}
	}

	mask.Sent = shared.MergeRanges(mask.Sent)
	mask.Recv = shared.MergeRanges(mask.Recv)
	return mask, nil
}

// matchRanges resolves one body assertion to absolute wire ranges.
func matchRanges(parsed *extract.ParsedResponse, format string, match manifest.BodyMatch) ([]shared.ByteRange, error) {
	switch {
	case match.JSONPath != "":
		if format != "" && format != "json" {
			return nil, fmt.Errorf("jsonPath assertion on %q body", format)
		}
		bodyRanges, err := extract.JSONValueRanges(parsed.Body, match.JSONPath)
		if err != nil {
			return nil, err
		}
		return toAbsolute(parsed, bodyRanges)
	case match.XPath != "":
		if format != "" && format != "html" {
			return nil, fmt.Errorf("xPath assertion on %q body", format)
		}
		bodyRanges, err := extract.HTMLElementRanges(string(parsed.Body), match.XPath, true)
		if err != nil {
			return nil, err
		}
		return toAbsolute(parsed, bodyRanges)
	case match.Contains != "":
		bodyRanges, err := extract.SubstringRanges(parsed.Body, match.Contains)
		if err != nil {
			return nil, err
		}
		// containment needs a single witness occurrence, not every hit
		return toAbsolute(parsed, bodyRanges[:1])
	default:
		return nil, fmt.Errorf("assertion selects nothing")
	}
}

func toAbsolute(parsed *extract.ParsedResponse, bodyRanges []shared.ByteRange) ([]shared.ByteRange, error) {
	var out []shared.ByteRange
	for _, r := range bodyRanges {
		abs, err := parsed.AbsoluteBodyRanges(r.Start, r.End)
		if err != nil {
			return nil, err
		}
		out = append(out, abs...)
	}
	return out, nil
}

func indexCRLF(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == '\r' && data[i+1] == '\n' {
			return i
		}
	}
	return -1
}
