package extract

import (
	"fmt"

	xp "github.com/reclaimprotocol/xpath-go"

	"webnotary/shared"
)

// HTMLElementRanges evaluates an XPath against an HTML document and returns
// absolute byte ranges for each match. With contentsOnly the range covers
// only the element's inner content.
func HTMLElementRanges(html string, xpathExpression string, contentsOnly bool) ([]shared.ByteRange, error) {
	matches, err := xp.QueryWithOptions(xpathExpression, html, xp.Options{
		IncludeLocation: true,
		OutputFormat:    "nodes",
		ContentsOnly:    contentsOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate XPath %q: %v", xpathExpression, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("XPath %q matched nothing", xpathExpression)
	}

	out := make([]shared.ByteRange, 0, len(matches))
	for _, m := range matches {
		out = append(out, shared.ByteRange{Start: m.StartLocation, End: m.EndLocation})
	}
	return out, nil
}
