package extract

import (
	"fmt"
	"strconv"
	"strings"

	gojson "github.com/coreos/go-json"
	jp "github.com/reclaimprotocol/jsonpathplus-go"

	"webnotary/shared"
)

// JSONValueRanges resolves a JSONPath against a JSON document and returns
// the exact byte range of each matched value:
//  1. evaluate the JSONPath expression
//  2. re-parse the document into a node tree carrying byte offsets
//  3. walk the node tree along each result path to recover wire offsets
func JSONValueRanges(doc []byte, jsonPathExpr string) ([]shared.ByteRange, error) {
	results, err := jp.Query(jsonPathExpr, string(doc))
	if err != nil {
		return nil, fmt.Errorf("JSONPath query failed: %v", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("jsonPath %q not found", jsonPathExpr)
	}

	var root gojson.Node
	if err := gojson.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("failed to parse JSON for offsets: %v", err)
	}

	ranges := make([]shared.ByteRange, 0, len(results))
	for _, r := range results {
		node, err := walkPath(&root, pathSegments(r.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %q: %v", r.Path, err)
		}
		// Node.End is inclusive; byte ranges are exclusive on End.
		start, end := node.Start, node.End+1
		if start < 0 || end > len(doc) || start > end {
			return nil, fmt.Errorf("invalid range for path %q: [%d,%d)", r.Path, start, end)
		}
		ranges = append(ranges, shared.ByteRange{Start: start, End: end})
	}
	return ranges, nil
}

// JSONValue returns the raw bytes of the first value a JSONPath matches.
// String values are returned unquoted.
func JSONValue(doc []byte, jsonPathExpr string) (string, error) {
	ranges, err := JSONValueRanges(doc, jsonPathExpr)
	if err != nil {
		return "", err
	}
	return UnquoteJSON(doc[ranges[0].Start:ranges[0].End]), nil
}

// UnquoteJSON strips the quotes of a JSON string literal; non-string values
// pass through unchanged.
func UnquoteJSON(raw []byte) string {
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if unquoted, err := strconv.Unquote(s); err == nil {
			return unquoted
		}
	}
	return s
}

// pathSegments converts a JSONPath like $.a[1].b to segments ["a","1","b"].
func pathSegments(path string) []string {
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return nil
	}
	var segments []string
	var cur strings.Builder
	inBracket := false
	for _, r := range p {
		switch r {
		case '.':
			if !inBracket {
				if cur.Len() > 0 {
					segments = append(segments, cur.String())
					cur.Reset()
				}
				continue
			}
		case '[':
			if cur.Len() > 0 {
				segments = append(segments, cur.String())
				cur.Reset()
			}
			inBracket = true
			continue
		case ']':
			if inBracket {
				seg := strings.Trim(cur.String(), "'\"")
				cur.Reset()
				inBracket = false
				segments = append(segments, seg)
				continue
			}
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}
	return segments
}

// walkPath follows path segments down a go-json node tree.
func walkPath(node *gojson.Node, segments []string) (*gojson.Node, error) {
	cur := node
	for i, seg := range segments {
		switch v := cur.Value.(type) {
		case map[string]gojson.Node:
			next, ok := v[seg]
			if !ok {
				return nil, fmt.Errorf("object key %q not found at segment %d", seg, i)
			}
			cur = &next
		case []gojson.Node:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("invalid array index %q at segment %d", seg, i)
			}
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("array index %d out of bounds at segment %d", idx, i)
			}
			cur = &v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at segment %d", v, i)
		}
	}
	return cur, nil
}
