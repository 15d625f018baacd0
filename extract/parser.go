package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"webnotary/shared"
)

// ParsedResponse is the result of strict HTTP/1.1 response parsing. All
// ranges are absolute byte offsets into the received transcript stream, so
// the redaction engine can address revealed values on the wire.
type ParsedResponse struct {
	StatusCode    int
	StatusMessage string
	Version       string

	// Headers maps lowercased names to values. HeaderValueRanges maps the
	// same names to the absolute range of the (trimmed) value bytes.
	Headers           map[string]string
	HeaderValueRanges map[string]shared.ByteRange

	StatusLineRange shared.ByteRange

	// Body is the de-chunked body. BodyChunks are the absolute ranges the
	// body bytes occupy on the wire, in order.
	Body       []byte
	BodyChunks []shared.ByteRange

	Complete bool
}

// AbsoluteBodyRanges maps a body-relative range [start,end) to absolute
// wire ranges, splitting across chunk boundaries as needed.
func (r *ParsedResponse) AbsoluteBodyRanges(start, end int) ([]shared.ByteRange, error) {
	if start < 0 || end > len(r.Body) || start > end {
		return nil, fmt.Errorf("body range [%d,%d) out of bounds (body is %d bytes)", start, end, len(r.Body))
	}
	var out []shared.ByteRange
	bodyPos := 0
	for _, chunk := range r.BodyChunks {
		chunkLen := chunk.Length()
		lo := max(start, bodyPos)
		hi := min(end, bodyPos+chunkLen)
		if lo < hi {
			out = append(out, shared.ByteRange{
				Start: chunk.Start + (lo - bodyPos),
				End:   chunk.Start + (hi - bodyPos),
			})
		}
		bodyPos += chunkLen
		if bodyPos >= end {
			break
		}
	}
	return out, nil
}

// Parser is a streaming strict HTTP/1.1 response parser. It handles
// Content-Length, chunked transfer encoding and connection-close framing.
// Malformed framing is a fatal parse error with no lenient recovery, since
// downstream proof circuits assume well-formed framing.
type Parser struct {
	resp *ParsedResponse

	raw []byte
	pos int // next unconsumed absolute offset

	headersDone bool
	complete    bool
	streamEnded bool

	// body framing: -1 read-until-close, 0 done, >0 exact count remaining
	remainingBody int64
	chunked       bool

	// chunked-transfer state
	chunkRemaining int
	chunkNeedCRLF  bool
}

// NewParser creates a streaming response parser.
func NewParser() *Parser {
	return &Parser{
		resp: &ParsedResponse{
			Headers:           make(map[string]string),
			HeaderValueRanges: make(map[string]shared.ByteRange),
		},
	}
}

// OnChunk feeds newly received bytes to the parser. It may be called
// repeatedly as data arrives.
func (p *Parser) OnChunk(data []byte) error {
	if p.complete && len(data) > 0 {
		return errors.New("got more data after response was complete")
	}
	p.raw = append(p.raw, data...)

	if !p.headersDone {
		if err := p.parseHeaders(); err != nil {
			return err
		}
	}
	if p.headersDone && !p.complete {
		return p.parseBody()
	}
	return nil
}

// StreamEnded signals that no more data will arrive and finalizes parsing.
func (p *Parser) StreamEnded() (*ParsedResponse, error) {
	p.streamEnded = true

	if !p.headersDone {
		return nil, errors.New("stream ended before headers were complete")
	}
	if p.chunked && !p.complete {
		return nil, errors.New("stream ended mid chunked body")
	}
	if p.remainingBody > 0 {
		return nil, fmt.Errorf("stream ended with %d body bytes still expected", p.remainingBody)
	}
	if p.remainingBody == -1 {
		p.complete = true
	}
	p.resp.Complete = p.complete
	if !p.complete {
		return nil, errors.New("response incomplete at stream end")
	}
	return p.resp, nil
}

// Complete reports whether a full response has been framed.
func (p *Parser) Complete() bool { return p.complete }

// Response returns the parse result; only meaningful once Complete.
func (p *Parser) Response() *ParsedResponse { return p.resp }

func (p *Parser) parseHeaders() error {
	headerEnd := bytes.Index(p.raw, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil // need more data
	}

	block := p.raw[:headerEnd]
	lineEnd := bytes.Index(block, []byte("\r\n"))
	statusLine := block
	if lineEnd >= 0 {
		statusLine = block[:lineEnd]
	}

	if err := p.parseStatusLine(string(statusLine)); err != nil {
		return err
	}
	p.resp.StatusLineRange = shared.ByteRange{Start: 0, End: len(statusLine)}

	// header lines
	cursor := len(statusLine) + 2
	for cursor < headerEnd {
		next := bytes.Index(p.raw[cursor:headerEnd], []byte("\r\n"))
		var line []byte
		if next < 0 {
			line = p.raw[cursor:headerEnd]
			next = headerEnd - cursor
		} else {
			line = p.raw[cursor : cursor+next]
		}
		if err := p.parseHeaderLine(line, cursor); err != nil {
			return err
		}
		cursor += next + 2
	}

	p.headersDone = true
	p.pos = headerEnd + 4

	// determine body framing
	if te, ok := p.resp.Headers["transfer-encoding"]; ok {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return fmt.Errorf("unsupported transfer-encoding %q", te)
		}
		p.chunked = true
		return nil
	}
	if cl, ok := p.resp.Headers["content-length"]; ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("malformed content-length %q", cl)
		}
		p.remainingBody = n
		if n == 0 {
			p.complete = true
			p.resp.Complete = true
		}
		return nil
	}
	p.remainingBody = -1 // read until close
	return nil
}

func (p *Parser) parseStatusLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("malformed status line %q", line)
	}
	if parts[0] != "HTTP/1.1" && parts[0] != "HTTP/1.0" {
		return fmt.Errorf("unsupported HTTP version %q", parts[0])
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 599 {
		return fmt.Errorf("malformed status code %q", parts[1])
	}
	p.resp.Version = parts[0]
	p.resp.StatusCode = code
	if len(parts) == 3 {
		p.resp.StatusMessage = parts[2]
	}
	return nil
}

func (p *Parser) parseHeaderLine(line []byte, absStart int) error {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return fmt.Errorf("malformed header line %q", string(line))
	}
	name := strings.ToLower(strings.TrimSpace(string(line[:colon])))
	rest := line[colon+1:]

	// locate the trimmed value inside the line for exact wire offsets
	leading := 0
	for leading < len(rest) && (rest[leading] == ' ' || rest[leading] == '\t') {
		leading++
	}
	trailing := len(rest)
	for trailing > leading && (rest[trailing-1] == ' ' || rest[trailing-1] == '\t') {
		trailing--
	}
	value := string(rest[leading:trailing])

	if _, dup := p.resp.Headers[name]; dup {
		return fmt.Errorf("duplicate header %q", name)
	}
	p.resp.Headers[name] = value
	p.resp.HeaderValueRanges[name] = shared.ByteRange{
		Start: absStart + colon + 1 + leading,
		End:   absStart + colon + 1 + trailing,
	}
	return nil
}

func (p *Parser) parseBody() error {
	if p.chunked {
		return p.parseChunkedBody()
	}

	avail := len(p.raw) - p.pos
	if avail == 0 {
		return nil
	}

	switch {
	case p.remainingBody > 0:
		take := avail
		if int64(take) > p.remainingBody {
			return errors.New("got more data after response was complete")
		}
		p.appendBody(p.pos, take)
		p.remainingBody -= int64(take)
		if p.remainingBody == 0 {
			p.complete = true
			p.resp.Complete = true
		}
	case p.remainingBody == -1:
		p.appendBody(p.pos, avail)
	case p.remainingBody == 0 && avail > 0:
		return errors.New("got more data after response was complete")
	}
	return nil
}

func (p *Parser) parseChunkedBody() error {
	for {
		if p.chunkNeedCRLF {
			if len(p.raw)-p.pos < 2 {
				return nil
			}
			if p.raw[p.pos] != '\r' || p.raw[p.pos+1] != '\n' {
				return errors.New("malformed chunk terminator")
			}
			p.pos += 2
			p.chunkNeedCRLF = false
		}

		if p.chunkRemaining > 0 {
			avail := len(p.raw) - p.pos
			if avail == 0 {
				return nil
			}
			take := avail
			if take > p.chunkRemaining {
				take = p.chunkRemaining
			}
			p.appendBody(p.pos, take)
			p.chunkRemaining -= take
			if p.chunkRemaining == 0 {
				p.chunkNeedCRLF = true
			}
			continue
		}

		// expect a chunk-size line
		lineEnd := bytes.Index(p.raw[p.pos:], []byte("\r\n"))
		if lineEnd < 0 {
			return nil
		}
		sizeField := string(p.raw[p.pos : p.pos+lineEnd])
		if semi := strings.IndexByte(sizeField, ';'); semi >= 0 {
			sizeField = sizeField[:semi]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 32)
		if err != nil || size < 0 {
			return fmt.Errorf("malformed chunk size %q", sizeField)
		}
		p.pos += lineEnd + 2

		if size == 0 {
			// no trailer support: the terminal CRLF must follow directly
			if len(p.raw)-p.pos < 2 {
				return nil
			}
			if p.raw[p.pos] != '\r' || p.raw[p.pos+1] != '\n' {
				return errors.New("malformed chunked body terminator")
			}
			p.pos += 2
			p.complete = true
			p.resp.Complete = true
			if p.pos != len(p.raw) {
				return errors.New("got more data after response was complete")
			}
			return nil
		}
		p.chunkRemaining = int(size)
	}
}

func (p *Parser) appendBody(start, n int) {
	p.resp.Body = append(p.resp.Body, p.raw[start:start+n]...)
	if k := len(p.resp.BodyChunks); k > 0 && p.resp.BodyChunks[k-1].End == start {
		p.resp.BodyChunks[k-1].End = start + n
	} else {
		p.resp.BodyChunks = append(p.resp.BodyChunks, shared.ByteRange{Start: start, End: start + n})
	}
	p.pos = start + n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
