package extract

import (
	"bytes"
	"testing"
)

func feed(t *testing.T, p *Parser, data string, chunkSize int) {
	t.Helper()
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := p.OnChunk([]byte(data[i:end])); err != nil {
			t.Fatalf("OnChunk failed at offset %d: %v", i, err)
		}
	}
}

func TestParseContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 8\r\n\r\nhealthy\n"

	for _, chunkSize := range []int{1, 7, len(raw)} {
		p := NewParser()
		feed(t, p, raw, chunkSize)
		if !p.Complete() {
			t.Fatalf("chunk size %d: parser should be complete", chunkSize)
		}
		resp, err := p.StreamEnded()
		if err != nil {
			t.Fatalf("chunk size %d: StreamEnded failed: %v", chunkSize, err)
		}
		if resp.StatusCode != 200 || resp.StatusMessage != "OK" {
			t.Errorf("status mismatch: %d %q", resp.StatusCode, resp.StatusMessage)
		}
		if string(resp.Body) != "healthy\n" {
			t.Errorf("body mismatch: %q", resp.Body)
		}
		if resp.Headers["content-type"] != "text/plain" {
			t.Errorf("header mismatch: %+v", resp.Headers)
		}

		// offsets must address the original wire bytes
		r := resp.StatusLineRange
		if raw[r.Start:r.End] != "HTTP/1.1 200 OK" {
			t.Errorf("status line range wrong: %q", raw[r.Start:r.End])
		}
		hr := resp.HeaderValueRanges["content-type"]
		if raw[hr.Start:hr.End] != "text/plain" {
			t.Errorf("header value range wrong: %q", raw[hr.Start:hr.End])
		}
		br, err := resp.AbsoluteBodyRanges(0, len(resp.Body))
		if err != nil {
			t.Fatalf("AbsoluteBodyRanges failed: %v", err)
		}
		var got []byte
		for _, r := range br {
			got = append(got, raw[r.Start:r.End]...)
		}
		if !bytes.Equal(got, resp.Body) {
			t.Errorf("body ranges do not reassemble body: %q", got)
		}
	}
}

func TestParseChunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"

	for _, chunkSize := range []int{1, 4, len(raw)} {
		p := NewParser()
		feed(t, p, raw, chunkSize)
		resp, err := p.StreamEnded()
		if err != nil {
			t.Fatalf("chunk size %d: StreamEnded failed: %v", chunkSize, err)
		}
		if string(resp.Body) != "hello world" {
			t.Errorf("body mismatch: %q", resp.Body)
		}

		// body-relative [6,11) is "world", split across wire chunks? no:
		// it lies entirely inside the second chunk
		br, err := resp.AbsoluteBodyRanges(6, 11)
		if err != nil {
			t.Fatalf("AbsoluteBodyRanges failed: %v", err)
		}
		var got []byte
		for _, r := range br {
			got = append(got, raw[r.Start:r.End]...)
		}
		if string(got) != "world" {
			t.Errorf("absolute ranges wrong: %q", got)
		}
	}
}

func TestParseUntilClose(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nstreaming body"
	p := NewParser()
	feed(t, p, raw, 3)
	if p.Complete() {
		t.Fatal("connection-close response must not complete before EOF")
	}
	resp, err := p.StreamEnded()
	if err != nil {
		t.Fatalf("StreamEnded failed: %v", err)
	}
	if string(resp.Body) != "streaming body" {
		t.Errorf("body mismatch: %q", resp.Body)
	}
}

func TestParseStrictness(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"Garbage Status Line", "NONSENSE\r\n\r\n"},
		{"Bad Version", "HTTP/2.0 200 OK\r\nContent-Length: 0\r\n\r\n"},
		{"Bad Status Code", "HTTP/1.1 xyz OK\r\nContent-Length: 0\r\n\r\n"},
		{"Header Without Colon", "HTTP/1.1 200 OK\r\nBroken Header\r\nContent-Length: 0\r\n\r\n"},
		{"Duplicate Header", "HTTP/1.1 200 OK\r\nX-A: 1\r\nX-A: 2\r\nContent-Length: 0\r\n\r\n"},
		{"Bad Content Length", "HTTP/1.1 200 OK\r\nContent-Length: abc\r\n\r\n"},
		{"Bad Chunk Size", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n"},
		{"Unsupported Transfer Encoding", "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\n\r\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewParser()
			if err := p.OnChunk([]byte(tc.raw)); err == nil {
				if _, err2 := p.StreamEnded(); err2 == nil {
					t.Error("Expected fatal parse error")
				}
			}
		})
	}

	t.Run("Data After Complete", func(t *testing.T) {
		p := NewParser()
		raw := "HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"
		if err := p.OnChunk([]byte(raw)); err != nil {
			t.Fatalf("OnChunk failed: %v", err)
		}
		if err := p.OnChunk([]byte("extra")); err == nil {
			t.Error("Expected error for data after complete response")
		}
	})

	t.Run("Truncated Body", func(t *testing.T) {
		p := NewParser()
		raw := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort"
		if err := p.OnChunk([]byte(raw)); err != nil {
			t.Fatalf("OnChunk failed: %v", err)
		}
		if _, err := p.StreamEnded(); err == nil {
			t.Error("Expected error for truncated body")
		}
	})
}

func TestJSONValueRanges(t *testing.T) {
	doc := []byte(`{"data":{"items":[{"type":"artist","data":"Artist"},{"type":"track","data":"Song"}]}}`)

	ranges, err := JSONValueRanges(doc, "$.data.items[0].data")
	if err != nil {
		t.Fatalf("JSONValueRanges failed: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("Expected 1 range, got %d", len(ranges))
	}
	got := string(doc[ranges[0].Start:ranges[0].End])
	if got != `"Artist"` {
		t.Errorf("Expected quoted Artist value, got %q", got)
	}

	val, err := JSONValue(doc, "$.data.items[0].data")
	if err != nil {
		t.Fatalf("JSONValue failed: %v", err)
	}
	if val != "Artist" {
		t.Errorf("Expected Artist, got %q", val)
	}

	t.Run("Missing Path", func(t *testing.T) {
		if _, err := JSONValueRanges(doc, "$.data.nope"); err == nil {
			t.Error("Expected error for missing path")
		}
	})

	t.Run("Numeric Value", func(t *testing.T) {
		doc := []byte(`{"a": 42}`)
		val, err := JSONValue(doc, "$.a")
		if err != nil {
			t.Fatalf("JSONValue failed: %v", err)
		}
		if val != "42" {
			t.Errorf("Expected 42, got %q", val)
		}
	})
}

func TestSubstringRanges(t *testing.T) {
	data := []byte("the quick brown fox, the lazy dog")
	ranges, err := SubstringRanges(data, "the")
	if err != nil {
		t.Fatalf("SubstringRanges failed: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("Expected 2 occurrences, got %d", len(ranges))
	}
	for _, r := range ranges {
		if string(data[r.Start:r.End]) != "the" {
			t.Errorf("Range %+v does not cover needle", r)
		}
	}

	if _, err := SubstringRanges(data, "unicorn"); err == nil {
		t.Error("Expected error for absent substring")
	}
}
