package transcript

import (
	"bytes"
	"errors"
	"testing"
)

func TestRecordAndSnapshot(t *testing.T) {
	r := NewRecorder(1024, 1024)

	if err := r.Record(Sent, []byte("GET / HTTP/1.1\r\n")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := r.Record(Received, []byte("HTTP/1.1 200 OK\r\n")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := r.Record(Received, []byte("\r\nbody")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if got := r.TotalBytes(Sent); got != 16 {
		t.Errorf("Expected 16 sent bytes, got %d", got)
	}

	snap := r.Seal()
	recv := snap.Segments(Received)
	if len(recv) != 2 {
		t.Fatalf("Expected 2 received segments, got %d", len(recv))
	}
	if recv[0].Index != 0 || recv[1].Index != 1 {
		t.Errorf("Segment indices not monotonic: %d, %d", recv[0].Index, recv[1].Index)
	}
	if !bytes.Equal(snap.Contiguous(Received), []byte("HTTP/1.1 200 OK\r\n\r\nbody")) {
		t.Errorf("Contiguous mismatch: %q", snap.Contiguous(Received))
	}
}

func TestRecordCopiesInput(t *testing.T) {
	r := NewRecorder(64, 64)
	buf := []byte("sensitive")
	if err := r.Record(Sent, buf); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	buf[0] = 'X'
	snap := r.Seal()
	if !bytes.Equal(snap.Contiguous(Sent), []byte("sensitive")) {
		t.Error("Recorder must copy input buffers")
	}
}

func TestCapEnforcement(t *testing.T) {
	r := NewRecorder(8, 4)

	if err := r.Record(Sent, []byte("12345678")); err != nil {
		t.Fatalf("Record within cap failed: %v", err)
	}
	err := r.Record(Sent, []byte("9"))
	if err == nil {
		t.Fatal("Expected capacity error")
	}
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Expected *CapacityError, got %T: %v", err, err)
	}
	if capErr.Direction != Sent || capErr.Limit != 8 || capErr.Recorded != 8 {
		t.Errorf("Unexpected capacity error fields: %+v", capErr)
	}

	// a rejected append records nothing
	if got := r.TotalBytes(Sent); got != 8 {
		t.Errorf("Rejected append must not change totals, got %d", got)
	}

	t.Run("Receive Cap", func(t *testing.T) {
		if err := r.Record(Received, []byte("12345")); err == nil {
			t.Error("Expected receive capacity error")
		}
	})
}

func TestRecordAfterSealPanics(t *testing.T) {
	r := NewRecorder(64, 64)
	_ = r.Seal()

	defer func() {
		if recover() == nil {
			t.Error("Expected panic recording after seal")
		}
	}()
	_ = r.Record(Sent, []byte("late"))
}

func TestZeroize(t *testing.T) {
	r := NewRecorder(64, 64)
	secret := []byte("api-key-123")
	if err := r.Record(Sent, secret); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	r.Zeroize()
	if got := r.TotalBytes(Sent); got != 0 {
		t.Errorf("Expected 0 bytes after zeroize, got %d", got)
	}
}
