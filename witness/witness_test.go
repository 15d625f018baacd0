package witness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"webnotary/shared"
)

func TestPipelineShapeChecking(t *testing.T) {
	t.Run("Valid Chain", func(t *testing.T) {
		p := &Pipeline{}
		acc := Accumulator{RunningHash: "0"}
		next := acc
		next.ChunkIndex = 1

		if err := p.Add(Step{
			Name:    "AES_GCM_FOLD_0",
			Circuit: DecryptCircuit,
			StepIn:  acc.Signals(),
			StepOut: next.Signals(),
		}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := p.Add(Step{
			Name:    "HTTP_NIVC",
			Circuit: HTTPParseCircuit,
			StepIn:  next.Signals(),
			StepOut: next.Signals(),
		}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if p.Len() != 2 {
			t.Errorf("Expected 2 steps, got %d", p.Len())
		}
	})

	t.Run("Width Mismatch Against Circuit", func(t *testing.T) {
		p := &Pipeline{}
		err := p.Add(Step{
			Name:    "bad",
			Circuit: DecryptCircuit, // declares 4 signals
			StepIn:  []string{"0", "0", "0", "0", "0"},
			StepOut: []string{"0", "0", "0", "0"},
		})
		var asmErr *AssemblyError
		if !errors.As(err, &asmErr) {
			t.Fatalf("Expected *AssemblyError, got %T: %v", err, err)
		}
	})

	t.Run("Five Out Four In Mismatch", func(t *testing.T) {
		// previous fold emits 5 signals, the next circuit declares a
		// 4-signal step_in: caught at assembly, never forwarded.
		wide := CircuitSpec{ID: "WIDE", Kind: DecryptChunk, StepInWidth: 5, StepOutWidth: 5}
		p := &Pipeline{}
		if err := p.Add(Step{
			Name:    "wide_0",
			Circuit: wide,
			StepIn:  []string{"0", "0", "0", "0", "0"},
			StepOut: []string{"1", "2", "3", "4", "5"},
		}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		err := p.Add(Step{
			Name:    "narrow",
			Circuit: HTTPParseCircuit,
			StepIn:  []string{"1", "2", "3", "4"},
			StepOut: []string{"1", "2", "3", "4"},
		})
		var asmErr *AssemblyError
		if !errors.As(err, &asmErr) {
			t.Fatalf("Expected *AssemblyError, got %T: %v", err, err)
		}
		if !strings.Contains(asmErr.Reason, "emits 5 signals") {
			t.Errorf("Error should describe the mismatch: %v", asmErr)
		}
	})

	t.Run("Value Mismatch", func(t *testing.T) {
		p := &Pipeline{}
		acc := Accumulator{RunningHash: "0"}
		if err := p.Add(Step{
			Name:    "first",
			Circuit: DecryptCircuit,
			StepIn:  acc.Signals(),
			StepOut: []string{"aa", "0", "0", "1"},
		}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		err := p.Add(Step{
			Name:    "second",
			Circuit: DecryptCircuit,
			StepIn:  []string{"bb", "0", "0", "1"}, // wrong chained hash
			StepOut: []string{"cc", "0", "0", "2"},
		})
		var asmErr *AssemblyError
		if !errors.As(err, &asmErr) {
			t.Fatalf("Expected *AssemblyError, got %T: %v", err, err)
		}
	})
}

func TestBuild(t *testing.T) {
	plaintext := []byte("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n{\"a\":1}")
	ciphertext := make([]byte, len(plaintext))
	for i := range plaintext {
		ciphertext[i] = plaintext[i] ^ 0x42
	}

	in := BuilderInput{
		Plaintext:  plaintext,
		Ciphertext: ciphertext,
		Key:        make([]byte, 16),
		IV:         make([]byte, 12),
		StartLine:  shared.ByteRange{Start: 0, End: 15},
		HeaderValues: map[string]shared.ByteRange{
			"content-type": {Start: 31, End: 47},
		},
		BodyStart: 51,
		Selectors: []string{"a"},
	}

	p, err := Build(in)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	chunks := (len(plaintext) + FoldWidth - 1) / FoldWidth
	wantSteps := chunks + 1 + 1 // decrypt folds + http parse + one extract
	if p.Len() != wantSteps {
		t.Errorf("Expected %d steps, got %d", wantSteps, p.Len())
	}

	steps := p.Steps()
	last := steps[len(steps)-1]
	if last.Circuit.Kind != JSONExtract {
		t.Errorf("Last step should be JSON extract, got %s", last.Circuit.Kind)
	}

	// chaining is intact end to end
	for i := 1; i < len(steps); i++ {
		for j := range steps[i].StepIn {
			if steps[i].StepIn[j] != steps[i-1].StepOut[j] {
				t.Fatalf("Broken chain at step %d signal %d", i, j)
			}
		}
	}

	t.Run("Length Mismatch", func(t *testing.T) {
		bad := in
		bad.Ciphertext = ciphertext[:4]
		if _, err := Build(bad); err == nil {
			t.Error("Expected error for plaintext/ciphertext length mismatch")
		}
	})
}

type fakeGenerator struct {
	calls []string
	fail  string
}

func (g *fakeGenerator) GenerateWitness(_ context.Context, circuitID string, inputs map[string]json.RawMessage) ([]byte, error) {
	g.calls = append(g.calls, circuitID)
	if circuitID == g.fail {
		return nil, fmt.Errorf("circuit %s rejected inputs", circuitID)
	}
	if _, ok := inputs["step_in"]; !ok {
		return nil, fmt.Errorf("missing step_in")
	}
	return []byte("witness:" + circuitID), nil
}

type fakeProver struct {
	proofs int
}

func (p *fakeProver) Prove(_ context.Context, witnesses [][]byte, publicInputs []byte) ([]byte, error) {
	p.proofs++
	return []byte(fmt.Sprintf("proof(%d witnesses)", len(witnesses))), nil
}

func (p *fakeProver) Verify(proofBytes, publicInputs, vk []byte) (bool, error) {
	return len(proofBytes) > 0, nil
}

func TestRun(t *testing.T) {
	in := BuilderInput{
		Plaintext:  []byte("HTTP/1.1 200 OK\r\n\r\nok"),
		Ciphertext: make([]byte, 21),
		Key:        make([]byte, 16),
		IV:         make([]byte, 12),
		StartLine:  shared.ByteRange{Start: 0, End: 15},
		BodyStart:  19,
	}
	copy(in.Ciphertext, in.Plaintext)

	p, err := Build(in)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	gen := &fakeGenerator{}
	prover := &fakeProver{}
	proofBytes, err := Run(context.Background(), p, gen, prover, []byte("public"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(proofBytes) == 0 {
		t.Error("Expected proof bytes")
	}
	if len(gen.calls) != p.Len() {
		t.Errorf("Expected %d generator calls, got %d", p.Len(), len(gen.calls))
	}
	if prover.proofs != 1 {
		t.Errorf("Expected one prove call, got %d", prover.proofs)
	}

	t.Run("Generator Failure Propagates", func(t *testing.T) {
		gen := &fakeGenerator{fail: "HTTP_NIVC"}
		if _, err := Run(context.Background(), p, gen, &fakeProver{}, nil); err == nil {
			t.Error("Expected generator failure to propagate")
		}
	})
}
