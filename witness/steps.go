// Package witness assembles the fold-step pipeline that lets fixed-size
// circuits process a variable-length transcript. Each step consumes the
// previous step's output signals as its own input ("step_in"/"step_out"
// chaining); the pipeline validates signal shapes at assembly time so a
// mismatch never reaches the proving backend.
package witness

import (
	"context"
	"encoding/json"
	"fmt"
)

// StepKind identifies the circuit family a fold step belongs to.
type StepKind string

const (
	DecryptChunk StepKind = "decrypt_chunk"
	HTTPParse    StepKind = "http_parse"
	JSONExtract  StepKind = "json_extract"
)

// Circuit signal names, matching the circuit templates.
const (
	SignalPlaintext     = "plainText"
	SignalCiphertext    = "cipherText"
	SignalCounter       = "ctr"
	SignalKey           = "key"
	SignalIV            = "iv"
	SignalAAD           = "aad"
	SignalData          = "data"
	SignalStartLineHash = "start_line_hash"
	SignalHeaderHashes  = "header_hashes"
	SignalBodyHash      = "body_hash"
	SignalJSONKey       = "key"
	SignalJSONKeyLen    = "keyLen"
	SignalArrayIndex    = "index"
)

// FoldWidth is the byte width one decrypt fold invocation consumes.
const FoldWidth = 16

// AccumulatorWidth is the number of step_in/step_out signals carried
// between fold invocations.
const AccumulatorWidth = 4

// CircuitSpec declares one circuit's fixed signal shape.
type CircuitSpec struct {
	ID           string
	Kind         StepKind
	StepInWidth  int
	StepOutWidth int
}

// Step is one fold invocation: a circuit, its chained input/output signals
// and its private input signals.
type Step struct {
	Name    string
	Circuit CircuitSpec
	StepIn  []string
	StepOut []string
	Private map[string]json.RawMessage
}

// AssemblyError reports a witness/circuit configuration bug detected at
// assembly time.
type AssemblyError struct {
	Step   string
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("witness assembly failed at step %q: %s", e.Step, e.Reason)
}

func assemblyErrorf(step, format string, args ...interface{}) error {
	return &AssemblyError{Step: step, Reason: fmt.Sprintf(format, args...)}
}

// Accumulator is the folded running state threaded between steps: a running
// transcript hash, the parser state and the fold position.
type Accumulator struct {
	RunningHash string
	ParserDepth int
	ParserState int
	ChunkIndex  int
}

// Signals encodes the accumulator as the fixed-width signal vector the
// circuits declare as step_in/step_out.
func (a *Accumulator) Signals() []string {
	return []string{
		a.RunningHash,
		fmt.Sprintf("%d", a.ParserDepth),
		fmt.Sprintf("%d", a.ParserState),
		fmt.Sprintf("%d", a.ChunkIndex),
	}
}

// Pipeline is an ordered list of fold steps with validated chaining.
type Pipeline struct {
	steps []Step
}

// Add appends a step after validating its shape: the step's signals must
// match its circuit's declared widths, and its step_in must exactly equal
// the previous step's step_out.
func (p *Pipeline) Add(step Step) error {
	if len(step.StepIn) != step.Circuit.StepInWidth {
		return assemblyErrorf(step.Name, "step_in carries %d signals, circuit %s declares %d",
			len(step.StepIn), step.Circuit.ID, step.Circuit.StepInWidth)
	}
	if len(step.StepOut) != step.Circuit.StepOutWidth {
		return assemblyErrorf(step.Name, "step_out carries %d signals, circuit %s declares %d",
			len(step.StepOut), step.Circuit.ID, step.Circuit.StepOutWidth)
	}
	if n := len(p.steps); n > 0 {
		prev := p.steps[n-1]
		if len(prev.StepOut) != len(step.StepIn) {
			return assemblyErrorf(step.Name, "previous step %q emits %d signals, step_in expects %d",
				prev.Name, len(prev.StepOut), len(step.StepIn))
		}
		for i := range step.StepIn {
			if prev.StepOut[i] != step.StepIn[i] {
				return assemblyErrorf(step.Name, "step_in[%d] = %q does not match previous step_out[%d] = %q",
					i, step.StepIn[i], i, prev.StepOut[i])
			}
		}
	}
	p.steps = append(p.steps, step)
	return nil
}

// Steps returns the assembled fold steps in order.
func (p *Pipeline) Steps() []Step { return p.steps }

// Len returns the number of assembled steps.
func (p *Pipeline) Len() int { return len(p.steps) }

// Generator produces a serialized witness for one circuit invocation. The
// circuit front-ends (circom templates plus their witness calculators) sit
// behind this interface.
type Generator interface {
	GenerateWitness(ctx context.Context, circuitID string, inputs map[string]json.RawMessage) ([]byte, error)
}

// Prover is the zk proving backend consuming witnesses and returning an
// opaque proof, plus the matching offline verification entry point.
type Prover interface {
	Prove(ctx context.Context, witnesses [][]byte, publicInputs []byte) ([]byte, error)
	Verify(proofBytes []byte, publicInputs []byte, verificationKey []byte) (bool, error)
}
