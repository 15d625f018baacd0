package witness

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"webnotary/shared"
)

// Circuit registry: the fixed shapes of the three circuit families. The
// decrypt fold and the parse/extract circuits all carry the accumulator.
var (
	DecryptCircuit = CircuitSpec{
		ID:           "AES_GCM_FOLD",
		Kind:         DecryptChunk,
		StepInWidth:  AccumulatorWidth,
		StepOutWidth: AccumulatorWidth,
	}
	HTTPParseCircuit = CircuitSpec{
		ID:           "HTTP_NIVC",
		Kind:         HTTPParse,
		StepInWidth:  AccumulatorWidth,
		StepOutWidth: AccumulatorWidth,
	}
	JSONExtractCircuit = CircuitSpec{
		ID:           "JSON_EXTRACT_NIVC",
		Kind:         JSONExtract,
		StepInWidth:  AccumulatorWidth,
		StepOutWidth: AccumulatorWidth,
	}
)

// BuilderInput is everything the fold pipeline needs for one direction of
// the transcript.
type BuilderInput struct {
	Plaintext  []byte
	Ciphertext []byte
	Key        []byte
	IV         []byte
	AAD        []byte

	// StartLine, HeaderValues and BodyStart describe the parsed HTTP
	// layout inside Plaintext.
	StartLine    shared.ByteRange
	HeaderValues map[string]shared.ByteRange
	BodyStart    int

	// Selectors are the JSON paths to extract, in manifest order.
	Selectors []string
}

// Build assembles the full fold pipeline for one transcript direction:
// one decrypt step per 16-byte chunk, one HTTP parse step, one JSON
// extract step per selector. The accumulator is threaded explicitly
// through an iterative loop; any shape mismatch aborts assembly before the
// proving backend is ever invoked.
func Build(in BuilderInput) (*Pipeline, error) {
	if len(in.Plaintext) != len(in.Ciphertext) {
		return nil, assemblyErrorf("input", "plaintext length %d does not match ciphertext length %d",
			len(in.Plaintext), len(in.Ciphertext))
	}

	plaintext := padToFold(in.Plaintext)
	ciphertext := padToFold(in.Ciphertext)

	pipeline := &Pipeline{}
	acc := Accumulator{RunningHash: "0"}

	for chunk := 0; chunk*FoldWidth < len(plaintext); chunk++ {
		lo, hi := chunk*FoldWidth, (chunk+1)*FoldWidth
		next := acc
		next.RunningHash = foldHash(acc.RunningHash, plaintext[lo:hi])
		next.ChunkIndex = chunk + 1

		step := Step{
			Name:    fmt.Sprintf("%s_%d", DecryptCircuit.ID, chunk),
			Circuit: DecryptCircuit,
			StepIn:  acc.Signals(),
			StepOut: next.Signals(),
			Private: privateSignals(map[string]interface{}{
				SignalKey:        in.Key,
				SignalIV:         in.IV,
				SignalAAD:        in.AAD,
				SignalPlaintext:  plaintext[lo:hi],
				SignalCiphertext: ciphertext[lo:hi],
				SignalCounter:    chunk + 1,
			}),
		}
		if err := pipeline.Add(step); err != nil {
			return nil, err
		}
		acc = next
	}

	// HTTP parse step locks the start line, headers and body against the
	// folded plaintext.
	headerHashes := make([]string, 0, len(in.HeaderValues))
	for name, r := range in.HeaderValues {
		headerHashes = append(headerHashes, dataHash(append([]byte(name+":"), sliceRange(plaintext, r)...)))
	}
	next := acc
	next.ParserState = 1
	httpStep := Step{
		Name:    HTTPParseCircuit.ID,
		Circuit: HTTPParseCircuit,
		StepIn:  acc.Signals(),
		StepOut: next.Signals(),
		Private: privateSignals(map[string]interface{}{
			SignalData:          plaintext,
			SignalStartLineHash: []string{dataHash(sliceRange(plaintext, in.StartLine))},
			SignalHeaderHashes:  headerHashes,
			SignalBodyHash:      []string{dataHash(plaintext[min(in.BodyStart, len(plaintext)):])},
		}),
	}
	if err := pipeline.Add(httpStep); err != nil {
		return nil, err
	}
	acc = next

	for i, selector := range in.Selectors {
		next := acc
		next.ParserDepth = i + 1
		step := Step{
			Name:    fmt.Sprintf("%s_%d", JSONExtractCircuit.ID, i),
			Circuit: JSONExtractCircuit,
			StepIn:  acc.Signals(),
			StepOut: next.Signals(),
			Private: privateSignals(map[string]interface{}{
				SignalJSONKey:    selector,
				SignalJSONKeyLen: len(selector),
			}),
		}
		if err := pipeline.Add(step); err != nil {
			return nil, err
		}
		acc = next
	}

	return pipeline, nil
}

// Run drives the assembled pipeline through the witness generator and
// proving backend, returning the opaque proof bytes.
func Run(ctx context.Context, p *Pipeline, gen Generator, prover Prover, publicInputs []byte) ([]byte, error) {
	witnesses := make([][]byte, 0, p.Len())
	for _, step := range p.Steps() {
		inputs := make(map[string]json.RawMessage, len(step.Private)+2)
		for k, v := range step.Private {
			inputs[k] = v
		}
		stepIn, err := json.Marshal(step.StepIn)
		if err != nil {
			return nil, assemblyErrorf(step.Name, "failed to encode step_in: %v", err)
		}
		inputs["step_in"] = stepIn

		w, err := gen.GenerateWitness(ctx, step.Circuit.ID, inputs)
		if err != nil {
			return nil, fmt.Errorf("witness generation failed for step %s: %w", step.Name, err)
		}
		witnesses = append(witnesses, w)
	}

	proofBytes, err := prover.Prove(ctx, witnesses, publicInputs)
	if err != nil {
		return nil, fmt.Errorf("proving backend failed: %w", err)
	}
	return proofBytes, nil
}

func padToFold(data []byte) []byte {
	remainder := len(data) % FoldWidth
	if remainder == 0 && len(data) > 0 {
		return data
	}
	padded := make([]byte, len(data)+(FoldWidth-remainder)%FoldWidth)
	if len(data) == 0 {
		padded = make([]byte, FoldWidth)
	}
	copy(padded, data)
	return padded
}

func sliceRange(data []byte, r shared.ByteRange) []byte {
	lo, hi := r.Start, r.End
	if lo < 0 {
		lo = 0
	}
	if hi > len(data) {
		hi = len(data)
	}
	if lo >= hi {
		return nil
	}
	return data[lo:hi]
}

// foldHash chains the running transcript hash across fold steps.
func foldHash(prev string, chunk []byte) string {
	return dataHash(append([]byte(prev), chunk...))
}

// dataHash renders a Keccak digest as the hex signal value the circuits
// consume.
func dataHash(data []byte) string {
	return hex.EncodeToString(shared.Keccak256(data))
}

func privateSignals(values map[string]interface{}) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = raw
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
