package manifest

import (
	"encoding/json"
	"fmt"

	"webnotary/shared"
)

// Digest computes a Keccak-256 digest over the canonical JSON serialization
// of the manifest. encoding/json emits map keys in sorted order, so the
// serialization is deterministic. Proof artifacts carry this digest to bind
// a proof to the manifest it was produced for.
func (m *Manifest) Digest() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize manifest: %w", err)
	}
	return shared.Keccak256(raw), nil
}
