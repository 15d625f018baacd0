// Package proof defines the notarization artifact exchanged between prover
// and verifier. A Proof is produced once at session finalize and never
// mutated afterwards; the verifier consumes it offline together with the
// notary address and the manifest.
package proof

import (
	"encoding/json"
	"fmt"
	"time"

	"webnotary/shared"
)

// Mode names for the two proof strategies.
const (
	ModeTLSN  = "tlsn"
	ModeOrigo = "origo"
)

// SessionHeader is the notarized summary of one TLS session. The notary's
// signature covers exactly HeaderBytes().
type SessionHeader struct {
	SessionID   string    `json:"session_id"`
	Mode        string    `json:"mode"`
	ServerName  string    `json:"server_name"`
	Time        time.Time `json:"time"`
	TLSVersion  uint16    `json:"tls_version"`
	CipherSuite uint16    `json:"cipher_suite"`
	SentLen     int       `json:"sent_len"`
	RecvLen     int       `json:"recv_len"`

	// ManifestDigest binds the session to the manifest it proves.
	ManifestDigest []byte `json:"manifest_digest"`

	// TLSN mode: Merkle roots over the two transcript directions, plus the
	// MAC binding them to the split-key session anchor. The notary
	// recomputes the MAC from the opened client share before signing.
	SentRoot  []byte `json:"sent_root,omitempty"`
	RecvRoot  []byte `json:"recv_root,omitempty"`
	AnchorMAC []byte `json:"anchor_mac,omitempty"`

	// Origo mode: digest over the zk public inputs.
	PublicInputsDigest []byte `json:"public_inputs_digest,omitempty"`

	// CertChainDER is the server's certificate chain as observed during
	// the handshake, leaf first.
	CertChainDER [][]byte `json:"cert_chain_der,omitempty"`
}

// HeaderBytes returns the canonical serialization the notary signs. JSON
// field order follows the struct declaration, so the bytes are stable.
func (h *SessionHeader) HeaderBytes() ([]byte, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session header: %w", err)
	}
	return raw, nil
}

// Leaf is one transcript run in a TLSN commitment. Leaves tile the stream
// contiguously and are split exactly at the reveal mask's boundaries, so a
// revealed leaf never carries bytes outside the mask. Hash is always
// present; Salt and Bytes only for revealed leaves. Redacted leaves
// disclose nothing beyond their (salted) hash and length.
type Leaf struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Hash  []byte `json:"hash"`
	Salt  []byte `json:"salt,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
}

// Revealed reports whether the leaf carries its plaintext.
func (l *Leaf) Revealed() bool { return l.Bytes != nil }

// RevealedRef names one disclosed region of the transcript, addressed in
// absolute stream offsets.
type RevealedRef struct {
	Name      string           `json:"name"`
	Direction string           `json:"direction"` // "sent" or "received"
	Range     shared.ByteRange `json:"range"`
}

// TLSNDisclosure carries the Merkle commitment opening: every leaf hash in
// both directions, plaintext and salts only for revealed leaves, and the
// references locating each disclosed value.
type TLSNDisclosure struct {
	Sent    []Leaf        `json:"sent"`
	Recv    []Leaf        `json:"recv"`
	Reveals []RevealedRef `json:"reveals"`
}

// RevealedValue is one value attested by the zk proof in Origo mode.
// Digest is the Keccak-256 of Value and is bound into the public inputs.
type RevealedValue struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Digest []byte `json:"digest"`
}

// PublicInputs bind an Origo zk proof to the session and manifest.
type PublicInputs struct {
	CircuitID        string          `json:"circuit_id"`
	ManifestDigest   []byte          `json:"manifest_digest"`
	TranscriptDigest []byte          `json:"transcript_digest"`
	Reveals          []RevealedValue `json:"reveals"`
}

// Bytes returns the canonical serialization of the public inputs.
func (pi *PublicInputs) Bytes() ([]byte, error) {
	raw, err := json.Marshal(pi)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize public inputs: %w", err)
	}
	return raw, nil
}

// Digest returns the Keccak-256 digest bound into the session header.
func (pi *PublicInputs) Digest() ([]byte, error) {
	raw, err := pi.Bytes()
	if err != nil {
		return nil, err
	}
	return shared.Keccak256(raw), nil
}

// OrigoDisclosure carries the zk proof and its public inputs.
type OrigoDisclosure struct {
	ProofBytes   []byte       `json:"proof_bytes"`
	PublicInputs PublicInputs `json:"public_inputs"`
}

// Proof is the final artifact.
type Proof struct {
	Header        SessionHeader `json:"header"`
	Signature     []byte        `json:"signature"`
	NotaryAddress string        `json:"notary_address"`
	// NotaryKeyHint tells the verifier where the notary key is published.
	NotaryKeyHint string `json:"notary_key_hint,omitempty"`

	TLSN  *TLSNDisclosure  `json:"tlsn,omitempty"`
	Origo *OrigoDisclosure `json:"origo,omitempty"`
}

// Encode serializes the artifact to JSON.
func (p *Proof) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a serialized artifact.
func Decode(raw []byte) (*Proof, error) {
	var p Proof
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode proof artifact: %w", err)
	}
	return &p, nil
}
