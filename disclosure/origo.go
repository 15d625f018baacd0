package disclosure

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"webnotary/extract"
	"webnotary/manifest"
	"webnotary/proof"
	"webnotary/shared"
	"webnotary/transcript"
	"webnotary/witness"
)

// OrigoCircuitID names the composed fold circuit the public inputs commit
// to.
const OrigoCircuitID = "HTTP_JSON_NIVC"

const (
	origoKeySize = 16
	origoIVSize  = 12
)

// hkdf expansion labels for the EKM-derived session secrets.
const (
	labelCipherView = "origo/cipher-view"
	labelChannelMAC = "origo/channel-mac"
)

// OrigoParams carries the session material and backend hooks needed to fold
// the received direction into a zk proof.
type OrigoParams struct {
	// EKM is the exported keying material anchoring the proof to the TLS
	// session.
	EKM            []byte
	ManifestDigest []byte
	Generator      witness.Generator
	Prover         witness.Prover
}

// ChannelMACKey derives the shared secret authenticating the client<->notary
// side channel from the session's exported keying material. Both ends derive
// the same key, so a token minted with it proves the holder saw the same TLS
// session.
func ChannelMACKey(ekm []byte) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, ekm, nil, []byte(labelChannelMAC))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive channel MAC key: %w", err)
	}
	return key, nil
}

// cipherView derives the fold circuit's key/IV and the ciphertext view of
// the plaintext from the session EKM. The view is what the decrypt fold
// proves consistent with the plaintext; binding it to the EKM ties the
// folded transcript to this TLS session and no other.
func cipherView(ekm, plaintext []byte) (key, iv, ciphertext []byte, err error) {
	r := hkdf.New(sha256.New, ekm, nil, []byte(labelCipherView))
	key = make([]byte, origoKeySize)
	iv = make([]byte, origoIVSize)
	keystream := make([]byte, len(plaintext))
	for _, buf := range [][]byte{key, iv, keystream} {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to derive cipher view: %w", err)
		}
	}
	ciphertext = make([]byte, len(plaintext))
	for i := range plaintext {
		ciphertext[i] = plaintext[i] ^ keystream[i]
	}
	return key, iv, ciphertext, nil
}

// BuildOrigoProof folds the received direction of a sealed transcript
// through the witness pipeline and returns the disclosure plus the public
// inputs digest the notary signs into the session header.
func BuildOrigoProof(ctx context.Context, snap *transcript.Snapshot, mask *Mask, m *manifest.Manifest, parsed *extract.ParsedResponse, params OrigoParams) (*proof.OrigoDisclosure, []byte, error) {
	if len(params.EKM) == 0 {
		return nil, nil, fmt.Errorf("missing exported keying material")
	}
	if params.Generator == nil || params.Prover == nil {
		return nil, nil, fmt.Errorf("missing witness backend")
	}

	recv := snap.Contiguous(transcript.Received)
	key, iv, ciphertext, err := cipherView(params.EKM, recv)
	if err != nil {
		return nil, nil, err
	}
	defer shared.Zeroize(key)

	bodyStart := len(recv)
	if len(parsed.BodyChunks) > 0 {
		bodyStart = parsed.BodyChunks[0].Start
	}
	var selectors []string
	for _, match := range m.Response.Body.Matches {
		if match.JSONPath != "" {
			selectors = append(selectors, match.JSONPath)
		}
	}

	pipeline, err := witness.Build(witness.BuilderInput{
		Plaintext:    recv,
		Ciphertext:   ciphertext,
		Key:          key,
		IV:           iv,
		StartLine:    parsed.StatusLineRange,
		HeaderValues: parsed.HeaderValueRanges,
		BodyStart:    bodyStart,
		Selectors:    selectors,
	})
	if err != nil {
		return nil, nil, err
	}

	reveals := make([]proof.RevealedValue, 0, len(mask.Reveals))
	for _, ref := range mask.Reveals {
		if ref.Direction != transcript.Received.String() {
			continue
		}
		if ref.Range.Start < 0 || ref.Range.End > len(recv) {
			return nil, nil, fmt.Errorf("reveal %q is out of transcript bounds", ref.Name)
		}
		value := string(recv[ref.Range.Start:ref.Range.End])
		reveals = append(reveals, proof.RevealedValue{
			Name:   ref.Name,
			Value:  value,
			Digest: shared.Keccak256([]byte(value)),
		})
	}

	publicInputs := proof.PublicInputs{
		CircuitID:        OrigoCircuitID,
		ManifestDigest:   params.ManifestDigest,
		TranscriptDigest: shared.Keccak256(ciphertext),
		Reveals:          reveals,
	}
	piBytes, err := publicInputs.Bytes()
	if err != nil {
		return nil, nil, err
	}

	proofBytes, err := witness.Run(ctx, pipeline, params.Generator, params.Prover, piBytes)
	if err != nil {
		return nil, nil, err
	}

	piDigest, err := publicInputs.Digest()
	if err != nil {
		return nil, nil, err
	}
	return &proof.OrigoDisclosure{
		ProofBytes:   proofBytes,
		PublicInputs: publicInputs,
	}, piDigest, nil
}
