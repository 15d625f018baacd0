// Package verify checks proof artifacts offline. Verification needs the
// artifact, the notary's address and the manifest the proof claims to
// satisfy; it performs no network I/O and is deterministic for fixed
// inputs.
package verify

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"webnotary/disclosure"
	"webnotary/extract"
	"webnotary/manifest"
	"webnotary/proof"
	"webnotary/shared"
	"webnotary/transcript"
	"webnotary/witness"
)

// Options carries the verifier's trust anchors and the zk backend for
// Origo proofs.
type Options struct {
	// Roots are the accepted certificate trust anchors. Nil uses the
	// system pool.
	Roots *x509.CertPool

	// Time is the instant certificate validity is checked at. Zero means
	// the session time from the header.
	Time time.Time

	// Prover verifies Origo zk proofs. Required for Origo artifacts.
	Prover          witness.Prover
	VerificationKey []byte
}

// VerifiedClaims is what a valid proof establishes.
type VerifiedClaims struct {
	ServerName string
	Time       time.Time
	StatusCode int

	// Extracted maps manifest assertion names to their revealed values.
	Extracted map[string]string
}

// VerifyError reports which check rejected the artifact. The reason never
// quotes transcript content, so failed verifications cannot leak redacted
// bytes.
type VerifyError struct {
	Check  string
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed at %s: %s", e.Check, e.Reason)
}

func verifyErrorf(check, format string, args ...interface{}) error {
	return &VerifyError{Check: check, Reason: fmt.Sprintf(format, args...)}
}

// Verify checks the artifact against the pinned notary address and the
// manifest. The checks run in trust order: notary signature first, then the
// certificate chain, then the commitment or zk proof, and finally the
// manifest assertions over the revealed bytes.
func Verify(p *proof.Proof, notaryAddr common.Address, m *manifest.Manifest, opts Options) (*VerifiedClaims, error) {
	if p == nil {
		return nil, verifyErrorf("artifact", "nil proof")
	}
	if m == nil {
		return nil, verifyErrorf("artifact", "nil manifest")
	}

	// notary signature
	headerBytes, err := p.Header.HeaderBytes()
	if err != nil {
		return nil, verifyErrorf("signature", "header not serializable: %v", err)
	}
	if err := shared.VerifyEthSignature(headerBytes, p.Signature, notaryAddr); err != nil {
		return nil, verifyErrorf("signature", "%v", err)
	}
	if p.NotaryAddress != "" && common.HexToAddress(p.NotaryAddress) != notaryAddr {
		return nil, verifyErrorf("signature", "artifact names notary %s, expected %s", p.NotaryAddress, notaryAddr.Hex())
	}

	// disclosure shape
	switch p.Header.Mode {
	case proof.ModeTLSN:
		if p.TLSN == nil {
			return nil, verifyErrorf("artifact", "tlsn header without tlsn disclosure")
		}
	case proof.ModeOrigo:
		if p.Origo == nil {
			return nil, verifyErrorf("artifact", "origo header without origo disclosure")
		}
	default:
		return nil, verifyErrorf("artifact", "unknown proof mode %q", p.Header.Mode)
	}

	// manifest binding
	manifestDigest, err := m.Digest()
	if err != nil {
		return nil, verifyErrorf("manifest_binding", "manifest not digestible: %v", err)
	}
	if !bytes.Equal(manifestDigest, p.Header.ManifestDigest) {
		return nil, verifyErrorf("manifest_binding", "signed manifest digest does not match the supplied manifest")
	}

	// certificate chain
	at := opts.Time
	if at.IsZero() {
		at = p.Header.Time
	}
	if p.Header.Mode == proof.ModeTLSN && len(p.Header.CertChainDER) == 0 {
		return nil, verifyErrorf("certificate", "tlsn artifact carries no certificate chain")
	}
	if len(p.Header.CertChainDER) > 0 {
		if err := verifyCertChain(p.Header.CertChainDER, p.Header.ServerName, opts.Roots, at); err != nil {
			return nil, verifyErrorf("certificate", "%v", err)
		}
	}

	// commitment opening or zk proof
	var revealed map[string][]string
	switch p.Header.Mode {
	case proof.ModeTLSN:
		revealed, err = checkTLSN(p)
	case proof.ModeOrigo:
		revealed, err = checkOrigo(p, manifestDigest, opts)
	}
	if err != nil {
		return nil, err
	}

	// manifest assertions over the revealed bytes
	claims, err := checkAssertions(m, revealed)
	if err != nil {
		return nil, err
	}
	claims.ServerName = p.Header.ServerName
	claims.Time = p.Header.Time
	return claims, nil
}

// checkTLSN recomputes both Merkle roots from the disclosure and collects
// the revealed values by reconstructing each referenced range.
func checkTLSN(p *proof.Proof) (map[string][]string, error) {
	d := p.TLSN
	if len(p.Header.AnchorMAC) == 0 {
		return nil, verifyErrorf("commitment", "header carries no key anchor binding")
	}
	if err := checkLeafTiling(d.Sent, p.Header.SentLen); err != nil {
		return nil, verifyErrorf("commitment", "sent disclosure: %v", err)
	}
	if err := checkLeafTiling(d.Recv, p.Header.RecvLen); err != nil {
		return nil, verifyErrorf("commitment", "recv disclosure: %v", err)
	}

	sentRoot, err := disclosure.RecomputeRoot(d.Sent)
	if err != nil {
		return nil, verifyErrorf("commitment", "%v", err)
	}
	if !bytes.Equal(sentRoot, p.Header.SentRoot) {
		return nil, verifyErrorf("commitment", "sent leaves do not open the signed root")
	}
	recvRoot, err := disclosure.RecomputeRoot(d.Recv)
	if err != nil {
		return nil, verifyErrorf("commitment", "%v", err)
	}
	if !bytes.Equal(recvRoot, p.Header.RecvRoot) {
		return nil, verifyErrorf("commitment", "recv leaves do not open the signed root")
	}

	revealed := make(map[string][]string)
	for _, ref := range d.Reveals {
		leaves := d.Recv
		if ref.Direction == transcript.Sent.String() {
			leaves = d.Sent
		}
		value, err := disclosure.RevealedBytes(leaves, ref.Range)
		if err != nil {
			return nil, verifyErrorf("commitment", "reveal %q: %v", ref.Name, err)
		}
		revealed[ref.Name] = append(revealed[ref.Name], string(value))
	}
	return revealed, nil
}

// checkOrigo validates the public inputs binding and runs the zk backend.
func checkOrigo(p *proof.Proof, manifestDigest []byte, opts Options) (map[string][]string, error) {
	d := p.Origo
	pi := &d.PublicInputs

	if pi.CircuitID != disclosure.OrigoCircuitID {
		return nil, verifyErrorf("zk_proof", "unknown circuit %q", pi.CircuitID)
	}
	if !bytes.Equal(pi.ManifestDigest, manifestDigest) {
		return nil, verifyErrorf("zk_proof", "public inputs bind a different manifest")
	}
	piDigest, err := pi.Digest()
	if err != nil {
		return nil, verifyErrorf("zk_proof", "public inputs not digestible: %v", err)
	}
	if !bytes.Equal(piDigest, p.Header.PublicInputsDigest) {
		return nil, verifyErrorf("zk_proof", "public inputs do not match the signed digest")
	}
	for _, rv := range pi.Reveals {
		if !bytes.Equal(rv.Digest, shared.Keccak256([]byte(rv.Value))) {
			return nil, verifyErrorf("zk_proof", "reveal %q digest does not commit to its value", rv.Name)
		}
	}

	if opts.Prover == nil {
		return nil, verifyErrorf("zk_proof", "no proving backend configured")
	}
	piBytes, err := pi.Bytes()
	if err != nil {
		return nil, verifyErrorf("zk_proof", "public inputs not serializable: %v", err)
	}
	ok, err := opts.Prover.Verify(d.ProofBytes, piBytes, opts.VerificationKey)
	if err != nil {
		return nil, verifyErrorf("zk_proof", "backend rejected proof: %v", err)
	}
	if !ok {
		return nil, verifyErrorf("zk_proof", "proof does not verify")
	}

	revealed := make(map[string][]string)
	for _, rv := range pi.Reveals {
		revealed[rv.Name] = append(revealed[rv.Name], rv.Value)
	}
	return revealed, nil
}

// checkAssertions replays the manifest's response contract against the
// revealed values.
func checkAssertions(m *manifest.Manifest, revealed map[string][]string) (*VerifiedClaims, error) {
	statusLines, ok := revealed["status"]
	if !ok || len(statusLines) == 0 {
		return nil, verifyErrorf("assertions", "status line is not revealed")
	}
	statusCode, statusMessage, err := parseStatusLine(statusLines[0])
	if err != nil {
		return nil, verifyErrorf("assertions", "%v", err)
	}
	if statusCode != m.Response.Status {
		return nil, verifyErrorf("assertions", "revealed status %d, manifest requires %d", statusCode, m.Response.Status)
	}
	if m.Response.Message != "" && statusMessage != m.Response.Message {
		return nil, verifyErrorf("assertions", "revealed status message does not match manifest")
	}

	for name, expected := range m.Response.Headers {
		key := "header:" + strings.ToLower(name)
		values, ok := revealed[key]
		if !ok || len(values) == 0 {
			return nil, verifyErrorf("assertions", "required header %q is not revealed", name)
		}
		if values[0] != expected {
			return nil, verifyErrorf("assertions", "revealed header %q does not match manifest", name)
		}
	}

	claims := &VerifiedClaims{
		StatusCode: statusCode,
		Extracted:  make(map[string]string),
	}
	for i, match := range m.Response.Body.Matches {
		name := match.Name
		if name == "" {
			name = fmt.Sprintf("match_%d", i)
		}
		values, ok := revealed[name]
		if !ok || len(values) == 0 {
			return nil, verifyErrorf("assertions", "assertion %q is not revealed", name)
		}
		value := extract.UnquoteJSON([]byte(values[0]))
		if match.Equals != "" && value != match.Equals {
			return nil, verifyErrorf("assertions", "assertion %q does not equal the manifest value", name)
		}
		if match.Contains != "" && !strings.Contains(values[0], match.Contains) {
			return nil, verifyErrorf("assertions", "assertion %q does not contain the manifest value", name)
		}
		claims.Extracted[name] = value
	}
	return claims, nil
}

func parseStatusLine(line string) (int, string, error) {
	parts := strings.SplitN(strings.TrimSuffix(line, "\r\n"), " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return 0, "", fmt.Errorf("revealed status line is malformed")
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 599 {
		return 0, "", fmt.Errorf("revealed status code is malformed")
	}
	message := ""
	if len(parts) == 3 {
		message = parts[2]
	}
	return code, message, nil
}

// checkLeafTiling requires the leaves to cover the signed stream length
// contiguously and every revealed leaf to carry exactly its declared bytes.
func checkLeafTiling(leaves []proof.Leaf, total int) error {
	pos := 0
	for i, leaf := range leaves {
		if leaf.Start != pos || leaf.End <= leaf.Start {
			return fmt.Errorf("leaf %d covers [%d,%d), expected to start at %d", i, leaf.Start, leaf.End, pos)
		}
		if leaf.Revealed() && len(leaf.Bytes) != leaf.End-leaf.Start {
			return fmt.Errorf("leaf %d reveals %d bytes for a %d-byte range", i, len(leaf.Bytes), leaf.End-leaf.Start)
		}
		pos = leaf.End
	}
	if pos != total {
		return fmt.Errorf("leaves cover %d bytes, header declares %d", pos, total)
	}
	return nil
}
