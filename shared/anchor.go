package shared

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keyAnchorLabel is the HKDF info string for the split-key session anchor.
const keyAnchorLabel = "tlsn/key-anchor"

// DeriveKeyAnchor combines both parties' handshake key shares into the
// 32-byte session anchor. The client derives it at setup; the notary derives
// the same value at finalize, once the client opens its share.
func DeriveKeyAnchor(clientShare, notaryShare []byte) ([]byte, error) {
	secret := make([]byte, 0, len(clientShare)+len(notaryShare))
	secret = append(secret, clientShare...)
	secret = append(secret, notaryShare...)
	defer Zeroize(secret)

	anchor := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(keyAnchorLabel))
	if _, err := io.ReadFull(r, anchor); err != nil {
		return nil, fmt.Errorf("failed to derive key anchor: %w", err)
	}
	return anchor, nil
}

// AnchorMAC binds the two commitment roots to the split-key anchor. The
// notary recomputes it before signing, so a session header only gets signed
// when the party presenting the roots also took part in the key split.
func AnchorMAC(anchor, sentRoot, recvRoot []byte) []byte {
	data := make([]byte, 0, len(anchor)+len(sentRoot)+len(recvRoot))
	data = append(data, anchor...)
	data = append(data, sentRoot...)
	data = append(data, recvRoot...)
	return Keccak256(data)
}
