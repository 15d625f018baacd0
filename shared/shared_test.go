package shared

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	data := []byte("session header bytes")
	sig, err := kp.SignData(data)
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}
	if len(sig) != 65 {
		t.Errorf("Expected 65-byte recoverable signature, got %d", len(sig))
	}

	if err := VerifyEthSignature(data, sig, kp.Address()); err != nil {
		t.Errorf("Expected signature to verify: %v", err)
	}

	t.Run("Tampered Data", func(t *testing.T) {
		if err := VerifyEthSignature([]byte("different bytes"), sig, kp.Address()); err == nil {
			t.Error("Expected verification failure for tampered data")
		}
	})

	t.Run("Wrong Address", func(t *testing.T) {
		other, err := GenerateSigningKeyPair()
		if err != nil {
			t.Fatalf("Failed to generate second key pair: %v", err)
		}
		if err := VerifyEthSignature(data, sig, other.Address()); err == nil {
			t.Error("Expected verification failure for wrong address")
		}
	})

	t.Run("Truncated Signature", func(t *testing.T) {
		if err := VerifyEthSignature(data, sig[:64], kp.Address()); err == nil {
			t.Error("Expected verification failure for truncated signature")
		}
	})
}

func TestMessageEnvelope(t *testing.T) {
	msg, err := NewMessage(MsgSessionInit, "", &SessionInitRequest{
		Mode:        "tlsn",
		ServerName:  "example.com",
		MaxSentData: 4096,
		MaxRecvData: 16384,
	})
	if err != nil {
		t.Fatalf("Failed to build message: %v", err)
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal envelope: %v", err)
	}
	if decoded.Type != MsgSessionInit {
		t.Errorf("Expected type %s, got %s", MsgSessionInit, decoded.Type)
	}

	var req SessionInitRequest
	if err := decoded.DecodeData(&req); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if req.ServerName != "example.com" || req.MaxRecvData != 16384 {
		t.Errorf("Payload round-trip mismatch: %+v", req)
	}

	t.Run("Empty Data", func(t *testing.T) {
		empty := &Message{Type: MsgClose}
		var out SessionInitRequest
		if err := empty.DecodeData(&out); err == nil {
			t.Error("Expected error decoding empty payload")
		}
	})
}

func TestCipherSuiteAllowList(t *testing.T) {
	if !IsAllowedCipherSuite(TLS_AES_128_GCM_SHA256) {
		t.Error("TLS_AES_128_GCM_SHA256 should be allowed")
	}
	if IsAllowedCipherSuite(0x0005) { // TLS_RSA_WITH_RC4_128_SHA
		t.Error("Legacy non-AEAD suite must not be allowed")
	}

	info, err := LookupCipherSuite(TLS_CHACHA20_POLY1305_SHA256)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if info.KeyLength != 32 || info.TLSVersion != VersionTLS13 {
		t.Errorf("Unexpected suite metadata: %+v", info)
	}

	if name := CipherSuiteName(0xbeef); name != "UNKNOWN_0xbeef" {
		t.Errorf("Unexpected name for unknown suite: %s", name)
	}
}

func TestMergeRanges(t *testing.T) {
	merged := MergeRanges([]ByteRange{
		{Start: 10, End: 20},
		{Start: 0, End: 5},
		{Start: 15, End: 25},
		{Start: 25, End: 30},
	})
	want := []ByteRange{{Start: 0, End: 5}, {Start: 10, End: 30}}
	if len(merged) != len(want) {
		t.Fatalf("Expected %d ranges, got %d: %+v", len(want), len(merged), merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Errorf("Range %d: expected %+v, got %+v", i, want[i], merged[i])
		}
	}
}

func TestZeroize(t *testing.T) {
	secret := []byte{1, 2, 3, 4}
	Zeroize(secret)
	if !bytes.Equal(secret, []byte{0, 0, 0, 0}) {
		t.Errorf("Zeroize left bytes behind: %v", secret)
	}
}

func TestKeyAnchor(t *testing.T) {
	client := bytes.Repeat([]byte{0x01}, 32)
	notary := bytes.Repeat([]byte{0x02}, 32)

	a1, err := DeriveKeyAnchor(client, notary)
	if err != nil {
		t.Fatalf("DeriveKeyAnchor failed: %v", err)
	}
	a2, err := DeriveKeyAnchor(client, notary)
	if err != nil {
		t.Fatalf("DeriveKeyAnchor failed: %v", err)
	}
	if !bytes.Equal(a1, a2) {
		t.Error("Both parties must derive the same anchor")
	}
	other, err := DeriveKeyAnchor(notary, client)
	if err != nil {
		t.Fatalf("DeriveKeyAnchor failed: %v", err)
	}
	if bytes.Equal(a1, other) {
		t.Error("Swapped shares must not derive the same anchor")
	}

	sentRoot := bytes.Repeat([]byte{0x03}, 32)
	recvRoot := bytes.Repeat([]byte{0x04}, 32)
	mac := AnchorMAC(a1, sentRoot, recvRoot)
	if len(mac) != 32 {
		t.Fatalf("Expected a 32-byte MAC, got %d", len(mac))
	}
	if bytes.Equal(mac, AnchorMAC(a1, recvRoot, sentRoot)) {
		t.Error("MAC must bind the roots in order")
	}
	if bytes.Equal(mac, AnchorMAC(other, sentRoot, recvRoot)) {
		t.Error("MAC must depend on the anchor")
	}
}
