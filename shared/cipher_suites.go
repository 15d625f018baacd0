package shared

import (
	"fmt"
)

// TLS version constants
const (
	VersionTLS12 = 0x0303
	VersionTLS13 = 0x0304
)

// TLS 1.3 cipher suites
const (
	TLS_AES_128_GCM_SHA256       = 0x1301
	TLS_AES_256_GCM_SHA384       = 0x1302
	TLS_CHACHA20_POLY1305_SHA256 = 0x1303
)

// TLS 1.2 AEAD cipher suites (Go crypto/tls constants)
const (
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256         = 0xc02f
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256       = 0xc02b
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384         = 0xc030
	TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384       = 0xc02c
	TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256   = 0xcca8
	TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256 = 0xcca9
)

// CipherSuiteInfo contains metadata about a supported cipher suite
type CipherSuiteInfo struct {
	ID         uint16
	Name       string
	TLSVersion uint16 // VersionTLS12 or VersionTLS13
	Algorithm  string // "AES-128-GCM", "AES-256-GCM", "ChaCha20-Poly1305"
	KeyLength  int    // key length in bytes
	IVLength   int    // IV length in bytes
}

// AllowedCipherSuites is the fixed allow-list. Sessions negotiating any
// suite outside this list fail setup.
var AllowedCipherSuites = []CipherSuiteInfo{
	{
		ID:         TLS_AES_128_GCM_SHA256,
		Name:       "TLS_AES_128_GCM_SHA256",
		TLSVersion: VersionTLS13,
		Algorithm:  "AES-128-GCM",
		KeyLength:  16,
		IVLength:   12,
	},
	{
		ID:         TLS_AES_256_GCM_SHA384,
		Name:       "TLS_AES_256_GCM_SHA384",
		TLSVersion: VersionTLS13,
		Algorithm:  "AES-256-GCM",
		KeyLength:  32,
		IVLength:   12,
	},
	{
		ID:         TLS_CHACHA20_POLY1305_SHA256,
		Name:       "TLS_CHACHA20_POLY1305_SHA256",
		TLSVersion: VersionTLS13,
		Algorithm:  "ChaCha20-Poly1305",
		KeyLength:  32,
		IVLength:   12,
	},
	{
		ID:         TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		Name:       "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
		TLSVersion: VersionTLS12,
		Algorithm:  "AES-128-GCM",
		KeyLength:  16,
		IVLength:   4,
	},
	{
		ID:         TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		Name:       "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
		TLSVersion: VersionTLS12,
		Algorithm:  "AES-128-GCM",
		KeyLength:  16,
		IVLength:   4,
	},
	{
		ID:         TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		Name:       "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
		TLSVersion: VersionTLS12,
		Algorithm:  "AES-256-GCM",
		KeyLength:  32,
		IVLength:   4,
	},
	{
		ID:         TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		Name:       "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
		TLSVersion: VersionTLS12,
		Algorithm:  "AES-256-GCM",
		KeyLength:  32,
		IVLength:   4,
	},
	{
		ID:         TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		Name:       "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
		TLSVersion: VersionTLS12,
		Algorithm:  "ChaCha20-Poly1305",
		KeyLength:  32,
		IVLength:   12,
	},
	{
		ID:         TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		Name:       "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
		TLSVersion: VersionTLS12,
		Algorithm:  "ChaCha20-Poly1305",
		KeyLength:  32,
		IVLength:   12,
	},
}

// LookupCipherSuite returns metadata for an allow-listed suite.
func LookupCipherSuite(id uint16) (*CipherSuiteInfo, error) {
	for i := range AllowedCipherSuites {
		if AllowedCipherSuites[i].ID == id {
			return &AllowedCipherSuites[i], nil
		}
	}
	return nil, fmt.Errorf("unsupported cipher suite 0x%04x", id)
}

// IsAllowedCipherSuite reports whether the suite is on the allow-list.
func IsAllowedCipherSuite(id uint16) bool {
	_, err := LookupCipherSuite(id)
	return err == nil
}

// AllowedCipherSuiteIDs returns the allow-list as raw suite identifiers.
func AllowedCipherSuiteIDs() []uint16 {
	ids := make([]uint16, 0, len(AllowedCipherSuites))
	for _, cs := range AllowedCipherSuites {
		ids = append(ids, cs.ID)
	}
	return ids
}

// CipherSuiteName returns the IANA name, or a hex rendering for unknown IDs.
func CipherSuiteName(id uint16) string {
	if cs, err := LookupCipherSuite(id); err == nil {
		return cs.Name
	}
	return fmt.Sprintf("UNKNOWN_0x%04x", id)
}
