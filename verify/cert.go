package verify

import (
	"crypto/x509"
	"fmt"
	"time"
)

// CertificateError classifies a certificate chain rejection.
type CertificateError struct {
	Type    string
	Message string
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("certificate %s: %s", e.Type, e.Message)
}

const (
	certErrorInvalidChain = "invalid_chain"
	certErrorKeyUsage     = "key_usage"
	certErrorVerification = "verification"
)

// verifyCertChain validates the observed certificate chain: leaf key usage,
// chain signatures up to the given roots, hostname match and validity at
// the session time. The chain arrives leaf first, as captured during the
// handshake.
func verifyCertChain(chainDER [][]byte, serverName string, roots *x509.CertPool, at time.Time) error {
	if len(chainDER) == 0 {
		return &CertificateError{Type: certErrorInvalidChain, Message: "no certificates provided"}
	}

	certs := make([]*x509.Certificate, 0, len(chainDER))
	for i, der := range chainDER {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return &CertificateError{
				Type:    certErrorInvalidChain,
				Message: fmt.Sprintf("failed to parse certificate %d: %v", i, err),
			}
		}
		certs = append(certs, cert)
	}
	leaf := certs[0]

	// Server certificates must be valid for server authentication.
	if len(leaf.ExtKeyUsage) > 0 {
		validUsage := false
		for _, usage := range leaf.ExtKeyUsage {
			if usage == x509.ExtKeyUsageServerAuth || usage == x509.ExtKeyUsageAny {
				validUsage = true
				break
			}
		}
		if !validUsage {
			return &CertificateError{
				Type:    certErrorKeyUsage,
				Message: "server certificate not valid for server authentication",
			}
		}
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		DNSName:       serverName,
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return &CertificateError{Type: certErrorVerification, Message: err.Error()}
	}
	return nil
}
