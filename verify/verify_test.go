package verify

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"webnotary/manifest"
	"webnotary/notary"
	"webnotary/proof"
	"webnotary/session"
	"webnotary/shared"
)

type stubGenerator struct{}

func (stubGenerator) GenerateWitness(_ context.Context, circuitID string, inputs map[string]json.RawMessage) ([]byte, error) {
	return []byte("w:" + circuitID), nil
}

type stubProver struct {
	reject bool
}

func (p stubProver) Prove(_ context.Context, witnesses [][]byte, publicInputs []byte) ([]byte, error) {
	return []byte(fmt.Sprintf("zk(%d)", len(witnesses))), nil
}

func (p stubProver) Verify(proofBytes, publicInputs, vk []byte) (bool, error) {
	if p.reject {
		return false, nil
	}
	return len(proofBytes) > 0, nil
}

func artistManifest() *manifest.Manifest {
	return &manifest.Manifest{
		ManifestVersion: "1",
		ID:              "artist-proof",
		Title:           "Artist ownership",
		Request: manifest.Request{
			Method:  "GET",
			URL:     "https://127.0.0.1/v1/artists",
			Version: manifest.HTTP11,
		},
		Response: manifest.Response{
			Status:  200,
			Version: manifest.HTTP11,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body: manifest.ResponseBody{
				Format: "json",
				Matches: []manifest.BodyMatch{
					{Name: "artist", JSONPath: "$.data.items[0].data"},
				},
			},
		},
	}
}

func healthManifest() *manifest.Manifest {
	return &manifest.Manifest{
		ManifestVersion: "1",
		ID:              "health-proof",
		Request: manifest.Request{
			Method:  "GET",
			URL:     "https://127.0.0.1/health",
			Version: manifest.HTTP11,
		},
		Response: manifest.Response{
			Status:  200,
			Version: manifest.HTTP11,
		},
	}
}

func testOrigin(t *testing.T) (*httptest.Server, *x509.CertPool) {
	t.Helper()
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/artists":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"data":{"items":[{"data":"Artist"}]},"secret":"do-not-disclose"}`)
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"ok"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(origin.Close)

	roots := x509.NewCertPool()
	roots.AddCert(origin.Certificate())
	return origin, roots
}

// produceProof runs a full client<->notary session and returns the artifact
// plus everything a verifier needs.
func produceProof(t *testing.T, mode string, man *manifest.Manifest) (*proof.Proof, common.Address, *x509.CertPool) {
	t.Helper()

	origin, roots := testOrigin(t)
	svc, err := notary.NewService(notary.Config{}, shared.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	notaryServer := httptest.NewServer(svc.Handler())
	t.Cleanup(notaryServer.Close)

	cfg := session.Config{
		NotaryURL:  "ws" + strings.TrimPrefix(notaryServer.URL, "http") + "/notarize",
		Mode:       mode,
		TargetAddr: origin.Listener.Addr().String(),
		RootCAs:    roots,
		Logger:     shared.NewNopLogger(),
	}
	if mode == proof.ModeOrigo {
		cfg.Generator = stubGenerator{}
		cfg.Prover = stubProver{}
	}
	m, err := session.New(cfg)
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	p, err := m.Run(context.Background(), man, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return p, svc.Address(), roots
}

func reencode(t *testing.T, p *proof.Proof) *proof.Proof {
	t.Helper()
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	clone, err := proof.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return clone
}

func failedCheck(t *testing.T, err error) string {
	t.Helper()
	var vErr *VerifyError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected *VerifyError, got %T: %v", err, err)
	}
	return vErr.Check
}

func TestVerifyTLSN(t *testing.T) {
	man := artistManifest()
	p, addr, roots := produceProof(t, proof.ModeTLSN, man)
	opts := Options{Roots: roots}

	claims, err := Verify(p, addr, man, opts)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", claims.StatusCode)
	}
	if claims.ServerName != "127.0.0.1" {
		t.Errorf("Unexpected server name %q", claims.ServerName)
	}
	if claims.Extracted["artist"] != "Artist" {
		t.Errorf("Expected artist claim, got %q", claims.Extracted["artist"])
	}

	t.Run("Deterministic", func(t *testing.T) {
		again, err := Verify(p, addr, man, opts)
		if err != nil {
			t.Fatalf("Second Verify failed: %v", err)
		}
		if !reflect.DeepEqual(claims, again) {
			t.Error("Verification is not deterministic")
		}
	})

	t.Run("Tampered Signature", func(t *testing.T) {
		bad := reencode(t, p)
		bad.Signature[10] ^= 0x01
		if check := failedCheck(t, errOf(Verify(bad, addr, man, opts))); check != "signature" {
			t.Errorf("Expected signature failure, got %s", check)
		}
	})

	t.Run("Wrong Notary", func(t *testing.T) {
		other := common.HexToAddress("0x1111111111111111111111111111111111111111")
		if check := failedCheck(t, errOf(Verify(p, other, man, opts))); check != "signature" {
			t.Errorf("Expected signature failure, got %s", check)
		}
	})

	t.Run("Different Manifest", func(t *testing.T) {
		altered := artistManifest()
		altered.Title = "Something else"
		if check := failedCheck(t, errOf(Verify(p, addr, altered, opts))); check != "manifest_binding" {
			t.Errorf("Expected manifest binding failure, got %s", check)
		}
	})

	t.Run("Tampered Leaf", func(t *testing.T) {
		bad := reencode(t, p)
		for i := range bad.TLSN.Recv {
			if bad.TLSN.Recv[i].Revealed() {
				bad.TLSN.Recv[i].Bytes[0] ^= 0x01
				break
			}
		}
		if check := failedCheck(t, errOf(Verify(bad, addr, man, opts))); check != "commitment" {
			t.Errorf("Expected commitment failure, got %s", check)
		}
	})

	t.Run("Truncated Disclosure", func(t *testing.T) {
		bad := reencode(t, p)
		bad.TLSN.Recv = bad.TLSN.Recv[:len(bad.TLSN.Recv)-1]
		if check := failedCheck(t, errOf(Verify(bad, addr, man, opts))); check != "commitment" {
			t.Errorf("Expected commitment failure, got %s", check)
		}
	})

	t.Run("Missing Certificate Chain", func(t *testing.T) {
		bad := reencode(t, p)
		bad.Header.CertChainDER = nil
		// dropping the chain also breaks the signed header bytes
		if _, err := Verify(bad, addr, man, opts); err == nil {
			t.Error("Expected verification failure")
		}
	})

	t.Run("Untrusted Roots", func(t *testing.T) {
		if check := failedCheck(t, errOf(Verify(p, addr, man, Options{Roots: x509.NewCertPool()}))); check != "certificate" {
			t.Errorf("Expected certificate failure, got %s", check)
		}
	})
}

func TestVerifyOrigo(t *testing.T) {
	man := artistManifest()
	p, addr, roots := produceProof(t, proof.ModeOrigo, man)
	opts := Options{Roots: roots, Prover: stubProver{}}

	claims, err := Verify(p, addr, man, opts)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Extracted["artist"] != "Artist" {
		t.Errorf("Expected artist claim, got %q", claims.Extracted["artist"])
	}
	if claims.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", claims.StatusCode)
	}

	t.Run("Tampered Reveal", func(t *testing.T) {
		bad := reencode(t, p)
		for i := range bad.Origo.PublicInputs.Reveals {
			if bad.Origo.PublicInputs.Reveals[i].Name == "artist" {
				bad.Origo.PublicInputs.Reveals[i].Value = `"Someone Else"`
			}
		}
		if check := failedCheck(t, errOf(Verify(bad, addr, man, opts))); check != "zk_proof" {
			t.Errorf("Expected zk_proof failure, got %s", check)
		}
	})

	t.Run("Rejecting Backend", func(t *testing.T) {
		bad := Options{Roots: roots, Prover: stubProver{reject: true}}
		if check := failedCheck(t, errOf(Verify(p, addr, man, bad))); check != "zk_proof" {
			t.Errorf("Expected zk_proof failure, got %s", check)
		}
	})

	t.Run("Missing Backend", func(t *testing.T) {
		if check := failedCheck(t, errOf(Verify(p, addr, man, Options{Roots: roots}))); check != "zk_proof" {
			t.Errorf("Expected zk_proof failure, got %s", check)
		}
	})
}

func TestVerifyHealthScenario(t *testing.T) {
	man := healthManifest()
	p, addr, roots := produceProof(t, proof.ModeTLSN, man)

	claims, err := Verify(p, addr, man, Options{Roots: roots})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", claims.StatusCode)
	}
	if len(claims.Extracted) != 0 {
		t.Errorf("Expected no extracted values, got %v", claims.Extracted)
	}
}

func TestVerifyEqualsAssertion(t *testing.T) {
	man := artistManifest()
	man.Response.Body.Matches[0].Equals = "Nobody"

	// the prover does not evaluate equality assertions, so the session
	// succeeds; the verifier must reject the claim
	p, addr, roots := produceProof(t, proof.ModeTLSN, man)
	if check := failedCheck(t, errOf(Verify(p, addr, man, Options{Roots: roots}))); check != "assertions" {
		t.Errorf("Expected assertions failure, got %s", check)
	}
}

func errOf(_ *VerifiedClaims, err error) error { return err }
