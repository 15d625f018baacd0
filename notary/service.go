// Package notary implements the signing service both proof modes talk to
// over a websocket channel. The notary never sees plaintext: in TLSN mode
// it contributes a handshake key share and signs Merkle roots, in Origo
// mode it authenticates an EKM-bound side channel, tracks observed
// ciphertext lengths and signs the public inputs digest.
package notary

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"webnotary/shared"
)

// Config controls one notary instance.
type Config struct {
	// PrivateKeyHex is the secp256k1 signing key. Empty generates an
	// ephemeral key, which is what tests want.
	PrivateKeyHex string

	// MaxSentData and MaxRecvData are the hard per-session ceilings. A
	// client may request less, never more.
	MaxSentData int
	MaxRecvData int

	// TokenTTL bounds the Origo side-channel token lifetime.
	TokenTTL time.Duration
}

// ConfigFromEnv builds a Config from the environment.
func ConfigFromEnv() Config {
	return Config{
		PrivateKeyHex: shared.GetEnvOrDefault("NOTARY_PRIVATE_KEY", ""),
		MaxSentData:   shared.GetEnvIntOrDefault("NOTARY_MAX_SENT_DATA", 1<<12),
		MaxRecvData:   shared.GetEnvIntOrDefault("NOTARY_MAX_RECV_DATA", 1<<14),
		TokenTTL:      shared.GetEnvDurationOrDefault("NOTARY_TOKEN_TTL", 5*time.Minute),
	}
}

// session is the notary-side state of one notarization attempt.
type session struct {
	id         string
	mode       string
	serverName string
	maxSent    int
	maxRecv    int

	// TLSN key split
	clientCommitment []byte
	notaryShare      []byte

	// Origo side channel
	channelKey   []byte
	observedSent int
	observedRecv int

	signed bool
}

// zeroize wipes the per-session secrets. Called on teardown and after
// signing; a signed header is the only thing that outlives the session.
func (s *session) zeroize() {
	shared.Zeroize(s.notaryShare)
	shared.Zeroize(s.channelKey)
	s.notaryShare = nil
	s.channelKey = nil
	s.clientCommitment = nil
}

// Service is the notary.
type Service struct {
	cfg  Config
	keys *shared.SigningKeyPair
	log  *shared.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService creates a notary, loading the signing key from the config or
// generating an ephemeral one.
func NewService(cfg Config, log *shared.Logger) (*Service, error) {
	if log == nil {
		log = shared.NewNopLogger()
	}
	if cfg.MaxSentData <= 0 {
		cfg.MaxSentData = 1 << 12
	}
	if cfg.MaxRecvData <= 0 {
		cfg.MaxRecvData = 1 << 14
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}

	var keys *shared.SigningKeyPair
	var err error
	if cfg.PrivateKeyHex != "" {
		keys, err = shared.LoadSigningKeyPair(cfg.PrivateKeyHex)
	} else {
		keys, err = shared.GenerateSigningKeyPair()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notary signing key: %w", err)
	}

	return &Service{
		cfg:      cfg,
		keys:     keys,
		log:      log,
		sessions: make(map[string]*session),
	}, nil
}

// Address returns the notary's signing address, the identity verifiers pin.
func (s *Service) Address() common.Address {
	return s.keys.Address()
}

// Handler returns the notary's HTTP surface: a health endpoint and the
// websocket notarization endpoint.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/notarize", s.handleNotarize)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","address":%q}`, s.keys.Address().Hex())
}

// createSession validates the init request and registers a new session.
func (s *Service) createSession(req *shared.SessionInitRequest) (*session, error) {
	if req.Mode != "tlsn" && req.Mode != "origo" {
		return nil, fmt.Errorf("unknown proof mode %q", req.Mode)
	}
	if req.ServerName == "" {
		return nil, fmt.Errorf("missing server name")
	}
	if req.MaxSentData <= 0 || req.MaxSentData > s.cfg.MaxSentData {
		return nil, fmt.Errorf("requested sent cap %d outside (0, %d]", req.MaxSentData, s.cfg.MaxSentData)
	}
	if req.MaxRecvData <= 0 || req.MaxRecvData > s.cfg.MaxRecvData {
		return nil, fmt.Errorf("requested recv cap %d outside (0, %d]", req.MaxRecvData, s.cfg.MaxRecvData)
	}
	for _, id := range req.CipherSuites {
		if !shared.IsAllowedCipherSuite(id) {
			return nil, fmt.Errorf("cipher suite 0x%04x is not notarizable", id)
		}
	}

	sess := &session{
		id:         uuid.New().String(),
		mode:       req.Mode,
		serverName: req.ServerName,
		maxSent:    req.MaxSentData,
		maxRecv:    req.MaxRecvData,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Service) lookupSession(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	return sess, nil
}

func (s *Service) dropSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.zeroize()
	}
}

// newNotaryShare draws the notary's handshake secret contribution.
func newNotaryShare() ([]byte, error) {
	share := make([]byte, 32)
	if _, err := rand.Read(share); err != nil {
		return nil, fmt.Errorf("failed to draw notary key share: %w", err)
	}
	return share, nil
}
