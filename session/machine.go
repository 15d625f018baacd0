package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webnotary/disclosure"
	"webnotary/extract"
	"webnotary/manifest"
	"webnotary/proof"
	"webnotary/shared"
	"webnotary/transcript"
	"webnotary/witness"
)

// Config controls one session machine.
type Config struct {
	// NotaryURL is the websocket notarization endpoint.
	NotaryURL string

	// Mode selects the proof strategy, "tlsn" or "origo".
	Mode string

	// TargetAddr overrides the host:port derived from the manifest URL.
	// Tests point this at a local listener.
	TargetAddr string

	MaxSentData int
	MaxRecvData int

	DialTimeout time.Duration
	ReadTimeout time.Duration

	// RootCAs pins the trust anchors for the origin connection. Nil uses
	// the system pool.
	RootCAs *x509.CertPool

	// Generator and Prover are the Origo zk backend. Unused in TLSN mode.
	Generator witness.Generator
	Prover    witness.Prover

	Logger *shared.Logger
}

func (c *Config) setDefaults() {
	if c.MaxSentData <= 0 {
		c.MaxSentData = 1 << 12
	}
	if c.MaxRecvData <= 0 {
		c.MaxRecvData = 1 << 14
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = shared.NewNopLogger()
	}
}

// Machine runs one notarized session. A machine is single-use: Run moves it
// to Committed or Failed and it stays there.
type Machine struct {
	cfg   Config
	setup Setup
	log   *shared.Logger

	mu    sync.Mutex
	state State
}

// New validates the configuration and builds a session machine.
func New(cfg Config) (*Machine, error) {
	cfg.setDefaults()
	if cfg.NotaryURL == "" {
		return nil, fmt.Errorf("missing notary URL")
	}
	setup, err := SetupFor(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == proof.ModeOrigo && (cfg.Generator == nil || cfg.Prover == nil) {
		return nil, fmt.Errorf("origo mode requires a witness generator and prover")
	}
	return &Machine{cfg: cfg, setup: setup, log: cfg.Logger, state: StateInit}, nil
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) to(target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.state, target) {
		return &TransitionError{From: m.state, To: target}
	}
	m.state = target
	return nil
}

func (m *Machine) fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if canTransition(m.state, StateFailed) {
		m.state = StateFailed
	}
}

// Run executes the full session against the manifest and returns the signed
// proof artifact. Any error leaves the machine Failed with all session
// secrets wiped.
func (m *Machine) Run(ctx context.Context, man *manifest.Manifest, values map[string]string) (*proof.Proof, error) {
	p, err := m.run(ctx, man, values)
	if err != nil {
		m.fail()
		return nil, err
	}
	return p, nil
}

func (m *Machine) run(ctx context.Context, man *manifest.Manifest, values map[string]string) (*proof.Proof, error) {
	if err := man.Validate(); err != nil {
		return nil, err
	}
	rendered, err := man.Render(values)
	if err != nil {
		return nil, err
	}
	serverName := rendered.URL.Hostname()
	target := m.cfg.TargetAddr
	if target == "" {
		port := rendered.URL.Port()
		if port == "" {
			port = "443"
		}
		target = net.JoinHostPort(serverName, port)
	}

	if err := m.to(StateConnecting); err != nil {
		return nil, err
	}
	nc, err := dialNotary(ctx, m.cfg.NotaryURL, m.cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	defer nc.close()

	created, err := nc.init(shared.SessionInitRequest{
		Mode:         m.cfg.Mode,
		ServerName:   serverName,
		MaxSentData:  m.cfg.MaxSentData,
		MaxRecvData:  m.cfg.MaxRecvData,
		CipherSuites: shared.AllowedCipherSuiteIDs(),
	})
	if err != nil {
		return nil, err
	}
	log := m.log.WithSession(created.SessionID)
	log.Info("session created", zap.String("mode", m.cfg.Mode), zap.String("server_name", serverName))

	if err := m.to(StateHandshaking); err != nil {
		return nil, err
	}
	est, err := m.setup.Establish(ctx, nc, target, &tls.Config{
		ServerName: serverName,
		RootCAs:    m.cfg.RootCAs,
		MinVersion: tls.VersionTLS12,
	}, m.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	defer est.Conn.Close()
	defer est.Zeroize()

	if !shared.IsAllowedCipherSuite(est.State.CipherSuite) {
		return nil, fmt.Errorf("origin negotiated non-notarizable cipher suite 0x%04x", est.State.CipherSuite)
	}

	if err := m.to(StateExchanging); err != nil {
		return nil, err
	}
	rec := transcript.NewRecorder(created.MaxSentData, created.MaxRecvData)
	parser := extract.NewParser()
	if err := m.exchange(est.Conn, rec, parser, rendered.Bytes); err != nil {
		rec.Zeroize()
		return nil, err
	}
	parsed := parser.Response()
	if parsed.StatusCode != man.Response.Status {
		rec.Zeroize()
		return nil, fmt.Errorf("origin answered %d, manifest requires %d", parsed.StatusCode, man.Response.Status)
	}
	if m.cfg.Mode == proof.ModeOrigo {
		for _, obs := range []shared.CiphertextObserved{
			{Direction: transcript.Sent.String(), Length: rec.TotalBytes(transcript.Sent)},
			{Direction: transcript.Received.String(), Length: rec.TotalBytes(transcript.Received)},
		} {
			if err := nc.notify(shared.MsgCiphertextObserved, obs); err != nil {
				rec.Zeroize()
				return nil, err
			}
		}
	}
	snap := rec.Seal()

	if err := m.to(StateFinalizing); err != nil {
		return nil, err
	}
	p, err := m.finalize(ctx, nc, est, serverName, man, rendered, parsed, snap)
	if err != nil {
		rec.Zeroize()
		return nil, err
	}

	if err := m.to(StateCommitted); err != nil {
		return nil, err
	}
	log.Info("session committed",
		zap.Int("sent_bytes", p.Header.SentLen),
		zap.Int("recv_bytes", p.Header.RecvLen))
	return p, nil
}

// exchange writes the rendered request and reads the response, recording
// both directions. Send and receive run concurrently so a server that
// streams early response bytes never deadlocks the writer.
func (m *Machine) exchange(conn *tls.Conn, rec *transcript.Recorder, parser *extract.Parser, request []byte) error {
	var g errgroup.Group

	g.Go(func() error {
		if err := rec.Record(transcript.Sent, request); err != nil {
			return err
		}
		if _, err := conn.Write(request); err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		buf := make([]byte, 4096)
		for {
			conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
			n, err := conn.Read(buf)
			if n > 0 {
				if rerr := rec.Record(transcript.Received, buf[:n]); rerr != nil {
					return rerr
				}
				if perr := parser.OnChunk(buf[:n]); perr != nil {
					return perr
				}
				if parser.Complete() {
					return nil
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					_, serr := parser.StreamEnded()
					return serr
				}
				return fmt.Errorf("failed to read response: %w", err)
			}
		}
	})

	return g.Wait()
}

// finalize builds the disclosure, assembles the session header, has the
// notary sign it, and packs the artifact.
func (m *Machine) finalize(ctx context.Context, nc *notaryClient, est *Established, serverName string, man *manifest.Manifest, rendered *manifest.RenderedRequest, parsed *extract.ParsedResponse, snap *transcript.Snapshot) (*proof.Proof, error) {
	mask, err := disclosure.ComputeMask(snap, man, rendered, parsed)
	if err != nil {
		return nil, err
	}
	manifestDigest, err := man.Digest()
	if err != nil {
		return nil, err
	}

	header := proof.SessionHeader{
		SessionID:      nc.sessionID,
		Mode:           m.cfg.Mode,
		ServerName:     serverName,
		Time:           time.Now().UTC(),
		TLSVersion:     est.State.Version,
		CipherSuite:    est.State.CipherSuite,
		SentLen:        snap.TotalBytes(transcript.Sent),
		RecvLen:        snap.TotalBytes(transcript.Received),
		ManifestDigest: manifestDigest,
	}
	for _, cert := range est.State.PeerCertificates {
		header.CertChainDER = append(header.CertChainDER, cert.Raw)
	}

	artifact := proof.Proof{}
	switch m.cfg.Mode {
	case proof.ModeTLSN:
		c, err := disclosure.BuildTLSNCommitment(snap, mask, rendered.SensitiveRanges)
		if err != nil {
			return nil, err
		}
		header.SentRoot = c.SentRoot
		header.RecvRoot = c.RecvRoot
		header.AnchorMAC = shared.AnchorMAC(est.KeyAnchor, c.SentRoot, c.RecvRoot)
		artifact.TLSN = c.Disclosure
	case proof.ModeOrigo:
		d, piDigest, err := disclosure.BuildOrigoProof(ctx, snap, mask, man, parsed, disclosure.OrigoParams{
			EKM:            est.EKM,
			ManifestDigest: manifestDigest,
			Generator:      m.cfg.Generator,
			Prover:         m.cfg.Prover,
		})
		if err != nil {
			return nil, err
		}
		header.PublicInputsDigest = piDigest
		artifact.Origo = d
	}

	headerBytes, err := header.HeaderBytes()
	if err != nil {
		return nil, err
	}
	var signed shared.SignedHeader
	err = nc.call(shared.MsgCommitTranscript,
		shared.CommitTranscript{
			Token:       est.ChannelToken,
			KeyShare:    est.ClientShare,
			HeaderBytes: headerBytes,
		},
		shared.MsgSignedHeader, &signed)
	if err != nil {
		return nil, err
	}
	if err := shared.VerifyEthSignature(headerBytes, signed.Signature, common.HexToAddress(signed.NotaryAddress)); err != nil {
		return nil, fmt.Errorf("notary returned an unverifiable signature: %w", err)
	}

	artifact.Header = header
	artifact.Signature = signed.Signature
	artifact.NotaryAddress = signed.NotaryAddress
	return &artifact, nil
}
