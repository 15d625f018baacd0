package session

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"webnotary/disclosure"
	"webnotary/proof"
	"webnotary/shared"
)

// ekmLabel is the exporter label anchoring Origo proofs to the TLS session.
const ekmLabel = "EXPORTER-web-notarization"

// Established is the outcome of a mode setup: the TLS application channel
// plus the mode-specific anchor material.
type Established struct {
	Conn  *tls.Conn
	State tls.ConnectionState

	// KeyAnchor is the TLSN-mode shared handshake anchor, derived from
	// both parties' key shares. ClientShare is retained until finalize,
	// where it opens the commitment so the notary can re-derive the anchor.
	KeyAnchor   []byte
	ClientShare []byte

	// EKM and ChannelToken carry the Origo side-channel material.
	EKM          []byte
	ChannelToken string
}

// Zeroize wipes the anchor secrets once the session no longer needs them.
func (e *Established) Zeroize() {
	shared.Zeroize(e.KeyAnchor)
	shared.Zeroize(e.ClientShare)
	shared.Zeroize(e.EKM)
	e.KeyAnchor = nil
	e.ClientShare = nil
	e.EKM = nil
}

// Setup establishes the TLS connection and the notary relationship for one
// proof mode.
type Setup interface {
	Mode() string
	Establish(ctx context.Context, nc *notaryClient, target string, tlsCfg *tls.Config, dialTimeout time.Duration) (*Established, error)
}

// SetupFor returns the setup implementation for a proof mode.
func SetupFor(mode string) (Setup, error) {
	switch mode {
	case proof.ModeTLSN:
		return &TLSNSetup{}, nil
	case proof.ModeOrigo:
		return &OrigoSetup{}, nil
	}
	return nil, fmt.Errorf("unknown proof mode %q", mode)
}

func dialTLS(ctx context.Context, target string, tlsCfg *tls.Config, timeout time.Duration) (*tls.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    tlsCfg,
	}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("TLS dial %s failed: %w", target, err)
	}
	return conn.(*tls.Conn), nil
}

// TLSNSetup splits control of the handshake secret with the notary:
// the client commits to its share before learning the notary's, then both
// shares feed the session key anchor. Neither party alone can forge a
// transcript the other will co-sign.
type TLSNSetup struct{}

func (s *TLSNSetup) Mode() string { return proof.ModeTLSN }

func (s *TLSNSetup) Establish(ctx context.Context, nc *notaryClient, target string, tlsCfg *tls.Config, dialTimeout time.Duration) (*Established, error) {
	clientShare := make([]byte, 32)
	if _, err := rand.Read(clientShare); err != nil {
		return nil, fmt.Errorf("failed to draw client key share: %w", err)
	}

	var reveal shared.KeyShareReveal
	err := nc.call(shared.MsgKeyShareCommit,
		shared.KeyShareCommit{Commitment: shared.Keccak256(clientShare)},
		shared.MsgKeyShareReveal, &reveal)
	if err != nil {
		return nil, err
	}
	if len(reveal.NotaryShare) != 32 {
		return nil, fmt.Errorf("notary share must be 32 bytes, got %d", len(reveal.NotaryShare))
	}
	defer shared.Zeroize(reveal.NotaryShare)

	anchor, err := shared.DeriveKeyAnchor(clientShare, reveal.NotaryShare)
	if err != nil {
		return nil, err
	}

	conn, err := dialTLS(ctx, target, tlsCfg, dialTimeout)
	if err != nil {
		shared.Zeroize(anchor)
		shared.Zeroize(clientShare)
		return nil, err
	}
	return &Established{
		Conn:        conn,
		State:       conn.ConnectionState(),
		KeyAnchor:   anchor,
		ClientShare: clientShare,
	}, nil
}

// OrigoSetup terminates TLS at the client and anchors the proof to the
// session via exported keying material: the EKM-derived channel key
// authenticates the notary side channel, so the token the notary mints is
// only mintable for this exact TLS session.
type OrigoSetup struct{}

func (s *OrigoSetup) Mode() string { return proof.ModeOrigo }

func (s *OrigoSetup) Establish(ctx context.Context, nc *notaryClient, target string, tlsCfg *tls.Config, dialTimeout time.Duration) (*Established, error) {
	conn, err := dialTLS(ctx, target, tlsCfg, dialTimeout)
	if err != nil {
		return nil, err
	}
	state := conn.ConnectionState()

	ekm, err := state.ExportKeyingMaterial(ekmLabel, nil, 32)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export keying material: %w", err)
	}
	channelKey, err := disclosure.ChannelMACKey(ekm)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var ready shared.EKMChannelReady
	err = nc.call(shared.MsgEKMChannelInit,
		shared.EKMChannelInit{EKMProof: channelKey, ServerName: tlsCfg.ServerName},
		shared.MsgEKMChannelReady, &ready)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Established{
		Conn:         conn,
		State:        state,
		EKM:          ekm,
		ChannelToken: ready.Token,
	}, nil
}
