package shared

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies one frame of the client<->notary protocol.
type MessageType string

const (
	// Session establishment (both modes)
	MsgSessionInit    MessageType = "session_init"
	MsgSessionCreated MessageType = "session_created"

	// TLSN handshake key-split
	MsgKeyShareCommit MessageType = "key_share_commit"
	MsgKeyShareReveal MessageType = "key_share_reveal"

	// Origo side channel
	MsgEKMChannelInit     MessageType = "ekm_channel_init"
	MsgEKMChannelReady    MessageType = "ekm_channel_ready"
	MsgCiphertextObserved MessageType = "ciphertext_observed"

	// Finalize
	MsgCommitTranscript MessageType = "commit_transcript"
	MsgSignedHeader     MessageType = "signed_header"

	// Errors and teardown
	MsgError MessageType = "error"
	MsgClose MessageType = "close"
)

// Message is the JSON envelope framing every notary-channel exchange.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage builds an envelope, marshaling data into the Data field.
func NewMessage(msgType MessageType, sessionID string, data interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// DecodeData unmarshals the Data field into the provided destination.
func (m *Message) DecodeData(v interface{}) error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	if v == nil {
		return fmt.Errorf("nil destination")
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s carries no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// SessionInitRequest is the client's opening frame.
type SessionInitRequest struct {
	Mode         string   `json:"mode"` // "tlsn" or "origo"
	ServerName   string   `json:"server_name"`
	MaxSentData  int      `json:"max_sent_data"`
	MaxRecvData  int      `json:"max_recv_data"`
	CipherSuites []uint16 `json:"cipher_suites"`
}

// SessionCreatedResponse acknowledges session registration.
type SessionCreatedResponse struct {
	SessionID   string `json:"session_id"`
	MaxSentData int    `json:"max_sent_data"`
	MaxRecvData int    `json:"max_recv_data"`
}

// KeyShareCommit carries the client's binding commitment to its handshake
// secret share (TLSN mode).
type KeyShareCommit struct {
	Commitment []byte `json:"commitment"`
}

// KeyShareReveal carries the notary's handshake secret share (TLSN mode).
type KeyShareReveal struct {
	NotaryShare []byte `json:"notary_share"`
}

// EKMChannelInit authenticates the Origo side channel with key material
// exported from the client<->origin TLS session.
type EKMChannelInit struct {
	EKMProof   []byte `json:"ekm_proof"`
	ServerName string `json:"server_name"`
}

// EKMChannelReady returns the notary's session token for the side channel.
type EKMChannelReady struct {
	Token string `json:"token"`
}

// CiphertextObserved reports one observed TLS record length (Origo mode).
type CiphertextObserved struct {
	Direction string `json:"direction"` // "sent" or "received"
	Length    int    `json:"length"`
}

// CommitTranscript asks the notary to sign the session header. In TLSN mode
// KeyShare opens the commitment sent earlier; the notary checks it and the
// header's anchor MAC before signing.
type CommitTranscript struct {
	Token       string `json:"token,omitempty"`     // Origo side-channel token
	KeyShare    []byte `json:"key_share,omitempty"` // TLSN commitment opening
	HeaderBytes []byte `json:"header_bytes"`
}

// SignedHeader returns the notary's signature over the committed header.
type SignedHeader struct {
	Signature     []byte `json:"signature"`
	NotaryAddress string `json:"notary_address"`
}

// ErrorPayload carries a structured protocol failure to the peer.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
