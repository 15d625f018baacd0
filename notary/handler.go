package notary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"webnotary/proof"
	"webnotary/shared"
	"webnotary/transcript"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper origin checking
		return true
	},
}

// handleNotarize runs the notarization protocol over one websocket
// connection. The protocol is strictly request/response, so a single read
// loop owns the connection.
func (s *Service) handleNotarize(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithConnection(r.RemoteAddr).Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.log.WithConnection(r.RemoteAddr)
	var sessionID string
	defer func() {
		if sessionID != "" {
			s.dropSession(sessionID)
		}
	}()

	for {
		var msg shared.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case shared.MsgSessionInit:
			id, err := s.onSessionInit(conn, &msg)
			if err != nil {
				s.sendError(conn, msg.SessionID, "session_init_rejected", err)
				return
			}
			sessionID = id
			log = s.log.WithSession(sessionID)

		case shared.MsgKeyShareCommit:
			if err := s.onKeyShareCommit(conn, &msg); err != nil {
				s.sendError(conn, msg.SessionID, "key_share_rejected", err)
				return
			}

		case shared.MsgEKMChannelInit:
			if err := s.onEKMChannelInit(conn, &msg); err != nil {
				s.sendError(conn, msg.SessionID, "ekm_channel_rejected", err)
				return
			}

		case shared.MsgCiphertextObserved:
			if err := s.onCiphertextObserved(&msg); err != nil {
				s.sendError(conn, msg.SessionID, "ciphertext_rejected", err)
				return
			}

		case shared.MsgCommitTranscript:
			if err := s.onCommitTranscript(conn, &msg); err != nil {
				s.sendError(conn, msg.SessionID, "commit_rejected", err)
				return
			}
			log.Info("session header signed")

		case shared.MsgClose:
			return

		default:
			s.sendError(conn, msg.SessionID, "unexpected_message",
				fmt.Errorf("message %q has no handler", msg.Type))
			return
		}
	}
}

func (s *Service) onSessionInit(conn *websocket.Conn, msg *shared.Message) (string, error) {
	var req shared.SessionInitRequest
	if err := msg.DecodeData(&req); err != nil {
		return "", err
	}
	sess, err := s.createSession(&req)
	if err != nil {
		return "", err
	}
	s.log.WithSession(sess.id).Info("session created",
		zap.String("mode", sess.mode),
		zap.String("server_name", sess.serverName))

	resp := shared.SessionCreatedResponse{
		SessionID:   sess.id,
		MaxSentData: sess.maxSent,
		MaxRecvData: sess.maxRecv,
	}
	return sess.id, s.send(conn, shared.MsgSessionCreated, sess.id, resp)
}

// onKeyShareCommit stores the client's binding commitment and answers with
// the notary's fresh share. Commit strictly precedes reveal: the client is
// bound to its share before it learns ours.
func (s *Service) onKeyShareCommit(conn *websocket.Conn, msg *shared.Message) error {
	sess, err := s.lookupSession(msg.SessionID)
	if err != nil {
		return err
	}
	if sess.mode != proof.ModeTLSN {
		return fmt.Errorf("key shares have no place in %s mode", sess.mode)
	}
	if sess.clientCommitment != nil {
		return fmt.Errorf("key share already committed")
	}

	var commit shared.KeyShareCommit
	if err := msg.DecodeData(&commit); err != nil {
		return err
	}
	if len(commit.Commitment) != 32 {
		return fmt.Errorf("commitment must be 32 bytes, got %d", len(commit.Commitment))
	}

	share, err := newNotaryShare()
	if err != nil {
		return err
	}
	sess.clientCommitment = commit.Commitment
	sess.notaryShare = share

	return s.send(conn, shared.MsgKeyShareReveal, sess.id, shared.KeyShareReveal{NotaryShare: share})
}

// onEKMChannelInit binds the Origo side channel to the client's TLS session
// and mints the token the finalize step must present.
func (s *Service) onEKMChannelInit(conn *websocket.Conn, msg *shared.Message) error {
	sess, err := s.lookupSession(msg.SessionID)
	if err != nil {
		return err
	}
	if sess.mode != proof.ModeOrigo {
		return fmt.Errorf("EKM channel has no place in %s mode", sess.mode)
	}
	if sess.channelKey != nil {
		return fmt.Errorf("EKM channel already established")
	}

	var init shared.EKMChannelInit
	if err := msg.DecodeData(&init); err != nil {
		return err
	}
	if len(init.EKMProof) != 32 {
		return fmt.Errorf("EKM channel key must be 32 bytes, got %d", len(init.EKMProof))
	}
	if init.ServerName != sess.serverName {
		return fmt.Errorf("EKM channel server name %q does not match session %q", init.ServerName, sess.serverName)
	}
	sess.channelKey = init.EKMProof

	token, err := s.mintChannelToken(sess)
	if err != nil {
		return err
	}
	return s.send(conn, shared.MsgEKMChannelReady, sess.id, shared.EKMChannelReady{Token: token})
}

func (s *Service) onCiphertextObserved(msg *shared.Message) error {
	sess, err := s.lookupSession(msg.SessionID)
	if err != nil {
		return err
	}
	if sess.mode != proof.ModeOrigo {
		return fmt.Errorf("ciphertext observation has no place in %s mode", sess.mode)
	}

	var obs shared.CiphertextObserved
	if err := msg.DecodeData(&obs); err != nil {
		return err
	}
	if obs.Length <= 0 {
		return fmt.Errorf("observed length must be positive, got %d", obs.Length)
	}
	switch obs.Direction {
	case transcript.Sent.String():
		if sess.observedSent+obs.Length > sess.maxSent {
			return fmt.Errorf("sent data cap %d exceeded", sess.maxSent)
		}
		sess.observedSent += obs.Length
	case transcript.Received.String():
		if sess.observedRecv+obs.Length > sess.maxRecv {
			return fmt.Errorf("recv data cap %d exceeded", sess.maxRecv)
		}
		sess.observedRecv += obs.Length
	default:
		return fmt.Errorf("unknown direction %q", obs.Direction)
	}
	return nil
}

// onCommitTranscript validates the session header against everything the
// notary witnessed and signs it.
func (s *Service) onCommitTranscript(conn *websocket.Conn, msg *shared.Message) error {
	sess, err := s.lookupSession(msg.SessionID)
	if err != nil {
		return err
	}
	if sess.signed {
		return fmt.Errorf("session header already signed")
	}

	var commit shared.CommitTranscript
	if err := msg.DecodeData(&commit); err != nil {
		return err
	}

	var header proof.SessionHeader
	if err := json.Unmarshal(commit.HeaderBytes, &header); err != nil {
		return fmt.Errorf("failed to decode session header: %w", err)
	}
	if err := s.checkHeader(sess, &commit, &header); err != nil {
		return err
	}

	// Sign the exact bytes the client committed, not a re-serialization.
	canonical, err := header.HeaderBytes()
	if err != nil {
		return err
	}
	if !bytes.Equal(canonical, commit.HeaderBytes) {
		return fmt.Errorf("header bytes are not in canonical form")
	}
	sig, err := s.keys.SignData(commit.HeaderBytes)
	if err != nil {
		return fmt.Errorf("failed to sign session header: %w", err)
	}

	sess.signed = true
	sess.zeroize()

	return s.send(conn, shared.MsgSignedHeader, sess.id, shared.SignedHeader{
		Signature:     sig,
		NotaryAddress: s.keys.Address().Hex(),
	})
}

// checkHeader enforces the mode-specific signing preconditions.
func (s *Service) checkHeader(sess *session, commit *shared.CommitTranscript, header *proof.SessionHeader) error {
	if header.SessionID != sess.id {
		return fmt.Errorf("header session %q does not match %q", header.SessionID, sess.id)
	}
	if header.Mode != sess.mode {
		return fmt.Errorf("header mode %q does not match session mode %q", header.Mode, sess.mode)
	}
	if header.ServerName != sess.serverName {
		return fmt.Errorf("header server name %q does not match session %q", header.ServerName, sess.serverName)
	}
	if header.SentLen < 0 || header.SentLen > sess.maxSent {
		return fmt.Errorf("sent length %d outside [0, %d]", header.SentLen, sess.maxSent)
	}
	if header.RecvLen < 0 || header.RecvLen > sess.maxRecv {
		return fmt.Errorf("recv length %d outside [0, %d]", header.RecvLen, sess.maxRecv)
	}
	if len(header.ManifestDigest) == 0 {
		return fmt.Errorf("header carries no manifest digest")
	}
	if !shared.IsAllowedCipherSuite(header.CipherSuite) {
		return fmt.Errorf("cipher suite 0x%04x is not notarizable", header.CipherSuite)
	}

	switch sess.mode {
	case proof.ModeTLSN:
		if sess.notaryShare == nil {
			return fmt.Errorf("key share exchange never completed")
		}
		if len(header.SentRoot) == 0 || len(header.RecvRoot) == 0 {
			return fmt.Errorf("header carries no commitment roots")
		}
		if len(commit.KeyShare) != 32 {
			return fmt.Errorf("client key share must be 32 bytes, got %d", len(commit.KeyShare))
		}
		if !bytes.Equal(shared.Keccak256(commit.KeyShare), sess.clientCommitment) {
			return fmt.Errorf("revealed key share does not open the commitment")
		}
		anchor, err := shared.DeriveKeyAnchor(commit.KeyShare, sess.notaryShare)
		if err != nil {
			return err
		}
		defer shared.Zeroize(anchor)
		if !bytes.Equal(header.AnchorMAC, shared.AnchorMAC(anchor, header.SentRoot, header.RecvRoot)) {
			return fmt.Errorf("header anchor MAC does not bind the split-key anchor to the roots")
		}
	case proof.ModeOrigo:
		if sess.channelKey == nil {
			return fmt.Errorf("EKM channel never established")
		}
		if err := s.checkChannelToken(sess, commit.Token); err != nil {
			return err
		}
		if len(header.PublicInputsDigest) == 0 {
			return fmt.Errorf("header carries no public inputs digest")
		}
		if header.SentLen != sess.observedSent || header.RecvLen != sess.observedRecv {
			return fmt.Errorf("header lengths %d/%d do not match observed %d/%d",
				header.SentLen, header.RecvLen, sess.observedSent, sess.observedRecv)
		}
	}
	return nil
}

// mintChannelToken issues the HS256 token keyed by the EKM-derived channel
// secret. Only the client holding the same TLS session can have derived the
// key the token verifies under.
func (s *Service) mintChannelToken(sess *session) (string, error) {
	claims := jwt.MapClaims{
		"sid": sess.id,
		"srv": sess.serverName,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(s.cfg.TokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sess.channelKey)
	if err != nil {
		return "", fmt.Errorf("failed to mint channel token: %w", err)
	}
	return token, nil
}

func (s *Service) checkChannelToken(sess *session, token string) error {
	if token == "" {
		return fmt.Errorf("missing channel token")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return sess.channelKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("channel token rejected: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("channel token carries no claims")
	}
	if sid, _ := claims["sid"].(string); sid != sess.id {
		return fmt.Errorf("channel token bound to session %q, not %q", sid, sess.id)
	}
	return nil
}

func (s *Service) send(conn *websocket.Conn, msgType shared.MessageType, sessionID string, data interface{}) error {
	msg, err := shared.NewMessage(msgType, sessionID, data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (s *Service) sendError(conn *websocket.Conn, sessionID, code string, cause error) {
	s.log.WithSession(sessionID).Warn("protocol error",
		zap.String("code", code), zap.Error(cause))
	msg, err := shared.NewMessage(shared.MsgError, sessionID, shared.ErrorPayload{
		Code:    code,
		Message: cause.Error(),
	})
	if err != nil {
		return
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.WithSession(sessionID).Warn("failed to send error frame", zap.Error(err))
	}
}
