package session

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"webnotary/shared"
)

// notaryClient is the client half of the notary websocket protocol. The
// protocol is request/response, so one goroutine owns the connection.
type notaryClient struct {
	conn      *websocket.Conn
	sessionID string
	timeout   time.Duration
}

func dialNotary(ctx context.Context, rawURL string, timeout time.Duration) (*notaryClient, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("notary dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("notary dial failed: %w", err)
	}
	return &notaryClient{conn: conn, timeout: timeout}, nil
}

// init opens a session and pins the notary-assigned ID onto the client.
func (c *notaryClient) init(req shared.SessionInitRequest) (*shared.SessionCreatedResponse, error) {
	var resp shared.SessionCreatedResponse
	if err := c.call(shared.MsgSessionInit, req, shared.MsgSessionCreated, &resp); err != nil {
		return nil, err
	}
	c.sessionID = resp.SessionID
	return &resp, nil
}

// call sends one frame and waits for the expected response type. An error
// frame from the notary becomes a Go error carrying its code and message.
func (c *notaryClient) call(msgType shared.MessageType, data interface{}, want shared.MessageType, dest interface{}) error {
	if err := c.notify(msgType, data); err != nil {
		return err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	var msg shared.Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("notary channel read failed: %w", err)
	}
	if msg.Type == shared.MsgError {
		var errPayload shared.ErrorPayload
		if err := msg.DecodeData(&errPayload); err != nil {
			return fmt.Errorf("notary rejected %s", msgType)
		}
		return fmt.Errorf("notary rejected %s: %s (%s)", msgType, errPayload.Message, errPayload.Code)
	}
	if msg.Type != want {
		return fmt.Errorf("expected %s from notary, got %s", want, msg.Type)
	}
	if dest != nil {
		return msg.DecodeData(dest)
	}
	return nil
}

// notify sends one frame without waiting for a response.
func (c *notaryClient) notify(msgType shared.MessageType, data interface{}) error {
	msg, err := shared.NewMessage(msgType, c.sessionID, data)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("notary channel write failed: %w", err)
	}
	return nil
}

// close tears down the channel, telling the notary first so it can drop the
// session state immediately.
func (c *notaryClient) close() {
	msg, err := shared.NewMessage(shared.MsgClose, c.sessionID, nil)
	if err == nil {
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteJSON(msg)
	}
	c.conn.Close()
}
