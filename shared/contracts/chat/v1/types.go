// Package v1 defines the Lumora chat wire protocol v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Sender values accepted on the wire. Anything else is rejected.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "helloAck"

	// TypeSendMessage submits a new user message (client -> server).
	TypeSendMessage = "sendMessage"
	// TypeReceiveMessage announces a persisted message (server -> all clients).
	// Emitted exactly once per persisted message, user and ai alike.
	TypeReceiveMessage = "receiveMessage"

	// TypeError reports a failure back to the submitting connection only
	// (server -> client). A message that fails to persist never disappears
	// silently: the sender gets one of these instead.
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSendMessage,
		TypeReceiveMessage,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload carries the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// SendMessagePayload submits a message into the shared conversation stream.
// Sender must be "user"; the server is the only writer of "ai" messages.
type SendMessagePayload struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

// ReceiveMessagePayload is broadcast when a message has been durably persisted.
// ReplyTo is set on ai messages and names the user message that triggered the
// completion, so receivers can thread replies even when completions finish
// out of submission order.
type ReceiveMessagePayload struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
