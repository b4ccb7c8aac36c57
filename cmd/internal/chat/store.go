// Package chat contains Lumora's message relay core: persistence, the
// connection hub, the relay engine, and the realtime WebSocket gateway.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Valid reports whether the sender is one of the two accepted values.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Taxonomy errors. Callers distinguish them with errors.Is.
var (
	// ErrValidation marks a malformed message: reject, do not persist,
	// notify the sender.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable marks a durability failure: abort the workflow,
	// notify the sender, do not broadcast.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Message is the sole persisted entity. Immutable once written: the store
// exposes no update or delete path.
type Message struct {
	ID        string
	Text      string
	Sender    Sender
	Timestamp time.Time

	// ReplyTo names the user message that triggered this one.
	// Set only on ai messages.
	ReplyTo string

	// Seq is the store-assigned insertion order, used to break timestamp
	// ties. Monotonic per store, not part of the wire contract.
	Seq int64
}

// AppendInput describes a message append request.
type AppendInput struct {
	Text   string
	Sender Sender

	// Now defaults to persistence time when zero.
	Now time.Time

	// ReplyTo is carried through for ai messages; optional.
	ReplyTo string
}

func (in AppendInput) validate() error {
	if !in.Sender.Valid() {
		return fmt.Errorf("%w: invalid sender %q", ErrValidation, in.Sender)
	}
	if in.Text == "" {
		return fmt.Errorf("%w: empty text", ErrValidation)
	}
	return nil
}

// MessageStore persists and queries messages.
//
// Requirements:
//   - Append durably commits before returning; the record is visible to any
//     subsequent ListAll.
//   - ListAll returns a consistent snapshot ordered by (timestamp, seq) ASC
//     and is safe to call concurrently with Append.
//   - Seq allocation across concurrent appenders is store-assigned.
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (Message, error)
	ListAll(ctx context.Context) ([]Message, error)
	Close() error
}
