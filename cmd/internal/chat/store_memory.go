package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const memMaxMessages = 50_000

// InMemoryStore is a dev/test fallback when no database is configured.
// It honors the full MessageStore contract:
//   - Append validates, assigns id/timestamp/seq, and is immediately
//     visible to ListAll.
//   - ListAll returns a snapshot copy ordered by (timestamp, seq).
type InMemoryStore struct {
	mu   sync.Mutex
	seq  int64
	msgs []Message
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		msgs: make([]Message, 0, 256),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append persists a message with store-assigned id, timestamp, and seq.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if err := in.validate(); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg := Message{
		ID:        id,
		Text:      in.Text,
		Sender:    in.Sender,
		Timestamp: now,
		ReplyTo:   in.ReplyTo,
		Seq:       s.seq,
	}
	s.msgs = append(s.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if len(s.msgs) > memMaxMessages {
		s.msgs = s.msgs[len(s.msgs)-memMaxMessages:]
	}

	return msg, nil
}

// ListAll returns all messages ordered by (timestamp, seq) ASC.
func (s *InMemoryStore) ListAll(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	snap := append([]Message(nil), s.msgs...)
	s.mu.Unlock()

	sort.SliceStable(snap, func(i, j int) bool {
		if snap[i].Timestamp.Equal(snap[j].Timestamp) {
			return snap[i].Seq < snap[j].Seq
		}
		return snap[i].Timestamp.Before(snap[j].Timestamp)
	})

	return snap, nil
}
