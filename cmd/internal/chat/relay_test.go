package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "lumora/shared/contracts/chat/v1"
)

// completerFunc adapts a func to the Completer interface.
type completerFunc func(ctx context.Context, query, convContext string) (string, error)

func (f completerFunc) Complete(ctx context.Context, query, convContext string) (string, error) {
	return f(ctx, query, convContext)
}

// recordingHub captures broadcast envelopes.
type recordingHub struct {
	mu   sync.Mutex
	envs []v1.Envelope
}

func (h *recordingHub) Broadcast(env v1.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envs = append(h.envs, env)
}

func (h *recordingHub) snapshot() []v1.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]v1.Envelope(nil), h.envs...)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.envs)
}

// failingStore fails selected operations with ErrStorageUnavailable.
type failingStore struct {
	inner    MessageStore
	failUser bool
	failAI   bool
}

func (s *failingStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if (in.Sender == SenderUser && s.failUser) || (in.Sender == SenderAI && s.failAI) {
		return Message{}, fmt.Errorf("%w: disk on fire", ErrStorageUnavailable)
	}
	return s.inner.Append(ctx, in)
}

func (s *failingStore) ListAll(ctx context.Context) ([]Message, error) { return s.inner.ListAll(ctx) }
func (s *failingStore) Close() error                                   { return nil }

// permanentErr is a non-retryable completion failure.
type permanentErr struct{}

func (permanentErr) Error() string   { return "bad request" }
func (permanentErr) Retryable() bool { return false }

func fastRelayConfig() RelayConfig {
	return RelayConfig{
		CompletionTimeout:  2 * time.Second,
		CompletionAttempts: 3,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      5 * time.Millisecond,
	}
}

func drain(t *testing.T, r *Relay) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("relay close: %v", err)
	}
}

func TestRelay_SuccessWorkflow(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	hub := &recordingHub{}

	// The user message must be persisted and broadcast strictly before the
	// completion request is issued.
	var broadcastsAtCall int
	completer := completerFunc(func(_ context.Context, query, convContext string) (string, error) {
		broadcastsAtCall = hub.count()
		if convContext != "" {
			return "", fmt.Errorf("expected empty context, got %q", convContext)
		}
		return "it decomposes a signal into frequencies", nil
	})

	r := NewRelay(testLogger(), store, completer, hub, fastRelayConfig())

	userMsg, err := r.HandleInbound(context.Background(), v1.SendMessagePayload{
		Text:   "what is fourier transform",
		Sender: v1.SenderUser,
	})
	if err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	drain(t, r)

	if broadcastsAtCall != 1 {
		t.Fatalf("completion called before user broadcast: broadcasts=%d", broadcastsAtCall)
	}

	all, err := store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("listAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 persisted messages got=%d", len(all))
	}
	if all[0].ID != userMsg.ID || all[0].Sender != SenderUser {
		t.Fatalf("first message: %+v", all[0])
	}
	if all[1].Sender != SenderAI {
		t.Fatalf("second message sender: %q", all[1].Sender)
	}
	if all[1].Text != "it decomposes a signal into frequencies" {
		t.Fatalf("ai text: %q", all[1].Text)
	}
	if all[1].ReplyTo != userMsg.ID {
		t.Fatalf("ai reply_to: got=%q want=%q", all[1].ReplyTo, userMsg.ID)
	}

	envs := hub.snapshot()
	if len(envs) != 2 {
		t.Fatalf("expected 2 broadcasts got=%d", len(envs))
	}
	for _, e := range envs {
		if e.Type != v1.TypeReceiveMessage {
			t.Fatalf("broadcast type: %q", e.Type)
		}
	}
}

func TestRelay_RejectsInvalidInbound(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   v1.SendMessagePayload
	}{
		{name: "ai sender", in: v1.SendMessagePayload{Text: "hi", Sender: v1.SenderAI}},
		{name: "unknown sender", in: v1.SendMessagePayload{Text: "hi", Sender: "robot"}},
		{name: "empty text", in: v1.SendMessagePayload{Sender: v1.SenderUser}},
		{name: "whitespace text", in: v1.SendMessagePayload{Text: "   ", Sender: v1.SenderUser}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := NewInMemoryStore()
			hub := &recordingHub{}
			completerCalled := false
			completer := completerFunc(func(context.Context, string, string) (string, error) {
				completerCalled = true
				return "", nil
			})

			r := NewRelay(testLogger(), store, completer, hub, fastRelayConfig())

			_, err := r.HandleInbound(context.Background(), tc.in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation got=%v", err)
			}
			drain(t, r)

			all, _ := store.ListAll(context.Background())
			if len(all) != 0 {
				t.Fatalf("rejected message persisted: %d", len(all))
			}
			if hub.count() != 0 {
				t.Fatalf("rejected message broadcast: %d", hub.count())
			}
			if completerCalled {
				t.Fatalf("completion invoked for rejected message")
			}
		})
	}
}

func TestRelay_StorageFailureSurfacesAndSkipsBroadcast(t *testing.T) {
	t.Parallel()

	hub := &recordingHub{}
	completerCalled := false
	completer := completerFunc(func(context.Context, string, string) (string, error) {
		completerCalled = true
		return "", nil
	})

	r := NewRelay(testLogger(), &failingStore{inner: NewInMemoryStore(), failUser: true}, completer, hub, fastRelayConfig())

	_, err := r.HandleInbound(context.Background(), v1.SendMessagePayload{Text: "hello", Sender: v1.SenderUser})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable got=%v", err)
	}
	drain(t, r)

	if hub.count() != 0 {
		t.Fatalf("unstored message was broadcast: %d", hub.count())
	}
	if completerCalled {
		t.Fatalf("completion invoked despite persistence failure")
	}
}

func TestRelay_CompletionFailureLeavesUserMessageOnly(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	hub := &recordingHub{}

	// First message fails permanently; the engine must still serve the next.
	completer := completerFunc(func(_ context.Context, query, _ string) (string, error) {
		if query == "doomed" {
			return "", permanentErr{}
		}
		return "fine answer", nil
	})

	r := NewRelay(testLogger(), store, completer, hub, fastRelayConfig())

	first, err := r.HandleInbound(context.Background(), v1.SendMessagePayload{Text: "doomed", Sender: v1.SenderUser})
	if err != nil {
		t.Fatalf("handle inbound first: %v", err)
	}
	second, err := r.HandleInbound(context.Background(), v1.SendMessagePayload{Text: "next one", Sender: v1.SenderUser})
	if err != nil {
		t.Fatalf("handle inbound second: %v", err)
	}
	drain(t, r)

	all, err := store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("listAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 persisted messages got=%d", len(all))
	}

	var aiCount int
	for _, m := range all {
		if m.Sender != SenderAI {
			continue
		}
		aiCount++
		if m.ReplyTo == first.ID {
			t.Fatalf("failed workflow produced an ai reply")
		}
		if m.ReplyTo != second.ID {
			t.Fatalf("ai reply_to: got=%q want=%q", m.ReplyTo, second.ID)
		}
	}
	if aiCount != 1 {
		t.Fatalf("expected exactly 1 ai message got=%d", aiCount)
	}
}

func TestRelay_RetriesTransientCompletionFailure(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	hub := &recordingHub{}

	var mu sync.Mutex
	calls := 0
	completer := completerFunc(func(context.Context, string, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return "", errors.New("connection reset")
		}
		return "second time lucky", nil
	})

	r := NewRelay(testLogger(), store, completer, hub, fastRelayConfig())

	if _, err := r.HandleInbound(context.Background(), v1.SendMessagePayload{Text: "try again", Sender: v1.SenderUser}); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	drain(t, r)

	mu.Lock()
	gotCalls := calls
	mu.Unlock()
	if gotCalls != 2 {
		t.Fatalf("expected 2 completion attempts got=%d", gotCalls)
	}

	all, _ := store.ListAll(context.Background())
	if len(all) != 2 || all[1].Text != "second time lucky" {
		t.Fatalf("unexpected history after retry: %+v", all)
	}
}

func TestRelay_DoesNotRetryPermanentFailure(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	hub := &recordingHub{}

	var mu sync.Mutex
	calls := 0
	completer := completerFunc(func(context.Context, string, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "", permanentErr{}
	})

	r := NewRelay(testLogger(), store, completer, hub, fastRelayConfig())

	if _, err := r.HandleInbound(context.Background(), v1.SendMessagePayload{Text: "nope", Sender: v1.SenderUser}); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	drain(t, r)

	mu.Lock()
	gotCalls := calls
	mu.Unlock()
	if gotCalls != 1 {
		t.Fatalf("expected 1 completion attempt got=%d", gotCalls)
	}

	all, _ := store.ListAll(context.Background())
	if len(all) != 1 {
		t.Fatalf("expected user message only got=%d", len(all))
	}
}

func TestRelay_ReplyPersistFailureIsIsolated(t *testing.T) {
	t.Parallel()

	store := &failingStore{inner: NewInMemoryStore(), failAI: true}
	hub := &recordingHub{}
	completer := completerFunc(func(context.Context, string, string) (string, error) {
		return "an answer nobody will see", nil
	})

	r := NewRelay(testLogger(), store, completer, hub, fastRelayConfig())

	if _, err := r.HandleInbound(context.Background(), v1.SendMessagePayload{Text: "hello", Sender: v1.SenderUser}); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	drain(t, r)

	// Only the user message broadcast; the unpersisted reply never leaks.
	if hub.count() != 1 {
		t.Fatalf("expected 1 broadcast got=%d", hub.count())
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	maxDelay := 1 * time.Second

	cases := []struct {
		retries int
		want    time.Duration
	}{
		{retries: 1, want: 100 * time.Millisecond},
		{retries: 2, want: 200 * time.Millisecond},
		{retries: 3, want: 400 * time.Millisecond},
		{retries: 4, want: 800 * time.Millisecond},
		{retries: 5, want: 1 * time.Second},
		{retries: 10, want: 1 * time.Second},
	}

	for _, tc := range cases {
		tc := tc
		got := backoffDelay(base, maxDelay, tc.retries)
		if got != tc.want {
			t.Fatalf("backoffDelay(retries=%d)=%v want=%v", tc.retries, got, tc.want)
		}
	}
}
