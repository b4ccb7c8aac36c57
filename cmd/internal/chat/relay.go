package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lumora/cmd/internal/metrics"
	v1 "lumora/shared/contracts/chat/v1"
)

// Completer is the outbound completion-service contract.
// Implementations must not retry internally; retry policy lives here.
type Completer interface {
	Complete(ctx context.Context, query, convContext string) (string, error)
}

// Broadcaster delivers an envelope to every connected client.
type Broadcaster interface {
	Broadcast(env v1.Envelope)
}

// ContextProvider supplies the conversation context string for a
// completion call. This deployment always supplies an empty context, but
// the contract allows building one from prior messages.
type ContextProvider func(ctx context.Context, trigger Message) (string, error)

// RelayConfig tunes the per-workflow completion policy.
type RelayConfig struct {
	// CompletionTimeout bounds each completion attempt.
	CompletionTimeout time.Duration

	// CompletionAttempts is the total attempt budget (first try included).
	CompletionAttempts int

	// RetryBaseDelay and RetryMaxDelay shape the capped exponential backoff
	// between retryable failures.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Context builds the "relevant context" for a completion call.
	// Nil means always empty.
	Context ContextProvider
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 30 * time.Second
	}
	if c.CompletionAttempts <= 0 {
		c.CompletionAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Relay turns one inbound user message into persistence, broadcast, and a
// completion round-trip.
//
// Workflow per message: RECEIVED -> PERSISTED -> BROADCAST -> COMPLETING
// -> COMPLETED, or FAILED at any step after validation. Persist and
// broadcast of the user message happen synchronously on the caller's
// goroutine so a persistence failure can be surfaced to the submitting
// connection; the completion round-trip runs as an independent task.
type Relay struct {
	log       *slog.Logger
	store     MessageStore
	completer Completer
	hub       Broadcaster
	cfg       RelayConfig

	// lifecycle for in-flight completion tasks. Tasks deliberately do NOT
	// inherit the inbound request context: a client disconnect must not
	// cancel its pending completion.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// NewRelay constructs a relay engine with explicit collaborators.
func NewRelay(log *slog.Logger, store MessageStore, completer Completer, hub Broadcaster, cfg RelayConfig) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		log:       log,
		store:     store,
		completer: completer,
		hub:       hub,
		cfg:       cfg.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// HandleInbound runs the synchronous half of the workflow for one inbound
// client event: validate, persist, broadcast, then schedule the completion
// task. The returned error is ErrValidation or ErrStorageUnavailable and
// must be surfaced to the submitting connection.
func (r *Relay) HandleInbound(ctx context.Context, p v1.SendMessagePayload) (Message, error) {
	// RECEIVED: inbound messages must come from a user.
	if p.Sender != v1.SenderUser {
		return Message{}, fmt.Errorf("%w: inbound sender must be %q, got %q", ErrValidation, v1.SenderUser, p.Sender)
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return Message{}, fmt.Errorf("%w: empty text", ErrValidation)
	}
	if len([]rune(text)) > maxMessageChars {
		return Message{}, fmt.Errorf("%w: message too long: max=%d chars", ErrValidation, maxMessageChars)
	}

	// PERSISTED: the store commits before anyone hears about the message.
	userMsg, err := r.store.Append(ctx, AppendInput{
		Text:   text,
		Sender: SenderUser,
	})
	if err != nil {
		metrics.WorkflowsFailed.WithLabelValues("persist").Inc()
		r.log.Error("relay.persist.fail", "err", err)
		return Message{}, err
	}
	metrics.MessagesPersisted.WithLabelValues(string(SenderUser)).Inc()

	// BROADCAST: strictly before the completion request is issued.
	r.broadcast(userMsg)

	// COMPLETING: independent task, ordered only by its own arrival.
	if !r.schedule(userMsg) {
		r.log.Warn("relay.completion.skip", "reason", "shutting down", "message_id", userMsg.ID)
	}

	return userMsg, nil
}

// History returns the full persisted message history, oldest first.
// Thin pass-through kept on the relay so HTTP handlers share one surface.
func (r *Relay) History(ctx context.Context) ([]Message, error) {
	return r.store.ListAll(ctx)
}

// Close stops accepting new completion tasks and waits for in-flight ones
// until ctx expires, then cancels whatever is left.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return fmt.Errorf("relay: close: %w", ctx.Err())
	}
}

func (r *Relay) schedule(trigger Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.completeAndReply(trigger)
	}()
	return true
}

// completeAndReply drives COMPLETING -> COMPLETED/FAILED for one workflow.
// Failures here are isolated: they are logged and counted, never crash the
// engine, and never touch other in-flight workflows.
func (r *Relay) completeAndReply(trigger Message) {
	convContext := ""
	if r.cfg.Context != nil {
		cc, err := r.cfg.Context(r.ctx, trigger)
		if err != nil {
			// A broken context provider degrades to an empty context rather
			// than losing the reply.
			r.log.Warn("relay.context.fail", "message_id", trigger.ID, "err", err)
		} else {
			convContext = cc
		}
	}

	answer, err := r.completeWithRetry(trigger, convContext)
	if err != nil {
		metrics.WorkflowsFailed.WithLabelValues("completion").Inc()
		r.log.Error("relay.completion.fail", "message_id", trigger.ID, "err", err)
		return
	}

	aiMsg, err := r.store.Append(r.ctx, AppendInput{
		Text:    answer,
		Sender:  SenderAI,
		ReplyTo: trigger.ID,
	})
	if err != nil {
		metrics.WorkflowsFailed.WithLabelValues("persist").Inc()
		r.log.Error("relay.reply.persist.fail", "message_id", trigger.ID, "err", err)
		return
	}
	metrics.MessagesPersisted.WithLabelValues(string(SenderAI)).Inc()

	r.broadcast(aiMsg)
	r.log.Info("relay.workflow.completed", "message_id", trigger.ID, "reply_id", aiMsg.ID)
}

// completeWithRetry calls the completion service with a bounded timeout
// per attempt and capped exponential backoff between retryable failures.
func (r *Relay) completeWithRetry(trigger Message, convContext string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.CompletionAttempts; attempt++ {
		if attempt > 1 {
			metrics.CompletionRetries.Inc()
			if !r.sleep(backoffDelay(r.cfg.RetryBaseDelay, r.cfg.RetryMaxDelay, attempt-1)) {
				return "", fmt.Errorf("relay: shutdown during backoff: %w", lastErr)
			}
		}

		attemptCtx, cancel := context.WithTimeout(r.ctx, r.cfg.CompletionTimeout)
		start := time.Now()
		answer, err := r.completer.Complete(attemptCtx, trigger.Text, convContext)
		cancel()
		metrics.CompletionDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.CompletionRequests.WithLabelValues("ok").Inc()
			return answer, nil
		}

		metrics.CompletionRequests.WithLabelValues("error").Inc()
		lastErr = err

		if r.ctx.Err() != nil {
			return "", lastErr
		}
		if !isRetryable(err) {
			r.log.Info("relay.completion.no_retry", "message_id", trigger.ID, "err", err)
			return "", lastErr
		}
		r.log.Warn("relay.completion.retry", "message_id", trigger.ID, "attempt", attempt, "err", err)
	}

	return "", lastErr
}

func (r *Relay) broadcast(m Message) {
	payload, err := json.Marshal(v1.ReceiveMessagePayload{
		ID:        m.ID,
		Text:      m.Text,
		Sender:    string(m.Sender),
		Timestamp: m.Timestamp,
		ReplyTo:   m.ReplyTo,
	})
	if err != nil {
		r.log.Error("relay.broadcast.encode.fail", "message_id", m.ID, "err", err)
		return
	}
	r.hub.Broadcast(NewEnvelope(v1.TypeReceiveMessage, payload, m.Timestamp))
}

// sleep waits for d unless the engine shuts down first.
func (r *Relay) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// retryable is implemented by errors that know whether a retry is worth it
// (completion.Error reports 4xx as permanent).
type retryable interface {
	Retryable() bool
}

func isRetryable(err error) bool {
	var re retryable
	if errors.As(err, &re) {
		return re.Retryable()
	}
	// Unknown failures are assumed transient.
	return true
}

func backoffDelay(base, maxDelay time.Duration, retries int) time.Duration {
	d := base
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// NewEnvelope wraps a payload in the canonical wire envelope.
func NewEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id, _ := NewEnvelopeID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}
