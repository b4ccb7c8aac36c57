package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lumora/cmd/internal/chat"
)

// historySource is the read-only surface the history endpoint needs.
type historySource interface {
	History(ctx context.Context) ([]chat.Message, error)
}

// historyMessage is the JSON shape served by GET /messages.
type historyMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// HistoryHandler serves the full persisted message history, oldest first.
// Thin pass-through over the store; no core logic beyond serialization.
func HistoryHandler(log *slog.Logger, src historySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		msgs, err := src.History(r.Context())
		if err != nil {
			log.Error("history.fetch.fail", "err", err)
			if errors.Is(err, chat.ErrStorageUnavailable) {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]historyMessage, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, historyMessage{
				ID:        m.ID,
				Text:      m.Text,
				Sender:    string(m.Sender),
				Timestamp: m.Timestamp,
				ReplyTo:   m.ReplyTo,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			log.Info("history.encode.fail", "err", err)
		}
	}
}
