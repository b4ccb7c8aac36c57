package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Seq is a bigserial assigned by the database, so concurrent appenders
//   get store-assigned insertion order without any app-level lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "lumora").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "lumora",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the schema and messages table when absent.
// Safe to call at every startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}

	schema := pgx.Identifier{s.schema}.Sanitize()
	messages := pgIdent(s.schema, "messages")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
		     seq        BIGSERIAL PRIMARY KEY,
		     id         TEXT        NOT NULL UNIQUE,
		     text       TEXT        NOT NULL CHECK (text <> ''),
		     sender     TEXT        NOT NULL CHECK (sender IN ('user', 'ai')),
		     reply_to   TEXT        NOT NULL DEFAULT '',
		     ts         TIMESTAMPTZ NOT NULL DEFAULT now()
		 )`,
		`CREATE INDEX IF NOT EXISTS messages_ts_seq_idx ON ` + messages + ` (ts, seq)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// Append durably commits a message and returns it with store-assigned
// id, timestamp, and seq.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
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

	messages := pgIdent(s.schema, "messages")

	var seq int64
	if err := s.pool.QueryRow(ctx,
		`INSERT INTO `+messages+` (id, text, sender, reply_to, ts)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING seq`,
		id, in.Text, string(in.Sender), in.ReplyTo, now,
	).Scan(&seq); err != nil {
		return Message{}, fmt.Errorf("%w: insert message: %v", ErrStorageUnavailable, err)
	}

	return Message{
		ID:        id,
		Text:      in.Text,
		Sender:    in.Sender,
		Timestamp: now,
		ReplyTo:   in.ReplyTo,
		Seq:       seq,
	}, nil
}

// ListAll returns every persisted message ordered by (ts, seq) ASC.
func (s *PostgresStore) ListAll(ctx context.Context) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, text, sender, reply_to, ts, seq
		   FROM `+messages+`
		  ORDER BY ts ASC, seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query messages: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m      Message
			sender string
		)
		if err := rows.Scan(&m.ID, &m.Text, &sender, &m.ReplyTo, &m.Timestamp, &m.Seq); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrStorageUnavailable, err)
		}
		m.Sender = Sender(sender)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read messages: %v", ErrStorageUnavailable, err)
	}

	return msgs, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
