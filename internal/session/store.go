package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/basketd/basketd/internal/log"
)

// ErrNotFound indicates the requested chat session does not exist.
// Callers check it with errors.Is.
var ErrNotFound = errors.New("chat session not found")

// DB is the database surface the store needs. *pgxpool.Pool satisfies it;
// tests substitute a fake. Interface defined by the consumer, not the
// provider.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store persists chat sessions to PostgreSQL as a single JSONB state
// document keyed by (chat_id, client_id).
//
// Concurrency between turns of the same chat is not arbitrated here;
// each save fully rewrites the state row.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a session store backed by db.
func NewStore(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Load retrieves a session. Returns ErrNotFound when no row exists.
func (s *Store) Load(ctx context.Context, chatID, clientID string) (*ChatSession, error) {
	row := s.db.QueryRow(ctx,
		`SELECT state FROM chat_sessions WHERE chat_id = $1 AND client_id = $2`,
		chatID, clientID)

	var state []byte
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load chat session: %w", err)
	}

	var sess ChatSession
	if err := json.Unmarshal(state, &sess); err != nil {
		return nil, fmt.Errorf("decode chat session state: %w", err)
	}
	if sess.StoresCarts == nil {
		sess.StoresCarts = make(map[string][]Product)
	}

	s.logger.Debug("loaded chat session",
		"chat_id", chatID, "messages", len(sess.Messages), "cart_items", len(sess.Order))
	return &sess, nil
}

// Save upserts the full session state.
func (s *Store) Save(ctx context.Context, sess *ChatSession) error {
	sess.UpdatedAt = time.Now().UTC()

	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode chat session state: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO chat_sessions (chat_id, client_id, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (chat_id, client_id)
		 DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		sess.ChatID, sess.ClientID, state, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save chat session: %w", err)
	}

	s.logger.Debug("saved chat session", "chat_id", sess.ChatID)
	return nil
}

// Ping reports whether the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
