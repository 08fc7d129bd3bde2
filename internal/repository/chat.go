package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-api/internal/domain/chat"
)

const (
	chatColumns = `id, customer_phone, name, order_id, order_number, status,
		started_as_guest, messages, last_message_at, created_at, closed_at`

	createChatSessionSQL = `INSERT INTO chat_sessions (` + chatColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getChatSessionSQL = `SELECT ` + chatColumns + ` FROM chat_sessions WHERE id = $1`

	findOpenChatSessionSQL = `SELECT ` + chatColumns + ` FROM chat_sessions
		WHERE customer_phone = $1 AND status = 'open'`

	// Appending is scoped to open sessions so a message racing a close can
	// never resurrect a sealed transcript.
	appendChatMessageSQL = `UPDATE chat_sessions
		SET messages = messages || $2::jsonb, last_message_at = $3
		WHERE id = $1 AND status = 'open'
		RETURNING ` + chatColumns

	closeChatSessionSQL = `UPDATE chat_sessions
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'open'`

	chatSessionExistsSQL = `SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id = $1)`

	listChatSessionsSQL = `SELECT id, customer_phone, name, order_number, status,
		started_as_guest, jsonb_array_length(messages), last_message_at
		FROM chat_sessions WHERE status = $1
		ORDER BY last_message_at DESC LIMIT $2`
)

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index on open sessions per phone.
const uniqueViolation = "23505"

var _ chat.Repository = (*ChatRepository)(nil)

// ChatRepository implements chat.Repository backed by PostgreSQL. The
// transcript lives in a JSONB array column and grows by atomic appends.
type ChatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository returns a ChatRepository that uses the given pool.
func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// Create persists a new session. chat.ErrAlreadyOpen is returned when the
// phone number already has an open session.
func (r *ChatRepository) Create(ctx context.Context, s *chat.Session) error {
	messagesJSON, err := json.Marshal(messagesOrEmpty(s.Messages))
	if err != nil {
		return fmt.Errorf("marshaling chat messages: %w", err)
	}

	_, err = r.pool.Exec(ctx, createChatSessionSQL,
		s.ID, s.Phone, s.Name, s.OrderID, s.OrderNumber, string(s.Status),
		s.StartedAsGuest, messagesJSON, s.LastMessageAt, s.CreatedAt, s.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return chat.ErrAlreadyOpen
		}
		return fmt.Errorf("creating chat session %q: %w", s.ID, err)
	}
	return nil
}

// GetByID returns a full session transcript.
func (r *ChatRepository) GetByID(ctx context.Context, id string) (*chat.Session, error) {
	return r.getOne(ctx, getChatSessionSQL, id)
}

// FindOpenByPhone returns the open session for a phone number, if any.
func (r *ChatRepository) FindOpenByPhone(ctx context.Context, phone string) (*chat.Session, error) {
	return r.getOne(ctx, findOpenChatSessionSQL, phone)
}

func (r *ChatRepository) getOne(ctx context.Context, sql, arg string) (*chat.Session, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting chat session %q: %w", arg, err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanChatSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("getting chat session %q: %w", arg, err)
	}
	return &s, nil
}

// AppendMessage atomically appends one message to an open session and
// returns the updated transcript. Closed or missing sessions yield
// chat.ErrNotFound.
func (r *ChatRepository) AppendMessage(ctx context.Context, id string, msg chat.Message) (*chat.Session, error) {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat message: %w", err)
	}

	rows, err := r.pool.Query(ctx, appendChatMessageSQL, id, msgJSON, msg.SentAt)
	if err != nil {
		return nil, fmt.Errorf("appending message to chat session %q: %w", id, err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanChatSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("appending message to chat session %q: %w", id, err)
	}
	return &s, nil
}

// Close seals an open session. It reports false when the session exists but
// was already closed, and chat.ErrNotFound when it does not exist.
func (r *ChatRepository) Close(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, closeChatSessionSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("closing chat session %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, chatSessionExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking chat session %q: %w", id, err)
	}
	if !exists {
		return false, chat.ErrNotFound
	}
	return false, nil
}

// List returns transcript-free session summaries, most recent activity first.
func (r *ChatRepository) List(ctx context.Context, status chat.Status, limit int) ([]chat.Summary, error) {
	rows, err := r.pool.Query(ctx, listChatSessionsSQL, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing chat sessions: %w", err)
	}
	return pgx.CollectRows(rows, scanChatSummary)
}

func scanChatSession(row pgx.CollectableRow) (chat.Session, error) {
	var (
		s            chat.Session
		status       string
		messagesJSON []byte
	)
	err := row.Scan(
		&s.ID, &s.Phone, &s.Name, &s.OrderID, &s.OrderNumber, &status,
		&s.StartedAsGuest, &messagesJSON, &s.LastMessageAt, &s.CreatedAt, &s.ClosedAt,
	)
	if err != nil {
		return s, err
	}
	s.Status = chat.Status(status)

	if err := json.Unmarshal(messagesJSON, &s.Messages); err != nil {
		return s, fmt.Errorf("unmarshaling chat messages: %w", err)
	}
	return s, nil
}

func scanChatSummary(row pgx.CollectableRow) (chat.Summary, error) {
	var (
		sum    chat.Summary
		status string
	)
	err := row.Scan(
		&sum.ID, &sum.Phone, &sum.Name, &sum.OrderNumber, &status,
		&sum.StartedAsGuest, &sum.MessageCount, &sum.LastMessageAt,
	)
	sum.Status = chat.Status(status)
	return sum, err
}

func messagesOrEmpty(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return []chat.Message{}
	}
	return msgs
}
