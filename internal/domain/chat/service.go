package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/order"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service drives the chat session state machine.
type Service struct {
	sessions Repository
	orders   OrderLookup
	bus      Broadcaster
	lg       *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a chat Service.
func NewService(sessions Repository, orders OrderLookup, bus Broadcaster, lg *zap.Logger) *Service {
	return &Service{
		sessions: sessions,
		orders:   orders,
		bus:      bus,
		lg:       lg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// MessagePayload is the event body broadcast for each appended message.
type MessagePayload struct {
	SessionID string  `json:"sessionId"`
	Message   Message `json:"message"`
}

// ClosedPayload is the event body broadcast when a session closes.
type ClosedPayload struct {
	SessionID string `json:"sessionId"`
	ClosedBy  string `json:"closedBy,omitempty"`
}

// Start opens a chat session for a phone number, or returns the already
// open one. A recent order under the same phone prefills the customer name
// and links the conversation to that order; without one the caller must
// supply a name and the session is flagged as started by a guest.
func (s *Service) Start(ctx context.Context, phone, name string) (*Session, error) {
	// Checkout insists on a full phone number; support chat only needs
	// something to key the conversation on.
	normalized := order.NormalizePhone(phone)
	if normalized == "" {
		return nil, ErrInvalidPhone
	}

	if existing, err := s.sessions.FindOpenByPhone(ctx, normalized); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "find open session")
	}

	session := &Session{
		ID:     s.newID(),
		Phone:  normalized,
		Name:   name,
		Status: StatusOpen,
	}

	latest, err := s.orders.FindLatestByPhone(ctx, normalized)
	switch {
	case err == nil:
		session.OrderID = latest.ID
		session.OrderNumber = latest.OrderNumber
		if session.Name == "" {
			session.Name = latest.Customer.Username
		}
	case errors.Is(err, order.ErrNotFound):
		if session.Name == "" {
			return nil, ErrNameRequired
		}
		session.StartedAsGuest = true
	default:
		return nil, errors.Wrap(err, "find latest order")
	}

	now := s.now()
	session.CreatedAt = now
	session.LastMessageAt = now

	if err := s.sessions.Create(ctx, session); err != nil {
		// Lost a race against a concurrent Start for the same phone.
		if errors.Is(err, ErrAlreadyOpen) {
			return s.sessions.FindOpenByPhone(ctx, normalized)
		}
		return nil, errors.Wrap(err, "create session")
	}

	s.lg.Info("chat session started",
		zap.String("session_id", session.ID),
		zap.Bool("guest", session.StartedAsGuest),
	)
	s.bus.EmitToAdmins(EventSessionStarted, Summarize(session))
	return session, nil
}

// Get returns the full session transcript.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	return s.sessions.GetByID(ctx, sessionID)
}

// PostMessage appends a sanitized message to an open session and broadcasts
// it. Text that sanitizes to empty, or a session that is already closed,
// leaves the transcript untouched.
func (s *Service) PostMessage(ctx context.Context, sessionID string, sender Sender, text string) (*Session, error) {
	if !sender.Valid() {
		return nil, ErrInvalidSender
	}
	clean := Sanitize(text)
	if clean == "" {
		return s.sessions.GetByID(ctx, sessionID)
	}

	msg := Message{Sender: sender, Text: clean, SentAt: s.now()}
	session, err := s.sessions.AppendMessage(ctx, sessionID, msg)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a closed session (silently dropped) from a missing one.
		existing, getErr := s.sessions.GetByID(ctx, sessionID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "append message")
	}

	payload := MessagePayload{SessionID: session.ID, Message: msg}
	s.bus.EmitToSession(session.ID, EventMessage, payload)
	s.bus.EmitToAdmins(EventMessage, payload)
	s.bus.EmitToAdmins(EventSessionUpdated, Summarize(session))
	return session, nil
}

// Close ends an open session. A non-empty closedBy leaves a system message
// in the transcript before the session is sealed. Closing an already
// closed session is a no-op.
func (s *Service) Close(ctx context.Context, sessionID, closedBy string) (*Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusClosed {
		return session, nil
	}

	if closedBy != "" {
		msg := Message{
			Sender: SenderSystem,
			Text:   fmt.Sprintf("%s closed the conversation", closedBy),
			SentAt: s.now(),
		}
		if updated, err := s.sessions.AppendMessage(ctx, sessionID, msg); err == nil {
			session = updated
		}
	}

	now := s.now()
	closed, err := s.sessions.Close(ctx, sessionID, now)
	if err != nil {
		return nil, errors.Wrap(err, "close session")
	}
	if closed {
		session.Status = StatusClosed
		session.ClosedAt = &now
	}

	payload := ClosedPayload{SessionID: session.ID, ClosedBy: closedBy}
	s.bus.EmitToSession(session.ID, EventSessionClosed, payload)
	s.bus.EmitToAdmins(EventSessionClosed, payload)
	s.bus.EmitToAdmins(EventSessionUpdated, Summarize(session))

	s.lg.Info("chat session closed",
		zap.String("session_id", session.ID),
		zap.String("closed_by", closedBy),
	)
	return session, nil
}

// ListOpen returns session summaries for the admin console, newest activity
// first. An empty status defaults to open sessions; limit is capped.
func (s *Service) ListOpen(ctx context.Context, status Status, limit int) ([]Summary, error) {
	if status == "" {
		status = StatusOpen
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.sessions.List(ctx, status, limit)
}
