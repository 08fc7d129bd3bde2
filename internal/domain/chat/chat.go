// Package chat implements live customer-support sessions: one open
// conversation per phone number, an append-only transcript and real-time
// fan-out to the session's participants and the admin console.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-api/internal/domain/order"
)

var (
	ErrNotFound      = errors.New("chat session not found")
	ErrNameRequired  = errors.New("a name is required to start a chat")
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrInvalidSender = errors.New("invalid message sender")
	// ErrAlreadyOpen is reported by Repository.Create when another open
	// session holds the phone number. Start resolves it by returning the
	// existing session.
	ErrAlreadyOpen = errors.New("an open chat session already exists for this phone")
)

// Status is a chat session's lifecycle state. Closed is terminal.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAdmin    Sender = "admin"
	SenderSystem   Sender = "system"
)

// Valid reports whether s is a known sender role.
func (s Sender) Valid() bool {
	switch s {
	case SenderCustomer, SenderAdmin, SenderSystem:
		return true
	}
	return false
}

// MaxMessageLen is the transcript limit applied after sanitization,
// counted in runes.
const MaxMessageLen = 1000

// Message is a single transcript entry.
type Message struct {
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// Session is a support conversation keyed by the customer's phone number.
// At most one open session exists per phone.
type Session struct {
	ID             string
	Phone          string
	Name           string
	OrderID        string
	OrderNumber    string
	Status         Status
	StartedAsGuest bool
	Messages       []Message
	LastMessageAt  time.Time
	CreatedAt      time.Time
	ClosedAt       *time.Time
}

// Summary is the transcript-free projection served to the admin console.
type Summary struct {
	ID             string    `json:"id"`
	Phone          string    `json:"phoneNumber"`
	Name           string    `json:"name"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	Status         Status    `json:"status"`
	StartedAsGuest bool      `json:"startedAsGuest"`
	MessageCount   int       `json:"messageCount"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
}

// Summarize projects a session for list views.
func Summarize(s *Session) Summary {
	return Summary{
		ID:             s.ID,
		Phone:          s.Phone,
		Name:           s.Name,
		OrderNumber:    s.OrderNumber,
		Status:         s.Status,
		StartedAsGuest: s.StartedAsGuest,
		MessageCount:   len(s.Messages),
		LastMessageAt:  s.LastMessageAt,
	}
}

// Repository persists chat sessions.
type Repository interface {
	// Create stores a new session. ErrAlreadyOpen is returned when an open
	// session for the same phone already exists.
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	FindOpenByPhone(ctx context.Context, phone string) (*Session, error)
	// AppendMessage atomically appends to an open session's transcript and
	// bumps last_message_at, returning the updated session. A closed or
	// missing session yields ErrNotFound.
	AppendMessage(ctx context.Context, id string, msg Message) (*Session, error)
	// Close marks an open session closed. It reports false without error
	// when the session was already closed.
	Close(ctx context.Context, id string, at time.Time) (bool, error)
	List(ctx context.Context, status Status, limit int) ([]Summary, error)
}

// Broadcaster fans events out to connected websocket clients. Delivery is
// fire-and-forget: slow or absent subscribers are never awaited.
type Broadcaster interface {
	EmitToAdmins(event string, payload any)
	EmitToSession(sessionID, event string, payload any)
}

// OrderLookup is the slice of the order store chat needs to link a new
// session to the customer's most recent purchase.
type OrderLookup interface {
	FindLatestByPhone(ctx context.Context, phone string) (*order.Order, error)
}

// Events emitted through the Broadcaster.
const (
	EventSessionStarted = "chat:sessionStarted"
	EventSessionUpdated = "chat:sessionUpdated"
	EventSessionClosed  = "chat:sessionClosed"
	EventMessage        = "chat:message"
)

// Sanitize collapses runs of whitespace into single spaces, trims the
// result and truncates it to MaxMessageLen runes.
func Sanitize(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if r := []rune(s); len(r) > MaxMessageLen {
		s = string(r[:MaxMessageLen])
	}
	return s
}
