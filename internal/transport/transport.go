package transport

import (
	"context"

	"github.com/scamshield/wa-gateway/internal/domain"
)

type ConnectionStatus string

const (
	StatusChallenge ConnectionStatus = "challenge"
	StatusOpen      ConnectionStatus = "open"
	StatusClosed    ConnectionStatus = "closed"
)

// ConnectionEvent reports a session lifecycle transition. Challenge is set
// only for StatusChallenge, Reason only for StatusClosed.
type ConnectionEvent struct {
	Status    ConnectionStatus
	Challenge string
	Reason    domain.DisconnectReason
}

// Event is one item from a session's event stream. Exactly one field is set.
type Event struct {
	Connection  *ConnectionEvent
	Message     *domain.InboundMessage
	Credentials []byte
}

// Session is an established connection to the chat protocol. The events
// channel closes after a terminal StatusClosed event has been delivered.
type Session interface {
	Events() <-chan Event
	SendText(ctx context.Context, to, text string) error
	SendDocument(ctx context.Context, to, filename, mimeType string, data []byte) error
	Download(ctx context.Context, mediaRef string) ([]byte, error)
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens a fresh session, resuming from persisted credential material
// when available (nil credentials request a new login challenge).
type Dialer interface {
	Dial(ctx context.Context, credentials []byte) (Session, error)
}
