// ABOUTME: Session status machine, transport contract, and typed transport events
// ABOUTME: Defines the Snapshot shape reported by the admin surface

package session

import (
	"context"
	"errors"

	"github.com/relaydesk/relaydesk/internal/classify"
	"github.com/relaydesk/relaydesk/internal/creds"
)

// Status is a session's lifecycle state. The wire strings are the ones the
// admin surface reports and are kept in the end users' locale.
type Status string

const (
	// StatusDisconnected is the initial state and the terminal state after a
	// superseding login elsewhere.
	StatusDisconnected Status = "desconectado"
	// StatusStarting means a connect attempt is in flight.
	StatusStarting Status = "iniciando"
	// StatusChallenge means the transport issued a pairing challenge that a
	// human must complete.
	StatusChallenge Status = "qr"
	// StatusAuthenticated means credentials were accepted but the connection
	// is not yet fully open.
	StatusAuthenticated Status = "autenticado"
	// StatusActive means the session is open and relaying messages.
	StatusActive Status = "conectado"
	// StatusLoggedOut is terminal: the remote side invalidated the pairing.
	StatusLoggedOut Status = "deslogado"
	// StatusError covers dial failures, retriable closes, and exhausted
	// reconnect attempts.
	StatusError Status = "erro"
)

// ErrNoRegisteredSession is returned by Connect when no stored credentials
// exist and the caller did not allow starting a fresh pairing.
var ErrNoRegisteredSession = errors.New("no registered session")

// Transport close codes, matching the remote protocol's disconnect reasons.
const (
	// CloseLoggedOut means the pairing was invalidated remotely.
	CloseLoggedOut = 401
	// CloseTimedOut is a retriable network-level timeout.
	CloseTimedOut = 408
	// CloseSuperseded means another device took over the session.
	CloseSuperseded = 440
)

// Event is a typed event emitted by a Conn.
type Event interface {
	isEvent()
}

// ChallengeEvent carries pairing-challenge data for human completion.
type ChallengeEvent struct {
	Data string
}

// OpenEvent signals the connection is fully open and relaying.
type OpenEvent struct{}

// AuthenticatedEvent signals the stored credentials were accepted.
type AuthenticatedEvent struct{}

// ClosedEvent signals the connection ended. Code is one of the close codes
// above, or zero for a generic failure described by Err.
type ClosedEvent struct {
	Code int
	Err  error
}

// CredsEvent carries one credential blob mutation that must be persisted
// before the session can be restored later.
type CredsEvent struct {
	Category string
	Key      string
	Blob     []byte
	Delete   bool
}

// MessageEvent carries one inbound chat message, already adapted to the
// classifier's shape.
type MessageEvent struct {
	classify.Event
}

func (ChallengeEvent) isEvent()     {}
func (OpenEvent) isEvent()          {}
func (AuthenticatedEvent) isEvent() {}
func (ClosedEvent) isEvent()        {}
func (CredsEvent) isEvent()         {}
func (MessageEvent) isEvent()       {}

// Conn is one live transport connection.
type Conn interface {
	// Events returns the connection's event stream. The channel is closed
	// when the connection ends; a ClosedEvent precedes the close when the
	// transport knows why.
	Events() <-chan Event
	// Send delivers text to the counterparty and returns the transport
	// message id of the sent message.
	Send(ctx context.Context, to, text string) (string, error)
	Close() error
}

// Transport dials sessions. The credential record carries previously
// persisted auth state; a record with Exists false starts a fresh pairing.
type Transport interface {
	Dial(ctx context.Context, sessionID string, record *creds.Record) (Conn, error)
}

// Snapshot is a point-in-time view of one session for the admin surface.
type Snapshot struct {
	SessionID string `json:"id"`
	Status    Status `json:"status"`
	Challenge string `json:"qr,omitempty"`
	Err       string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

// terminal reports whether the status admits no further transitions without
// an explicit Connect.
func (s Status) terminal() bool {
	return s == StatusLoggedOut || s == StatusDisconnected
}
