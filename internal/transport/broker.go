// ABOUTME: WebSocket client for the upstream relay broker
// ABOUTME: Translates broker JSON frames into typed session events and back

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/classify"
	"github.com/relaydesk/relaydesk/internal/creds"
	"github.com/relaydesk/relaydesk/internal/session"
)

// maxFrameSize bounds a single broker frame. Credential blobs are the
// largest payloads and stay well under this.
const maxFrameSize = 1 << 20

// frame is the broker's JSON envelope. Type selects which fields are set.
type frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`

	// challenge
	Data string `json:"data,omitempty"`

	// closed
	Code  int    `json:"code,omitempty"`
	Error string `json:"error,omitempty"`

	// creds
	Category string          `json:"category,omitempty"`
	Key      string          `json:"key,omitempty"`
	Blob     json.RawMessage `json:"blob,omitempty"`
	Delete   bool            `json:"delete,omitempty"`

	// message / send
	MessageID string `json:"message_id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Text      string `json:"text,omitempty"`
	FromSelf  bool   `json:"from_self,omitempty"`
	Group     bool   `json:"group,omitempty"`
	Broadcast bool   `json:"broadcast,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Broker dials sessions on the upstream relay broker.
type Broker struct {
	url    string
	logger *slog.Logger
}

// NewBroker creates a transport dialing the broker at url.
func NewBroker(url string, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		url:    url,
		logger: logger.With("component", "transport"),
	}
}

// Dial opens a WebSocket to the broker and announces the session with its
// stored credential record. The broker answers with a pairing challenge
// when the record carries no usable state.
func (b *Broker) Dial(ctx context.Context, sessionID string, record *creds.Record) (session.Conn, error) {
	ws, _, err := websocket.Dial(ctx, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ws.SetReadLimit(maxFrameSize)

	recordJSON, err := creds.MarshalRecord(record)
	if err != nil {
		ws.Close(websocket.StatusInternalError, "bad credential record")
		return nil, fmt.Errorf("encoding credential record: %w", err)
	}
	hello, err := json.Marshal(frame{
		Type:      "hello",
		SessionID: sessionID,
		Record:    recordJSON,
	})
	if err != nil {
		ws.Close(websocket.StatusInternalError, "bad hello frame")
		return nil, fmt.Errorf("encoding hello frame: %w", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, hello); err != nil {
		ws.Close(websocket.StatusProtocolError, "hello failed")
		return nil, fmt.Errorf("announcing session: %w", err)
	}

	c := &conn{
		ws:        ws,
		sessionID: sessionID,
		events:    make(chan session.Event, 64),
		logger:    b.logger.With("session_id", sessionID),
	}
	go c.readLoop()
	return c, nil
}

// conn is one live broker connection.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	events    chan session.Event
	logger    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *conn) Events() <-chan session.Event { return c.events }

// Send writes a send frame. The message id is generated client-side so the
// caller can mark it before the echo arrives.
func (c *conn) Send(ctx context.Context, to, text string) (string, error) {
	id := uuid.New().String()
	data, err := json.Marshal(frame{
		Type:      "send",
		SessionID: c.sessionID,
		MessageID: id,
		To:        to,
		Text:      text,
	})
	if err != nil {
		return "", fmt.Errorf("encoding send frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return "", fmt.Errorf("writing send frame: %w", err)
	}
	return id, nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// readLoop decodes frames into typed events until the socket ends. It owns
// the events channel and is the only closer.
func (c *conn) readLoop() {
	defer close(c.events)
	ctx := context.Background()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.events <- session.ClosedEvent{Err: err}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("discarding malformed broker frame", "error", err)
			continue
		}

		switch f.Type {
		case "challenge":
			c.events <- session.ChallengeEvent{Data: f.Data}
		case "authenticated":
			c.events <- session.AuthenticatedEvent{}
		case "open":
			c.events <- session.OpenEvent{}
		case "creds":
			c.handleCreds(f)
		case "message":
			c.events <- session.MessageEvent{Event: classify.Event{
				SessionID:   c.sessionID,
				MessageID:   f.MessageID,
				From:        f.From,
				Text:        f.Text,
				FromSelf:    f.FromSelf,
				IsGroup:     f.Group,
				IsBroadcast: f.Broadcast,
				At:          time.Unix(f.Timestamp, 0),
			}}
		case "closed":
			var cause error
			if f.Error != "" {
				cause = errors.New(f.Error)
			}
			c.events <- session.ClosedEvent{Code: f.Code, Err: cause}
			c.Close()
			return
		default:
			c.logger.Warn("unknown broker frame type", "type", f.Type)
		}
	}
}

func (c *conn) handleCreds(f frame) {
	ev := session.CredsEvent{
		Category: f.Category,
		Key:      f.Key,
		Delete:   f.Delete,
	}
	if !f.Delete {
		blob, err := creds.DecodeBlob(f.Blob)
		if err != nil {
			c.logger.Warn("discarding creds frame with bad blob",
				"category", f.Category, "key", f.Key, "error", err)
			return
		}
		ev.Blob = blob
	}
	c.events <- ev
}
