// ABOUTME: Registry owning all live sessions, their status machines, and reconnect timers
// ABOUTME: Runs the per-session event loop routing messages through classifier and responder

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/internal/blocklist"
	"github.com/relaydesk/relaydesk/internal/classify"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/creds"
	"github.com/relaydesk/relaydesk/internal/echo"
	"github.com/relaydesk/relaydesk/internal/history"
	"github.com/relaydesk/relaydesk/internal/responder"
	"github.com/relaydesk/relaydesk/internal/store"
)

// replyAPIDown is sent to the counterparty when the responder fails.
const replyAPIDown = "Não consegui falar com o servidor da IA agora."

// session is the registry's mutable per-session state. All fields are
// guarded by the registry mutex.
type session struct {
	id         string
	status     Status
	challenge  string
	errMsg     string
	attempt    int
	conn       Conn
	ownerPhone string
	allowNew   bool
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		SessionID: s.id,
		Status:    s.status,
		Challenge: s.challenge,
		Err:       s.errMsg,
		Attempt:   s.attempt,
	}
}

// Deps bundles the registry's collaborators.
type Deps struct {
	Config     config.SessionsConfig
	Transport  Transport
	Store      store.Store
	Creds      creds.Store
	Ledger     *blocklist.Ledger
	Markers    *echo.Markers
	History    *history.Cache
	Classifier *classify.Classifier
	Responder  responder.Responder
	Logger     *slog.Logger
}

// Registry owns all sessions. It serializes event handling per session: the
// classify, history, responder, send, and echo-mark steps for one inbound
// message complete before the next event of that session is processed.
type Registry struct {
	cfg        config.SessionsConfig
	transport  Transport
	store      store.Store
	creds      creds.Store
	ledger     *blocklist.Ledger
	markers    *echo.Markers
	history    *history.Cache
	classifier *classify.Classifier
	responder  responder.Responder
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	locks    map[string]time.Time
	timers   map[string]*time.Timer

	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a registry and starts its background janitor.
func NewRegistry(d Deps) *Registry {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		cfg:        d.Config,
		transport:  d.Transport,
		store:      d.Store,
		creds:      d.Creds,
		ledger:     d.Ledger,
		markers:    d.Markers,
		history:    d.History,
		classifier: d.Classifier,
		responder:  d.Responder,
		logger:     logger.With("component", "session"),
		sessions:   make(map[string]*session),
		locks:      make(map[string]time.Time),
		timers:     make(map[string]*time.Timer),
		now:        time.Now,
		done:       make(chan struct{}),
	}
	if r.cfg.SweepInterval > 0 {
		go r.janitor()
	}
	return r
}

// Connect brings a session up. It is idempotent while the session is active
// or a connect is in flight. With allowNewSession false and no stored
// credentials it returns ErrNoRegisteredSession without dialing, so restores
// never trigger a fresh pairing challenge.
func (r *Registry) Connect(ctx context.Context, id string, allowNewSession bool) (Snapshot, error) {
	r.mu.Lock()
	if sess := r.sessions[id]; sess != nil {
		switch sess.status {
		case StatusStarting, StatusChallenge, StatusAuthenticated, StatusActive:
			snap := sess.snapshot()
			r.mu.Unlock()
			return snap, nil
		}
	}
	if at, held := r.locks[id]; held && r.now().Sub(at) < r.cfg.ConnectLockTTL {
		snap := Snapshot{SessionID: id, Status: StatusStarting}
		if sess := r.sessions[id]; sess != nil {
			snap = sess.snapshot()
		}
		r.mu.Unlock()
		return snap, nil
	}
	r.locks[id] = r.now()
	r.stopTimerLocked(id)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.locks, id)
		r.mu.Unlock()
	}()

	record, err := r.creds.Load(ctx, id)
	if err != nil {
		return Snapshot{SessionID: id, Status: StatusError}, fmt.Errorf("loading credentials: %w", err)
	}
	if !record.Exists && !allowNewSession {
		return Snapshot{SessionID: id, Status: StatusDisconnected}, ErrNoRegisteredSession
	}

	ownerPhone, err := r.store.GetOwnerPhone(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("looking up owner phone failed", "session_id", id, "error", err)
	}

	r.update(id, func(s *session) {
		s.status = StatusStarting
		s.challenge = ""
		s.errMsg = ""
		s.ownerPhone = ownerPhone
		s.allowNew = allowNewSession
	})
	r.logger.Info("connecting session", "session_id", id, "registered", record.Exists)

	conn, err := r.transport.Dial(ctx, id, record)
	if err != nil {
		r.logger.Error("transport dial failed", "session_id", id, "error", err)
		r.scheduleReconnect(id, err)
		return r.Status(id), fmt.Errorf("dialing transport: %w", err)
	}

	r.mu.Lock()
	sess := r.ensureLocked(id)
	sess.conn = conn
	snap := sess.snapshot()
	r.mu.Unlock()

	go r.runLoop(id, conn)
	return snap, nil
}

// Status returns the current snapshot for a session. Unknown sessions read
// as disconnected.
func (r *Registry) Status(id string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess := r.sessions[id]; sess != nil {
		return sess.snapshot()
	}
	return Snapshot{SessionID: id, Status: StatusDisconnected}
}

// StatusAll returns snapshots for every known session, ordered by id.
func (r *Registry) StatusAll() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := make([]Snapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snaps = append(snaps, sess.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SessionID < snaps[j].SessionID })
	return snaps
}

// Disconnect logs a session out: closes the connection, clears persisted
// credentials, and cancels any pending reconnect. The session ends terminal
// and only an explicit Connect with allowNewSession can revive it.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	r.stopTimerLocked(id)
	delete(r.locks, id)
	var conn Conn
	if sess := r.sessions[id]; sess != nil {
		conn = sess.conn
		sess.conn = nil
		sess.status = StatusDisconnected
		sess.challenge = ""
		sess.errMsg = ""
		sess.attempt = 0
	}
	r.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Warn("closing connection failed", "session_id", id, "error", err)
		}
	}
	if err := r.creds.Clear(ctx, id); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	r.logger.Info("session disconnected", "session_id", id)
	return nil
}

// Close stops the janitor, cancels all timers, and closes every live
// connection.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	var conns []Conn
	for _, sess := range r.sessions {
		if sess.conn != nil {
			conns = append(conns, sess.conn)
			sess.conn = nil
			sess.status = StatusDisconnected
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

// runLoop consumes one connection's events in order until it ends.
func (r *Registry) runLoop(id string, conn Conn) {
	ctx := context.Background()
	for ev := range conn.Events() {
		switch ev := ev.(type) {
		case ChallengeEvent:
			r.logger.Info("pairing challenge issued", "session_id", id)
			r.update(id, func(s *session) {
				s.status = StatusChallenge
				s.challenge = ev.Data
			})
		case AuthenticatedEvent:
			r.update(id, func(s *session) {
				s.status = StatusAuthenticated
				s.challenge = ""
			})
		case OpenEvent:
			r.handleOpen(ctx, id)
		case CredsEvent:
			r.persistCreds(ctx, id, ev)
		case MessageEvent:
			r.handleMessage(ctx, id, conn, ev.Event)
		case ClosedEvent:
			r.handleClosed(id, conn, ev)
			return
		}
	}
	// Channel closed without a ClosedEvent: treat as a generic failure.
	r.handleClosed(id, conn, ClosedEvent{Err: errors.New("connection closed unexpectedly")})
}

func (r *Registry) handleOpen(ctx context.Context, id string) {
	phone, err := r.store.GetOwnerPhone(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("refreshing owner phone failed", "session_id", id, "error", err)
	}
	r.update(id, func(s *session) {
		s.status = StatusActive
		s.challenge = ""
		s.errMsg = ""
		s.attempt = 0
		if err == nil {
			s.ownerPhone = phone
		}
	})
	r.logger.Info("session open", "session_id", id)
}

// persistCreds applies one credential mutation. Failures are logged only:
// the live connection keeps working, at worst the next restore re-pairs.
func (r *Registry) persistCreds(ctx context.Context, id string, ev CredsEvent) {
	var err error
	if ev.Delete {
		err = r.creds.Delete(ctx, id, ev.Category, ev.Key)
	} else {
		err = r.creds.Upsert(ctx, id, ev.Category, ev.Key, ev.Blob)
	}
	if err != nil {
		r.logger.Error("persisting credentials failed",
			"session_id", id, "category", ev.Category, "key", ev.Key, "error", err)
	}
}

func (r *Registry) handleMessage(ctx context.Context, id string, conn Conn, ev classify.Event) {
	r.mu.Lock()
	var ownerPhone string
	if sess := r.sessions[id]; sess != nil {
		ownerPhone = sess.ownerPhone
	}
	r.mu.Unlock()

	outcome := r.classifier.Classify(ctx, ev, ownerPhone)
	switch outcome.Kind {
	case classify.KindDrop:
		r.logger.Debug("message dropped",
			"session_id", id, "from", ev.From, "reason", outcome.Reason)
	case classify.KindReplyDirectly:
		r.send(ctx, id, conn, ev.From, outcome.Text)
	case classify.KindForward:
		r.forward(ctx, id, conn, ev.From, outcome.Text)
	}
}

// forward records the user turn, asks the responder, and sends the answer.
// The user turn is recorded even when the responder fails, so a later retry
// by the user keeps full context.
func (r *Registry) forward(ctx context.Context, id string, conn Conn, from, question string) {
	r.history.Append(id, from, history.Turn{Role: history.RoleUser, Content: question})

	answer, err := r.responder.Reply(ctx, responder.Query{
		AgentID:  id,
		UserID:   from,
		Question: question,
		History:  r.history.Get(id, from),
	})
	if err != nil {
		r.logger.Error("responder failed", "session_id", id, "from", from, "error", err)
		r.send(ctx, id, conn, from, replyAPIDown)
		return
	}

	r.history.Append(id, from, history.Turn{Role: history.RoleAssistant, Content: answer})
	r.send(ctx, id, conn, from, answer)
}

// send delivers text, retrying once if the first attempt timed out, then
// marks the sent message id so its echo is dropped instead of re-entering
// classification. Non-timeout failures drop the reply.
func (r *Registry) send(ctx context.Context, id string, conn Conn, to, text string) {
	msgID, err := conn.Send(ctx, to, text)
	if err != nil {
		if !isTimeout(err) {
			r.logger.Error("send failed, dropping reply",
				"session_id", id, "to", to, "error", err)
			return
		}
		r.logger.Warn("send timed out, retrying once", "session_id", id, "to", to, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.SendRetryDelay):
		}
		msgID, err = conn.Send(ctx, to, text)
		if err != nil {
			r.logger.Error("send failed after retry, dropping reply",
				"session_id", id, "to", to, "error", err)
			return
		}
	}
	r.markers.Mark(msgID)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (r *Registry) handleClosed(id string, conn Conn, ev ClosedEvent) {
	conn.Close()

	r.mu.Lock()
	sess := r.sessions[id]
	if sess == nil {
		r.mu.Unlock()
		return
	}
	if sess.conn == conn {
		sess.conn = nil
	}
	if sess.status.terminal() {
		// Disconnect or Close already settled this session.
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	switch ev.Code {
	case CloseSuperseded:
		r.logger.Warn("session superseded by another device", "session_id", id)
		r.settle(id, StatusDisconnected)
	case CloseLoggedOut:
		r.logger.Warn("session logged out remotely, clearing credentials", "session_id", id)
		if err := r.creds.Clear(context.Background(), id); err != nil {
			r.logger.Error("clearing credentials failed", "session_id", id, "error", err)
		}
		r.settle(id, StatusLoggedOut)
	default:
		r.scheduleReconnect(id, ev.Err)
	}
}

// settle moves a session to a terminal status and cancels its timer.
func (r *Registry) settle(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked(id)
	sess := r.ensureLocked(id)
	sess.status = status
	sess.challenge = ""
	sess.attempt = 0
}

// scheduleReconnect records a retriable failure and arms the backoff timer.
// The session reads as disconnected while it waits; error is reserved for an
// exhausted attempt budget. The retry keeps the pairing permission of the
// Connect call that opened this session, so an interrupted fresh pairing
// re-dials instead of cancelling itself.
func (r *Registry) scheduleReconnect(id string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.ensureLocked(id)
	sess.attempt++
	sess.conn = nil
	sess.challenge = ""
	if cause != nil {
		sess.errMsg = cause.Error()
	}

	if sess.attempt >= r.cfg.MaxReconnectAttempts {
		sess.status = StatusError
		r.logger.Error("reconnect attempts exhausted, giving up",
			"session_id", id, "attempts", sess.attempt)
		return
	}
	sess.status = StatusDisconnected
	allowNew := sess.allowNew

	delay := backoffDelay(sess.attempt, r.cfg.ReconnectBaseDelay, r.cfg.ReconnectMaxDelay)
	r.logger.Warn("scheduling reconnect",
		"session_id", id, "attempt", sess.attempt, "delay", delay)

	r.stopTimerLocked(id)
	r.timers[id] = time.AfterFunc(delay, func() {
		if _, err := r.Connect(context.Background(), id, allowNew); err != nil {
			if errors.Is(err, ErrNoRegisteredSession) {
				r.logger.Info("reconnect skipped, credentials gone", "session_id", id)
			} else {
				r.logger.Error("reconnect failed", "session_id", id, "error", err)
			}
		}
	})
}

// backoffDelay returns the exponential delay for the given attempt (first
// attempt is 1), capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}

func (r *Registry) update(id string, fn func(*session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.ensureLocked(id))
}

func (r *Registry) ensureLocked(id string) *session {
	sess := r.sessions[id]
	if sess == nil {
		sess = &session{id: id, status: StatusDisconnected}
		r.sessions[id] = sess
	}
	return sess
}

func (r *Registry) stopTimerLocked(id string) {
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

// janitor periodically evicts idle conversations, expired echo markers,
// stale connect locks, and expired block entries, then retries any session
// sitting in a disconnected or error state.
func (r *Registry) janitor() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
			r.HealthSweep(context.Background())
		}
	}
}

func (r *Registry) sweep() {
	evicted := r.history.Sweep()
	expired := r.markers.Sweep()

	r.mu.Lock()
	now := r.now()
	stale := 0
	for id, at := range r.locks {
		if now.Sub(at) >= r.cfg.ConnectLockTTL {
			delete(r.locks, id)
			stale++
		}
	}
	r.mu.Unlock()

	purged, err := r.ledger.PurgeExpired(context.Background())
	if err != nil {
		r.logger.Error("purging expired blocks failed", "error", err)
	}

	if evicted+expired+stale > 0 || purged > 0 {
		r.logger.Debug("janitor sweep",
			"conversations_evicted", evicted,
			"markers_expired", expired,
			"stale_locks", stale,
			"blocks_purged", purged,
		)
	}
}
