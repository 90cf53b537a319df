// ABOUTME: Tests for the admin HTTP surface
// ABOUTME: Exercises envelope shapes and route behavior with stub collaborators

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/store"
)

type stubRegistry struct {
	mu          sync.Mutex
	snapshots   map[string]session.Snapshot
	connects    []string
	disconnects []string
	connectErr  error
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{snapshots: make(map[string]session.Snapshot)}
}

func (s *stubRegistry) Connect(_ context.Context, id string, _ bool) (session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, id)
	if s.connectErr != nil {
		return session.Snapshot{}, s.connectErr
	}
	return s.snapshots[id], nil
}

func (s *stubRegistry) Status(id string) session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snapshots[id]; ok {
		return snap
	}
	return session.Snapshot{SessionID: id, Status: session.StatusDisconnected}
}

func (s *stubRegistry) StatusAll() []session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out
}

func (s *stubRegistry) Disconnect(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, id)
	return nil
}

func (s *stubRegistry) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connects)
}

type stubBlocks struct {
	entries []*store.BlockEntry
	err     error
}

func (s *stubBlocks) List(_ context.Context, _ string) ([]*store.BlockEntry, error) {
	return s.entries, s.err
}

func newTestServer(t *testing.T) (*httptest.Server, *stubRegistry, *stubBlocks) {
	t.Helper()
	reg := newStubRegistry()
	blocks := &stubBlocks{}
	srv := httptest.NewServer(NewHandler(reg, blocks, nil).Router())
	t.Cleanup(srv.Close)
	return srv, reg, blocks
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestConnect(t *testing.T) {
	srv, reg, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/conectar", `{"id":"agent-001"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body envelope
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "iniciando", body.Status)
	assert.Contains(t, body.Message, "agent-001")

	require.Eventually(t, func() bool {
		return reg.connectCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConnect_MissingID(t *testing.T) {
	srv, reg, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/conectar", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body envelope
	decodeBody(t, resp, &body)
	assert.False(t, body.Success)
	assert.Equal(t, "ID é obrigatório.", body.Message)
	assert.Equal(t, 0, reg.connectCount())
}

func TestConnect_AlreadyActive(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	reg.snapshots["agent-001"] = session.Snapshot{SessionID: "agent-001", Status: session.StatusActive}

	resp := postJSON(t, srv.URL+"/conectar", `{"id":"agent-001"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body envelope
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "conectado", body.Status)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, reg.connectCount(), "active session must not be re-dialed")
}

func TestStatus_SingleSession(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	reg.snapshots["agent-001"] = session.Snapshot{
		SessionID: "agent-001",
		Status:    session.StatusChallenge,
		Challenge: "qr-payload",
	}

	resp, err := http.Get(srv.URL + "/status?id=agent-001")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap session.Snapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, session.StatusChallenge, snap.Status)
	assert.Equal(t, "qr-payload", snap.Challenge)
}

func TestStatus_UnknownSessionReadsDisconnected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/status?id=nope")
	require.NoError(t, err)

	var snap session.Snapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, session.StatusDisconnected, snap.Status)
}

func TestStatus_AllSessions(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	reg.snapshots["a"] = session.Snapshot{SessionID: "a", Status: session.StatusActive}
	reg.snapshots["b"] = session.Snapshot{SessionID: "b", Status: session.StatusError}

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)

	var body struct {
		Success  bool               `json:"success"`
		Sessions []session.Snapshot `json:"sessions"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Len(t, body.Sessions, 2)
}

func TestDisconnect(t *testing.T) {
	srv, reg, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/desconectar", `{"id":"agent-001"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body envelope
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, []string{"agent-001"}, reg.disconnects)
}

func TestBlocked(t *testing.T) {
	srv, _, blocks := newTestServer(t)
	until := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	blocks.entries = []*store.BlockEntry{{
		AgentID:      "agent-001",
		Counterparty: "5511988887777",
		BlockedUntil: until,
		BlockedBy:    store.BlockedBySystem,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}}

	resp, err := http.Get(srv.URL + "/blocked?agent_id=agent-001")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool        `json:"success"`
		Blocked []blockView `json:"blocked"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	require.Len(t, body.Blocked, 1)
	assert.Equal(t, "5511988887777", body.Blocked[0].Counterparty)
	assert.Equal(t, "system", body.Blocked[0].BlockedBy)
	assert.True(t, body.Blocked[0].BlockedUntil.Equal(until))
}

func TestBlocked_MissingAgentID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/blocked")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
