// ABOUTME: Admin HTTP router for session control and block ledger inspection
// ABOUTME: chi-based routes speaking the {success, message} JSON envelope

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Registry is the slice of the session registry the admin surface needs.
type Registry interface {
	Connect(ctx context.Context, id string, allowNewSession bool) (session.Snapshot, error)
	Status(id string) session.Snapshot
	StatusAll() []session.Snapshot
	Disconnect(ctx context.Context, id string) error
}

// Blocks is the read-only view of the block ledger.
type Blocks interface {
	List(ctx context.Context, agentID string) ([]*store.BlockEntry, error)
}

// Handler serves the admin routes.
type Handler struct {
	registry Registry
	blocks   Blocks
	logger   *slog.Logger
}

// NewHandler creates the admin handler.
func NewHandler(registry Registry, blocks Blocks, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		blocks:   blocks,
		logger:   logger.With("component", "httpapi"),
	}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Post("/conectar", h.handleConnect)
	r.Get("/status", h.handleStatus)
	r.Post("/desconectar", h.handleDisconnect)
	r.Get("/blocked", h.handleBlocked)
	return r
}

type idRequest struct {
	ID string `json:"id"`
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// blockView is the wire shape of one block ledger entry.
type blockView struct {
	Counterparty string    `json:"counterparty"`
	BlockedUntil time.Time `json:"blocked_until"`
	BlockedBy    string    `json:"blocked_by"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "ID é obrigatório."})
		return
	}

	snap := h.registry.Status(req.ID)
	switch snap.Status {
	case session.StatusStarting, session.StatusChallenge, session.StatusAuthenticated, session.StatusActive:
		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Message: fmt.Sprintf("Agente %s já está %s. Consulte /status?id=%s.", req.ID, snap.Status, req.ID),
			Status:  string(snap.Status),
		})
		return
	}

	h.logger.Info("connect requested", "session_id", req.ID)
	go func() {
		if _, err := h.registry.Connect(context.Background(), req.ID, true); err != nil {
			h.logger.Error("connect failed", "session_id", req.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: fmt.Sprintf("Conexão iniciada para o agente %s. Consulte /status?id=%s para ver o QR code ou o status.", req.ID, req.ID),
		Status:  string(session.StatusStarting),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"sessions": h.registry.StatusAll(),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Status(id))
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "ID é obrigatório."})
		return
	}

	if err := h.registry.Disconnect(r.Context(), req.ID); err != nil {
		h.logger.Error("disconnect failed", "session_id", req.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: fmt.Sprintf("Agente %s desconectado.", req.ID),
	})
}

func (h *Handler) handleBlocked(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "agent_id é obrigatório."})
		return
	}

	entries, err := h.blocks.List(r.Context(), agentID)
	if err != nil {
		h.logger.Error("listing blocks failed", "agent_id", agentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: err.Error()})
		return
	}

	views := make([]blockView, 0, len(entries))
	for _, e := range entries {
		views = append(views, blockView{
			Counterparty: e.Counterparty,
			BlockedUntil: e.BlockedUntil,
			BlockedBy:    e.BlockedBy,
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"blocked": views,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
