// ABOUTME: HTTP responder posting questions to an external question-answer API
// ABOUTME: Speaks the {pergunta, id, userId, historico} request and {resposta} response shapes

package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaydesk/relaydesk/internal/history"
)

// replyFallback is sent when the API answers 200 with an empty body field.
const replyFallback = "Não consegui gerar uma resposta no momento."

type askRequest struct {
	Question string         `json:"pergunta"`
	AgentID  string         `json:"id"`
	UserID   string         `json:"userId"`
	History  []history.Turn `json:"historico"`
}

type askResponse struct {
	Answer string `json:"resposta"`
}

// HTTPResponder posts forwarded questions to a question-answer HTTP API.
type HTTPResponder struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewHTTP creates a responder posting to url. A zero timeout disables the
// per-request deadline and leaves cancellation to the caller's context.
func NewHTTP(url string, timeout time.Duration, logger *slog.Logger) *HTTPResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPResponder{
		url:     url,
		client:  &http.Client{},
		logger:  logger.With("component", "responder"),
		timeout: timeout,
	}
}

// Reply posts the query and returns the API's answer.
func (r *HTTPResponder) Reply(ctx context.Context, q Query) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	body, err := json.Marshal(askRequest{
		Question: q.Question,
		AgentID:  q.AgentID,
		UserID:   q.UserID,
		History:  q.History,
	})
	if err != nil {
		return "", fmt.Errorf("encoding question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting question: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("question API returned status %d", resp.StatusCode)
	}

	var out askResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding answer: %w", err)
	}

	if out.Answer == "" {
		r.logger.Warn("question API returned an empty answer", "agent_id", q.AgentID)
		return replyFallback, nil
	}
	return out.Answer, nil
}
