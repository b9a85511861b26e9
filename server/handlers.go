package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/warmindo-dev/forum-relay/gateway"
)

// maxWebhookBody bounds a webhook delivery body.
const maxWebhookBody = 1 << 20

// WebhookSink consumes raw treasury webhook deliveries.
type WebhookSink interface {
	HandlePayload(ctx context.Context, body []byte) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	db           *sql.DB
	ready        *gateway.Latch
	webhook      WebhookSink
	webhookToken string
	startedAt    time.Time
}

// NewHandlers wires the handler set. webhook may be nil when treasury
// monitoring is disabled; the endpoint then rejects deliveries.
func NewHandlers(db *sql.DB, ready *gateway.Latch, webhook WebhookSink, webhookToken string) *Handlers {
	return &Handlers{
		db:           db,
		ready:        ready,
		webhook:      webhook,
		webhookToken: webhookToken,
		startedAt:    time.Now(),
	}
}

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes: the database must answer and the
// startup backfill must have completed.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.db.PingContext(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "not_ready", "failed_check": "database", "error": err.Error(),
		})
		return
	}
	if h.ready != nil && !h.ready.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "not_ready", "failed_check": "backfill",
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports mapping table sizes and process uptime.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for _, table := range []string{"source_thread", "source_message", "external_mirror_message", "treasury_event"} {
		var n int
		if err := h.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			http.Error(w, "status query failed", http.StatusInternalServerError)
			return
		}
		counts[table] = n
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"ready":          h.ready == nil || h.ready.Ready(),
		"rows":           counts,
	})
}

// HandleWebhook receives treasury address-activity deliveries. When a webhook
// token is configured, deliveries must carry it in X-Webhook-Token.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.webhook == nil {
		http.Error(w, "webhook disabled", http.StatusNotFound)
		return
	}
	if h.webhookToken != "" {
		token := r.Header.Get("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
			slog.Warn("webhook auth failed", slog.String("remote_addr", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := h.webhook.HandlePayload(r.Context(), body); err != nil {
		slog.Error("webhook handling failed", slog.Any("err", err))
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}
