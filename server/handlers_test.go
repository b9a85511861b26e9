package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/warmindo-dev/forum-relay/gateway"
)

type sinkFunc func(ctx context.Context, body []byte) error

func (f sinkFunc) HandlePayload(ctx context.Context, body []byte) error { return f(ctx, body) }

func newWebhookHandlers(sink WebhookSink, token string) *Handlers {
	ready := gateway.NewLatch()
	ready.Release()
	return NewHandlers(nil, ready, sink, token)
}

func TestHandleWebhookSuccess(t *testing.T) {
	var got []byte
	h := newWebhookHandlers(sinkFunc(func(_ context.Context, body []byte) error {
		got = body
		return nil
	}), "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"event":{}}`))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
	if string(got) != `{"event":{}}` {
		t.Errorf("sink received %q", got)
	}
}

func TestHandleWebhookMalformed(t *testing.T) {
	h := newWebhookHandlers(sinkFunc(func(context.Context, []byte) error {
		return errors.New("decode failed")
	}), "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{bad"))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandleWebhookMethod(t *testing.T) {
	h := newWebhookHandlers(sinkFunc(func(context.Context, []byte) error { return nil }), "")
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleWebhookToken(t *testing.T) {
	called := false
	h := newWebhookHandlers(sinkFunc(func(context.Context, []byte) error {
		called = true
		return nil
	}), "sekrit")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized || called {
		t.Errorf("missing token: status = %d, called = %v", rec.Code, called)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	req.Header.Set("X-Webhook-Token", "wrong")
	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized || called {
		t.Errorf("wrong token: status = %d, called = %v", rec.Code, called)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	req.Header.Set("X-Webhook-Token", "sekrit")
	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	if rec.Code != http.StatusOK || !called {
		t.Errorf("valid token: status = %d, called = %v", rec.Code, called)
	}
}

func TestHandleWebhookDisabled(t *testing.T) {
	h := newWebhookHandlers(nil, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
