package messenger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/omnibothq/omnibot/internal/bot"
	"github.com/omnibothq/omnibot/internal/logger"
)

func testConfig() Config {
	return Config{
		VerifyToken: "verify-token",
		PageToken:   "page-token",
		AppSecret:   "app-secret",
	}
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	transport, err := New(testConfig(), logger.Discard())
	if err != nil {
		t.Fatalf("new transport failed: %v", err)
	}
	return transport
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type emitRecorder struct {
	mu      sync.Mutex
	updates []*bot.Update
}

func (r *emitRecorder) emit(ctx context.Context, update *bot.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *emitRecorder) all() []*bot.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*bot.Update(nil), r.updates...)
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{name: "missing verify token", mutate: func(cfg *Config) { cfg.VerifyToken = "" }, wantErr: "messenger verify token is required"},
		{name: "missing page token", mutate: func(cfg *Config) { cfg.PageToken = " " }, wantErr: "messenger page token is required"},
		{name: "missing app secret", mutate: func(cfg *Config) { cfg.AppSecret = "" }, wantErr: "messenger app secret is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, nil)
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWebhookVerification(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t)
	e := echo.New()
	transport.MountWebhook(e.Group("/webhooks/messenger"), func(ctx context.Context, update *bot.Update) {})

	t.Run("matching token echoes challenge", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/webhooks/messenger?hub.mode=subscribe&hub.verify_token=verify-token&hub.challenge=challenge-123", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: %d", rec.Code)
		}
		if rec.Body.String() != "challenge-123" {
			t.Fatalf("unexpected challenge response: %s", rec.Body.String())
		}
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/webhooks/messenger?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=challenge-123", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("unexpected status code: %d", rec.Code)
		}
	})
}

func TestWebhookUpdates(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"object": "page",
		"entry": [
			{"id": "page.1", "time": 1458692752478, "messaging": [
				{"sender": {"id": "u1"}, "recipient": {"id": "page.1"}, "timestamp": 1458692752478, "message": {"mid": "mid.1", "text": "hello"}},
				{"sender": {"id": "u2"}, "recipient": {"id": "page.1"}, "timestamp": 1458692752479, "postback": {"payload": "GET_STARTED"}}
			]},
			{"id": "page.1", "time": 1458692752480, "messaging": [
				{"sender": {"id": "u3"}, "recipient": {"id": "page.1"}, "timestamp": 1458692752480, "message": {"mid": "mid.2", "text": "hi"}}
			]}
		]
	}`)

	transport := newTestTransport(t)
	recorder := &emitRecorder{}
	e := echo.New()
	transport.MountWebhook(e.Group("/webhooks/messenger"), recorder.emit)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", strings.NewReader(string(payload)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Hub-Signature-256", signPayload("app-secret", payload))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	updates := recorder.all()
	if len(updates) != 3 {
		t.Fatalf("expected one update per messaging item, got %d", len(updates))
	}
	if updates[0].SenderID() != "u1" || updates[0].Message.Text != "hello" {
		t.Fatalf("unexpected first update: %+v", updates[0])
	}
	if updates[1].Postback == nil || updates[1].Postback.Payload != "GET_STARTED" {
		t.Fatalf("unexpected second update: %+v", updates[1])
	}
	if updates[2].SenderID() != "u3" {
		t.Fatalf("unexpected third update: %+v", updates[2])
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"object":"page","entry":[]}`)
	transport := newTestTransport(t)
	recorder := &emitRecorder{}
	e := echo.New()
	transport.MountWebhook(e.Group("/webhooks/messenger"), recorder.emit)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong secret", header: signPayload("other-secret", payload)},
		{name: "not sha256", header: "sha1=deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", strings.NewReader(string(payload)))
			if tt.header != "" {
				req.Header.Set("X-Hub-Signature-256", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status code: %d", rec.Code)
			}
		})
	}
	if len(recorder.all()) != 0 {
		t.Fatal("updates emitted despite bad signatures")
	}
}

func TestWebhookIgnoresNonPageObjects(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"u1"}}]}]}`)
	transport := newTestTransport(t)
	recorder := &emitRecorder{}
	e := echo.New()
	transport.MountWebhook(e.Group("/webhooks/messenger"), recorder.emit)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", strings.NewReader(string(payload)))
	req.Header.Set("X-Hub-Signature-256", signPayload("app-secret", payload))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if len(recorder.all()) != 0 {
		t.Fatal("updates emitted for a non-page object")
	}
}

func TestSendNormalized(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recipient_id":"u1","message_id":"mid.42"}`))
	}))
	defer server.Close()

	transport := newTestTransport(t)
	transport.baseURL = server.URL

	msg := bot.NewOutgoingMessageFor("u1").AddText("hello")
	resp, err := transport.SendNormalized(context.Background(), msg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.RecipientID != "u1" || resp.MessageID != "mid.42" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.Contains(gotPath, "/me/messages") || !strings.Contains(gotPath, "access_token=page-token") {
		t.Fatalf("unexpected request path: %s", gotPath)
	}
	var sent map[string]any
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("posted body is not JSON: %v", err)
	}
	recipient, ok := sent["recipient"].(map[string]any)
	if !ok || recipient["id"] != "u1" {
		t.Fatalf("unexpected posted body: %s", gotBody)
	}
}

func TestSendNormalizedSurfacesGraphError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190}}`))
	}))
	defer server.Close()

	transport := newTestTransport(t)
	transport.baseURL = server.URL

	_, err := transport.SendNormalized(context.Background(), bot.NewOutgoingMessageFor("u1").AddText("hello"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Invalid OAuth access token.") || !strings.Contains(err.Error(), "code 190") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetUserInfo(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/u1") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"first_name":"Ada","last_name":"Lovelace","timezone":0}`))
	}))
	defer server.Close()

	transport := newTestTransport(t)
	transport.baseURL = server.URL

	info, err := transport.GetUserInfo(context.Background(), "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if info["first_name"] != "Ada" {
		t.Fatalf("unexpected profile: %v", info)
	}
}

func TestFormatUpdate(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t)
	raw := []byte(`{"sender":{"id":"u1"},"recipient":{"id":"page.1"},"timestamp":1458692752478,"message":{"mid":"mid.1","seq":2,"text":"hello","quick_reply":{"payload":"YES"}}}`)

	update, err := transport.FormatUpdate(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if update.SenderID() != "u1" || update.Message.Text != "hello" {
		t.Fatalf("unexpected update: %+v", update)
	}
	if update.Message.QuickReply == nil || update.Message.QuickReply.Payload != "YES" {
		t.Fatalf("quick reply payload lost: %+v", update.Message)
	}
	if update.Raw == nil {
		t.Fatal("raw payload not retained")
	}

	if _, err := transport.FormatUpdate([]byte(`{not json`)); err == nil {
		t.Fatal("expected decode error, got nil")
	}
}
