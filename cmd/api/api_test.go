package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	userdomain "jobtrack-backend/internal/user/domain"
	userDelivery "jobtrack-backend/internal/user/delivery"
	"jobtrack-backend/pkg/ai"
	"jobtrack-backend/pkg/queue"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticTokens struct{}

func (staticTokens) Validate(_ context.Context, token string) (*userdomain.User, error) {
	if token != "good" {
		return nil, errors.New("invalid token")
	}
	return &userdomain.User{ID: "u1"}, nil
}

type memoryDeviceTokens struct {
	saved map[string]string
}

func (m *memoryDeviceTokens) SaveToken(_ context.Context, userID, token, _ string) error {
	m.saved[token] = userID
	return nil
}

func (m *memoryDeviceTokens) GetTokensByUserID(context.Context, string) ([]userdomain.DeviceToken, error) {
	return nil, nil
}

func (m *memoryDeviceTokens) DeleteToken(_ context.Context, token string) error {
	delete(m.saved, token)
	return nil
}

func pushBody(data string) *bytes.Reader {
	encoded := base64.StdEncoding.EncodeToString([]byte(data))
	return bytes.NewReader([]byte(`{"message":{"data":"` + encoded + `","messageId":"1"},"subscription":"projects/p/subscriptions/s"}`))
}

func TestPushMessage(t *testing.T) {
	var got []string
	router := queue.NewRouter()
	router.Handle("classify", func(_ context.Context, data []byte) error {
		got = append(got, string(data))
		return nil
	})
	router.Handle("group", func(context.Context, []byte) error {
		return errors.New("database down")
	})
	engine := NewHandler(router, Options{PushToken: "s3cret"}, zerolog.Nop()).Engine()

	tests := []struct {
		name string
		path string
		body *bytes.Reader
		want int
	}{
		{"delivered", "/api/pubsub/push/classify?token=s3cret", pushBody(`{"object_key":"u1/m1"}`), http.StatusNoContent},
		{"handler error", "/api/pubsub/push/group?token=s3cret", pushBody(`{}`), http.StatusInternalServerError},
		{"unknown topic", "/api/pubsub/push/nope?token=s3cret", pushBody(`{}`), http.StatusNotFound},
		{"malformed envelope", "/api/pubsub/push/classify?token=s3cret", bytes.NewReader([]byte(`not json`)), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, tt.path, tt.body)
			req.Header.Set("Content-Type", "application/json")
			engine.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if len(got) != 1 || got[0] != `{"object_key":"u1/m1"}` {
		t.Fatalf("classify handler got %v", got)
	}
}

func TestPushMessageVerificationToken(t *testing.T) {
	router := queue.NewRouter()
	router.Handle("classify", func(context.Context, []byte) error { return nil })
	engine := NewHandler(router, Options{PushToken: "s3cret"}, zerolog.Nop()).Engine()

	for token, want := range map[string]int{"": http.StatusUnauthorized, "wrong": http.StatusUnauthorized, "s3cret": http.StatusNoContent} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/pubsub/push/classify?token="+token, pushBody(`{}`))
		engine.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("token %q: status = %d, want %d", token, w.Code, want)
		}
	}
}

func TestPushRouteDisabledWithoutToken(t *testing.T) {
	var called bool
	router := queue.NewRouter()
	router.Handle("group-changes", func(context.Context, []byte) error {
		called = true
		return nil
	})
	engine := NewHandler(router, Options{}, zerolog.Nop()).Engine()

	for _, path := range []string{"/api/pubsub/push/group-changes", "/api/pubsub/push/group-changes?token="} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, pushBody(`{"op":"update"}`)))
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", path, w.Code)
		}
	}
	if called {
		t.Fatal("handler ran without a configured push token")
	}
}

func TestDeviceRoutes(t *testing.T) {
	tokens := &memoryDeviceTokens{saved: map[string]string{}}
	devices := userDelivery.NewDeviceHandler(tokens, zerolog.Nop())
	engine := NewHandler(queue.NewRouter(), Options{Tokens: staticTokens{}, Devices: devices}, zerolog.Nop()).Engine()

	do := func(method, path, auth, body string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		engine.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(http.MethodPost, "/api/fcm/register", "", `{"token":"t1"}`); code != http.StatusUnauthorized {
		t.Fatalf("no auth: status = %d", code)
	}
	if code := do(http.MethodPost, "/api/fcm/register", "Bearer bad", `{"token":"t1"}`); code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", code)
	}
	if code := do(http.MethodPost, "/api/fcm/register", "Bearer good", `{}`); code != http.StatusBadRequest {
		t.Fatalf("missing token field: status = %d", code)
	}
	if code := do(http.MethodPost, "/api/fcm/register", "Bearer good", `{"token":"t1","device_info":"pixel"}`); code != http.StatusOK {
		t.Fatalf("register: status = %d", code)
	}
	if tokens.saved["t1"] != "u1" {
		t.Fatalf("saved = %v", tokens.saved)
	}
	if code := do(http.MethodDelete, "/api/fcm/t1", "Bearer good", ""); code != http.StatusNoContent {
		t.Fatalf("unregister: status = %d", code)
	}
	if len(tokens.saved) != 0 {
		t.Fatalf("token not removed: %v", tokens.saved)
	}
}

func TestProtectedRoutesDisabledWithoutValidator(t *testing.T) {
	engine := NewHandler(queue.NewRouter(), Options{
		Devices:  userDelivery.NewDeviceHandler(&memoryDeviceTokens{saved: map[string]string{}}, zerolog.Nop()),
		Settings: NewSettingsHandler(ai.NewOllamaSettings("", ""), zerolog.Nop()),
	}, zerolog.Nop()).Engine()

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/api/fcm/register"},
		{http.MethodGet, "/api/settings/ollama"},
		{http.MethodPut, "/api/settings/ollama"},
	} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(r.method, r.path, nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status = %d, want 404", r.method, r.path, w.Code)
		}
	}
}

func TestOllamaSettings(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer ollama.Close()

	settings := ai.NewOllamaSettings("http://127.0.0.1:1", "llama3")
	engine := NewHandler(queue.NewRouter(), Options{
		Tokens:   staticTokens{},
		Settings: NewSettingsHandler(settings, zerolog.Nop()),
	}, zerolog.Nop()).Engine()

	do := func(method, path, auth, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		engine.ServeHTTP(w, req)
		return w
	}

	if w := do(http.MethodPut, "/api/settings/ollama", "", `{"ollama_base_url":"http://evil.example"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated update: status = %d", w.Code)
	}
	if settings.BaseURL() != "http://127.0.0.1:1" {
		t.Fatalf("unauthenticated update changed settings to %s", settings.BaseURL())
	}
	if w := do(http.MethodPut, "/api/settings/ollama", "Bearer good", `{"ollama_base_url":"file:///etc/passwd"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad url: status = %d", w.Code)
	}

	w := do(http.MethodPut, "/api/settings/ollama", "Bearer good", `{"ollama_base_url":"`+ollama.URL+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d (%s)", w.Code, w.Body.String())
	}
	if settings.BaseURL() != ollama.URL || settings.Model() != "llama3" {
		t.Fatalf("settings = %s %s", settings.BaseURL(), settings.Model())
	}

	w = do(http.MethodGet, "/api/settings/ollama", "Bearer good", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), ollama.URL) {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}

	w = do(http.MethodPost, "/api/settings/ollama/test", "Bearer good", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"connected":true`) {
		t.Fatalf("test connection: %d %s", w.Code, w.Body.String())
	}

	w = do(http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health: status = %d", w.Code)
	}
}

func TestCORSAllowsConfiguredOriginsOnly(t *testing.T) {
	engine := NewHandler(queue.NewRouter(), Options{AllowedOrigins: []string{"https://app.jobtrack.test"}}, zerolog.Nop()).Engine()

	tests := []struct {
		origin      string
		wantOrigin  string
		credentials bool
	}{
		{"https://app.jobtrack.test", "https://app.jobtrack.test", true},
		{"https://attacker.test", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		engine.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
			t.Errorf("origin %q: allow-origin = %q, want %q", tt.origin, got, tt.wantOrigin)
		}
		if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.credentials {
			t.Errorf("origin %q: credentials = %v", tt.origin, got)
		}
	}
}
