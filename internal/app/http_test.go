package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*testHarness, http.Handler) {
	t.Helper()
	h := newHarness(t)
	h.start(t)
	return h, NewHTTPServer(h.service, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{"name": "Ali"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return body.Token
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodOptions, "/api/clients", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS origin header, got %q", got)
	}
}

func TestClientsRequireSession(t *testing.T) {
	_, handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/clients", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "UNAUTHORIZED") {
		t.Errorf("expected UNAUTHORIZED code in body: %s", rec.Body.String())
	}
}

func TestUnauthorizedMessageIsLocalized(t *testing.T) {
	_, handler := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	req.Header.Set("Accept-Language", "ar-EG,ar;q=0.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Message != localizeCode("UNAUTHORIZED", "ar") {
		t.Errorf("expected Arabic message, got %q", body.Error.Message)
	}
}

func TestClientLifecycleOverHTTP(t *testing.T) {
	h, handler := newTestServer(t)
	token := loginToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/clients", token, map[string]string{"name": "Ali", "phone": "0100"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// The mirror updates on the feed signal, which the fake feed delivers on
	// demand.
	h.feed.signal("clients")
	waitFor(t, time.Second, func() bool {
		rec := doJSON(t, handler, http.MethodGet, "/api/clients", token, nil)
		var body struct {
			Total int `json:"total"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			return false
		}
		return body.Total == 1
	})
}

func TestAddClientRejectsBadBody(t *testing.T) {
	_, handler := newTestServer(t)
	token := loginToken(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	_, handler := newTestServer(t)
	token := loginToken(t, handler)
	rec := doJSON(t, handler, http.MethodGet, "/api/nope", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
