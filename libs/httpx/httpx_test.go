package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestWithAuthAndRequireStaff(t *testing.T) {
	secret := "test-secret"
	v := &auth.Verifier{Secret: secret}
	h := Chain(okHandler(), WithAuth(v, nil), RequireStaff)

	sign := func(role string) string {
		tok, err := auth.SignHS256(auth.NewClaims("u-1", role, time.Hour), secret)
		if err != nil {
			t.Fatalf("SignHS256 failed: %v", err)
		}
		return tok
	}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"garbage", "Bearer badtoken", http.StatusUnauthorized},
		{"customer", "Bearer " + sign(auth.RoleCustomer), http.StatusForbidden},
		{"staff", "Bearer " + sign(auth.RoleStaff), http.StatusOK},
		{"admin", "bearer " + sign(auth.RoleAdmin), http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if rw.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rw.Code)
		}
	}
}

func TestRequireAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("internal-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	h := RequireAPIKey(string(hash))(okHandler())

	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rw.Code)
	}

	req.Header.Set(APIKeyHeader, "internal-key")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

func TestRequireAPIKey_EmptyHashRejectsEverything(t *testing.T) {
	for _, hash := range []string{"", "   "} {
		h := RequireAPIKey(hash)(okHandler())
		for _, key := range []string{"", "internal-key"} {
			req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
			if key != "" {
				req.Header.Set(APIKeyHeader, key)
			}
			rw := httptest.NewRecorder()
			h.ServeHTTP(rw, req)
			if rw.Code != http.StatusUnauthorized {
				t.Fatalf("hash %q key %q: expected 401, got %d", hash, key, rw.Code)
			}
		}
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2030, 6, 3, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimit{Limit: 2, Window: time.Minute})
	rl.now = func() time.Time { return now }
	h := rl.Middleware()(okHandler())

	hit := func(remoteAddr, xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req.RemoteAddr = remoteAddr
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		if rw := hit("10.0.0.1:1234", "1.2.3.4"); rw.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rw.Code)
		}
	}

	now = now.Add(20 * time.Second)
	rw := hit("10.0.0.1:1234", "")
	if rw.Header().Get("Retry-After") != "40" || rw.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected limit headers %v", rw.Header())
	}
	if rw := hit("10.0.0.2:1234", ""); rw.Code != http.StatusOK {
		t.Fatalf("other clients have their own window, got %d", rw.Code)
	}

	now = now.Add(40 * time.Second)
	if rw := hit("10.0.0.1:1234", ""); rw.Code != http.StatusOK {
		t.Fatalf("expected a fresh window, got %d", rw.Code)
	}
}

func TestClientKeyForwardedHops(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	req.Header.Set("X-Forwarded-For", "6.6.6.6, 203.0.113.7")

	cases := []struct {
		hops int
		want string
	}{
		{0, "10.0.0.9"},
		{1, "203.0.113.7"},
		{2, "6.6.6.6"},
		{5, "6.6.6.6"},
	}
	for _, tc := range cases {
		if got := clientKey(req, tc.hops); got != tc.want {
			t.Fatalf("hops=%d: expected %s, got %s", tc.hops, tc.want, got)
		}
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen != "abc" || rw.Header().Get(RequestIDHeader) != "abc" {
		t.Fatalf("expected request id abc, got ctx=%q header=%q", seen, rw.Header().Get(RequestIDHeader))
	}

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "http://example.com", nil))
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set(RequestIDHeader, "two words")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "two words" || len(seen) != 36 {
		t.Fatalf("expected malformed id to be replaced, got %q", seen)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	if err := DecodeJSON(req, &dst); err == nil {
		t.Fatal("expected unknown field error")
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	if err := DecodeJSON(req, &dst); err != nil || dst.Name != "x" {
		t.Fatalf("unexpected decode result: %v %+v", err, dst)
	}
}

func TestWriteError(t *testing.T) {
	rw := httptest.NewRecorder()
	WriteError(rw, http.StatusConflict, "slot taken")
	var body map[string]string
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if rw.Code != http.StatusConflict || body["error"] != "slot taken" {
		t.Fatalf("unexpected response %d %v", rw.Code, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://studio.example"},
		AllowedMethods: []string{"GET", "POST"},
	})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "http://example.com", nil)
	req.Header.Set("Origin", "https://studio.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}
	if rw.Header().Get("Access-Control-Allow-Origin") != "https://studio.example" {
		t.Fatalf("unexpected allow-origin %q", rw.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSOrigins(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins:   []string{"https://*.studio.example"},
		AllowCredentials: true,
	})(okHandler())

	cases := []struct {
		origin string
		want   string
	}{
		{"https://booking.studio.example", "https://booking.studio.example"},
		{"https://a.b.studio.example", ""},
		{"https://studio.example", ""},
		{"https://evil.example", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req.Header.Set("Origin", tc.origin)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if got := rw.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
			t.Fatalf("%s: expected allow-origin %q, got %q", tc.origin, tc.want, got)
		}
		if rw.Code != http.StatusOK {
			t.Fatalf("%s: actual requests must reach the handler, got %d", tc.origin, rw.Code)
		}
		if tc.want != "" && !strings.Contains(rw.Header().Get("Access-Control-Expose-Headers"), "Retry-After") {
			t.Fatalf("%s: Retry-After must be exposed", tc.origin)
		}
	}
}
