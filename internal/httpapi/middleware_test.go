package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/obs"
	"parceltrack.org/internal/ratelimit"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, ratelimit.NewMemory(1, time.Minute), false))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if got := rr2.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
	if body["request_id"] == "" {
		t.Fatalf("expected request_id in body")
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected a different client to pass, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(base, ratelimit.NewMemory(2, time.Minute), false)

	var codes []int
	for i := range 5 {
		req := httptest.NewRequest(http.MethodGet, "/api/track/PKG12345678", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	want := []int{200, 200, 429, 429, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("rotating X-Forwarded-For: got statuses %v, want %v", codes, want)
		}
	}
}

func TestClientIPTrustProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5000"
	req.Header.Set("X-Forwarded-For", "6.6.6.6, 203.0.113.7")

	if got := clientIP(req, false); got != "192.0.2.10" {
		t.Fatalf("untrusted: expected socket peer, got %q", got)
	}
	if got := clientIP(req, true); got != "203.0.113.7" {
		t.Fatalf("trusted: expected proxy-appended address, got %q", got)
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.RemoteAddr = "192.0.2.11:5000"
	if got := clientIP(bare, true); got != "192.0.2.11" {
		t.Fatalf("trusted without header: expected socket peer, got %q", got)
	}
}

func TestRateLimitSkipsOtherPrefixes(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(base, ratelimit.NewMemory(1, time.Minute), false, "/api")

	for _, path := range []string{"/auth/me", "/auth/me", "/apix", "/apix"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	handler := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), failingLimiter{}, false)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/track/PKG12345678", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected request to pass, got %d", rr.Code)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(&buf), zapcore.DebugLevel)
	restore := obs.SetLogger(zap.New(core))
	defer restore()

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["msg"] != "request_complete" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
	if entry["request_id"] != rr.Header().Get(requestIDHeader) {
		t.Fatalf("logged request_id %v, response header %q", entry["request_id"], rr.Header().Get(requestIDHeader))
	}
}

func TestRequestIDPropagatesClientValue(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-rid-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "client-rid-1" || rr.Header().Get(requestIDHeader) != "client-rid-1" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rr.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if len(seen) == 0 || len(seen) > maxRequestIDLen {
		t.Fatalf("expected generated request id, got %q", seen)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/track", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || called {
		t.Fatalf("expected preflight short-circuit, got %d called=%v", rr.Code, called)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected allow-origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("Authorization not allowed: %q", rr.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestWithIdentityResolvesBearerToken(t *testing.T) {
	tokens, err := auth.NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	a := &API{auth: auth.NewService(nil, tokens, "")}
	token, err := tokens.Issue(auth.User{ID: "u-1", Name: "U", Role: auth.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got auth.Identity
	handler := a.withIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.IdentityFromContext(r.Context())
	}))

	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer " + token, "u-1"},
		{"lowercase scheme", "bearer " + token, "u-1"},
		{"missing", "", ""},
		{"basic scheme", "Basic abc", ""},
		{"tampered", "Bearer " + token + "x", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(authHeader, tc.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got.ID() != tc.want {
				t.Fatalf("expected identity %q, got %q", tc.want, got.ID())
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"  bearer   abc  ", "abc", false},
		{"Bearer ", "", true},
		{"Bear", "", true},
		{"Token abc", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("extractBearerToken(%q) = %q, %v", tc.header, got, err)
		}
	}
}
