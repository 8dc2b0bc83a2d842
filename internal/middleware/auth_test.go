package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/agentbank/internal/logging"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(testSecret, "agentbank-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(logging.ActorID(r.Context()) + "|" + logging.ActorRole(r.Context())))
	})
}

func TestNewTokenIssuerRejectsShortSecret(t *testing.T) {
	if _, err := NewTokenIssuer("short", "x", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestIssueAndParse(t *testing.T) {
	issuer := newIssuer(t)
	token, expires, err := issuer.Issue("user-1", "chef_agence")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expiry in the past: %v", expires)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "chef_agence" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsForeignTokens(t *testing.T) {
	issuer := newIssuer(t)

	other, _ := NewTokenIssuer("ffffffffffffffffffffffffffffffff", "agentbank-test", time.Hour)
	forged, _, _ := other.Issue("user-1", "admin_general")
	if _, err := issuer.Parse(forged); err == nil {
		t.Error("token signed with another secret accepted")
	}

	wrongIssuer, _ := NewTokenIssuer(testSecret, "elsewhere", time.Hour)
	token, _, _ := wrongIssuer.Issue("user-1", "agent")
	if _, err := issuer.Parse(token); err == nil {
		t.Error("token from another issuer accepted")
	}

	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, _ := issuer.Issue("user-1", "agent")
	issuer.now = time.Now
	if _, err := issuer.Parse(expired); err == nil {
		t.Error("expired token accepted")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "user-1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := issuer.Parse(unsigned); err == nil {
		t.Error("unsigned token accepted")
	}
}

func TestAuthMiddlewareHandler(t *testing.T) {
	issuer := newIssuer(t)
	handler := NewAuthMiddleware(issuer, nil, []string{"/health"}).Handler(echoActor())
	token, _, _ := issuer.Issue("user-9", "agent")

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"skip path", "/health", "", http.StatusOK, "|"},
		{"missing header", "/rpc/x", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/rpc/x", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage token", "/rpc/x", "Bearer nope", http.StatusUnauthorized, ""},
		{"valid token", "/rpc/x", "Bearer " + token, http.StatusOK, "user-9|agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if rec.Body.String() != tt.wantBody {
					t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
				}
				return
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["status"] != "error" || body["code"] != "UNAUTHENTICATED" {
				t.Fatalf("unexpected error body %v", body)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/rpc/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	other := httptest.NewRequest(http.MethodGet, "/rpc/x", nil)
	other = other.WithContext(logging.WithActor(other.Context(), "user-2", "agent"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("separate actor throttled: %d", rec.Code)
	}

	rl.now = func() time.Time { return time.Now().Add(time.Hour) }
	if removed := rl.Cleanup(time.Minute); removed != 2 {
		t.Fatalf("Cleanup removed %d, want 2", removed)
	}
}

func TestTracingAndCORS(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.TraceID(r.Context())
	})
	handler := NewCORSMiddleware([]string{"https://dash.example"}).Handler(NewTracingMiddleware(nil).Handler(inner))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(TraceHeader, "trace-1")
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "trace-1" || rec.Header().Get(TraceHeader) != "trace-1" {
		t.Fatalf("trace id not propagated: %q / %q", seen, rec.Header().Get(TraceHeader))
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://dash.example" {
		t.Fatalf("allowed origin not echoed")
	}

	req = httptest.NewRequest(http.MethodOptions, "/rpc/x", nil)
	req.Header.Set("Origin", "https://evil.dash.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected preflight response %d %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
