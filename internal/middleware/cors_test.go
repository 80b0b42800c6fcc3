package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testOrigin = "https://pins.example.com"

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		allowed       string
		method        string
		origin        string
		preflight     bool
		wantStatus    int
		wantAllow     string
		wantNextCalls bool
	}{
		{"matching origin", testOrigin, http.MethodGet, testOrigin, false, http.StatusOK, testOrigin, true},
		{"foreign origin", testOrigin, http.MethodGet, "https://evil.example.com", false, http.StatusOK, "", true},
		{"no origin header", testOrigin, http.MethodGet, "", false, http.StatusOK, "", true},
		{"cors disabled", "", http.MethodGet, testOrigin, false, http.StatusOK, "", true},
		{"preflight", testOrigin, http.MethodOptions, testOrigin, true, http.StatusNoContent, testOrigin, false},
		{"plain options", testOrigin, http.MethodOptions, testOrigin, false, http.StatusOK, testOrigin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCORSMiddleware(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(tt.method, "/api/pins", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if called != tt.wantNextCalls {
				t.Errorf("next called = %v, want %v", called, tt.wantNextCalls)
			}
			if w.Header().Get("Vary") != "Origin" {
				t.Errorf("Vary = %q, want Origin", w.Header().Get("Vary"))
			}
		})
	}
}

func TestCORSMiddleware_PreflightAllowsCSRFHeader(t *testing.T) {
	handler := NewCORSMiddleware(testOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/reports", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	want := map[string]string{
		"Access-Control-Allow-Methods":     "GET, POST, PUT, OPTIONS",
		"Access-Control-Allow-Headers":     "Content-Type, X-CSRF-Token, X-Request-ID",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Max-Age":           "600",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
