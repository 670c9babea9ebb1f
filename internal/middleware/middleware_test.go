package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"supportdraft/internal/logging"
)

func TestGetClientIP(t *testing.T) {
	testCases := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "forwarded chain", forwarded: "203.0.113.7, 10.0.0.1", remoteAddr: "10.0.0.1:1234", want: "203.0.113.7"},
		{name: "real ip", realIP: "198.51.100.2", remoteAddr: "10.0.0.1:1234", want: "198.51.100.2"},
		{name: "remote addr", remoteAddr: "192.0.2.10:5555", want: "192.0.2.10"},
		{name: "remote addr without port", remoteAddr: "192.0.2.10", want: "192.0.2.10"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := getClientIP(req); got != tc.want {
				t.Errorf("getClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIPLimiters_Middleware(t *testing.T) {
	limiters := NewIPLimiters(1, 2)
	handler := limiters.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/channelio", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status codes %v", codes)
	}

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/webhook/channelio", nil)
	req.RemoteAddr = "192.0.2.2:1000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second client got %d, want 200", rec.Code)
	}
}

func TestIPLimiters_Sweep(t *testing.T) {
	limiters := NewIPLimiters(1, 1)
	limiters.Allow("192.0.2.1")
	limiters.Allow("192.0.2.2")

	limiters.Sweep(time.Hour)
	if limiters.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", limiters.Len())
	}

	limiters.Sweep(-time.Second)
	if limiters.Len() != 0 {
		t.Errorf("Len() = %d after sweep, want 0", limiters.Len())
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	var sawLogger bool
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = logging.LoggerFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
	if !sawLogger {
		t.Error("expected a logger in the request context")
	}
}

func TestMetricsMiddleware_RouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware)

	var endpoint string
	r.HandleFunc("/api/items/{id}", func(w http.ResponseWriter, req *http.Request) {
		endpoint = routeTemplate(req)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/7", nil))
	if endpoint != "/api/items/{id}" {
		t.Errorf("routeTemplate() = %q, want /api/items/{id}", endpoint)
	}
}
