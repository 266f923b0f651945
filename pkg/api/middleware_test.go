package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		requestMethod  string
		expectedOrigin string
	}{
		{name: "wildcard echoes the origin", allowedOrigins: []string{"*"}, requestOrigin: "https://example.com", requestMethod: http.MethodGet, expectedOrigin: "https://example.com"},
		{name: "wildcard without origin", allowedOrigins: []string{"*"}, requestMethod: http.MethodGet, expectedOrigin: "*"},
		{name: "listed origin", allowedOrigins: []string{"https://a.com", "https://b.com"}, requestOrigin: "https://b.com", requestMethod: http.MethodGet, expectedOrigin: "https://b.com"},
		{name: "unlisted origin", allowedOrigins: []string{"https://a.com"}, requestOrigin: "https://evil.com", requestMethod: http.MethodGet},
		{name: "no allowed origins", allowedOrigins: []string{}, requestOrigin: "https://a.com", requestMethod: http.MethodGet},
		{name: "preflight", allowedOrigins: []string{"https://a.com"}, requestOrigin: "https://a.com", requestMethod: http.MethodOptions, expectedOrigin: "https://a.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.requestMethod, "/test", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			w := httptest.NewRecorder()

			CORSMiddleware(tt.allowedOrigins)(okHandler("OK")).ServeHTTP(w, req)

			require.Equal(t, tt.expectedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.expectedOrigin != "" {
				require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
				require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
				require.Equal(t, corsMaxAge, w.Header().Get("Access-Control-Max-Age"))
			}

			require.Equal(t, http.StatusOK, w.Code)
			if tt.requestMethod == http.MethodOptions {
				require.Empty(t, w.Body.String(), "preflight does not reach the handler")
			} else {
				require.Equal(t, "OK", w.Body.String())
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	wrapped.WriteHeader(http.StatusCreated)
	require.Equal(t, http.StatusCreated, wrapped.statusCode)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		w := httptest.NewRecorder()
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) })

		LoggingMiddleware(logger.NewNopLogger())(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Equal(t, status, w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	for name, value := range map[string]any{"string": "boom", "error": assert.AnError, "integer": 42} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic(value) })
			w := httptest.NewRecorder()

			require.NotPanics(t, func() {
				RecoveryMiddleware(logger.NewNopLogger())(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			})
			require.Equal(t, http.StatusInternalServerError, w.Code)
			require.Equal(t, "Internal Server Error\n", w.Body.String())
		})
	}
}

func TestMiddlewareChaining(t *testing.T) {
	t.Parallel()

	log := logger.NewNopLogger()
	handler := RecoveryMiddleware(log)(LoggingMiddleware(log)(CORSMiddleware([]string{"*"})(okHandler("final handler"))))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "final handler", w.Body.String())
	require.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
