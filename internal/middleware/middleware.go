package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CaseInsensitive lowercases URL paths so /API/Sessions/4 and /api/sessions/4 match.
// Scanners and QR codes in alphanumeric mode send upper case.
func CaseInsensitive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.ToLower(r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request. Server errors log at Warn, the rest at Debug.
// Websocket upgrades are passed through untouched since they need the raw ResponseWriter.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", time.Since(start)),
			}
			if rec.status >= http.StatusInternalServerError {
				log.Warn("request failed", fields...)
				return
			}
			log.Debug("request", fields...)
		})
	}
}
