package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"edgecam/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades through the recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RequestLogger logs method, path, status and duration of every request.
// Server errors are logged at error level, client errors as warnings.
func RequestLogger(logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(recorder, r)

			duration := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			switch {
			case recorder.status >= 500:
				logger.Error("%s %s %d %s [%s]", r.Method, r.URL.Path, recorder.status, duration, reqID)
			case recorder.status >= 400:
				logger.Warning("%s %s %d %s [%s]", r.Method, r.URL.Path, recorder.status, duration, reqID)
			default:
				logger.Info("%s %s %d %s [%s]", r.Method, r.URL.Path, recorder.status, duration, reqID)
			}
		})
	}
}
