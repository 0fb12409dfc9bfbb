package log

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

func requestLogger(base zerolog.Logger, incomingID, method, path, clientIP string) (zerolog.Logger, string) {
	reqID := incomingID
	if reqID == "" {
		reqID = uuid.New().String()
	}
	return base.With().
		Str(FieldRequestID, reqID).
		Str(FieldMethod, method).
		Str(FieldPath, path).
		Str(FieldClientIP, clientIP).
		Logger(), reqID
}

func levelFor(l zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return l.Error()
	case status >= 400:
		return l.Warn()
	default:
		return l.Info()
	}
}

// GinMiddleware attaches a request-scoped logger and logs each completed
// request with the actor set by the auth middleware.
func GinMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		child, reqID := requestLogger(logger, c.GetHeader(headerRequestID), c.Request.Method, c.FullPath(), c.ClientIP())

		c.Header(headerRequestID, reqID)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), child))

		c.Next()

		status := c.Writer.Status()
		evt := levelFor(child, status).
			Int(FieldStatus, status).
			Int64(FieldLatency, time.Since(start).Milliseconds())
		if userID := c.GetString(FieldUserID); userID != "" {
			evt = evt.Str(FieldUserID, userID)
		}
		if username := c.GetString(FieldUsername); username != "" {
			evt = evt.Str(FieldUsername, username)
		}
		evt.Msg("request completed")
	}
}

// UpgradeMiddleware wraps a websocket endpoint. It attaches a request-scoped
// logger and records whether the handshake was upgraded or refused.
func UpgradeMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			child, reqID := requestLogger(logger, r.Header.Get(headerRequestID), r.Method, r.URL.Path, clientIP(r))
			w.Header().Set(headerRequestID, reqID)

			rec := &upgradeRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(WithLogger(r.Context(), child)))

			if rec.hijacked {
				child.Info().Int(FieldStatus, http.StatusSwitchingProtocols).Msg("websocket upgraded")
				return
			}
			levelFor(child, rec.status).
				Int(FieldStatus, rec.status).
				Int64(FieldLatency, time.Since(start).Milliseconds()).
				Msg("websocket handshake refused")
		})
	}
}

// upgradeRecorder captures the status of refused handshakes and passes
// Hijack through for accepted ones.
type upgradeRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (r *upgradeRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *upgradeRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not implement http.Hijacker")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.hijacked = true
	}
	return conn, rw, err
}

// clientIP mirrors gin's ClientIP for the plain net/http websocket route.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
