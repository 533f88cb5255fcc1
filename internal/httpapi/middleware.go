package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

const RequestIDHeader = "X-Request-ID"

var httpRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pharmagpt",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code",
	},
	[]string{"route", "code"},
)

func init() {
	prometheus.MustRegister(httpRequests)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(interaction.WithRequestID(r.Context(), id)))
	})
}

// withCORS allows credentials, so a "*" origin list echoes the caller's
// Origin instead of sending a literal wildcard.
func withCORS(origins []string, next http.Handler) http.Handler {
	wildcard := false
	allowed := map[string]bool{}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (wildcard || allowed[origin]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
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

func withAccessLog(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := routeLabel(r.URL.Path)
		httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		logger.Info("http request",
			zap.String("request_id", interaction.RequestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(started)))
	})
}

// routeLabel keeps metric cardinality bounded by collapsing ids.
func routeLabel(path string) string {
	switch {
	case path == "/", path == "/healthz", path == "/metrics",
		path == "/api/interactions", path == "/api/interactions/process":
		return path
	case strings.HasPrefix(path, "/api/interactions/") && strings.HasSuffix(path, "/report"):
		return "/api/interactions/{id}/report"
	case strings.HasPrefix(path, "/api/interactions/"):
		return "/api/interactions/{id}"
	default:
		return "other"
	}
}
