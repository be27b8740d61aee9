package httpservice

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/faceshell/pkg/lifecycle"
	"github.com/bft-labs/faceshell/pkg/log"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Backend is where every request outside the shell's own routes is
	// proxied. When nil those requests get 503.
	Backend *url.URL

	// Status reports the controller state on GET /status.
	Status func() lifecycle.Status

	// Gatherer, when set, is exposed on GET /metrics.
	Gatherer prometheus.Gatherer

	Logger log.Logger
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewRouter builds the handler served by the embedded service: health,
// status and metrics routes plus a reverse proxy to the recognition backend.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	if opts.Status != nil {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			st := opts.Status()
			writeJSON(w, http.StatusOK, statusResponse{
				State:  st.State.String(),
				Reason: st.Reason,
				Error:  st.Error,
			})
		})
	}

	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.Backend != nil {
		proxy := httputil.NewSingleHostReverseProxy(opts.Backend)
		proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
			logger.Warn("backend request failed",
				log.String("path", req.URL.Path), log.Err(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "backend unavailable"})
		}
		r.Handle("/*", proxy)
	} else {
		r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backend not configured"})
		}))
	}

	return r
}

func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.Debug("request",
				log.String("method", req.Method),
				log.String("path", req.URL.Path),
				log.Int("status", ww.Status()),
				log.Duration("duration", time.Since(start)),
				log.String("request_id", middleware.GetReqID(req.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
