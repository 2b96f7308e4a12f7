package dispatch

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sonroyaalmerol/itip-engine/internal/auth"
	"github.com/sonroyaalmerol/itip-engine/internal/config"
)

// NewRouter wires the dispatcher's HTTP surface: a bearer-authenticated
// outbox/inbox pair under the configured base path, plus an
// unauthenticated health check — the same route-then-authenticate
// shape as the teacher's router.New, trimmed to this package's five
// operations instead of full WebDAV method dispatch.
func NewRouter(cfg *config.Config, h *Handler, authn *auth.Chain, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	base := basePath(cfg)
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle(base+"outbox/create", authenticated(authn, logger, h.HandleProposeCreate))
	mux.Handle(base+"outbox/update", authenticated(authn, logger, h.HandleProposeUpdate))
	mux.Handle(base+"outbox/cancel", authenticated(authn, logger, h.HandleProposeCancel))
	mux.Handle(base+"outbox/refresh", authenticated(authn, logger, h.HandleRefresh))
	mux.Handle(base+"inbox", authenticated(authn, logger, h.HandleInbound))

	return mux
}

func basePath(cfg *config.Config) string {
	base := cfg.HTTP.BasePath
	if base == "" || base[0] != '/' {
		base = "/scheduling"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func authenticated(authn *auth.Chain, logger zerolog.Logger, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		authz := r.Header.Get("Authorization")
		lower := strings.ToLower(authz)
		if !strings.HasPrefix(lower, "bearer ") || !authn.BearerEnabled() {
			w.Header().Set("WWW-Authenticate", `Bearer`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		p, err := authn.BearerAuthenticate(r.Context(), strings.TrimSpace(authz[len("bearer "):]))
		if err != nil || p == nil {
			logger.Info().Str("ip", realIP(r)).Str("path", r.URL.Path).Err(err).Msg("dispatch auth rejected")
			w.Header().Set("WWW-Authenticate", `Bearer`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next(rec, r.WithContext(auth.WithPrincipal(r.Context(), p)))

		logger.Info().
			Str("user", p.UserID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", statusOrDefault(rec.status)).
			Int("bytes", rec.bytes).
			Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0).
			Str("ip", realIP(r)).
			Msg("dispatch request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func statusOrDefault(st int) int {
	if st == 0 {
		return http.StatusOK
	}
	return st
}

func realIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xr := req.Header.Get("X-Real-IP"); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
