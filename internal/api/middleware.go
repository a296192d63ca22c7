package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"cececho/internal/auth"
	"cececho/internal/logging"
	"cececho/internal/metrics"
	"cececho/pkg/types"
)

const requestIDHeader = "X-Request-ID"

// requestContext tags the request with an id, then records latency against the
// matched route pattern once the handler returns.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = logging.NewRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(logging.ContextWithRequestID(r.Context(), requestID)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.RecordAPIRequest(r.Method, route, status, elapsed)
		logging.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("HTTP request")
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}

// rateLimit bounds REST traffic per client IP. Non-positive settings disable it.
func rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, types.NewError(types.CodeRateLimited, "Too many requests, please try again later"))
		}),
	)
}

// authenticate resolves the bearer token and attaches the principal.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.deps.Authenticator.AuthenticateRequest(r)
		if err != nil {
			logging.Debug().Err(err).Str("path", r.URL.Path).Msg("REST authentication failed")
			respondJSON(w, http.StatusUnauthorized, errorResponse{Message: auth.Message(err)})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// principal returns the caller attached by authenticate. Routes behind the
// middleware always have one.
func principal(r *http.Request) *auth.Principal {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return &auth.Principal{}
	}
	return p
}
