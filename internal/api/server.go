// Package api is the REST surface of the communication core: calls, groups,
// messages, the community sweep and the client ICE configuration.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cececho/internal/auth"
	"cececho/internal/authz"
	"cececho/internal/calls"
	"cececho/internal/chat"
	"cececho/internal/config"
	"cececho/internal/membership"
	"cececho/pkg/interfaces"
)

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetStats() map[string]int
	DisconnectUser(userID string) int
}

// Authenticator resolves the bearer token of a request.
type Authenticator interface {
	AuthenticateRequest(r *http.Request) (*auth.Principal, error)
}

// Dependencies are the collaborators the routes call into.
type Dependencies struct {
	Store         interfaces.DatabaseManager
	Calls         *calls.Service
	Chat          *chat.Service
	Membership    *membership.Manager
	Enforcer      *authz.Enforcer
	Authenticator Authenticator
	Registry      Registry

	// WebSocket serves /ws; it authenticates on its own
	WebSocket http.Handler
}

// Config holds HTTP-level settings.
type Config struct {
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	ICE               config.ICEConfig
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Business rules stay in the services; handlers decode, authorize the caller and encode
type Server struct {
	deps   Dependencies
	config Config
	router chi.Router
}

// NewServer builds the router with its middleware stack.
func NewServer(deps Dependencies, cfg Config) *Server {
	s := &Server{
		deps:   deps,
		config: cfg,
	}
	s.router = s.routes()
	return s
}

// ARCHITECTURAL DISCOVERY: CORS is global so OPTIONS preflight never reaches auth
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(requestContext)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware(s.config.CORSOrigins))

	r.Get("/health", s.healthCheck)
	r.Handle("/metrics", promhttp.Handler())
	if s.deps.WebSocket != nil {
		r.Handle("/ws", s.deps.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(s.config.RateLimitRequests, s.config.RateLimitWindow))
		r.Use(s.authenticate)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/calls", s.createCall)
			r.Put("/calls/{id}", s.updateCall)

			r.Get("/groups", s.listGroups)
			r.Get("/groups/{id}", s.getGroup)
			r.Put("/groups/add-member/{id}", s.addMember)

			r.Post("/messages", s.sendMessage)
			r.Get("/messages/group/{groupId}", s.groupMessages)
			r.Get("/messages/{userId}", s.directMessages)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/cec-assemble/cleanup", s.runCleanup)
			r.Delete("/users/{id}", s.deleteUser)
		})

		r.Get("/webrtc/config", s.webrtcConfig)
	})

	return r
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
