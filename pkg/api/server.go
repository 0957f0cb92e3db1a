package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/bootstrap"
	"github.com/platinummonkey/tenantgate/pkg/guard"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/invitations"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/profiles"
)

// APIPrefix is the mount point of the JSON API
const APIPrefix = "/api/v1"

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// Dependencies are the services the HTTP surface is built from. Resolver,
// Guard, Bootstrap, Profiles, Orgs and Invitations are required.
type Dependencies struct {
	Resolver    auth.Resolver
	Guard       *guard.Guard
	Bootstrap   *bootstrap.Coordinator
	Profiles    profiles.Store
	Orgs        *orgs.Service
	Invitations *invitations.Service
	// Provisioner creates profiles for first-time principals. NewServer
	// builds one over Profiles when nil.
	Provisioner *profiles.Provisioner

	Audit   audit.Logger
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// SensitiveLimit wraps the setup and redemption endpoints
	SensitiveLimit *middleware.RateLimit
}

// Server is the tenantgate HTTP surface
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Dependencies
	paths   guard.Paths
	admin   *profiles.Admin
}

// NewServer creates a new Server and registers every route
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.WarnLevel, io.Discard)
	}
	if deps.Audit == nil {
		deps.Audit = audit.NoOp()
	}
	if deps.Provisioner == nil {
		deps.Provisioner = profiles.NewProvisioner(deps.Profiles, profiles.WithProvisionLogger(deps.Logger))
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		paths:  deps.Guard.Paths(),
		admin:  profiles.NewAdmin(deps.Profiles, deps.Logger),
	}
	s.setupRoutes()
	s.handler = s.wrap(s.router)
	return s
}

// Router returns the route table, without the outer middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) limit(h http.Handler) http.Handler {
	if s.deps.SensitiveLimit == nil {
		return h
	}
	return s.deps.SensitiveLimit.Handler(h)
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	g := s.deps.Guard

	// Pages
	s.router.HandleFunc(s.paths.Landing, s.landingPage).Methods(http.MethodGet)
	if s.paths.SignIn != s.paths.Landing {
		s.router.HandleFunc(s.paths.SignIn, s.signInPage).Methods(http.MethodGet)
	}
	s.router.Handle("/dashboard", g.PageFunc(s.dashboardPage)).Methods(http.MethodGet)
	s.router.Handle("/invitations/{token}", g.PageFunc(s.invitationPage)).Methods(http.MethodGet)
	s.router.Handle("/invitations/{token}", s.limit(g.PageFunc(s.acceptInvitation))).Methods(http.MethodPost)
	s.registerAdminPages()

	// Setup page and API
	bootstrap.NewHandlers(s.deps.Bootstrap, s.paths.Setup, s.paths.SignIn).RegisterRoutes(s.router, s.limit)

	api := s.router.PathPrefix(APIPrefix).Subrouter()
	api.Handle("/me", g.APIFunc(s.me)).Methods(http.MethodGet)
	s.registerAdminRoutes(api)
	s.registerOrgRoutes(api)
	s.registerInvitationRoutes(api)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteReason(w, http.StatusNotFound, auth.ReasonNotFound)
	})
}

// Handler returns the router wrapped in the full middleware stack
func (s *Server) Handler() http.Handler {
	return s.handler
}

// wrap builds the outer middleware stack. The setup gate sits inside
// principal resolution so its decisions are audited with the caller
// attached. Profiles are provisioned only once the platform is operational.
func (s *Server) wrap(next http.Handler) http.Handler {
	chain := httputil.Chain(
		observability.RecoveryMiddleware(s.deps.Logger),
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware(s.deps.Logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
		audit.Middleware(s.deps.Audit),
		auth.Middleware(s.deps.Resolver, s.deps.Logger),
		s.deps.Bootstrap.Middleware(s.paths.Setup, bootstrap.DefaultExemptPaths...),
		s.deps.Provisioner.Middleware,
	)
	return otelhttp.NewHandler(chain(next), "tenantgate",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
