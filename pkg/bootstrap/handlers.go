package bootstrap

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/httputil"
)

// Handlers serves the setup page and API
type Handlers struct {
	coordinator *Coordinator
	signInPath  string
	setupPath   string
}

// NewHandlers creates setup handlers. Callers that lost the race or arrive
// after initialization are pointed at signInPath.
func NewHandlers(coordinator *Coordinator, setupPath, signInPath string) *Handlers {
	return &Handlers{
		coordinator: coordinator,
		signInPath:  signInPath,
		setupPath:   setupPath,
	}
}

// RegisterRoutes mounts the setup routes on router. limit, when non-nil,
// wraps the initialization endpoint.
func (h *Handlers) RegisterRoutes(router *mux.Router, limit func(http.Handler) http.Handler) {
	var initialize http.Handler = http.HandlerFunc(h.Initialize)
	if limit != nil {
		initialize = limit(initialize)
	}

	router.HandleFunc(h.setupPath, h.SetupPage).Methods(http.MethodGet)
	router.Handle(SetupAPIPath, initialize).Methods(http.MethodPost)
	router.HandleFunc(SetupStatusPath, h.Status).Methods(http.MethodGet)
}

type statusResponse struct {
	State State `json:"state"`
}

type setupPage struct {
	Page  string `json:"page"`
	State State  `json:"state"`
}

type initializeResponse struct {
	*Result
	Redirect string `json:"redirect"`
}

// SetupPage handles GET /setup. Once initialized it redirects to sign-in.
func (h *Handlers) SetupPage(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.State(r.Context())
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if state == StateOperational {
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, h.signInPath, http.StatusSeeOther)
		return
	}
	_ = httputil.WriteSuccess(w, setupPage{Page: "setup", State: state})
}

// Status handles GET /api/v1/setup/status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.State(r.Context())
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, statusResponse{State: state})
}

// Initialize handles POST /api/v1/setup
func (h *Handlers) Initialize(w http.ResponseWriter, r *http.Request) {
	var req Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.coordinator.Initialize(r.Context(), req)
	if errors.Is(err, ErrAlreadyInitialized) {
		httputil.WriteReasonRedirect(w, http.StatusConflict, string(ReasonAlreadyInitialized), h.signInPath)
		return
	}
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}

	_ = httputil.WriteCreated(w, initializeResponse{Result: result, Redirect: h.signInPath})
}
