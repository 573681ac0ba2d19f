package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"unum/internal/enroll"
	"unum/internal/registry"
	id "unum/pkg/domain"
	dErrors "unum/pkg/domain-errors"
	"unum/pkg/platform/httputil"
	"unum/pkg/requestcontext"
)

// Service defines the interface for enrollment operations.
type Service interface {
	Enroll(ctx context.Context, req enroll.EnrollRequest) (id.DID, error)
	Resolve(ctx context.Context, did id.DID) (*registry.Identity, error)
	RevokeIdentity(ctx context.Context, did id.DID, controller id.ControllerID, reason string) error
	RotateControllers(ctx context.Context, did id.DID, controller id.ControllerID, newControllers []id.ControllerID) error
}

// Handler wires enrollment endpoints to the enrollment service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an enrollment handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts enrollment endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identities", h.HandleEnroll)
	r.Get("/identities/{did}", h.HandleResolve)
	r.Post("/identities/{did}/revoke", h.HandleRevoke)
	r.Post("/identities/{did}/controllers", h.HandleRotate)
}

// HandleEnroll handles POST /identities requests.
func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	if _, ok := h.requireController(w, ctx); !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[EnrollRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	did, err := h.service.Enroll(ctx, enroll.EnrollRequest{
		Commitment:    req.ParsedCommitment(),
		Network:       req.Network,
		Controllers:   req.ParsedControllers(),
		SchemaVersion: req.ParsedVersion(),
	})
	if err != nil {
		// Duplicates are routine traffic; only infrastructure trouble is
		// worth an error-level line.
		if dErrors.Retryable(err) || dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			h.logger.ErrorContext(ctx, "enrollment failed",
				"request_id", requestID,
				"network", req.Network,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "enrollment completed",
		"request_id", requestID,
		"did", did.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, &EnrollResponse{DID: did.String()})
}

// HandleResolve handles GET /identities/{did} requests.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	did, ok := h.pathDID(w, r)
	if !ok {
		return
	}

	identity, err := h.service.Resolve(ctx, did)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromIdentity(identity))
}

// HandleRevoke handles POST /identities/{did}/revoke requests.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	controller, ok := h.requireController(w, ctx)
	if !ok {
		return
	}
	did, ok := h.pathDID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.RevokeIdentity(ctx, did, controller, req.Reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRotate handles POST /identities/{did}/controllers requests.
func (h *Handler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	controller, ok := h.requireController(w, ctx)
	if !ok {
		return
	}
	did, ok := h.pathDID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RotateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.RotateControllers(ctx, did, controller, req.ParsedControllers()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireController(w http.ResponseWriter, ctx context.Context) (id.ControllerID, bool) {
	controller := requestcontext.ControllerID(ctx)
	if controller.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return controller, true
}

func (h *Handler) pathDID(w http.ResponseWriter, r *http.Request) (id.DID, bool) {
	raw := chi.URLParam(r, "did")
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "did path parameter is required"))
		return "", false
	}
	return id.DID(raw), true
}
