package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/sidechain-registry/api"
	"github.com/ruteri/sidechain-registry/api/callerauth"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/ruteri/sidechain-registry/metrics"
)

// CheckpointFunc persists a snapshot of the registry and returns its content id.
type CheckpointFunc func(ctx context.Context) (interfaces.ContentID, error)

// Handler serves the registry operations over HTTP.
type Handler struct {
	registry   interfaces.SidechainRegistry
	checkpoint CheckpointFunc
	metrics    *metrics.MetricsServer
	log        *slog.Logger
}

type Option func(*Handler)

// WithCheckpoint enables POST /api/admin/checkpoint.
func WithCheckpoint(fn CheckpointFunc) Option {
	return func(h *Handler) { h.checkpoint = fn }
}

func WithMetrics(m *metrics.MetricsServer) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a new HTTP request handler for registry.
func NewHandler(registry interfaces.SidechainRegistry, log *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		log:      log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/owner", h.HandleOwner)

	r.Get("/api/v1/permissions/{address}", h.HandlePermissionsOf)
	r.Put("/api/v1/permissions/{address}", h.HandleSetPermission)

	r.Get("/api/v1/change-agents", h.HandleChangeAgents)
	r.Get("/api/v1/change-agents/{address}", h.HandleIsChangeAgent)
	r.Put("/api/v1/change-agents/{address}", h.HandleUpdateChangeAgent)

	r.Get("/api/v1/sidechains", h.HandleSidechains)
	r.Get("/api/v1/sidechains/{address}", h.HandleSidechainStatus)
	r.Post("/api/v1/sidechains/{address}", h.HandleAddSidechain)
	r.Delete("/api/v1/sidechains/{address}", h.HandleRemoveSidechain)

	r.Get("/api/v1/notifications", h.HandleNotifications)

	r.Post("/api/admin/checkpoint", h.HandleCheckpoint)
}

// HandleOwner returns the registry owner.
//
// URL format: GET /api/v1/owner
func (h *Handler) HandleOwner(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.OwnerResponse{Owner: h.registry.Owner()})
}

// HandlePermissionsOf returns the permission bitmask of an address, 0 if never set.
//
// URL format: GET /api/v1/permissions/{address}
func (h *Handler) HandlePermissionsOf(w http.ResponseWriter, r *http.Request) {
	target, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, api.PermissionsResponse{Address: target, Bits: h.registry.PermissionsOf(target)})
}

// HandleSetPermission overwrites the permission bitmask of an address. Owner only.
//
// URL format: PUT /api/v1/permissions/{address}
// Body: {"bits": <uint64>}
func (h *Handler) HandleSetPermission(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	target, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	var req api.SetPermissionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Bits == nil {
		http.Error(w, "missing bits", http.StatusBadRequest)
		return
	}

	err := h.registry.SetPermission(caller, target, *req.Bits)
	h.metrics.ObserveOperation("set_permission", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.PermissionsResponse{Address: target, Bits: h.registry.PermissionsOf(target)})
}

// HandleChangeAgents lists the change agents.
//
// URL format: GET /api/v1/change-agents
func (h *Handler) HandleChangeAgents(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.ChangeAgentsResponse{ChangeAgents: h.registry.ChangeAgents()})
}

// HandleIsChangeAgent reports whether an address is a change agent.
//
// URL format: GET /api/v1/change-agents/{address}
func (h *Handler) HandleIsChangeAgent(w http.ResponseWriter, r *http.Request) {
	target, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, api.ChangeAgentResponse{Address: target, Enabled: h.registry.IsChangeAgent(target)})
}

// HandleUpdateChangeAgent grants or revokes change-agent status. Owner only.
//
// URL format: PUT /api/v1/change-agents/{address}
// Body: {"enabled": <bool>}
func (h *Handler) HandleUpdateChangeAgent(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	target, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	var req api.UpdateChangeAgentRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		http.Error(w, "missing enabled", http.StatusBadRequest)
		return
	}

	err := h.registry.UpdateChangeAgent(caller, target, *req.Enabled)
	h.metrics.ObserveOperation("update_change_agent", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ChangeAgentResponse{Address: target, Enabled: h.registry.IsChangeAgent(target)})
}

// HandleSidechains lists the active sidechains.
//
// URL format: GET /api/v1/sidechains
func (h *Handler) HandleSidechains(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.SidechainsResponse{Sidechains: h.registry.Sidechains()})
}

// HandleSidechainStatus returns status and marketplace of a sidechain.
//
// URL format: GET /api/v1/sidechains/{address}
func (h *Handler) HandleSidechainStatus(w http.ResponseWriter, r *http.Request) {
	sidechain, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, api.SidechainResponse{
		Sidechain:     sidechain,
		Active:        h.registry.StatusOf(sidechain),
		MarketplaceID: h.registry.MarketplaceIDOf(sidechain),
	})
}

// HandleAddSidechain activates a sidechain. Change agents only.
//
// URL format: POST /api/v1/sidechains/{address}
// Body: {"marketplace_id": <uint64>}
func (h *Handler) HandleAddSidechain(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	sidechain, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	var req api.AddSidechainRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	err := h.registry.AddSidechain(caller, sidechain, req.MarketplaceID)
	h.metrics.ObserveOperation("add_sidechain", err)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, api.SidechainResponse{
		Sidechain:     sidechain,
		Active:        true,
		MarketplaceID: req.MarketplaceID,
	})
}

// HandleRemoveSidechain deactivates a sidechain. Change agents only.
//
// URL format: DELETE /api/v1/sidechains/{address}
func (h *Handler) HandleRemoveSidechain(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	sidechain, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	closed, err := h.registry.RemoveSidechain(caller, sidechain)
	h.metrics.ObserveOperation("remove_sidechain", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.RemoveSidechainResponse{Sidechain: sidechain, Closed: closed})
}

// HandleNotifications pages through the notification log.
//
// URL format: GET /api/v1/notifications?since=<sequence>&limit=<n>
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var since uint64
	if raw := query.Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, fmt.Errorf("invalid since: %w", err).Error(), http.StatusBadRequest)
			return
		}
		since = parsed
	}

	var limit int
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	page := h.registry.Notifications(since, limit)
	next := since
	if len(page) > 0 {
		next = page[len(page)-1].Sequence
	}
	h.writeJSON(w, http.StatusOK, api.NotificationsResponse{Notifications: page, Next: next})
}

// HandleCheckpoint stores a snapshot of the registry. Owner only.
//
// URL format: POST /api/admin/checkpoint
func (h *Handler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	if caller != h.registry.Owner() {
		h.writeError(w, fmt.Errorf("%w: %s is not the owner", interfaces.ErrUnauthorized, caller))
		return
	}
	if h.checkpoint == nil {
		http.Error(w, "checkpointing is not configured", http.StatusNotImplemented)
		return
	}

	id, err := h.checkpoint(r.Context())
	h.metrics.ObserveCheckpoint(err)
	if err != nil {
		h.log.Error("Checkpoint failed", "err", err)
		http.Error(w, fmt.Errorf("could not checkpoint registry: %w", err).Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, api.CheckpointResponse{ContentID: id.String()})
}

func (h *Handler) requireCaller(w http.ResponseWriter, r *http.Request) (interfaces.Identity, bool) {
	caller, ok := callerauth.CallerFrom(r.Context())
	if !ok {
		http.Error(w, fmt.Sprintf("missing %s", callerauth.AddressHeader), http.StatusUnauthorized)
		return interfaces.ZeroIdentity, false
	}
	return caller, true
}

func (h *Handler) pathIdentity(w http.ResponseWriter, r *http.Request) (interfaces.Identity, bool) {
	raw := chi.URLParam(r, "address")
	id, err := interfaces.NewIdentityFromHex(raw)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid address %q: %w", raw, err).Error(), http.StatusBadRequest)
		return interfaces.ZeroIdentity, false
	}
	return id, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusFor(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// StatusFor maps registry errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrInvalidIdentity), errors.Is(err, interfaces.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrAlreadyActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
