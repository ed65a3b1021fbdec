package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/sidechain-registry/api"
	"github.com/ruteri/sidechain-registry/api/callerauth"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/ruteri/sidechain-registry/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner      = interfaces.Identity(common.HexToAddress("0x1000000000000000000000000000000000000001"))
	agent      = interfaces.Identity(common.HexToAddress("0x2000000000000000000000000000000000000002"))
	thirdParty = interfaces.Identity(common.HexToAddress("0x3000000000000000000000000000000000000003"))
	sidechainX = interfaces.Identity(common.HexToAddress("0xa000000000000000000000000000000000000001"))
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupRouter mounts h behind header-mode caller resolution.
func setupRouter(h *Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Use(callerauth.Middleware(callerauth.HeaderResolver{}, testLogger()))
	h.RegisterRoutes(mux)
	return mux
}

func setupRegistry(t *testing.T) (*registry.Registry, http.Handler) {
	reg, err := registry.New(owner, testLogger())
	require.NoError(t, err)
	return reg, setupRouter(NewHandler(reg, testLogger()))
}

func doRequest(t *testing.T, router http.Handler, method, path string, caller *interfaces.Identity, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != nil {
		req.Header.Set(callerauth.AddressHeader, caller.String())
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandleOwner(t *testing.T) {
	_, router := setupRegistry(t)

	w := doRequest(t, router, http.MethodGet, "/api/v1/owner", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, owner, decode[api.OwnerResponse](t, w).Owner)
}

func TestHandlePermissions(t *testing.T) {
	_, router := setupRegistry(t)
	path := "/api/v1/permissions/" + agent.String()

	w := doRequest(t, router, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, interfaces.Permissions(0), decode[api.PermissionsResponse](t, w).Bits)

	w = doRequest(t, router, http.MethodPut, path, nil, `{"bits":4}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, router, http.MethodPut, path, &thirdParty, `{"bits":4}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, router, http.MethodPut, path, &owner, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPut, "/api/v1/permissions/"+interfaces.ZeroIdentity.String(), &owner, `{"bits":4}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPut, path, &owner, `{"bits":4}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, interfaces.Permissions(4), decode[api.PermissionsResponse](t, w).Bits)

	w = doRequest(t, router, http.MethodGet, "/api/v1/permissions/not-hex", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChangeAgents(t *testing.T) {
	_, router := setupRegistry(t)
	path := "/api/v1/change-agents/" + agent.String()

	w := doRequest(t, router, http.MethodPut, path, &agent, `{"enabled":true}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, router, http.MethodPut, path, &owner, `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[api.ChangeAgentResponse](t, w).Enabled)

	w = doRequest(t, router, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[api.ChangeAgentResponse](t, w).Enabled)

	w = doRequest(t, router, http.MethodGet, "/api/v1/change-agents", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interfaces.Identity{owner, agent}, decode[api.ChangeAgentsResponse](t, w).ChangeAgents)
}

func TestHandleSidechainLifecycle(t *testing.T) {
	reg, router := setupRegistry(t)
	require.NoError(t, reg.UpdateChangeAgent(owner, agent, true))
	path := "/api/v1/sidechains/" + sidechainX.String()

	w := doRequest(t, router, http.MethodPost, path, &agent, `{"marketplace_id":7}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, api.SidechainResponse{Sidechain: sidechainX, Active: true, MarketplaceID: 7}, decode[api.SidechainResponse](t, w))

	w = doRequest(t, router, http.MethodPost, path, &agent, `{"marketplace_id":8}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, interfaces.MarketplaceID(7), decode[api.SidechainResponse](t, w).MarketplaceID)

	w = doRequest(t, router, http.MethodGet, "/api/v1/sidechains", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[api.SidechainsResponse](t, w).Sidechains, 1)

	w = doRequest(t, router, http.MethodDelete, path, &agent, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[api.RemoveSidechainResponse](t, w).Closed)

	w = doRequest(t, router, http.MethodDelete, path, &agent, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[api.RemoveSidechainResponse](t, w).Closed)

	w = doRequest(t, router, http.MethodGet, "/api/v1/notifications", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[api.NotificationsResponse](t, w)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, interfaces.SideChainOpened, page.Notifications[0].Kind)
	assert.Equal(t, interfaces.SideChainClosed, page.Notifications[1].Kind)
	assert.Equal(t, interfaces.MarketplaceID(7), page.Notifications[1].MarketplaceID)
	assert.Equal(t, uint64(2), page.Next)

	w = doRequest(t, router, http.MethodGet, "/api/v1/notifications?since=1&limit=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[api.NotificationsResponse](t, w).Notifications, 1)

	w = doRequest(t, router, http.MethodGet, "/api/v1/notifications?since=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[api.NotificationsResponse](t, w)
	assert.Empty(t, page.Notifications)
	assert.Equal(t, uint64(2), page.Next)
}

func TestHandleAddSidechain_Rejected(t *testing.T) {
	reg, router := setupRegistry(t)
	require.NoError(t, reg.UpdateChangeAgent(owner, agent, true))

	tests := []struct {
		name   string
		caller *interfaces.Identity
		path   string
		body   string
		status int
	}{
		{"no caller", nil, "/api/v1/sidechains/" + sidechainX.String(), `{"marketplace_id":1}`, http.StatusUnauthorized},
		{"not a change agent", &thirdParty, "/api/v1/sidechains/" + sidechainX.String(), `{"marketplace_id":1}`, http.StatusForbidden},
		{"unauthorized before zero sidechain", &thirdParty, "/api/v1/sidechains/" + interfaces.ZeroIdentity.String(), `{"marketplace_id":1}`, http.StatusForbidden},
		{"zero sidechain", &agent, "/api/v1/sidechains/" + interfaces.ZeroIdentity.String(), `{"marketplace_id":1}`, http.StatusBadRequest},
		{"zero marketplace", &agent, "/api/v1/sidechains/" + sidechainX.String(), `{"marketplace_id":0}`, http.StatusBadRequest},
		{"missing marketplace", &agent, "/api/v1/sidechains/" + sidechainX.String(), `{}`, http.StatusBadRequest},
		{"malformed body", &agent, "/api/v1/sidechains/" + sidechainX.String(), `{"marketplace_id":"one"}`, http.StatusBadRequest},
		{"unknown field", &agent, "/api/v1/sidechains/" + sidechainX.String(), `{"marketplace":1}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.False(t, reg.StatusOf(sidechainX))
			assert.Empty(t, reg.Notifications(0, 0))
		})
	}
}

func TestHandleNotifications_BadQuery(t *testing.T) {
	_, router := setupRegistry(t)

	for _, query := range []string{"since=-1", "since=x", "limit=-5", "limit=many"} {
		w := doRequest(t, router, http.MethodGet, "/api/v1/notifications?"+query, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestHandleCheckpoint(t *testing.T) {
	reg, err := registry.New(owner, testLogger())
	require.NoError(t, err)

	contentID := interfaces.ComputeID([]byte("snapshot"))
	calls := 0
	checkpoint := func(ctx context.Context) (interfaces.ContentID, error) {
		calls++
		return contentID, nil
	}
	router := setupRouter(NewHandler(reg, testLogger(), WithCheckpoint(checkpoint)))

	w := doRequest(t, router, http.MethodPost, "/api/admin/checkpoint", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/admin/checkpoint", &agent, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, calls)

	w = doRequest(t, router, http.MethodPost, "/api/admin/checkpoint", &owner, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentID.String(), decode[api.CheckpointResponse](t, w).ContentID)
	assert.Equal(t, 1, calls)

	failing := setupRouter(NewHandler(reg, testLogger(), WithCheckpoint(func(ctx context.Context) (interfaces.ContentID, error) {
		return interfaces.ContentID{}, fmt.Errorf("store: %w", interfaces.ErrBackendUnavailable)
	})))
	w = doRequest(t, failing, http.MethodPost, "/api/admin/checkpoint", &owner, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	unconfigured := setupRouter(NewHandler(reg, testLogger()))
	w = doRequest(t, unconfigured, http.MethodPost, "/api/admin/checkpoint", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doRequest(t, unconfigured, http.MethodPost, "/api/admin/checkpoint", &agent, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doRequest(t, unconfigured, http.MethodPost, "/api/admin/checkpoint", &owner, "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHandler_WithMockRegistry(t *testing.T) {
	mockRegistry := new(registry.MockRegistry)
	mockRegistry.On("AddSidechain", agent, sidechainX, interfaces.MarketplaceID(3)).Return(errors.New("unexpected failure"))
	mockRegistry.On("RemoveSidechain", agent, sidechainX).Return(false, fmt.Errorf("%w: agent revoked", interfaces.ErrUnauthorized))

	router := setupRouter(NewHandler(mockRegistry, testLogger()))

	w := doRequest(t, router, http.MethodPost, "/api/v1/sidechains/"+sidechainX.String(), &agent, `{"marketplace_id":3}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/api/v1/sidechains/"+sidechainX.String(), &agent, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "agent revoked")

	mockRegistry.AssertExpectations(t)
	mockRegistry.AssertNotCalled(t, "Sidechains")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, StatusFor(fmt.Errorf("x: %w", interfaces.ErrUnauthorized)))
	assert.Equal(t, http.StatusBadRequest, StatusFor(interfaces.ErrInvalidIdentity))
	assert.Equal(t, http.StatusBadRequest, StatusFor(interfaces.ErrInvalidArgument))
	assert.Equal(t, http.StatusConflict, StatusFor(interfaces.ErrAlreadyActive))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
