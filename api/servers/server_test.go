package servers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/sidechain-registry/api"
	"github.com/ruteri/sidechain-registry/api/callerauth"
	"github.com/ruteri/sidechain-registry/api/handlers"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/ruteri/sidechain-registry/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = interfaces.Identity(common.HexToAddress("0x1000000000000000000000000000000000000001"))

func newTestServer(t *testing.T) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.New(owner, logger)
	require.NoError(t, err)

	cfg := &api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		EnablePprof:              true,
		GracefulShutdownDuration: time.Second,
	}
	srv, err := New(cfg, handlers.NewHandler(reg, logger), callerauth.HeaderResolver{}, nil)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code, w.Body.String()
}

func TestServer_HealthAndDrain(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	code, body := get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"alive"}`, body)

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	_, body = get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, body)
	_, body = get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, body)

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get(t, h, "/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, body)
	_, body = get(t, h, "/undrain")
	assert.JSONEq(t, `{"status":"already ready"}`, body)

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_APIRoutes(t *testing.T) {
	srv := newTestServer(t)

	code, body := get(t, srv.Handler(), "/api/v1/owner")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"owner":"`+owner.String()+`"}`, body)

	code, _ = get(t, srv.Handler(), "/debug/pprof/")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_MetricsAddrRequiresServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.New(owner, logger)
	require.NoError(t, err)

	_, err = New(&api.HTTPServerConfig{MetricsAddr: "127.0.0.1:0", Log: logger}, handlers.NewHandler(reg, logger), callerauth.HeaderResolver{}, nil)
	assert.Error(t, err)
}

func TestServer_SignedRequestsCannotBeReplayed(t *testing.T) {
	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signedOwner := interfaces.IdentityFromAddress(crypto.PubkeyToAddress(ownerKey.PublicKey))
	agent := interfaces.Identity(common.HexToAddress("0x2000000000000000000000000000000000000002"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.New(signedOwner, logger)
	require.NoError(t, err)
	srv, err := New(&api.HTTPServerConfig{Log: logger}, handlers.NewHandler(reg, logger), callerauth.NewSignatureResolver(), nil)
	require.NoError(t, err)

	path := "/api/v1/change-agents/" + agent.String()
	signed := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
		require.NoError(t, callerauth.SignRequest(ownerKey, req, []byte(body), time.Now()))
		return req
	}
	send := func(req *http.Request) int {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		return w.Code
	}

	grant := signed(`{"enabled":true}`)
	savedHeader := grant.Header.Clone()
	require.Equal(t, http.StatusOK, send(grant))
	require.True(t, reg.IsChangeAgent(agent))

	require.Equal(t, http.StatusOK, send(signed(`{"enabled":false}`)))
	require.False(t, reg.IsChangeAgent(agent))

	replayed := httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"enabled":true}`))
	replayed.Header = savedHeader
	assert.Equal(t, http.StatusUnauthorized, send(replayed))
	assert.False(t, reg.IsChangeAgent(agent))
}
