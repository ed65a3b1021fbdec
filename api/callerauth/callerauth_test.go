package callerauth

import (
	"crypto/ecdsa"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoCaller(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		w.Write([]byte("anonymous"))
		return
	}
	body, _ := io.ReadAll(r.Body)
	w.Write([]byte(caller.String() + " " + string(body)))
}

func serve(t *testing.T, mode Mode, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	resolver, err := NewResolver(mode)
	require.NoError(t, err)
	h := Middleware(resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(echoCaller))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewResolver_UnknownMode(t *testing.T) {
	_, err := NewResolver("mtls")
	assert.Error(t, err)
}

func TestHeaderMode(t *testing.T) {
	caller := "0x2000000000000000000000000000000000000002"

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sidechains/0xa0", strings.NewReader(`{"marketplace_id":1}`))
	req.Header.Set(AddressHeader, caller)
	w := serve(t, ModeHeader, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, caller+` {"marketplace_id":1}`, w.Body.String())

	w = serve(t, ModeHeader, httptest.NewRequest(http.MethodGet, "/api/v1/owner", nil))
	assert.Equal(t, "anonymous", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/owner", nil)
	req.Header.Set(AddressHeader, "not-an-address")
	w = serve(t, ModeHeader, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/owner", nil)
	req.Header.Set(AddressHeader, interfaces.ZeroIdentity.String())
	w = serve(t, ModeHeader, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

var signTime = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func fixedClock(now *time.Time) SignatureOption {
	return WithClock(func() time.Time { return *now })
}

func serveWith(resolver Resolver, req *http.Request) *httptest.ResponseRecorder {
	h := Middleware(resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(echoCaller))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSignatureMode(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	caller := interfaces.IdentityFromAddress(crypto.PubkeyToAddress(key.PublicKey))

	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	path := "/api/v1/sidechains/0xa000000000000000000000000000000000000001"
	body := `{"marketplace_id":7}`
	now := signTime
	resolver := NewSignatureResolver(fixedClock(&now))

	newRequest := func(signer *ecdsa.PrivateKey, sigBody string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		require.NoError(t, SignRequest(signer, req, []byte(sigBody), signTime))
		req.Header.Set(AddressHeader, caller.String())
		return req
	}

	t.Run("valid", func(t *testing.T) {
		w := serveWith(resolver, newRequest(key, body))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, caller.String()+" "+body, w.Body.String())
	})

	t.Run("tampered body", func(t *testing.T) {
		w := serveWith(resolver, newRequest(key, `{"marketplace_id":8}`))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		w := serveWith(resolver, newRequest(other, body))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tampered timestamp", func(t *testing.T) {
		req := newRequest(key, body)
		req.Header.Set(TimestampHeader, strconv.FormatInt(signTime.Unix()+1, 10))
		w := serveWith(resolver, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing headers", func(t *testing.T) {
		for _, header := range []string{SignatureHeader, TimestampHeader, NonceHeader} {
			req := newRequest(key, body)
			req.Header.Del(header)
			w := serveWith(resolver, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		}
	})

	t.Run("malformed signature", func(t *testing.T) {
		req := newRequest(key, body)
		req.Header.Set(SignatureHeader, "0x1234")
		w := serveWith(resolver, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := serveWith(resolver, httptest.NewRequest(http.MethodGet, "/api/v1/sidechains", nil))
		assert.Equal(t, "anonymous", w.Body.String())
	})
}

func TestSignatureMode_RejectsReplay(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := signTime
	resolver := NewSignatureResolver(fixedClock(&now), WithWindow(time.Minute))

	path := "/api/v1/change-agents/0x2000000000000000000000000000000000000002"
	grant := httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"enabled":true}`))
	require.NoError(t, SignRequest(key, grant, []byte(`{"enabled":true}`), signTime))

	replay := func() *http.Request {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"enabled":true}`))
		req.Header = grant.Header.Clone()
		return req
	}

	assert.Equal(t, http.StatusOK, serveWith(resolver, replay()).Code)

	now = signTime.Add(30 * time.Second)
	w := serveWith(resolver, replay())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "already used")

	now = signTime.Add(2 * time.Minute)
	w = serveWith(resolver, replay())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "window")

	// An identical request signed again carries a fresh nonce.
	again := httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"enabled":true}`))
	require.NoError(t, SignRequest(key, again, []byte(`{"enabled":true}`), now))
	assert.Equal(t, http.StatusOK, serveWith(resolver, again).Code)
}

func TestSignatureMode_Window(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := signTime
	resolver := NewSignatureResolver(fixedClock(&now), WithWindow(time.Minute))

	for _, tt := range []struct {
		name     string
		signedAt time.Time
		want     int
	}{
		{"now", signTime, http.StatusOK},
		{"slightly behind", signTime.Add(-50 * time.Second), http.StatusOK},
		{"slightly ahead", signTime.Add(50 * time.Second), http.StatusOK},
		{"stale", signTime.Add(-2 * time.Minute), http.StatusUnauthorized},
		{"future", signTime.Add(2 * time.Minute), http.StatusUnauthorized},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/sidechains/x", nil)
			require.NoError(t, SignRequest(key, req, nil, tt.signedAt))
			assert.Equal(t, tt.want, serveWith(resolver, req).Code)
		})
	}
}

func TestSignatureMode_FullReplayCache(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := signTime
	resolver := NewSignatureResolver(fixedClock(&now), WithWindow(time.Minute), WithReplayCapacity(2))

	send := func() int {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/sidechains/x", nil)
		require.NoError(t, SignRequest(key, req, nil, now))
		return serveWith(resolver, req).Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusUnauthorized, send())

	now = signTime.Add(2 * time.Minute)
	assert.Equal(t, http.StatusOK, send())
}

func TestRecoverSigner_LegacyRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	ts := signTime.Unix()
	sig, err := crypto.Sign(Digest(http.MethodDelete, "/api/v1/sidechains/x", ts, "n-1", nil), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	signer, err := RecoverSigner(http.MethodDelete, "/api/v1/sidechains/x", ts, "n-1", nil, hexutil.Encode(sig))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())
}
