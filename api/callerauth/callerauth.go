// Package callerauth resolves the identity of the caller of a registry request.
//
// Two modes are supported. In header mode the X-Caller-Address header is
// trusted as is, which is only appropriate behind a proxy that authenticates
// callers itself. In signature mode the request must also carry
// X-Caller-Timestamp (unix seconds), X-Caller-Nonce and X-Caller-Signature, a
// hex encoded 65-byte secp256k1 signature over
// Digest(method, path, timestamp, nonce, body). The address recovered from it
// must equal the claimed one, the timestamp must lie within the accepted
// window and a signed request is accepted at most once.
package callerauth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/ruteri/sidechain-registry/interfaces"
)

const (
	AddressHeader   = "X-Caller-Address"
	SignatureHeader = "X-Caller-Signature"
	TimestampHeader = "X-Caller-Timestamp"
	NonceHeader     = "X-Caller-Nonce"

	// DefaultWindow bounds the clock skew between signer and server.
	DefaultWindow = 5 * time.Minute
	// DefaultReplayCapacity is the number of accepted signatures remembered.
	DefaultReplayCapacity = 100_000

	maxBodySize  = 1024 * 1024
	maxNonceSize = 128
)

// Mode selects how callers are authenticated.
type Mode string

const (
	ModeHeader    Mode = "header"
	ModeSignature Mode = "signature"
)

var (
	// ErrNoCaller is returned when the request does not claim a caller.
	ErrNoCaller = errors.New("no caller")

	// ErrBadCredentials is returned when a claimed caller cannot be verified.
	ErrBadCredentials = errors.New("invalid caller credentials")
)

// Resolver extracts the caller identity from a request and its body.
type Resolver interface {
	Resolve(r *http.Request, body []byte) (interfaces.Identity, error)
}

// NewResolver returns the resolver for mode with default settings.
func NewResolver(mode Mode) (Resolver, error) {
	switch mode {
	case ModeHeader:
		return HeaderResolver{}, nil
	case ModeSignature:
		return NewSignatureResolver(), nil
	default:
		return nil, fmt.Errorf("unknown caller auth mode %q", mode)
	}
}

// HeaderResolver trusts X-Caller-Address.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request, _ []byte) (interfaces.Identity, error) {
	return claimedCaller(r)
}

// SignatureOption configures a SignatureResolver.
type SignatureOption func(*SignatureResolver)

// WithWindow sets how far a request timestamp may be from the server clock.
func WithWindow(window time.Duration) SignatureOption {
	return func(sr *SignatureResolver) { sr.window = window }
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) SignatureOption {
	return func(sr *SignatureResolver) { sr.now = now }
}

// WithReplayCapacity sets how many accepted signatures are remembered.
func WithReplayCapacity(capacity int) SignatureOption {
	return func(sr *SignatureResolver) { sr.capacity = capacity }
}

// SignatureResolver requires X-Caller-Signature to recover to
// X-Caller-Address and rejects stale or already seen requests.
type SignatureResolver struct {
	window   time.Duration
	now      func() time.Time
	capacity int

	mu   sync.Mutex
	seen lru.BasicLRU[common.Hash, time.Time]
}

// NewSignatureResolver creates a resolver with DefaultWindow and DefaultReplayCapacity.
func NewSignatureResolver(opts ...SignatureOption) *SignatureResolver {
	sr := &SignatureResolver{
		window:   DefaultWindow,
		now:      time.Now,
		capacity: DefaultReplayCapacity,
	}
	for _, opt := range opts {
		opt(sr)
	}
	sr.seen = lru.NewBasicLRU[common.Hash, time.Time](sr.capacity)
	return sr
}

func (sr *SignatureResolver) Resolve(r *http.Request, body []byte) (interfaces.Identity, error) {
	claimed, err := claimedCaller(r)
	if err != nil {
		return interfaces.ZeroIdentity, err
	}

	rawSig := r.Header.Get(SignatureHeader)
	if rawSig == "" {
		return interfaces.ZeroIdentity, fmt.Errorf("%w: missing %s", ErrBadCredentials, SignatureHeader)
	}
	timestamp, err := strconv.ParseInt(r.Header.Get(TimestampHeader), 10, 64)
	if err != nil {
		return interfaces.ZeroIdentity, fmt.Errorf("%w: bad %s", ErrBadCredentials, TimestampHeader)
	}
	nonce := r.Header.Get(NonceHeader)
	if nonce == "" || len(nonce) > maxNonceSize {
		return interfaces.ZeroIdentity, fmt.Errorf("%w: bad %s", ErrBadCredentials, NonceHeader)
	}

	now := sr.now()
	signedAt := time.Unix(timestamp, 0)
	if signedAt.Before(now.Add(-sr.window)) || signedAt.After(now.Add(sr.window)) {
		return interfaces.ZeroIdentity, fmt.Errorf("%w: timestamp outside the accepted window", ErrBadCredentials)
	}

	digest := Digest(r.Method, r.URL.Path, timestamp, nonce, body)
	signer, err := recoverDigest(digest, rawSig)
	if err != nil {
		return interfaces.ZeroIdentity, err
	}
	if signer != claimed {
		return interfaces.ZeroIdentity, fmt.Errorf("%w: signature by %s does not match %s", ErrBadCredentials, signer, claimed)
	}

	if err := sr.remember(crypto.Keccak256Hash(claimed.Bytes(), digest), signedAt.Add(sr.window), now); err != nil {
		return interfaces.ZeroIdentity, err
	}
	return claimed, nil
}

// remember records an accepted request until expiry. Expired entries are
// pruned from the oldest end; while the oldest entry is still live a full
// cache refuses new requests.
func (sr *SignatureResolver) remember(key common.Hash, expiry, now time.Time) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if until, ok := sr.seen.Peek(key); ok && until.After(now) {
		return fmt.Errorf("%w: request already used", ErrBadCredentials)
	}
	for sr.seen.Len() >= sr.capacity {
		_, until, ok := sr.seen.GetOldest()
		if !ok || until.After(now) {
			break
		}
		sr.seen.RemoveOldest()
	}
	if sr.seen.Len() >= sr.capacity {
		return fmt.Errorf("%w: too many recent requests, retry later", ErrBadCredentials)
	}
	sr.seen.Add(key, expiry)
	return nil
}

func claimedCaller(r *http.Request) (interfaces.Identity, error) {
	raw := r.Header.Get(AddressHeader)
	if raw == "" {
		return interfaces.ZeroIdentity, ErrNoCaller
	}
	id, err := interfaces.NewIdentityFromHex(raw)
	if err != nil || id.IsZero() {
		return interfaces.ZeroIdentity, fmt.Errorf("%w: bad %s %q", ErrBadCredentials, AddressHeader, raw)
	}
	return id, nil
}

// Digest is the keccak256 hash signed by callers: method, path, timestamp,
// nonce and body separated by newlines.
func Digest(method, path string, timestamp int64, nonce string, body []byte) []byte {
	return crypto.Keccak256(
		[]byte(method), []byte("\n"),
		[]byte(path), []byte("\n"),
		[]byte(strconv.FormatInt(timestamp, 10)), []byte("\n"),
		[]byte(nonce), []byte("\n"),
		body)
}

// Sign produces the X-Caller-Signature value for a request.
func Sign(key *ecdsa.PrivateKey, method, path string, timestamp int64, nonce string, body []byte) (string, error) {
	sig, err := crypto.Sign(Digest(method, path, timestamp, nonce, body), key)
	if err != nil {
		return "", fmt.Errorf("could not sign request: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// SignRequest sets the address, timestamp, nonce and signature headers of req.
// body must be the exact request body.
func SignRequest(key *ecdsa.PrivateKey, req *http.Request, body []byte, now time.Time) error {
	timestamp := now.Unix()
	nonce := uuid.NewString()
	sig, err := Sign(key, req.Method, req.URL.Path, timestamp, nonce, body)
	if err != nil {
		return err
	}
	req.Header.Set(AddressHeader, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(TimestampHeader, strconv.FormatInt(timestamp, 10))
	req.Header.Set(NonceHeader, nonce)
	req.Header.Set(SignatureHeader, sig)
	return nil
}

// RecoverSigner returns the identity that produced rawSig over the request.
// Both 0/1 and 27/28 recovery ids are accepted.
func RecoverSigner(method, path string, timestamp int64, nonce string, body []byte, rawSig string) (interfaces.Identity, error) {
	return recoverDigest(Digest(method, path, timestamp, nonce, body), rawSig)
}

func recoverDigest(digest []byte, rawSig string) (interfaces.Identity, error) {
	sig, err := hexutil.Decode(rawSig)
	if err != nil || len(sig) != crypto.SignatureLength {
		return interfaces.ZeroIdentity, fmt.Errorf("%w: malformed signature", ErrBadCredentials)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return interfaces.ZeroIdentity, fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}
	return interfaces.IdentityFromAddress(crypto.PubkeyToAddress(*pub)), nil
}

type callerKey struct{}

// WithCaller stores the resolved caller in ctx.
func WithCaller(ctx context.Context, caller interfaces.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored by the middleware, if any.
func CallerFrom(ctx context.Context) (interfaces.Identity, bool) {
	caller, ok := ctx.Value(callerKey{}).(interfaces.Identity)
	return caller, ok
}

// Middleware resolves the caller of every request. Requests claiming no caller
// pass through anonymously; requests with credentials that fail to verify are
// rejected with 401.
func Middleware(resolver Resolver, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
			if err != nil {
				http.Error(w, fmt.Errorf("could not read request body: %w", err).Error(), http.StatusBadRequest)
				return
			}
			if len(body) > maxBodySize {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := resolver.Resolve(r, body)
			switch {
			case errors.Is(err, ErrNoCaller):
				next.ServeHTTP(w, r)
			case err != nil:
				log.Debug("Caller rejected", "path", r.URL.Path, "err", err)
				http.Error(w, err.Error(), http.StatusUnauthorized)
			default:
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
			}
		})
	}
}
