package clients

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/sidechain-registry/api"
	"github.com/ruteri/sidechain-registry/api/callerauth"
	"github.com/ruteri/sidechain-registry/interfaces"
)

var (
	// ErrNoCaller is returned by mutating calls on a client without a caller
	// identity, and when the server saw no caller on a request that needs one.
	ErrNoCaller = errors.New("client has no caller identity")

	// ErrBadCredentials is returned when the server could not verify the
	// caller, e.g. a bad signature or a timestamp outside the server's window.
	ErrBadCredentials = errors.New("caller credentials rejected")
)

// RegistryClient talks to the registry HTTP API on behalf of a single caller.
type RegistryClient struct {
	baseURL    string
	caller     interfaces.Identity
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

// ClientOption configures a RegistryClient.
type ClientOption func(*RegistryClient)

// WithCaller sets the identity sent in the caller address header.
// Use it against servers running in header mode.
func WithCaller(caller interfaces.Identity) ClientOption {
	return func(c *RegistryClient) { c.caller = caller }
}

// WithSigner signs every request with key and sets the caller to its address.
func WithSigner(key *ecdsa.PrivateKey) ClientOption {
	return func(c *RegistryClient) {
		c.privateKey = key
		c.caller = interfaces.IdentityFromAddress(crypto.PubkeyToAddress(key.PublicKey))
	}
}

// WithHTTPClient replaces the default client, which times out after 30 seconds.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *RegistryClient) { c.httpClient = httpClient }
}

// WithClock overrides the clock used to timestamp signed requests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *RegistryClient) { c.now = now }
}

// NewRegistryClient creates a client for the registry at baseURL (e.g. "http://localhost:8080").
func NewRegistryClient(baseURL string, opts ...ClientOption) *RegistryClient {
	c := &RegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Caller returns the identity the client acts as, zero when anonymous.
func (c *RegistryClient) Caller() interfaces.Identity {
	return c.caller
}

func (c *RegistryClient) Owner() (interfaces.Identity, error) {
	var resp api.OwnerResponse
	err := c.do(http.MethodGet, "/api/v1/owner", nil, &resp)
	return resp.Owner, err
}

func (c *RegistryClient) PermissionsOf(id interfaces.Identity) (interfaces.Permissions, error) {
	var resp api.PermissionsResponse
	err := c.do(http.MethodGet, "/api/v1/permissions/"+id.String(), nil, &resp)
	return resp.Bits, err
}

// SetPermission overwrites the permission bits of target. Owner only.
func (c *RegistryClient) SetPermission(target interfaces.Identity, bits interfaces.Permissions) error {
	if err := c.requireCaller(); err != nil {
		return err
	}
	return c.do(http.MethodPut, "/api/v1/permissions/"+target.String(), api.SetPermissionRequest{Bits: &bits}, nil)
}

func (c *RegistryClient) IsChangeAgent(id interfaces.Identity) (bool, error) {
	var resp api.ChangeAgentResponse
	err := c.do(http.MethodGet, "/api/v1/change-agents/"+id.String(), nil, &resp)
	return resp.Enabled, err
}

// UpdateChangeAgent grants or revokes change-agent status. Owner only.
func (c *RegistryClient) UpdateChangeAgent(target interfaces.Identity, enabled bool) error {
	if err := c.requireCaller(); err != nil {
		return err
	}
	return c.do(http.MethodPut, "/api/v1/change-agents/"+target.String(), api.UpdateChangeAgentRequest{Enabled: &enabled}, nil)
}

func (c *RegistryClient) ChangeAgents() ([]interfaces.Identity, error) {
	var resp api.ChangeAgentsResponse
	err := c.do(http.MethodGet, "/api/v1/change-agents", nil, &resp)
	return resp.ChangeAgents, err
}

func (c *RegistryClient) Sidechains() ([]interfaces.SidechainRecord, error) {
	var resp api.SidechainsResponse
	err := c.do(http.MethodGet, "/api/v1/sidechains", nil, &resp)
	return resp.Sidechains, err
}

// Status returns the active flag and marketplace of sidechain.
func (c *RegistryClient) Status(sidechain interfaces.Identity) (*api.SidechainResponse, error) {
	var resp api.SidechainResponse
	if err := c.do(http.MethodGet, "/api/v1/sidechains/"+sidechain.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddSidechain activates sidechain under marketplaceID. Change agents only.
func (c *RegistryClient) AddSidechain(sidechain interfaces.Identity, marketplaceID interfaces.MarketplaceID) error {
	if err := c.requireCaller(); err != nil {
		return err
	}
	return c.do(http.MethodPost, "/api/v1/sidechains/"+sidechain.String(), api.AddSidechainRequest{MarketplaceID: marketplaceID}, nil)
}

// RemoveSidechain deactivates sidechain and reports whether it was active.
func (c *RegistryClient) RemoveSidechain(sidechain interfaces.Identity) (bool, error) {
	if err := c.requireCaller(); err != nil {
		return false, err
	}
	var resp api.RemoveSidechainResponse
	err := c.do(http.MethodDelete, "/api/v1/sidechains/"+sidechain.String(), nil, &resp)
	return resp.Closed, err
}

// Notifications fetches one page of notifications after since. A limit of
// zero leaves the page size to the server.
func (c *RegistryClient) Notifications(since uint64, limit int) (*api.NotificationsResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp api.NotificationsResponse
	if err := c.do(http.MethodGet, "/api/v1/notifications?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Checkpoint asks the server to persist a snapshot. Owner only.
func (c *RegistryClient) Checkpoint() (interfaces.ContentID, error) {
	if err := c.requireCaller(); err != nil {
		return interfaces.ContentID{}, err
	}
	var resp api.CheckpointResponse
	if err := c.do(http.MethodPost, "/api/admin/checkpoint", nil, &resp); err != nil {
		return interfaces.ContentID{}, err
	}
	return interfaces.NewContentIDFromHex(resp.ContentID)
}

func (c *RegistryClient) requireCaller() error {
	if c.caller.IsZero() {
		return ErrNoCaller
	}
	return nil
}

func (c *RegistryClient) do(method, path string, reqBody, respBody any) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authenticate(req, body); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *RegistryClient) authenticate(req *http.Request, body []byte) error {
	if c.caller.IsZero() {
		return nil
	}
	if c.privateKey == nil {
		req.Header.Set(callerauth.AddressHeader, c.caller.String())
		return nil
	}
	if err := callerauth.SignRequest(c.privateKey, req, body, c.now()); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}

// StatusError carries a non-2xx response that maps to no registry error.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with code %d: %s", e.Code, e.Message)
}

// responseError turns an error response back into the registry error it was
// produced from, so callers can use errors.Is across the wire.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := strings.TrimSpace(string(raw))

	var sentinel error
	switch resp.StatusCode {
	case http.StatusForbidden:
		sentinel = interfaces.ErrUnauthorized
	case http.StatusConflict:
		sentinel = interfaces.ErrAlreadyActive
	case http.StatusBadRequest:
		if strings.Contains(message, interfaces.ErrInvalidIdentity.Error()) {
			sentinel = interfaces.ErrInvalidIdentity
		} else {
			sentinel = interfaces.ErrInvalidArgument
		}
	case http.StatusUnauthorized:
		if strings.Contains(message, callerauth.ErrBadCredentials.Error()) {
			sentinel = ErrBadCredentials
		} else {
			sentinel = ErrNoCaller
		}
	}

	if sentinel == nil {
		return &StatusError{Code: resp.StatusCode, Message: message}
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}
