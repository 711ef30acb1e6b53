package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-console/internal/ui"
	"github.com/jrsteele09/go-auth-console/tokenstore"
)

const requestIDHeader = "X-Request-ID"

// Credential names which of the two accepted credentials a request relies on.
type Credential int

const (
	// CredentialAmbient means only the session cookie is sent.
	CredentialAmbient Credential = iota
	// CredentialBearer means an access token is attached as well as the cookie.
	CredentialBearer
)

func (c Credential) String() string {
	if c == CredentialBearer {
		return "bearer"
	}
	return "ambient"
}

// Client is the single path to the backend. It attaches credentials, turns
// non-2xx responses into *APIError and reacts to 401 by purging the token
// store and navigating to the login entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *tokenstore.Store
	navigator  Navigator
	loginPath  string
	env        string
	logger     zerolog.Logger
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. A cookie jar is added
// when the client has none so the session cookie is always carried.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		hc := *httpClient
		c.httpClient = &hc
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithNavigator(navigator Navigator) Option {
	return func(c *Client) {
		c.navigator = navigator
	}
}

// WithLoginPath sets the entry point used after a 401.
func WithLoginPath(path string) Option {
	return func(c *Client) {
		c.loginPath = path
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithEnv enables colored request logging in DEV.
func WithEnv(env string) Option {
	return func(c *Client) {
		c.env = env
	}
}

// New creates a Client for the backend rooted at baseURL.
func New(baseURL string, store *tokenstore.Store, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[apiclient.New] baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "[apiclient.New] invalid baseURL")
	}
	if store == nil {
		return nil, errors.New("[apiclient.New] token store is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		navigator:  NopNavigator{},
		loginPath:  "/login",
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}

	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, errors.Wrap(err, "[apiclient.New] cookie jar")
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

// Store exposes the token store the client reads credentials from.
func (c *Client) Store() *tokenstore.Store {
	return c.store
}

// CredentialPolicy reports which credential the next request will rely on:
// the bearer token when one is stored, otherwise the ambient session cookie.
// The backend accepts either.
func (c *Client) CredentialPolicy() Credential {
	if c.store.AccessToken() != "" {
		return CredentialBearer
	}
	return CredentialAmbient
}

// RequestOption adjusts a single request.
type RequestOption func(*http.Request)

// WithHeader sets a header on the request. Authorization is always overwritten
// by the stored bearer token when one exists.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		q.Add(key, value)
		r.URL.RawQuery = q.Encode()
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do sends a request to path relative to the base URL. body may be nil, an
// io.Reader, []byte or any value encodable as JSON. Transport failures are
// returned unchanged and never retried.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	req, err := c.newRequest(ctx, method, path, body, opts...)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Err(err).Str("method", method).Str("path", path).Msg("Request failed before a response")
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
		JSON:       isJSON(httpResp.Header.Get("Content-Type")),
	}
	c.logRequest(method, path, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.handleUnauthorized(path)
		}
		return nil, newAPIError(resp)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, opts ...RequestOption) (*http.Request, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "[apiclient] build %s %s", method, path)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	if accessToken := c.store.AccessToken(); accessToken != "" {
		(&oauth2.Token{AccessToken: accessToken}).SetAuthHeader(req)
	}
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, uuid.NewString())
	}
	return req, nil
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return b, nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(raw), nil
	}
}

// handleUnauthorized purges stored credentials whichever endpoint produced the
// 401 and leaves for the login entry point unless already there.
func (c *Client) handleUnauthorized(path string) {
	c.store.ClearAll()

	if c.navigator.Location() == c.loginPath {
		c.logger.Debug().Str("path", path).Msg("Unauthorized on the login entry point, tokens cleared")
		return
	}
	c.logger.Warn().Str("path", path).Str("redirect", c.loginPath).Msg("Unauthorized, tokens cleared")
	c.navigator.Navigate(c.loginPath)
}

func (c *Client) logRequest(method, path string, status int) {
	if c.env != "DEV" {
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", status).Msg("Request")
		return
	}
	c.logger.Debug().Msgf("[%s] %s %s%d%s", ui.Method(method), path, ui.StatusColor(status), status, ui.ResetColor)
}
