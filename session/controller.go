package session

import (
	"context"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-auth-console/apiclient"
	autherrors "github.com/jrsteele09/go-auth-console/internal/errors"
	"github.com/jrsteele09/go-auth-console/tokenstore"
)

// Backend endpoints, relative to the API base URL.
const (
	EndpointRegister           = "/developer/register"
	EndpointLogin              = "/developer/login"
	EndpointLogout             = "/developer/logout"
	EndpointMe                 = "/developer/me"
	EndpointVerify             = "/developer/verify"
	EndpointRefreshToken       = "/developer/refresh-token"
	EndpointResendVerification = "/developer/resend-verification"
)

const (
	bootstrapKey = "bootstrap"
	topicPrefix  = "session:"
)

// Credentials are posted to the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is posted to the register endpoint.
type Registration struct {
	Name           string `json:"name"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	PolicyAccepted bool   `json:"policyAccepted,omitempty"`
}

type loginResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	Developer    *Identity `json:"developer"`
}

type identityResponse struct {
	Developer *Identity `json:"developer"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Controller owns the session identity and lifecycle flags. It is the only
// writer of that state and, with the API client's 401 handling, the only
// writer of the token store.
type Controller struct {
	api    *apiclient.Client
	store  *tokenstore.Store
	logger zerolog.Logger

	mu    sync.RWMutex
	state state

	bootstrap singleflight.Group

	bus    evbus.Bus
	subsMu sync.Mutex
	topics map[string]struct{}
}

// ControllerOption defines a function type to modify the Controller instance.
type ControllerOption func(*Controller)

func WithLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a Controller in the Uninitialized state. The token
// store is the one the API client attaches credentials from.
func NewController(api *apiclient.Client, options ...ControllerOption) (*Controller, error) {
	if api == nil {
		return nil, errors.New("[NewController] api client is required")
	}

	c := &Controller{
		api:    api,
		store:  api.Store(),
		logger: log.Logger,
		bus:    evbus.New(),
		topics: make(map[string]struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.snapshot()
}

// Subscribe registers fn for every future snapshot and returns a function
// that removes it. fn runs on the goroutine that changed the session and must
// not call the returned unsubscribe function itself.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	topic := topicPrefix + uuid.NewString()
	if err := c.bus.Subscribe(topic, fn); err != nil {
		c.logger.Err(err).Msg("Subscribe: failed to register handler")
		return func() {}
	}

	c.subsMu.Lock()
	c.topics[topic] = struct{}{}
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.topics, topic)
			c.subsMu.Unlock()
			_ = c.bus.Unsubscribe(topic, fn)
		})
	}
}

// mutate applies fn under the lock, bumps the version and publishes the
// resulting snapshot outside the lock.
func (c *Controller) mutate(fn func(*state)) Snapshot {
	c.mu.Lock()
	fn(&c.state)
	c.state.version++
	snap := c.state.snapshot()
	c.mu.Unlock()

	c.publish(snap)
	return snap
}

func (c *Controller) publish(snap Snapshot) {
	c.subsMu.Lock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.subsMu.Unlock()

	for _, topic := range topics {
		c.bus.Publish(topic, snap)
	}
}

// Bootstrap asks the backend who the caller is, using whatever credential
// the API client attaches. On any failure the tokens are cleared and the
// session becomes Unauthenticated. It always finishes with Loading false and
// Initialized true. Concurrent calls share a single request.
func (c *Controller) Bootstrap(ctx context.Context) Snapshot {
	v, _, _ := c.bootstrap.Do(bootstrapKey, func() (any, error) {
		return c.runBootstrap(ctx), nil
	})
	return v.(Snapshot)
}

func (c *Controller) runBootstrap(ctx context.Context) (snap Snapshot) {
	c.mutate(func(s *state) {
		s.loading = true
		if !s.initialized {
			s.phase = Bootstrapping
		}
	})

	var identity *Identity
	defer func() {
		snap = c.mutate(func(s *state) { s.settle(identity) })
	}()

	found, err := c.fetchIdentity(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Bootstrap: no active session")
		c.store.ClearAll()
		return
	}
	identity = found
	c.logger.Debug().Str("developer", identity.ID.String()).Msg("Bootstrap: session restored")
	return
}

// fetchIdentity reads the current identity. The endpoint answers with either
// {"developer": {...}} or the bare record.
func (c *Controller) fetchIdentity(ctx context.Context) (*Identity, error) {
	resp, err := c.api.Get(ctx, EndpointMe)
	if err != nil {
		return nil, err
	}

	var wrapped identityResponse
	if err := resp.Decode(&wrapped); err != nil {
		return nil, errors.Wrap(err, "[fetchIdentity] decode response")
	}
	if !wrapped.Developer.Empty() {
		return wrapped.Developer, nil
	}

	var bare Identity
	if err := resp.Decode(&bare); err != nil {
		return nil, errors.Wrap(err, "[fetchIdentity] decode response")
	}
	if bare.Empty() {
		return nil, errors.New("[fetchIdentity] response carried no identity")
	}
	return &bare, nil
}

// Login authenticates and then reloads the canonical identity from the
// backend, falling back to the partial identity in the login response. Login
// errors are returned untouched so callers can branch on the account-state
// kinds of *apiclient.APIError.
func (c *Controller) Login(ctx context.Context, credentials Credentials) (*Identity, error) {
	c.setLoading(true)

	resp, err := c.api.Post(ctx, EndpointLogin, credentials)
	if err != nil {
		c.setLoading(false)
		return nil, err
	}

	var payload loginResponse
	if err := resp.Decode(&payload); err != nil {
		c.setLoading(false)
		return nil, errors.Wrap(err, "[Login] decode response")
	}
	if payload.Token != "" {
		c.store.SetAccessToken(payload.Token)
	}
	if payload.RefreshToken != "" {
		c.store.SetRefreshToken(payload.RefreshToken)
	}

	identity, err := c.fetchIdentity(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Login: identity refresh failed, using login response")
		identity = payload.Developer
	}
	if identity.Empty() {
		c.setLoading(false)
		return nil, errors.New("[Login] backend accepted the login but returned no identity")
	}

	snap := c.mutate(func(s *state) { s.settle(identity.Clone()) })
	return snap.Identity, nil
}

// Register creates a developer account. It does not log in and leaves the
// session untouched.
func (c *Controller) Register(ctx context.Context, registration Registration) (*apiclient.Response, error) {
	return c.api.Post(ctx, EndpointRegister, registration)
}

// Logout tells the backend best-effort and always clears the identity and
// both tokens locally.
func (c *Controller) Logout(ctx context.Context) {
	defer func() {
		c.store.ClearAll()
		c.mutate(func(s *state) {
			s.identity = nil
			s.loading = false
			s.phase = Unauthenticated
		})
	}()

	if _, err := c.api.Post(ctx, EndpointLogout, nil); err != nil {
		c.logger.Err(err).Msg("Logout: backend call failed")
	}
}

// UpdateIdentity shallow-merges patch into the current identity and reports
// whether there was an identity to update.
func (c *Controller) UpdateIdentity(patch IdentityPatch) bool {
	updated := false
	c.mutate(func(s *state) {
		if s.identity == nil {
			return
		}
		next := s.identity.Clone()
		patch.apply(next)
		s.identity = next
		updated = true
	})
	return updated
}

// VerifyEmail submits an email verification token.
func (c *Controller) VerifyEmail(ctx context.Context, token string) (*apiclient.Response, error) {
	if token == "" {
		return nil, errors.New("[VerifyEmail] token is required")
	}
	return c.api.Get(ctx, EndpointVerify, apiclient.WithQuery("token", token))
}

// ResendVerification asks the backend to send another verification email.
func (c *Controller) ResendVerification(ctx context.Context, email string) (*apiclient.Response, error) {
	if email == "" {
		return nil, errors.New("[ResendVerification] email is required")
	}
	return c.api.Post(ctx, EndpointResendVerification, map[string]string{"email": email})
}

// Refresh exchanges the stored refresh token for a new access token. It is
// never called implicitly; the backend may also rotate the session cookie on
// its own.
func (c *Controller) Refresh(ctx context.Context) (*oauth2.Token, error) {
	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		return nil, autherrors.ErrNoRefreshToken
	}

	resp, err := c.api.Post(ctx, EndpointRefreshToken, map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, err
	}

	var payload refreshResponse
	if err := resp.Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "[Refresh] decode response")
	}
	accessToken := payload.Token
	if accessToken == "" {
		accessToken = payload.AccessToken
	}
	if accessToken == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidRefreshToken, "[Refresh] no access token in response")
	}

	c.store.SetAccessToken(accessToken)
	if payload.RefreshToken != "" {
		refreshToken = payload.RefreshToken
		c.store.SetRefreshToken(refreshToken)
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}
	if claims := tokenstore.Decode(accessToken); claims != nil && claims.ExpiresAt != nil {
		token.Expiry = *claims.ExpiresAt
	}
	return token, nil
}

func (c *Controller) setLoading(loading bool) {
	c.mutate(func(s *state) { s.loading = loading })
}
