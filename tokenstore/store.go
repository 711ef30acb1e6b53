package tokenstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend is a persistent key-value facility holding the credential pair.
// Get reports ok=false for a key that was never set or has been deleted.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Keys names the two entries the store persists.
type Keys struct {
	Access  string
	Refresh string
}

// Store holds the access and refresh tokens. It never returns errors: backend
// failures are logged and a failed read is reported as an absent token.
type Store struct {
	backend Backend
	keys    Keys
	timeout time.Duration
	logger  zerolog.Logger
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithLogger sets the logger backend failures are reported on.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(timeout time.Duration) StoreOption {
	return func(s *Store) {
		s.timeout = timeout
	}
}

// New creates a Store over backend using the given key names.
func New(backend Backend, keys Keys, options ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, errors.New("[tokenstore.New] backend is required")
	}
	if keys.Access == "" || keys.Refresh == "" {
		return nil, errors.New("[tokenstore.New] access and refresh key names are required")
	}
	if keys.Access == keys.Refresh {
		return nil, errors.New("[tokenstore.New] access and refresh key names must differ")
	}

	s := &Store{
		backend: backend,
		keys:    keys,
		timeout: 5 * time.Second,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) AccessToken() string {
	return s.get(s.keys.Access)
}

// SetAccessToken stores token; an empty token clears the entry.
func (s *Store) SetAccessToken(token string) {
	s.set(s.keys.Access, token)
}

func (s *Store) RefreshToken() string {
	return s.get(s.keys.Refresh)
}

// SetRefreshToken stores token; an empty token clears the entry.
func (s *Store) SetRefreshToken(token string) {
	s.set(s.keys.Refresh, token)
}

// ClearAll removes both tokens.
func (s *Store) ClearAll() {
	s.set(s.keys.Access, "")
	s.set(s.keys.Refresh, "")
}

// HasValidAccessToken reports whether an access token is stored and not expired.
func (s *Store) HasValidAccessToken() bool {
	return !IsExpired(s.AccessToken())
}

func (s *Store) get(key string) string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Err(err).Str("key", key).Msg("Token store read failed")
		return ""
	}
	if !ok {
		return ""
	}
	return value
}

func (s *Store) set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	if value == "" {
		err = s.backend.Delete(ctx, key)
	} else {
		err = s.backend.Set(ctx, key, value)
	}
	if err != nil {
		s.logger.Err(err).Str("key", key).Msg("Token store write failed")
	}
}
