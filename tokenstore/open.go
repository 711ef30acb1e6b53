package tokenstore

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-auth-console/internal/config"
	autherrors "github.com/jrsteele09/go-auth-console/internal/errors"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the Store selected by configuration. The returned closer
// releases backend connections and must be called when the store is no longer used.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*Store, io.Closer, error) {
	var (
		backend Backend
		closer  io.Closer = nopCloser{}
	)

	switch cfg.GetTokenStore() {
	case config.TokenStoreMemory:
		backend = NewMemoryBackend()
	case config.TokenStoreFile:
		fb, err := NewFileBackend(cfg.GetTokenFile(), WithPassphrase(cfg.GetTokenPassphrase()))
		if err != nil {
			return nil, nil, err
		}
		backend = fb
	case config.TokenStoreRedis:
		rb, err := NewRedisBackend(ctx, RedisOptions{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Prefix:   cfg.GetRedisPrefix(),
			TTL:      cfg.GetTokenTTL(),
		})
		if err != nil {
			return nil, nil, err
		}
		backend, closer = rb, rb
	default:
		return nil, nil, autherrors.Wrapf(autherrors.ErrUnknownStore, "TOKEN_STORE=%q", cfg.GetTokenStore())
	}

	store, err := New(backend, Keys{
		Access:  cfg.GetAccessTokenKey(),
		Refresh: cfg.GetRefreshTokenKey(),
	}, WithLogger(logger))
	if err != nil {
		closer.Close()
		return nil, nil, autherrors.Wrapf(autherrors.ErrInvalidConfig, "token keys (%v)", err)
	}

	logger.Debug().Str("backend", cfg.GetTokenStore()).Msg("Token store opened")
	return store, closer, nil
}
