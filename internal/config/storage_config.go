package config

import "time"

const (
	tokenStoreVar      = "TOKEN_STORE"
	accessTokenKeyVar  = "ACCESS_TOKEN_KEY"
	refreshTokenKeyVar = "REFRESH_TOKEN_KEY"
	tokenFileVar       = "TOKEN_FILE"
	tokenPassphraseVar = "TOKEN_PASSPHRASE"
	tokenTTLVar        = "TOKEN_TTL"
	redisAddrVar       = "REDIS_ADDR"
	redisPasswordVar   = "REDIS_PASSWORD"
	redisDBVar         = "REDIS_DB"
	redisPrefixVar     = "REDIS_PREFIX"
)

// Token store backends.
const (
	TokenStoreMemory = "memory"
	TokenStoreFile   = "file"
	TokenStoreRedis  = "redis"
)

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetTokenStore() string {
	return GetEnv(tokenStoreVar, TokenStoreFile)
}

func (Storage) GetAccessTokenKey() string {
	return GetEnv(accessTokenKeyVar, "access_token")
}

func (Storage) GetRefreshTokenKey() string {
	return GetEnv(refreshTokenKeyVar, "refresh_token")
}

func (Storage) GetTokenFile() string {
	return GetEnv(tokenFileVar, "./data/tokens.json")
}

// GetTokenPassphrase enables sealing of the token file when non-empty.
func (Storage) GetTokenPassphrase() string {
	return GetEnv(tokenPassphraseVar, "")
}

// GetTokenTTL bounds how long the redis backend keeps a value. Zero keeps it until cleared.
func (Storage) GetTokenTTL() time.Duration {
	return GetEnvDuration(tokenTTLVar, 0)
}

func (Storage) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv(redisPasswordVar, "")
}

func (Storage) GetRedisDB() int {
	return GetEnvInt(redisDBVar, 0)
}

func (Storage) GetRedisPrefix() string {
	return GetEnv(redisPrefixVar, "devconsole:")
}
