package config

import "time"

type Config interface {
	EnvConfig
	APIConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type APIConfig interface {
	GetAPIBaseURL() string
	GetLoginPath() string
	GetRequestTimeout() time.Duration
}

type StorageConfig interface {
	GetTokenStore() string
	GetAccessTokenKey() string
	GetRefreshTokenKey() string
	GetTokenFile() string
	GetTokenPassphrase() string
	GetTokenTTL() time.Duration
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type mainConfig struct {
	EnvVars
	API
	Storage
}

func New() Config {
	return mainConfig{}
}
