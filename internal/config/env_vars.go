package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	appNameVar  = "APP_NAME"
	envVar      = "ENV"
	logLevelVar = "LOG_LEVEL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Dev Console")
}

func (EnvVars) GetEnv() string {
	return strings.ToUpper(GetEnv(envVar, "DEV"))
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt falls back to defaultValue when the variable is unset or not an integer.
func GetEnvInt(envVar string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}

// GetEnvDuration accepts Go duration strings ("30s", "15m").
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}
