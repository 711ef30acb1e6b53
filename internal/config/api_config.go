package config

import (
	"strings"
	"time"
)

const (
	apiBaseURLVar     = "API_BASE_URL"
	loginPathVar      = "LOGIN_PATH"
	requestTimeoutVar = "REQUEST_TIMEOUT"
)

type API struct{}

var _ APIConfig = API{}

// GetAPIBaseURL returns the backend prefix every request path is appended to
// (e.g. "https://api.example.com/api"). A trailing slash is dropped.
func (API) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv(apiBaseURLVar, "http://localhost:5000/api"), "/")
}

// GetLoginPath is the entry point the client navigates to after a 401.
func (API) GetLoginPath() string {
	return GetEnv(loginPathVar, "/login")
}

func (API) GetRequestTimeout() time.Duration {
	return GetEnvDuration(requestTimeoutVar, 30*time.Second)
}
