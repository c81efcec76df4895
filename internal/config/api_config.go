package config

import (
	"strings"
	"time"
)

const defaultAPIBaseURL = "http://localhost:3000"

type APIConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
	GetLogoutTimeout() time.Duration
}

type API struct {
	BaseURL        string        `yaml:"base_url" env:"API_URL" env-default:"http://localhost:3000"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"15s"`
	LogoutTimeout  time.Duration `yaml:"logout_timeout" env:"LOGOUT_TIMEOUT" env-default:"5s"`
}

var _ APIConfig = API{}

// GetAPIBaseURL returns the API origin without a trailing slash (e.g. "https://api.example.com")
func (a API) GetAPIBaseURL() string {
	if a.BaseURL == "" {
		return defaultAPIBaseURL
	}
	return strings.TrimRight(a.BaseURL, "/")
}

// GetRequestTimeout bounds a single HTTP exchange. Zero disables the bound.
func (a API) GetRequestTimeout() time.Duration {
	return a.RequestTimeout
}

// GetLogoutTimeout bounds the best-effort logout notification
func (a API) GetLogoutTimeout() time.Duration {
	if a.LogoutTimeout == 0 {
		return 5 * time.Second
	}
	return a.LogoutTimeout
}
