package ui

import (
	"net/http"
)

const (
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	Gray    = "\033[90m" // Bright black, often appears as gray

	RedInverse   = "\033[7;31m"
	GreenInverse = "\033[7;32m"

	ResetColor = "\033[0m" // Reset to default color
)

var methodColors = map[string]string{
	http.MethodGet:    Green,
	http.MethodPost:   Blue,
	http.MethodPut:    Cyan,
	http.MethodDelete: Yellow,
	http.MethodPatch:  Magenta,
}

// MethodColor returns the colour used for an HTTP method
func MethodColor(method string) string {
	if c, ok := methodColors[method]; ok {
		return c
	}
	return Gray
}

// StatusColor returns the colour used for an HTTP status code
func StatusColor(status int) string {
	switch {
	case status >= 500:
		return RedInverse
	case status >= 400:
		return Red
	case status >= 300:
		return Yellow
	default:
		return Green
	}
}
