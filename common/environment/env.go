// Package environment provides helpers for loading configuration from
// environment variables.
//
// Every helper reads one variable and returns either its parsed value or a
// default. Required variables return an error instead of exiting, so the
// callers in cmd/ decide how to fail.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StringOr returns the value of the named environment variable, or
// defaultValue if the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named environment variable or an
// error if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// IntOr parses the named environment variable as a decimal integer.
// Returns defaultValue if the variable is unset, empty, or unparsable.
func IntOr(name string, defaultValue int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// FloatOr parses the named environment variable as a float. Returns
// defaultValue if the variable is unset, empty, or unparsable.
func FloatOr(name string, defaultValue float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// DurationOr parses the named environment variable as a time.Duration
// (e.g. "30s", "5m"). Returns defaultValue if the variable is unset,
// empty, or unparsable.
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
