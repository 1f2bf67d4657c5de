// Package config holds the environment parsing helpers shared by every
// component's ConfigFromEnv.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Int reads a positive integer from name. Missing values return def;
// invalid values log a warning tagged with tag and return def.
func Int(tag, name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("["+tag+"] invalid "+name+" value, using default",
			"value", v,
			"default", def,
			"error", err,
		)
		return def
	}
	return n
}

// Duration reads a Go duration string ("1s", "5m") from name. Bare integers
// are accepted as seconds. Non-positive or unparsable values log a warning
// and return def.
func Duration(tag, name string, def time.Duration) time.Duration {
	return duration(tag, name, def, false)
}

// DurationOrZero is Duration but also accepts zero, for settings where zero
// turns the behaviour off. Negative values still fall back to def.
func DurationOrZero(tag, name string, def time.Duration) time.Duration {
	return duration(tag, name, def, true)
}

func duration(tag, name string, def time.Duration, allowZero bool) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			d, err = time.Duration(n)*time.Second, nil
		}
	}
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		slog.Warn("["+tag+"] invalid "+name+" value, using default",
			"value", v,
			"default", def,
			"error", err,
		)
		return def
	}
	return d
}

// String reads name, returning def when unset.
func String(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// Bool reads name as "true"/"1" or "false"/"0", returning def when unset.
func Bool(name string, def bool) bool {
	switch os.Getenv(name) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	return def
}
