package utils

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// SafeEnv returns the environment variable value for key, or fallback if empty.
func SafeEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// EnvInt parses key as an int. Malformed values are logged and ignored.
func EnvInt(key string, fallback int) int {
	v := SafeEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("env: %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func EnvFloat(key string, fallback float64) float64 {
	v := SafeEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("env: %s=%q is not a number, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func EnvBool(key string, fallback bool) bool {
	v := SafeEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("env: %s=%q is not a boolean, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := SafeEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("env: %s=%q is not a duration, using %s", key, v, fallback)
		return fallback
	}
	return d
}

// EnvList splits a comma separated value, dropping blanks.
func EnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
