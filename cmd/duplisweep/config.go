package main

import (
	"os"
	"strconv"
)

// envOr, envBool, and envInt mirror fruitsalade/internal/config's env-var
// loading idiom, used here so flags can be defaulted from the
// environment without requiring a config file (config-file loading is
// explicitly out of scope).

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
