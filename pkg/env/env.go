// Package env reads process environment with the service prefix applied.
package env

import "os"

const prefix = "STAGEPASS_"

// Get returns the prefixed variable when set, then the bare name, then the
// fallback. Deploy manifests set the prefixed form; local shells usually
// export the bare one.
func Get(key, fallback string) string {
	if val := os.Getenv(prefix + key); val != "" {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
