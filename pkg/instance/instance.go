package instance

import (
	"os"
	"strings"
)

// GetID returns the worker instance identifier used as a lock owner. It falls
// back to the hostname, then to a fixed default.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("TRADELOOP_WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
