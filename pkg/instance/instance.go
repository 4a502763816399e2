package instance

import "os"

// GetID returns the worker instance identifier or a default value. It tags
// distributed lock ownership so operators can see which worker holds a lock.
func GetID() string {
	if id := os.Getenv("LEDGERGATE_WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
