package instance

import (
	"os"
	"strings"
)

const envWorkerID = "PHARMACY_WORKER_ID"

// GetID identifies this process in logs and lock values. It prefers
// PHARMACY_WORKER_ID, then the hostname, then "<service>-0".
func GetID(service string) string {
	if id := strings.TrimSpace(os.Getenv(envWorkerID)); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return service + "@" + host
	}
	return service + "-0"
}
