package instance

import (
	"os"
	"strings"
)

const fallbackID = "attribution-0"

// GetID identifies this process in lock values and logs. It prefers
// ATTRIBUTION_INSTANCE_ID, then the host name.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("ATTRIBUTION_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
