package misc

import (
	"os"
)

// GetSecret fetches a secret by name - currently only sourced from the
// environment (after the .env layering has run) but kept behind this helper so
// a real secret store can slot in later without touching callers.
func GetSecret(key string) string {
	return os.Getenv(key)
}
