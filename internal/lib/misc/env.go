package misc

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

// LoadEnvSettings layers local overrides over the base .env (if either exists).
func LoadEnvSettings(log *slog.Logger) {
	load(log, ".env.local")
	load(log, ".env")
}

// LoadEnvForNetwork loads the per-network override file, ie .env.testnet,
// after the network flag has been resolved.
func LoadEnvForNetwork(log *slog.Logger, network string) {
	load(log, fmt.Sprintf(".env.%s", network))
}

func load(log *slog.Logger, filename string) {
	if err := godotenv.Load(filename); err == nil {
		Debugf(log, "loaded env file:%s", filename)
	}
}
