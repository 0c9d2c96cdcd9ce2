package algo

import (
	"fmt"
	"os"
	"strings"

	"github.com/VestLab/dropmgr/internal/lib/misc"
)

type NetworkConfig struct {
	NodeDataDir string

	NodeURL     string
	NodeToken   string
	NodeHeaders map[string]string
}

func (n NetworkConfig) String() string {
	return fmt.Sprintf("NodeDataDir: %s, NodeURL: %s, NodeToken: (length:%d), NodeHeaders: %v", n.NodeDataDir, n.NodeURL, len(n.NodeToken), n.NodeHeaders)
}

func GetNetworkConfig(network string) NetworkConfig {
	cfg := getDefaults(network)

	nodeDataDir := os.Getenv("ALGORAND_DATA")
	if nodeDataDir != "" {
		cfg.NodeDataDir = nodeDataDir
	}

	nodeURL := misc.GetSecret("ALGO_ALGOD_URL")
	if nodeURL != "" {
		cfg.NodeURL = nodeURL
	}

	nodeToken := misc.GetSecret("ALGO_ALGOD_TOKEN")
	if nodeToken != "" {
		cfg.NodeToken = nodeToken
	}
	NodeHeaders := misc.GetSecret("ALGO_ALGOD_HEADERS")
	// parse NodeHeaders from key:value,[key:value...] pairs and put into cfg.NodeHeaders map
	cfg.NodeHeaders = map[string]string{}
	for _, header := range strings.Split(NodeHeaders, ",") {
		parts := strings.SplitN(header, ":", 2) // Just split on first : - they can have :'s in value.
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			cfg.NodeHeaders[key] = value
		}
	}

	return cfg
}

func getDefaults(network string) NetworkConfig {
	cfg := NetworkConfig{}
	switch network {
	case "mainnet":
		cfg.NodeURL = "https://mainnet-api.algonode.cloud"
	case "testnet":
		cfg.NodeURL = "https://testnet-api.algonode.cloud"
	case "betanet":
		cfg.NodeURL = "https://betanet-api.algonode.cloud"
	case "sandbox":
		cfg.NodeURL = "http://localhost:4001"
		cfg.NodeToken = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	}
	return cfg
}

// GetNetAndTokenFromFiles reads the address and token from files in the local Algorand data directory.
// It takes two parameters: netFile (file path of the address file) and tokenFile (file path of the token file).
// It returns apiURL (the API URL), apiToken (the API token), and an error (if any).
func GetNetAndTokenFromFiles(netFile, tokenFile string) (string, string, error) {
	// Read address and token from (local) algorand data directory
	netPath, err := os.ReadFile(netFile)
	if err != nil {
		return "", "", fmt.Errorf("error reading file: %s: %w", netFile, err)
	}
	apiKeyBytes, err := os.ReadFile(tokenFile)
	if err != nil {
		return "", "", fmt.Errorf("error reading file: %s: %w", tokenFile, err)
	}
	apiURL := fmt.Sprintf("http://%s", strings.TrimSpace(string(netPath)))
	apiToken := strings.TrimSpace(string(apiKeyBytes))
	return apiURL, apiToken, nil
}
