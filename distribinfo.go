package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/VestLab/dropmgr/internal/lib/ledger"
)

// DistributionInfo is everything the tool persists: the immutable distribution
// parameters set at 'distribution init' time plus the last saved ledger
// snapshot.
type DistributionInfo struct {
	// AssetID of the ASA being distributed
	AssetID uint64
	// AirdropAmount is the fixed per-participant allocation in base units (must be even)
	AirdropAmount uint64
	// StakingDurationSecs is the fixed lock interval applied when a participant stakes
	StakingDurationSecs uint64
	// Owner is the account authorized for eligibility grants and withdrawals - presumably cold-wallet
	Owner string
	// Treasury is the account holding the distribution supply - needs to be hotwallet as
	// this node has to sign its outbound transfers
	Treasury string

	Ledger *ledger.Snapshot `json:"ledger,omitempty"`
}

func ConfigFilename() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, "dropmgr.json"), nil
}

func LoadDistributionInfo() (*DistributionInfo, error) {
	cfgName, err := ConfigFilename()
	if err != nil {
		return nil, err
	}
	file, err := os.Open(cfgName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var info DistributionInfo
	err = decoder.Decode(&info)
	if err != nil {
		return nil, err
	}

	return &info, nil
}

func SaveDistributionInfo(info *DistributionInfo) error {
	// Save the data from DistributionInfo into the config file, by
	// first saving into a temp file and then replacing the config file only if successfully written.
	cfgName, err := ConfigFilename()
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(cfgName), filepath.Base(cfgName)+".*")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(temp)
	err = encoder.Encode(info)
	if err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("error saving configuration: %w", err)
	}

	err = temp.Close()
	if err != nil {
		return err
	}

	err = os.Rename(temp.Name(), cfgName)
	if err != nil {
		return err
	}
	return nil
}
