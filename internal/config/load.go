package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadMachine reads and parses one machine configuration file. It does
// not validate semantics — call Validate on the result for that (spec §7:
// ConfigInvalid is raised at compile time, after parsing succeeds).
func LoadMachine(path string) (*MachineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg MachineConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadSync reads the optional `-s SYNC` file. A missing or unreadable file
// is an error; cmd/governord only calls LoadSync when -s is non-empty and
// treats an empty -s flag as "no sync".
func LoadSync(path string) (SyncConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var sync SyncConfig
	if err := yaml.Unmarshal(raw, &sync); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return sync, nil
}
