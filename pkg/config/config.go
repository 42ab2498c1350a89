// Package config loads node configuration from the environment, with an
// optional YAML peer-roster file for local multi-node test networks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the node's runtime tunables plus server wiring.
type Config struct {
	ListenAddr string

	TransactionLimit    int
	MaxPenalizationTime time.Duration
	MaxPenalties        int
	BootstrapNodeURL    string

	PeerRosterPath string
}

// Load reads configuration from the environment, applying the network's
// published defaults.
func Load() *Config {
	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", "0.0.0.0:5000"),

		TransactionLimit:    getEnvInt("TRANSACTION_LIMIT", 4),
		MaxPenalizationTime: getEnvDuration("MAX_PENALIZATION_TIME", 600*time.Second),
		MaxPenalties:        getEnvInt("MAX_PENALTIES", 3),
		BootstrapNodeURL:    getEnv("BOOTSTRAP_NODE_URL", "http://127.0.0.1:5000"),

		PeerRosterPath: getEnv("PEER_ROSTER_PATH", ""),
	}
}

// PeerRoster is the optional static peer list for local test networks,
// replacing the original source's node_generation.py bootstrap script.
type PeerRoster struct {
	Peers map[string]string `yaml:"peers"`
}

// LoadPeerRoster reads a YAML peer roster from path, if set. A Config with
// no PeerRosterPath returns an empty roster, not an error.
func (c *Config) LoadPeerRoster() (PeerRoster, error) {
	if c.PeerRosterPath == "" {
		return PeerRoster{Peers: map[string]string{}}, nil
	}
	data, err := os.ReadFile(c.PeerRosterPath)
	if err != nil {
		return PeerRoster{}, fmt.Errorf("read peer roster %s: %w", c.PeerRosterPath, err)
	}
	var roster PeerRoster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return PeerRoster{}, fmt.Errorf("parse peer roster %s: %w", c.PeerRosterPath, err)
	}
	if roster.Peers == nil {
		roster.Peers = map[string]string{}
	}
	return roster, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
