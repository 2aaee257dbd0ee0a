package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Marketen/validator-watcher/internal/application/domain"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// WatchedKeyConfig is one watch list entry as written in the YAML file.
type WatchedKeyConfig struct {
	PublicKey string   `yaml:"public_key"`
	Labels    []string `yaml:"labels"`
}

// Config holds runtime configuration for the validator watcher.
type Config struct {
	BeaconNodeURL string        `yaml:"beacon_url" envconfig:"BEACON_NODE_URL"`
	BeaconTimeout time.Duration `yaml:"beacon_timeout" envconfig:"BEACON_TIMEOUT"`
	BeaconRetries uint64        `yaml:"beacon_retries" envconfig:"BEACON_RETRIES"`

	ExecutionNodeURL string `yaml:"execution_url" envconfig:"EXECUTION_NODE_URL"`
	Network          string `yaml:"network" envconfig:"NETWORK"`
	MetricsAddress   string `yaml:"metrics_address" envconfig:"METRICS_ADDRESS"`

	SlackToken   string `yaml:"slack_token" envconfig:"SLACK_TOKEN"`
	SlackChannel string `yaml:"slack_channel" envconfig:"SLACK_CHANNEL"`
	FeeRecipient string `yaml:"fee_recipient" envconfig:"FEE_RECIPIENT"`

	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`

	AggregationWorkers int `yaml:"aggregation_workers" envconfig:"AGGREGATION_WORKERS"`
	AlertDetailLimit   int `yaml:"alert_detail_limit" envconfig:"ALERT_DETAIL_LIMIT"`

	LivenessSlotOffset uint64 `yaml:"liveness_slot_offset" envconfig:"LIVENESS_SLOT_OFFSET"`
	RewardsSlotOffset  uint64 `yaml:"rewards_slot_offset" envconfig:"REWARDS_SLOT_OFFSET"`

	WatchedKeys []WatchedKeyConfig `yaml:"watched_keys" ignored:"true"`

	// Watched is the validated form of WatchedKeys.
	Watched []domain.WatchedKey `yaml:"-" ignored:"true"`
}

func defaults() *Config {
	return &Config{
		BeaconTimeout:      90 * time.Second,
		BeaconRetries:      3,
		Network:            "mainnet",
		MetricsAddress:     ":8000",
		LogLevel:           "info",
		LogFormat:          "console",
		AlertDetailLimit:   10,
		LivenessSlotOffset: 16,
		RewardsSlotOffset:  17,
	}
}

// Load reads the YAML file at path (optional) and applies environment overrides.
// Any validation failure wraps ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error opening config file %v: %w", path, err)
		}
		if err := decodeYAML(raw, cfg); err != nil {
			return nil, fmt.Errorf("%w: error decoding config file %v: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWatched re-reads only the watch list of the file at path.
func LoadWatched(path string) ([]domain.WatchedKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error opening config file %v: %w", path, err)
	}
	cfg := defaults()
	if err := decodeYAML(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: error decoding config file %v: %v", ErrInvalidConfig, path, err)
	}
	return parseWatched(cfg.WatchedKeys)
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	c.BeaconNodeURL = strings.TrimSpace(c.BeaconNodeURL)
	if c.BeaconNodeURL == "" {
		return fmt.Errorf("%w: BEACON_NODE_URL is required", ErrInvalidConfig)
	}
	if c.BeaconTimeout <= 0 {
		return fmt.Errorf("%w: beacon timeout must be positive, got %s", ErrInvalidConfig, c.BeaconTimeout)
	}
	if c.Network == "" {
		return fmt.Errorf("%w: network name is empty", ErrInvalidConfig)
	}
	if (c.SlackToken == "") != (c.SlackChannel == "") {
		return fmt.Errorf("%w: slack_token and slack_channel must be set together", ErrInvalidConfig)
	}
	if c.FeeRecipient != "" {
		addr, err := parseAddress(c.FeeRecipient)
		if err != nil {
			return err
		}
		c.FeeRecipient = addr
	}

	watched, err := parseWatched(c.WatchedKeys)
	if err != nil {
		return err
	}
	c.Watched = watched
	return nil
}

func parseWatched(entries []WatchedKeyConfig) ([]domain.WatchedKey, error) {
	out := make([]domain.WatchedKey, 0, len(entries))
	for i, e := range entries {
		pk, err := domain.ParsePubkey(e.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: watched_keys[%d]: %v", ErrInvalidConfig, i, err)
		}
		for _, l := range e.Labels {
			if strings.TrimSpace(l) == "" {
				return nil, fmt.Errorf("%w: watched_keys[%d]: empty label", ErrInvalidConfig, i)
			}
			if strings.HasPrefix(l, domain.ScopeLabelPrefix) {
				return nil, fmt.Errorf("%w: watched_keys[%d]: label %q uses the reserved %q prefix", ErrInvalidConfig, i, l, domain.ScopeLabelPrefix)
			}
		}
		out = append(out, domain.WatchedKey{Pubkey: pk, Labels: e.Labels})
	}
	return out, nil
}

// parseAddress normalizes a 20 byte execution address to lower-case 0x hex.
func parseAddress(s string) (string, error) {
	norm := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	raw, err := hex.DecodeString(norm)
	if err != nil || len(raw) != 20 {
		return "", fmt.Errorf("%w: fee recipient %q is not a 20 byte hex address", ErrInvalidConfig, s)
	}
	return "0x" + norm, nil
}
