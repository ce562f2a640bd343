// Package config loads the agent-wallet configuration file.
//
// Configuration is read from a single YAML file given by --config or
// AGENT_WALLET_CONFIG, falling back to config.yaml in the user config
// directory. A missing file yields defaults; unknown keys are rejected.
// Command-line flags override file values after loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// EnvConfig names the environment variable holding the config path.
const EnvConfig = "AGENT_WALLET_CONFIG"

// EnvPassphrase names the environment variable holding the keystore
// passphrase. The passphrase is never read from the config file.
const EnvPassphrase = "AGENT_WALLET_PASSPHRASE"

// Config is the agent-wallet configuration.
type Config struct {
	// RelayURL is the JSON-RPC endpoint of the relay.
	RelayURL string `yaml:"relay_url"`

	// ChainID selects the chain capabilities are reconciled on.
	ChainID uint64 `yaml:"chain_id"`

	// Account is the smart account address the agent acts for.
	Account string `yaml:"account"`

	// StatePath is the SQLite database holding pending records and run
	// history.
	// Default: <user config dir>/agent-wallet/state.db
	StatePath string `yaml:"state_path"`

	// KeystorePath is the age-encrypted agent key file.
	// Default: <user config dir>/agent-wallet/agent-key.age
	KeystorePath string `yaml:"keystore_path"`

	// RequestTimeout bounds each relay call.
	// Default: 15s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Activation ActivationConfig `yaml:"activation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ActivationConfig bounds the activation classifier.
type ActivationConfig struct {
	// PollInterval is the pause between polls.
	// Default: 2s
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout is the total poll window.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig throttles relay requests.
type RateLimitConfig struct {
	// RPS is the sustained request rate. Zero disables throttling.
	RPS float64 `yaml:"rps"`

	// Burst is the maximum burst size.
	// Default: 1
	Burst int `yaml:"burst"`
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		StatePath:      filepath.Join(dir, "state.db"),
		KeystorePath:   filepath.Join(dir, "agent-key.age"),
		RequestTimeout: 15 * time.Second,
		Activation: ActivationConfig{
			PollInterval: 2 * time.Second,
			Timeout:      60 * time.Second,
		},
		RateLimit: RateLimitConfig{Burst: 1},
	}
}

// DefaultDir returns <user config dir>/agent-wallet.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(base, "agent-wallet"), nil
}

// Path resolves the config file path: explicit flag, then EnvConfig, then
// the default directory.
func Path(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env, nil
	}
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadFile reads path over the defaults. A missing file is not an error;
// the second result reports whether the file was found. Relative state
// and keystore paths resolve against the file's directory.
func LoadFile(path string) (*Config, bool, error) {
	dir := filepath.Dir(path)
	cfg := Default(dir)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := decodeStrict(data, cfg); err != nil {
		return nil, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.StatePath = resolve(dir, cfg.StatePath)
	cfg.KeystorePath = resolve(dir, cfg.KeystorePath)
	return cfg, true, nil
}

func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.RelayURL == "" {
		errs = append(errs, errors.New("relay_url is required"))
	} else if u, err := url.Parse(c.RelayURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("relay_url %q must be an http(s) URL", c.RelayURL))
	}
	if c.ChainID == 0 {
		errs = append(errs, errors.New("chain_id is required"))
	}
	if c.Account != "" && !policy.IsAddress(c.Account) {
		errs = append(errs, fmt.Errorf("account %q is not a 20-byte hex address", c.Account))
	}
	if c.StatePath == "" {
		errs = append(errs, errors.New("state_path is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.Activation.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("activation.poll_interval must be positive, got %s", c.Activation.PollInterval))
	}
	if c.Activation.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("activation.timeout must be positive, got %s", c.Activation.Timeout))
	} else if c.Activation.PollInterval >= c.Activation.Timeout {
		errs = append(errs, fmt.Errorf("activation.poll_interval (%s) must be shorter than activation.timeout (%s)",
			c.Activation.PollInterval, c.Activation.Timeout))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.rps must not be negative, got %v", c.RateLimit.RPS))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("rate_limit.burst must be at least 1, got %d", c.RateLimit.Burst))
	}

	return errors.Join(errs...)
}
