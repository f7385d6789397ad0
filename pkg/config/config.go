package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the recognized storage options.
type Config struct {
	// RootKey is the backend path root all class/provenance/lock paths are
	// built under.
	RootKey string `yaml:"rootKey"`

	// Version segments the root so a future incompatible layout can run
	// alongside an older one without a migration step.
	Version string `yaml:"version"`

	// TransactionAttempts is the total number of attempts tryTransaction
	// makes before giving up; retries = attempts - 1.
	TransactionAttempts int `yaml:"transactionAttempts"`

	// LockTimeout bounds how long tryTransaction waits to acquire the
	// topology lock before raising a StorageFailure.
	LockTimeout time.Duration `yaml:"lockTimeoutMs"`

	// Namespace identifies this process for provenance "owner" fields and
	// for the state subsystem's per-namespace keys. Host-derived by
	// default.
	Namespace string `yaml:"namespace"`

	// HealthCheckInterval is how often the store probes backend liveness
	// to drive the BackendHealthy gauge. Zero disables the probe loop.
	HealthCheckInterval time.Duration `yaml:"healthCheckIntervalMs"`
}

const (
	defaultRootKey             = "/midonet"
	defaultVersion             = "v1"
	defaultTransactionAttempts = 3
	defaultLockTimeout         = 5 * time.Second
	defaultHealthCheckInterval = 10 * time.Second
)

// Default returns a Config with every recognized option set to its
// documented default.
func Default() Config {
	namespace, err := os.Hostname()
	if err != nil || namespace == "" {
		namespace = "unknown"
	}
	return Config{
		RootKey:             defaultRootKey,
		Version:             defaultVersion,
		TransactionAttempts: defaultTransactionAttempts,
		LockTimeout:         defaultLockTimeout,
		Namespace:           namespace,
		HealthCheckInterval: defaultHealthCheckInterval,
	}
}

// Load parses YAML configuration from r, applying defaults for any option
// left unset. lockTimeoutMs in the YAML document is milliseconds.
func Load(r io.Reader) (Config, error) {
	cfg := Default()

	var raw struct {
		RootKey               string `yaml:"rootKey"`
		Version               string `yaml:"version"`
		TransactionAttempts   int    `yaml:"transactionAttempts"`
		LockTimeoutMs         int    `yaml:"lockTimeoutMs"`
		Namespace             string `yaml:"namespace"`
		HealthCheckIntervalMs int    `yaml:"healthCheckIntervalMs"`
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("config: read: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	if raw.RootKey != "" {
		cfg.RootKey = raw.RootKey
	}
	if raw.Version != "" {
		cfg.Version = raw.Version
	}
	if raw.TransactionAttempts > 0 {
		cfg.TransactionAttempts = raw.TransactionAttempts
	}
	if raw.LockTimeoutMs > 0 {
		cfg.LockTimeout = time.Duration(raw.LockTimeoutMs) * time.Millisecond
	}
	if raw.Namespace != "" {
		cfg.Namespace = raw.Namespace
	}
	if raw.HealthCheckIntervalMs > 0 {
		cfg.HealthCheckInterval = time.Duration(raw.HealthCheckIntervalMs) * time.Millisecond
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations that would make the transaction manager
// or the topology lock misbehave.
func (c Config) Validate() error {
	if c.RootKey == "" {
		return fmt.Errorf("config: rootKey must not be empty")
	}
	if c.Version == "" {
		return fmt.Errorf("config: version must not be empty")
	}
	if c.TransactionAttempts < 1 {
		return fmt.Errorf("config: transactionAttempts must be >= 1, got %d", c.TransactionAttempts)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: lockTimeoutMs must be positive")
	}
	return nil
}

// Retries is the number of automatic retries tryTransaction performs after
// the first attempt.
func (c Config) Retries() int {
	return c.TransactionAttempts - 1
}
