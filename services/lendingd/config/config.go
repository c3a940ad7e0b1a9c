package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"aethos/native/lending"
	"aethos/native/units"
)

const (
	defaultListen          = ":9444"
	defaultRefresh         = 15 * time.Second
	defaultReceiptPoll     = 2 * time.Second
	defaultActionTimeout   = 5 * time.Minute
	defaultPassphraseEnv   = "LENDINGD_KEYSTORE_PASSPHRASE"
	defaultTelemetryTarget = "localhost:4318"
)

// Duration decodes Go duration strings such as "15s" from YAML and TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration.String()), nil }

// Config captures the runtime settings for the lending daemon.
type Config struct {
	Env string    `yaml:"env" toml:"env"`
	Log LogConfig `yaml:"log" toml:"log"`

	RPCURL        string `yaml:"rpc_url" toml:"rpc_url"`
	ChainID       uint64 `yaml:"chain_id" toml:"chain_id"`
	PoolAddress   string `yaml:"pool_address" toml:"pool_address"`
	TokenAddress  string `yaml:"token_address" toml:"token_address"`
	TokenDecimals uint8  `yaml:"token_decimals" toml:"token_decimals"`
	// HealthFlag selects how the ledger's boolean health flag is read:
	// "at_risk" or "healthy".
	HealthFlag    string                 `yaml:"health_flag" toml:"health_flag"`
	Risk          lending.RiskParameters `yaml:"risk" toml:"risk"`
	Confirmations uint64                 `yaml:"confirmations" toml:"confirmations"`

	RefreshInterval     Duration `yaml:"refresh_interval" toml:"refresh_interval"`
	ReceiptPollInterval Duration `yaml:"receipt_poll_interval" toml:"receipt_poll_interval"`
	ActionTimeout       Duration `yaml:"action_timeout" toml:"action_timeout"`

	// Account is selected at startup; it defaults to the signer address.
	Account  string         `yaml:"account" toml:"account"`
	Keystore KeystoreConfig `yaml:"keystore" toml:"keystore"`

	API       APIConfig       `yaml:"api" toml:"api"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Export    ExportConfig    `yaml:"export" toml:"export"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// LogConfig selects the log level and optional rotating file output.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// KeystoreConfig locates the signing key. A keystore file takes precedence
// over a raw key in the environment; with neither the daemon is read-only.
type KeystoreConfig struct {
	Path          string `yaml:"path" toml:"path"`
	PassphraseEnv string `yaml:"passphrase_env" toml:"passphrase_env"`
	PrivateKeyEnv string `yaml:"private_key_env" toml:"private_key_env"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Listen     string                     `yaml:"listen" toml:"listen"`
	TLS        TLSConfig                  `yaml:"tls" toml:"tls"`
	Auth       AuthConfig                 `yaml:"auth" toml:"auth"`
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits" toml:"rate_limits"`
	CORS       CORSConfig                 `yaml:"cors" toml:"cors"`
	LogRequest bool                       `yaml:"log_requests" toml:"log_requests"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert" toml:"cert"`
	KeyPath       string `yaml:"key" toml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure" toml:"allow_insecure"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	HMACSecret string `yaml:"hmac_secret" toml:"hmac_secret"`
	Issuer     string `yaml:"issuer" toml:"issuer"`
	Audience   string `yaml:"audience" toml:"audience"`
}

// RateLimitConfig is a token bucket per client.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int     `yaml:"burst" toml:"burst"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// StorageConfig locates persistent state. Empty values disable the feature.
type StorageConfig struct {
	SnapshotDir string `yaml:"snapshot_dir" toml:"snapshot_dir"`
	JournalDSN  string `yaml:"journal_dsn" toml:"journal_dsn"`
}

// ExportConfig enables activity exports when Dir is set.
type ExportConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Insecure bool   `yaml:"insecure" toml:"insecure"`
	Headers  string `yaml:"headers" toml:"headers"`
	Metrics  bool   `yaml:"metrics" toml:"metrics"`
	Traces   bool   `yaml:"traces" toml:"traces"`
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		Env:                 "dev",
		Log:                 LogConfig{Level: "info"},
		TokenDecimals:       units.LedgerDecimals,
		HealthFlag:          string(lending.HealthFlagAtRisk),
		Risk:                lending.DefaultRiskParameters(),
		RefreshInterval:     Duration{defaultRefresh},
		ReceiptPollInterval: Duration{defaultReceiptPoll},
		ActionTimeout:       Duration{defaultActionTimeout},
		Keystore:            KeystoreConfig{PassphraseEnv: defaultPassphraseEnv},
		API: APIConfig{
			Listen: defaultListen,
			RateLimits: map[string]RateLimitConfig{
				"actions": {RatePerSecond: 1, Burst: 3},
				"session": {RatePerSecond: 2, Burst: 5},
			},
		},
		Telemetry: TelemetryConfig{Endpoint: defaultTelemetryTarget},
	}
}

// Load reads the configuration from disk, applies LENDINGD_* overrides and
// validates the result. Files ending in .toml are decoded as TOML; anything
// else as YAML.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	if err := decodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (cfg *Config) applyEnv() {
	cfg.Env = stringFromEnv("LENDINGD_ENV", cfg.Env)
	cfg.Log.Level = stringFromEnv("LENDINGD_LOG_LEVEL", cfg.Log.Level)
	cfg.RPCURL = stringFromEnv("LENDINGD_RPC_URL", cfg.RPCURL)
	cfg.ChainID = uint64FromEnv("LENDINGD_CHAIN_ID", cfg.ChainID)
	cfg.PoolAddress = stringFromEnv("LENDINGD_POOL_ADDRESS", cfg.PoolAddress)
	cfg.TokenAddress = stringFromEnv("LENDINGD_TOKEN_ADDRESS", cfg.TokenAddress)
	cfg.Account = stringFromEnv("LENDINGD_ACCOUNT", cfg.Account)
	cfg.Keystore.Path = stringFromEnv("LENDINGD_KEYSTORE", cfg.Keystore.Path)
	cfg.API.Listen = stringFromEnv("LENDINGD_LISTEN", cfg.API.Listen)
	cfg.API.Auth.HMACSecret = stringFromEnv("LENDINGD_AUTH_HMAC_SECRET", cfg.API.Auth.HMACSecret)
	cfg.API.TLS.AllowInsecure = boolFromEnv("LENDINGD_TLS_ALLOW_INSECURE", cfg.API.TLS.AllowInsecure)
	cfg.Storage.SnapshotDir = stringFromEnv("LENDINGD_SNAPSHOT_DIR", cfg.Storage.SnapshotDir)
	cfg.Storage.JournalDSN = stringFromEnv("LENDINGD_JOURNAL_DSN", cfg.Storage.JournalDSN)
	cfg.Export.Dir = stringFromEnv("LENDINGD_EXPORT_DIR", cfg.Export.Dir)
	cfg.Telemetry.Endpoint = stringFromEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Headers = stringFromEnv("OTEL_EXPORTER_OTLP_HEADERS", cfg.Telemetry.Headers)
	if origins := splitAndTrim(os.Getenv("LENDINGD_CORS_ORIGINS")); len(origins) > 0 {
		cfg.API.CORS.AllowedOrigins = origins
	}
}

func (cfg *Config) normalize() {
	cfg.Env = strings.TrimSpace(cfg.Env)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.RPCURL = strings.TrimSpace(cfg.RPCURL)
	cfg.PoolAddress = strings.TrimSpace(cfg.PoolAddress)
	cfg.TokenAddress = strings.TrimSpace(cfg.TokenAddress)
	cfg.Account = strings.TrimSpace(cfg.Account)
	cfg.HealthFlag = string(lending.HealthFlagSemantics(cfg.HealthFlag).Normalize())
	cfg.Risk = cfg.Risk.Normalize()
	if cfg.TokenDecimals == 0 {
		cfg.TokenDecimals = units.LedgerDecimals
	}
	if cfg.RefreshInterval.Duration <= 0 {
		cfg.RefreshInterval.Duration = defaultRefresh
	}
	if cfg.ReceiptPollInterval.Duration <= 0 {
		cfg.ReceiptPollInterval.Duration = defaultReceiptPoll
	}
	if cfg.ActionTimeout.Duration <= 0 {
		cfg.ActionTimeout.Duration = defaultActionTimeout
	}
	cfg.Keystore.Path = strings.TrimSpace(cfg.Keystore.Path)
	if strings.TrimSpace(cfg.Keystore.PassphraseEnv) == "" {
		cfg.Keystore.PassphraseEnv = defaultPassphraseEnv
	}
	cfg.API.Listen = strings.TrimSpace(cfg.API.Listen)
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaultListen
	}
	cfg.API.TLS.CertPath = strings.TrimSpace(cfg.API.TLS.CertPath)
	cfg.API.TLS.KeyPath = strings.TrimSpace(cfg.API.TLS.KeyPath)
	cfg.API.Auth.HMACSecret = strings.TrimSpace(cfg.API.Auth.HMACSecret)
	origins := make([]string, 0, len(cfg.API.CORS.AllowedOrigins))
	for _, origin := range cfg.API.CORS.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.API.CORS.AllowedOrigins = origins
	cfg.Storage.SnapshotDir = strings.TrimSpace(cfg.Storage.SnapshotDir)
	cfg.Storage.JournalDSN = strings.TrimSpace(cfg.Storage.JournalDSN)
	cfg.Export.Dir = strings.TrimSpace(cfg.Export.Dir)
}

func (cfg *Config) validate() error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	for name, value := range map[string]string{"pool_address": cfg.PoolAddress, "token_address": cfg.TokenAddress} {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("%s must be a hex address", name)
		}
	}
	if cfg.Account != "" && !common.IsHexAddress(cfg.Account) {
		return fmt.Errorf("account must be a hex address")
	}
	switch lending.HealthFlagSemantics(cfg.HealthFlag) {
	case lending.HealthFlagAtRisk, lending.HealthFlagHealthy:
	default:
		return fmt.Errorf("health_flag must be %q or %q", lending.HealthFlagAtRisk, lending.HealthFlagHealthy)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	if err := cfg.API.TLS.validate(); err != nil {
		return fmt.Errorf("api.tls: %w", err)
	}
	if cfg.API.Auth.Enabled && cfg.API.Auth.HMACSecret == "" {
		return fmt.Errorf("api.auth: hmac_secret required when auth is enabled")
	}
	for name, limit := range cfg.API.RateLimits {
		if limit.RatePerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("api.rate_limits.%s must be non-negative", name)
		}
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether TLS material is configured.
func (cfg TLSConfig) Enabled() bool { return cfg.CertPath != "" }

// Pool returns the Pool contract address.
func (cfg Config) Pool() common.Address { return common.HexToAddress(cfg.PoolAddress) }

// Token returns the pool token address.
func (cfg Config) Token() common.Address { return common.HexToAddress(cfg.TokenAddress) }

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	clone.API.Auth.HMACSecret = maskSecret(clone.API.Auth.HMACSecret)
	clone.Telemetry.Headers = maskSecret(clone.Telemetry.Headers)
	clone.Storage.JournalDSN = maskDSN(clone.Storage.JournalDSN)
	clone.API.RateLimits = make(map[string]RateLimitConfig, len(cfg.API.RateLimits))
	for k, v := range cfg.API.RateLimits {
		clone.API.RateLimits[k] = v
	}
	return clone
}
