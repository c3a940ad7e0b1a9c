package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aethos/native/lending"
)

const (
	poolAddr  = "0xdecdae0A5aaCDA856693d1151E64003573BcC8d6"
	tokenAddr = "0x73CeF2964375f32fe10E6eD7D971fA43465f8E0D"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
rpc_url: " http://localhost:8545 "
chain_id: 11155111
pool_address: "`+poolAddr+`"
token_address: "`+tokenAddr+`"
api:
  listen: " :6000 "
  tls:
    allow_insecure: true
  cors:
    allowed_origins: [" https://app.example ", " "]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" {
		t.Fatalf("unexpected rpc url %q", cfg.RPCURL)
	}
	if cfg.API.Listen != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.API.Listen)
	}
	if len(cfg.API.CORS.AllowedOrigins) != 1 || cfg.API.CORS.AllowedOrigins[0] != "https://app.example" {
		t.Fatalf("unexpected origins %v", cfg.API.CORS.AllowedOrigins)
	}
	if cfg.RefreshInterval.Duration != defaultRefresh || cfg.ActionTimeout.Duration != defaultActionTimeout {
		t.Fatalf("expected default durations, got %s/%s", cfg.RefreshInterval, cfg.ActionTimeout)
	}
	if cfg.Risk != lending.DefaultRiskParameters() {
		t.Fatalf("expected default risk parameters, got %+v", cfg.Risk)
	}
	if cfg.HealthFlag != string(lending.HealthFlagAtRisk) {
		t.Fatalf("unexpected health flag %q", cfg.HealthFlag)
	}
	if cfg.Keystore.PassphraseEnv != defaultPassphraseEnv {
		t.Fatalf("unexpected passphrase env %q", cfg.Keystore.PassphraseEnv)
	}
	if _, ok := cfg.API.RateLimits["actions"]; !ok {
		t.Fatalf("expected default action rate limit")
	}
	if cfg.Pool().Hex() != poolAddr {
		t.Fatalf("unexpected pool %s", cfg.Pool().Hex())
	}
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
rpc_url = "http://localhost:8545"
chain_id = 1
pool_address = "`+poolAddr+`"
token_address = "`+tokenAddr+`"
health_flag = "HEALTHY"
refresh_interval = "30s"

[risk]
liquidation_threshold = 120
lockup_seconds = 60

[api.tls]
allow_insecure = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HealthFlag != string(lending.HealthFlagHealthy) {
		t.Fatalf("unexpected health flag %q", cfg.HealthFlag)
	}
	if cfg.RefreshInterval.Duration != 30*time.Second {
		t.Fatalf("unexpected refresh interval %s", cfg.RefreshInterval)
	}
	if cfg.Risk.LiquidationThreshold != 120 || cfg.Risk.LockupSeconds != 60 {
		t.Fatalf("unexpected risk parameters %+v", cfg.Risk)
	}
	if cfg.Risk.CollateralFactorPct != lending.DefaultCollateralFactorPct {
		t.Fatalf("expected default collateral factor, got %d", cfg.Risk.CollateralFactorPct)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	base := func(extra string) string {
		return `
rpc_url: "http://localhost:8545"
chain_id: 1
pool_address: "` + poolAddr + `"
token_address: "` + tokenAddr + `"
` + extra
	}
	cases := []struct {
		name   string
		body   string
		expect string
	}{
		{name: "missing rpc", body: "chain_id: 1\napi:\n  tls:\n    allow_insecure: true\n", expect: "rpc_url"},
		{name: "bad pool", body: "rpc_url: x\nchain_id: 1\npool_address: nope\ntoken_address: \"" + tokenAddr + "\"\napi:\n  tls:\n    allow_insecure: true\n", expect: "pool_address"},
		{name: "tls required", body: base(""), expect: "allow_insecure"},
		{name: "tls half", body: base("api:\n  tls:\n    cert: server.crt\n"), expect: "both"},
		{name: "auth secret", body: base("api:\n  tls:\n    allow_insecure: true\n  auth:\n    enabled: true\n"), expect: "hmac_secret"},
		{name: "risk", body: base("risk:\n  collateral_factor_pct: 150\napi:\n  tls:\n    allow_insecure: true\n"), expect: "collateral factor"},
		{name: "health flag", body: base("health_flag: inverted\napi:\n  tls:\n    allow_insecure: true\n"), expect: "health_flag"},
		{name: "log level", body: base("log:\n  level: loud\napi:\n  tls:\n    allow_insecure: true\n"), expect: "log.level"},
		{name: "bad duration", body: base("refresh_interval: soon\n"), expect: "decode config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tc.body)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.expect)
			}
			if !strings.Contains(err.Error(), tc.expect) {
				t.Fatalf("expected error containing %q, got %v", tc.expect, err)
			}
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
rpc_url: "http://file:8545"
chain_id: 1
pool_address: "`+poolAddr+`"
token_address: "`+tokenAddr+`"
api:
  tls:
    allow_insecure: true
`)
	t.Setenv("LENDINGD_RPC_URL", "http://env:8545")
	t.Setenv("LENDINGD_CHAIN_ID", "5")
	t.Setenv("LENDINGD_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LENDINGD_AUTH_HMAC_SECRET", "shh")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCURL != "http://env:8545" || cfg.ChainID != 5 {
		t.Fatalf("env overrides not applied: %s %d", cfg.RPCURL, cfg.ChainID)
	}
	if len(cfg.API.CORS.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins %v", cfg.API.CORS.AllowedOrigins)
	}
	if cfg.API.Auth.HMACSecret != "shh" {
		t.Fatalf("expected secret from env")
	}
}

func TestSanitizedMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.API.Auth.HMACSecret = "secret"
	cfg.Telemetry.Headers = "authorization=Bearer abc"
	cfg.Storage.JournalDSN = "postgres://lender:hunter2@db:5432/aethos"

	clean := cfg.Sanitized()
	if clean.API.Auth.HMACSecret != "***" || clean.Telemetry.Headers != "***" {
		t.Fatalf("expected secrets masked, got %+v", clean.API.Auth)
	}
	if strings.Contains(clean.Storage.JournalDSN, "hunter2") || !strings.Contains(clean.Storage.JournalDSN, "lender") {
		t.Fatalf("unexpected dsn %q", clean.Storage.JournalDSN)
	}
	if cfg.API.Auth.HMACSecret != "secret" {
		t.Fatalf("sanitize mutated the original")
	}
}
