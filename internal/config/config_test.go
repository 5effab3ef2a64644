package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"voucher_backend/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VOUCHER_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Port != "8080" || cfg.HTTP.SigMaxAgeSeconds != 300 {
		t.Fatalf("http defaults: %+v", cfg.HTTP)
	}
	if cfg.Verifier.Mode != "mock" || cfg.Verifier.Degraded {
		t.Fatalf("verifier must default to mock without degraded mode: %+v", cfg.Verifier)
	}
	if cfg.Verifier.Timeout != 60*time.Second || cfg.Verifier.Retries != 0 {
		t.Fatalf("verifier timing defaults: %+v", cfg.Verifier)
	}
	if cfg.Payout.TransferFee != 500 {
		t.Fatalf("transfer fee = %d", cfg.Payout.TransferFee)
	}
	rates, err := cfg.BuyRates()
	if err != nil {
		t.Fatal(err)
	}
	if rates[domain.VoucherCultureLand].String() != "0.9" {
		t.Fatalf("CULTURE_LAND rate = %s", rates[domain.VoucherCultureLand])
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VOUCHER_CONFIG", "")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("CULTURE_ID", "op")
	t.Setenv("CULTURE_PASSWORD", "pw")
	t.Setenv("VERIFIER_TIMEOUT", "45s")
	t.Setenv("KAFKA_BROKER", "k1:9092,k2:9092")
	t.Setenv("VERIFIER_DISABLED_TYPES", "happy_money,HAPPY_EXCH")
	t.Setenv("VERIFIER_RETRY_DELAY", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Port != "9090" {
		t.Fatalf("port = %q", cfg.HTTP.Port)
	}
	if c := cfg.Verifier.Credentials["cultureland"]; c.Username != "op" || c.Password != "pw" {
		t.Fatalf("credentials = %+v", c)
	}
	if cfg.Verifier.Timeout != 45*time.Second {
		t.Fatalf("timeout = %v", cfg.Verifier.Timeout)
	}
	if len(cfg.Events.Brokers) != 2 {
		t.Fatalf("brokers = %v", cfg.Events.Brokers)
	}
	disabled, err := cfg.DisabledTypes()
	if err != nil || len(disabled) != 2 || disabled[0] != domain.VoucherHappyMoney {
		t.Fatalf("disabled = %v, %v", disabled, err)
	}
	if cfg.Verifier.RetryDelay != 3*time.Second {
		t.Fatalf("retry delay = %v", cfg.Verifier.RetryDelay)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voucher.yaml")
	yaml := []byte(`
verifier:
  mode: live
  degraded: true
rates:
  culture_land: "0.91"
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOUCHER_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Verifier.Mode != "live" || !cfg.Verifier.Degraded {
		t.Fatalf("verifier = %+v", cfg.Verifier)
	}
	rates, _ := cfg.BuyRates()
	if rates[domain.VoucherCultureLand].String() != "0.91" {
		t.Fatalf("rate = %s", rates[domain.VoucherCultureLand])
	}
	if rates[domain.VoucherLotte].String() != "0.92" {
		t.Fatalf("unlisted type lost its default: %s", rates[domain.VoucherLotte])
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("VOUCHER_CONFIG", "")
	base, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad verifier mode", func(c *Config) { c.Verifier.Mode = "maybe" }},
		{"live payout without keys", func(c *Config) { c.Payout.Mode = "live" }},
		{"empty hmac secret", func(c *Config) { c.HTTP.HMACSecret = "" }},
		{"rate above one", func(c *Config) { c.Rates = map[string]string{"lotte": "1.5"} }},
		{"unknown rate type", func(c *Config) { c.Rates = map[string]string{"nope": "0.5"} }},
		{"negative retries", func(c *Config) { c.Verifier.Retries = -1 }},
		{"negative retry delay", func(c *Config) { c.Verifier.RetryDelay = -time.Second }},
		{"unknown disabled type", func(c *Config) { c.Verifier.Disabled = []string{"nope"} }},
		{"dev secret with live payout", func(c *Config) {
			c.Payout.Mode = "live"
			c.Payout.APIKey, c.Payout.APISecret = "key", "secret"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateLivePayoutSecret(t *testing.T) {
	t.Setenv("VOUCHER_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.HMACSecret != DevHMACSecret {
		t.Fatalf("default secret = %q", cfg.HTTP.HMACSecret)
	}

	cfg.Payout.Mode = "live"
	cfg.Payout.APIKey, cfg.Payout.APISecret = "key", "secret"
	if err := cfg.Validate(); err == nil {
		t.Fatal("live payout accepted the development hmac secret")
	}
	cfg.HTTP.HMACSecret = "a-real-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("live payout with own secret: %v", err)
	}
}
