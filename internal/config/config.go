package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/fees"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP     HTTPConfig        `mapstructure:"http"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	Database DatabaseConfig    `mapstructure:"database"`
	Verifier VerifierConfig    `mapstructure:"verifier"`
	Payout   PayoutConfig      `mapstructure:"payout"`
	Fraud    FraudConfig       `mapstructure:"fraud"`
	Events   EventsConfig      `mapstructure:"events"`
	Rates    map[string]string `mapstructure:"rates"`
	Worker   WorkerConfig      `mapstructure:"worker"`
}

type HTTPConfig struct {
	Port             string        `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	HMACSecret       string        `mapstructure:"hmac_secret"`
	SigMaxAgeSeconds int64         `mapstructure:"sig_max_age_seconds"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"` // text|json
	IncludeCaller bool   `mapstructure:"include_caller"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Credential is one provider operator account.
type Credential struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type VerifierConfig struct {
	Mode        string        `mapstructure:"mode"` // live|mock
	Degraded    bool          `mapstructure:"degraded"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	Concurrency int           `mapstructure:"concurrency"`
	Headless    bool          `mapstructure:"headless"`
	ChromePath  string        `mapstructure:"chrome_path"`
	MockDelay   time.Duration `mapstructure:"mock_delay"`
	// Disabled voucher types are not purchasable and need no live binding.
	Disabled []string `mapstructure:"disabled_types"`
	// Credentials is keyed by provider name (cultureland, google, ...).
	Credentials map[string]Credential `mapstructure:"credentials"`
}

type PayoutConfig struct {
	Mode         string        `mapstructure:"mode"` // live|mock
	BaseURL      string        `mapstructure:"base_url"`
	TransferPath string        `mapstructure:"transfer_path"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	TransferFee  int64         `mapstructure:"transfer_fee"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type FraudConfig struct {
	Mode        string        `mapstructure:"mode"` // redis|static
	RedisAddr   string        `mapstructure:"redis_addr"`
	IPWindow    time.Duration `mapstructure:"ip_window"`
	IPThreshold int           `mapstructure:"ip_threshold"`
	Blacklist   []string      `mapstructure:"blacklist"`
	RiskyIPs    []string      `mapstructure:"risky_ips"`
}

type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	QueueSize      int           `mapstructure:"queue_size"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// DevHMACSecret is the development default for signing admin calls. It is
// refused whenever real money can move.
const DevHMACSecret = "supersecret-dev"

// providerEnv keeps the historical per-provider variable names working.
var providerEnv = map[domain.Provider][2]string{
	domain.ProviderCultureLand: {"CULTURE_ID", "CULTURE_PASSWORD"},
	domain.ProviderBooknLife:   {"BOOKN_ID", "BOOKN_PASSWORD"},
	domain.ProviderGoogle:      {"GOOGLE_EMAIL", "GOOGLE_PASSWORD"},
	domain.ProviderStarbucks:   {"STARBUCKS_ID", "STARBUCKS_PASSWORD"},
	domain.ProviderLotte:       {"LPOINT_ID", "LPOINT_PASSWORD"},
	domain.ProviderShinsegae:   {"SSG_ID", "SSG_PASSWORD"},
	domain.ProviderTeencash:    {"TEENCASH_ID", "TEENCASH_PASSWORD"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.hmac_secret", DevHMACSecret)
	v.SetDefault("http.sig_max_age_seconds", 300)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.include_caller", false)

	v.SetDefault("database.dsn", "./voucher.db")

	v.SetDefault("verifier.mode", "mock")
	v.SetDefault("verifier.degraded", false)
	v.SetDefault("verifier.timeout", 60*time.Second)
	v.SetDefault("verifier.retries", 0)
	v.SetDefault("verifier.retry_delay", 5*time.Second)
	v.SetDefault("verifier.settle_delay", 2*time.Second)
	v.SetDefault("verifier.concurrency", 2)
	v.SetDefault("verifier.headless", true)
	v.SetDefault("verifier.chrome_path", "")
	v.SetDefault("verifier.mock_delay", time.Second)
	v.SetDefault("verifier.disabled_types", []string{})
	for p := range providerEnv {
		v.SetDefault("verifier.credentials."+string(p)+".username", "")
		v.SetDefault("verifier.credentials."+string(p)+".password", "")
	}

	v.SetDefault("payout.mode", "mock")
	v.SetDefault("payout.base_url", "https://api.iamport.kr")
	v.SetDefault("payout.transfer_path", "/transfers/bank")
	v.SetDefault("payout.api_key", "")
	v.SetDefault("payout.api_secret", "")
	v.SetDefault("payout.transfer_fee", fees.DefaultTransferFee)
	v.SetDefault("payout.timeout", 30*time.Second)

	v.SetDefault("fraud.mode", "static")
	v.SetDefault("fraud.redis_addr", "localhost:6379")
	v.SetDefault("fraud.ip_window", time.Minute)
	v.SetDefault("fraud.ip_threshold", 30)
	v.SetDefault("fraud.blacklist", []string{"010-0000-0000", "1234567890"})
	v.SetDefault("fraud.risky_ips", []string{"192.168.0.100"})

	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "voucher.transactions")

	for _, info := range domain.Catalogue() {
		v.SetDefault("rates."+strings.ToLower(string(info.Type)), info.BuyRate.String())
	}

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.stale_threshold", 15*time.Minute)
	v.SetDefault("worker.sweep_interval", 5*time.Minute)
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	aliases := map[string][]string{
		"http.port":                {"HTTP_PORT", "APP_PORT"},
		"http.hmac_secret":         {"HTTP_HMAC_SECRET", "HMAC_SECRET"},
		"http.sig_max_age_seconds": {"HTTP_SIG_MAX_AGE_SECONDS", "SIG_MAX_AGE_SECONDS"},
		"database.dsn":             {"DATABASE_DSN", "SQLITE_DSN"},
		"payout.api_key":           {"PAYOUT_API_KEY", "PORTONE_API_KEY"},
		"payout.api_secret":        {"PAYOUT_API_SECRET", "PORTONE_API_SECRET"},
		"fraud.redis_addr":         {"FRAUD_REDIS_ADDR", "REDIS_ADDR"},
		"events.brokers":           {"EVENTS_BROKERS", "KAFKA_BROKER"},
	}
	for p, env := range providerEnv {
		prefix := "verifier.credentials." + string(p)
		upper := strings.ToUpper(strings.ReplaceAll(prefix, ".", "_"))
		aliases[prefix+".username"] = []string{upper + "_USERNAME", env[0]}
		aliases[prefix+".password"] = []string{upper + "_PASSWORD", env[1]}
	}
	for key, names := range aliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from defaults, the optional YAML file named by
// VOUCHER_CONFIG and the environment, in increasing precedence.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if path := os.Getenv("VOUCHER_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Verifier.Mode != "live" && c.Verifier.Mode != "mock" {
		errs = append(errs, fmt.Errorf("verifier.mode must be live or mock, got %q", c.Verifier.Mode))
	}
	if c.Payout.Mode != "live" && c.Payout.Mode != "mock" {
		errs = append(errs, fmt.Errorf("payout.mode must be live or mock, got %q", c.Payout.Mode))
	}
	if c.Payout.Mode == "live" && (c.Payout.APIKey == "" || c.Payout.APISecret == "") {
		errs = append(errs, errors.New("payout.api_key and payout.api_secret are required in live mode"))
	}
	if c.Fraud.Mode != "redis" && c.Fraud.Mode != "static" {
		errs = append(errs, fmt.Errorf("fraud.mode must be redis or static, got %q", c.Fraud.Mode))
	}
	if c.HTTP.HMACSecret == "" {
		errs = append(errs, errors.New("http.hmac_secret must not be empty"))
	}
	if c.Payout.Mode == "live" && c.HTTP.HMACSecret == DevHMACSecret {
		errs = append(errs, errors.New("http.hmac_secret must be changed from the development default in live payout mode"))
	}
	if c.Verifier.Retries < 0 {
		errs = append(errs, errors.New("verifier.retries must not be negative"))
	}
	if c.Verifier.RetryDelay < 0 {
		errs = append(errs, errors.New("verifier.retry_delay must not be negative"))
	}
	if _, err := c.DisabledTypes(); err != nil {
		errs = append(errs, err)
	}
	if c.Payout.TransferFee < 0 {
		errs = append(errs, errors.New("payout.transfer_fee must not be negative"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be positive"))
	}
	if _, err := c.BuyRates(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BuyRates resolves the configured rate for every catalogue type. Types
// missing from the config keep their catalogue default.
func (c Config) BuyRates() (map[domain.VoucherType]decimal.Decimal, error) {
	out := make(map[domain.VoucherType]decimal.Decimal)
	for _, info := range domain.Catalogue() {
		out[info.Type] = info.BuyRate
	}
	for key, raw := range c.Rates {
		vt, ok := domain.ParseVoucherType(key)
		if !ok {
			return nil, fmt.Errorf("rates: unknown voucher type %q", key)
		}
		r, err := fees.ParseRate(raw)
		if err != nil {
			return nil, fmt.Errorf("rates.%s: %w", key, err)
		}
		out[vt] = r
	}
	return out, nil
}

// DisabledTypes parses verifier.disabled_types.
func (c Config) DisabledTypes() ([]domain.VoucherType, error) {
	var out []domain.VoucherType
	for _, raw := range c.Verifier.Disabled {
		vt, ok := domain.ParseVoucherType(raw)
		if !ok {
			return nil, fmt.Errorf("verifier.disabled_types: unknown voucher type %q", raw)
		}
		out = append(out, vt)
	}
	return out, nil
}
