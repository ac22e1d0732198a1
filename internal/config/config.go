// Package config provides configuration management for the entropy-compare
// service. Values start from defaults, are optionally overlaid by a YAML file
// named by CONFIG_FILE, and are finally overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Environment constants define the application runtime environments.
const (
	EnvironmentDevelopment = "dev"
	EnvironmentProduction  = "prod"
)

// Hardware backend names. Kept in sync with source.Backend*.
const (
	BackendNone    = "none"
	BackendGateway = "gateway"
	BackendTDC     = "tdc"
	BackendSerial  = "serial"
)

const (
	defaultAPIBind           = "127.0.0.1:8090"
	defaultMetricsBind       = "127.0.0.1:8080"
	defaultRateLimitRPS      = 25
	defaultRateLimitBurst    = 25
	defaultRetryAfterSeconds = 1
	defaultShots             = 1024
	maxShots                 = 10000
	defaultGenerationTimeout = 30 * time.Second
	defaultGatewayTimeout    = 10 * time.Second
	defaultSerialBaud        = 115200
	defaultSerialReadTimeout = 500 * time.Millisecond
	defaultPoolMinBytes      = 512
	defaultPoolMaxBytes      = 16384
	defaultBatchSize         = 1840   // Roughly ten seconds of nominal acquisition.
	minBatchSize             = 1840   // Minimum supported batch size.
	maxBatchSize             = 184000 // Maximum supported batch size.
)

// TLS holds server certificate settings shared by the API and metrics servers.
type TLS struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	CAFile     string `yaml:"ca_file" json:"ca_file"`         // CA for mTLS client verification (optional)
	ClientAuth string `yaml:"client_auth" json:"client_auth"` // "none", "request" or "require"
}

// API contains REST API server configuration.
type API struct {
	Bind           string   `yaml:"bind" json:"bind"`
	AllowPublic    bool     `yaml:"allow_public" json:"allow_public"`
	RateLimitRPS   int      `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	RetryAfterSec  int      `yaml:"retry_after_sec" json:"retry_after_sec"`
	CORSOrigins    []string `yaml:"cors_origins" json:"cors_origins"`
	TLS            TLS      `yaml:"tls" json:"tls"`
}

// Generation contains defaults applied to generation requests.
type Generation struct {
	DefaultShots int           `yaml:"default_shots" json:"default_shots"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// Hardware selects and configures the physical entropy backend.
type Hardware struct {
	Backend           string        `yaml:"backend" json:"backend"`
	GatewayURL        string        `yaml:"gateway_url" json:"gateway_url"`
	GatewayTimeout    time.Duration `yaml:"gateway_timeout" json:"gateway_timeout"`
	SerialDevice      string        `yaml:"serial_device" json:"serial_device"`
	SerialBaud        int           `yaml:"serial_baud" json:"serial_baud"`
	SerialReadTimeout time.Duration `yaml:"serial_read_timeout" json:"serial_read_timeout"`
}

// MQTT contains configuration for the broker feeding the TDC pool.
type MQTT struct {
	BrokerURL string   `yaml:"broker_url" json:"broker_url"` // e.g. "tcp://localhost:1883" or "ssl://mqtt.example.com:8883"
	ClientID  string   `yaml:"client_id" json:"client_id"`   // auto-generated if empty
	Topics    []string `yaml:"topics" json:"topics"`
	QoS       byte     `yaml:"qos" json:"qos"` // 0 or 1
	Username  string   `yaml:"username" json:"username"`
	Password  string   `yaml:"password" json:"-"`
	TLSCAFile string   `yaml:"tls_ca_file" json:"tls_ca_file"`
}

// EntropyPool bounds the whitened TDC pool.
type EntropyPool struct {
	PoolMinBytes int `yaml:"pool_min_bytes" json:"pool_min_bytes"`
	PoolMaxBytes int `yaml:"pool_max_bytes" json:"pool_max_bytes"`
}

// Collector contains batch collector configuration.
type Collector struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"` // 1840-184000 events
}

// Metrics contains Prometheus metrics server configuration.
type Metrics struct {
	Bind    string `yaml:"bind" json:"bind"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	TLS     TLS    `yaml:"tls" json:"tls"`
}

// Config holds the complete application configuration.
type Config struct {
	API         API         `yaml:"api" json:"api"`
	Generation  Generation  `yaml:"generation" json:"generation"`
	Hardware    Hardware    `yaml:"hardware" json:"hardware"`
	MQTT        MQTT        `yaml:"mqtt" json:"mqtt"`
	EntropyPool EntropyPool `yaml:"entropy_pool" json:"entropy_pool"`
	Collector   Collector   `yaml:"collector" json:"collector"`
	Metrics     Metrics     `yaml:"metrics" json:"metrics"`
	Environment string      `yaml:"environment" json:"environment"`
	LogLevel    string      `yaml:"log_level" json:"log_level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		API: API{
			Bind:           defaultAPIBind,
			RateLimitRPS:   defaultRateLimitRPS,
			RateLimitBurst: defaultRateLimitBurst,
			RetryAfterSec:  defaultRetryAfterSeconds,
			CORSOrigins:    []string{"http://localhost:3000"},
			TLS:            TLS{ClientAuth: "none"},
		},
		Generation: Generation{
			DefaultShots: defaultShots,
			Timeout:      defaultGenerationTimeout,
		},
		Hardware: Hardware{
			Backend:           BackendNone,
			GatewayURL:        "http://127.0.0.1:9797",
			GatewayTimeout:    defaultGatewayTimeout,
			SerialBaud:        defaultSerialBaud,
			SerialReadTimeout: defaultSerialReadTimeout,
		},
		MQTT: MQTT{
			BrokerURL: "tcp://127.0.0.1:1883",
			Topics:    []string{"timestamps/channel/#"},
		},
		EntropyPool: EntropyPool{
			PoolMinBytes: defaultPoolMinBytes,
			PoolMaxBytes: defaultPoolMaxBytes,
		},
		Collector: Collector{
			BatchSize: defaultBatchSize,
		},
		Metrics: Metrics{
			Bind:    defaultMetricsBind,
			Enabled: true,
			TLS:     TLS{ClientAuth: "none"},
		},
		Environment: EnvironmentDevelopment,
		LogLevel:    "info",
	}
}

// Load builds a validated Config from defaults, the optional CONFIG_FILE and
// environment variables, in that order of precedence.
func Load() (Config, error) {
	configuration := Default()

	if path := GetEnvDefault("CONFIG_FILE", ""); path != "" {
		if err := applyFile(&configuration, path); err != nil {
			return configuration, err
		}
	}

	appliers := []func(*Config) error{
		applyAPIEnvVars,
		applyGenerationEnvVars,
		applyHardwareEnvVars,
		applyMQTTEnvVars,
		applyEntropyPoolEnvVars,
		applyCollectorEnvVars,
		applyMetricsEnvVars,
		applyEnvironmentEnvVars,
	}
	for _, apply := range appliers {
		if err := apply(&configuration); err != nil {
			return configuration, err
		}
	}

	if err := validate(&configuration); err != nil {
		return configuration, err
	}

	return configuration, nil
}

// applyFile overlays YAML values from path onto configuration. Keys absent
// from the file keep their current value.
func applyFile(configuration *Config, path string) error {
	absPath, err := sanitizeAbsolutePath(path)
	if err != nil {
		return err
	}
	data, err := readFileWithinRoot(absPath)
	if err != nil {
		return fmt.Errorf("config: read CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(data, configuration); err != nil {
		return fmt.Errorf("config: parse CONFIG_FILE %s: %w", path, err)
	}
	return nil
}

// applyAPIEnvVars reads REST API server variables. TLS file paths fall back
// to the shared TLS_* variables.
func applyAPIEnvVars(configuration *Config) error {
	api := &configuration.API
	api.Bind = GetEnvDefault("API_BIND", api.Bind)
	api.AllowPublic = ParseBoolEnv("ALLOW_PUBLIC_HTTP", api.AllowPublic)
	api.RateLimitRPS = ParsePositiveEnvInt("API_RATE_LIMIT_RPS", api.RateLimitRPS)
	api.RateLimitBurst = ParsePositiveEnvInt("API_RATE_LIMIT_BURST", api.RateLimitBurst)
	api.RetryAfterSec = ParsePositiveEnvInt("API_RETRY_AFTER_SEC", api.RetryAfterSec)
	if origins := splitList(GetEnvDefault("API_CORS_ORIGINS", "")); len(origins) > 0 {
		api.CORSOrigins = origins
	}
	applyTLSEnvVars("API", &api.TLS)
	return nil
}

func applyGenerationEnvVars(configuration *Config) error {
	gen := &configuration.Generation
	gen.DefaultShots = ParsePositiveEnvInt("DEFAULT_SHOTS", gen.DefaultShots)
	gen.Timeout = ParseDurationEnv("GENERATION_TIMEOUT", gen.Timeout)
	return nil
}

// applyHardwareEnvVars reads HARDWARE_BACKEND and the per-backend settings.
// SERIAL_READ_TIMEOUT is given in milliseconds.
func applyHardwareEnvVars(configuration *Config) error {
	hw := &configuration.Hardware
	if v := GetEnvDefault("HARDWARE_BACKEND", ""); v != "" {
		hw.Backend = strings.ToLower(v)
	}
	hw.GatewayURL = GetEnvDefault("GATEWAY_URL", hw.GatewayURL)
	hw.GatewayTimeout = ParseDurationEnv("GATEWAY_TIMEOUT", hw.GatewayTimeout)
	hw.SerialDevice = GetEnvDefault("SERIAL_DEVICE_NAME", hw.SerialDevice)
	hw.SerialBaud = ParsePositiveEnvInt("SERIAL_BAUD_RATE", hw.SerialBaud)
	if ms := ParsePositiveEnvInt("SERIAL_READ_TIMEOUT", 0); ms > 0 {
		hw.SerialReadTimeout = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// applyMQTTEnvVars reads MQTT variables. MQTT_TOPICS is comma-separated and
// MQTT_QOS is clamped to 0 or 1. MQTT_PASSWORD_FILE wins over MQTT_PASSWORD.
func applyMQTTEnvVars(configuration *Config) error {
	mqtt := &configuration.MQTT
	mqtt.BrokerURL = GetEnvDefault("MQTT_BROKER_URL", mqtt.BrokerURL)
	mqtt.ClientID = GetEnvDefault("MQTT_CLIENT_ID", mqtt.ClientID)

	if topics := splitList(GetEnvDefault("MQTT_TOPICS", "")); len(topics) > 0 {
		mqtt.Topics = topics
	}

	if v := GetEnvDefault("MQTT_QOS", ""); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("config: MQTT_QOS must be a number (0 or 1)")
		}
		mqtt.QoS = byte(min(max(qos, 0), 1))
	}

	mqtt.Username = GetEnvDefault("MQTT_USERNAME", mqtt.Username)
	mqtt.Password = GetEnvDefault("MQTT_PASSWORD", mqtt.Password)

	if passwordFile := GetEnvDefault("MQTT_PASSWORD_FILE", ""); passwordFile != "" {
		passwordBytes, err := readSecretFile(passwordFile)
		if err != nil {
			return fmt.Errorf("config: failed to read MQTT_PASSWORD_FILE: %w", err)
		}
		mqtt.Password = strings.TrimSpace(string(passwordBytes))
	}

	mqtt.TLSCAFile = GetEnvDefault("MQTT_TLS_CA_FILE", mqtt.TLSCAFile)
	return nil
}

func applyEntropyPoolEnvVars(configuration *Config) error {
	pool := &configuration.EntropyPool
	pool.PoolMinBytes = ParsePositiveEnvInt("ENTROPY_POOL_MIN_BYTES", pool.PoolMinBytes)
	pool.PoolMaxBytes = ParsePositiveEnvInt("ENTROPY_POOL_MAX_BYTES", pool.PoolMaxBytes)

	if pool.PoolMaxBytes < pool.PoolMinBytes {
		zap.S().Warnf("config: ENTROPY_POOL_MAX_BYTES (%d) lower than min (%d), adjusting to min",
			pool.PoolMaxBytes, pool.PoolMinBytes)
		pool.PoolMaxBytes = pool.PoolMinBytes
	}
	return nil
}

// applyCollectorEnvVars reads COLLECTOR_BATCH_SIZE. Out-of-range values are
// clamped to [minBatchSize, maxBatchSize] with a warning.
func applyCollectorEnvVars(configuration *Config) error {
	v := GetEnvDefault("COLLECTOR_BATCH_SIZE", "")
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		zap.S().Warnf("config: COLLECTOR_BATCH_SIZE invalid (%q), using default %d", v, defaultBatchSize)
		configuration.Collector.BatchSize = defaultBatchSize
		return nil
	}

	switch {
	case parsed < minBatchSize:
		zap.S().Warnf("config: COLLECTOR_BATCH_SIZE (%d) below minimum (%d), clamping to min", parsed, minBatchSize)
		configuration.Collector.BatchSize = minBatchSize
	case parsed > maxBatchSize:
		zap.S().Warnf("config: COLLECTOR_BATCH_SIZE (%d) above maximum (%d), clamping to max", parsed, maxBatchSize)
		configuration.Collector.BatchSize = maxBatchSize
	default:
		configuration.Collector.BatchSize = parsed
	}
	return nil
}

func applyMetricsEnvVars(configuration *Config) error {
	configuration.Metrics.Bind = GetEnvDefault("METRICS_BIND", configuration.Metrics.Bind)
	configuration.Metrics.Enabled = ParseBoolEnv("METRICS_ENABLED", configuration.Metrics.Enabled)
	applyTLSEnvVars("METRICS", &configuration.Metrics.TLS)
	return nil
}

// applyTLSEnvVars reads {prefix}_TLS_* with the shared TLS_* file variables
// as fallback.
func applyTLSEnvVars(prefix string, t *TLS) {
	t.Enabled = ParseBoolEnv(prefix+"_TLS_ENABLED", t.Enabled)
	t.CertFile = GetEnvDefault(prefix+"_TLS_CERT_FILE", GetEnvDefault("TLS_CERT_FILE", t.CertFile))
	t.KeyFile = GetEnvDefault(prefix+"_TLS_KEY_FILE", GetEnvDefault("TLS_KEY_FILE", t.KeyFile))
	t.CAFile = GetEnvDefault(prefix+"_TLS_CA_FILE", GetEnvDefault("TLS_CA_FILE", t.CAFile))
	t.ClientAuth = strings.ToLower(GetEnvDefault(prefix+"_TLS_CLIENT_AUTH", t.ClientAuth))
	if t.ClientAuth == "" {
		t.ClientAuth = "none"
	}
}

// applyEnvironmentEnvVars normalizes ENVIRONMENT into "dev" or "prod" and
// reads LOG_LEVEL.
func applyEnvironmentEnvVars(configuration *Config) error {
	if v := GetEnvDefault("ENVIRONMENT", ""); v != "" {
		switch strings.ToLower(v) {
		case "dev", "development":
			configuration.Environment = EnvironmentDevelopment
		case "prod", "production":
			configuration.Environment = EnvironmentProduction
		default:
			return errors.New("config: ENVIRONMENT must be 'dev' or 'prod'")
		}
	}
	configuration.LogLevel = strings.ToLower(GetEnvDefault("LOG_LEVEL", configuration.LogLevel))
	return nil
}

// validate checks that required configuration fields are present and valid.
func validate(configuration *Config) error {
	if configuration.Environment != EnvironmentDevelopment && configuration.Environment != EnvironmentProduction {
		return errors.New("config: environment must be 'dev' or 'prod'")
	}

	if configuration.Generation.DefaultShots < 1 || configuration.Generation.DefaultShots > maxShots {
		return fmt.Errorf("config: DEFAULT_SHOTS must be between 1 and %d, got %d", maxShots, configuration.Generation.DefaultShots)
	}

	if err := validateHardware(&configuration.Hardware); err != nil {
		return err
	}

	if configuration.Hardware.Backend == BackendTDC {
		if configuration.MQTT.BrokerURL == "" {
			return errors.New("config: MQTT_BROKER_URL is required when HARDWARE_BACKEND=tdc")
		}
		if len(configuration.MQTT.Topics) == 0 {
			return errors.New("config: MQTT_TOPICS is required when HARDWARE_BACKEND=tdc")
		}
	}

	if err := validateTLS("API", configuration.API.TLS); err != nil {
		return err
	}
	if configuration.Metrics.Enabled {
		if err := validateTLS("METRICS", configuration.Metrics.TLS); err != nil {
			return err
		}
	}

	if configuration.API.AllowPublic && !configuration.API.TLS.Enabled {
		if configuration.IsProduction() {
			return errors.New("config: SECURITY: TLS is required when ALLOW_PUBLIC_HTTP=true in production mode")
		}
		zap.S().Warn("config: running a public API without TLS in development mode is insecure")
	}

	return nil
}

func validateHardware(hw *Hardware) error {
	switch hw.Backend {
	case BackendNone:
	case BackendGateway:
		if hw.GatewayURL == "" {
			return errors.New("config: GATEWAY_URL is required when HARDWARE_BACKEND=gateway")
		}
	case BackendTDC:
	case BackendSerial:
		if hw.SerialDevice == "" {
			return errors.New("config: SERIAL_DEVICE_NAME is required when HARDWARE_BACKEND=serial")
		}
	default:
		return fmt.Errorf("config: HARDWARE_BACKEND must be 'none', 'gateway', 'tdc' or 'serial', got %q", hw.Backend)
	}
	return nil
}

func validateTLS(prefix string, t TLS) error {
	if !t.Enabled {
		return nil
	}
	if t.CertFile == "" {
		return fmt.Errorf("config: %s_TLS_CERT_FILE is required when %s_TLS_ENABLED=true", prefix, prefix)
	}
	if t.KeyFile == "" {
		return fmt.Errorf("config: %s_TLS_KEY_FILE is required when %s_TLS_ENABLED=true", prefix, prefix)
	}
	switch t.ClientAuth {
	case "none", "request", "require":
	default:
		return fmt.Errorf("config: %s_TLS_CLIENT_AUTH must be 'none', 'request', or 'require', got %q", prefix, t.ClientAuth)
	}
	if t.ClientAuth == "require" && t.CAFile == "" {
		return fmt.Errorf("config: %s_TLS_CA_FILE is required when %s_TLS_CLIENT_AUTH=require", prefix, prefix)
	}
	return nil
}

// IsProduction returns true if the application is running in production mode.
func (cfg *Config) IsProduction() bool {
	return cfg.Environment == EnvironmentProduction
}

// IsDevelopment returns true if the application is running in development mode.
func (cfg *Config) IsDevelopment() bool {
	return cfg.Environment == EnvironmentDevelopment
}

// UsesMQTT reports whether the TDC ingest path must be started.
func (cfg *Config) UsesMQTT() bool {
	return cfg.Hardware.Backend == BackendTDC
}

// String returns a human-readable representation of the configuration.
func (cfg *Config) String() string {
	return "Config{" +
		"Environment=" + cfg.Environment +
		", API.Bind=" + cfg.API.Bind +
		", Hardware.Backend=" + cfg.Hardware.Backend +
		"}"
}

func readSecretFile(path string) ([]byte, error) {
	absPath, err := sanitizeAbsolutePath(path)
	if err != nil {
		return nil, err
	}
	return readFileWithinRoot(absPath)
}

func sanitizeAbsolutePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("config: empty file path")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("config: resolve path %q: %w", path, err)
	}
	return abs, nil
}

func readFileWithinRoot(absPath string) ([]byte, error) {
	f, err := os.OpenInRoot(filepath.Dir(absPath), filepath.Base(absPath))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			zap.S().Warnf("config: error closing file: %v", err)
		}
	}()
	return io.ReadAll(f)
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// cleanEnvValue removes inline comments and trims whitespace, as written by
// systemd EnvironmentFile entries like "127.0.0.1:8080 # bind address".
func cleanEnvValue(value string) string {
	cleaned := strings.TrimSpace(value)
	if idx := strings.Index(cleaned, "#"); idx >= 0 {
		cleaned = strings.TrimSpace(cleaned[:idx])
	}
	return cleaned
}

// GetEnvDefault retrieves an environment variable or returns a fallback value.
// Empty or whitespace-only values are treated as unset.
func GetEnvDefault(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		if cleaned := cleanEnvValue(value); cleaned != "" {
			return cleaned
		}
	}
	return fallback
}

// ParsePositiveEnvInt reads an integer environment variable. It returns the
// fallback if the variable is unset, invalid, or non-positive.
func ParsePositiveEnvInt(key string, fallback int) int {
	cleaned := GetEnvDefault(key, "")
	if cleaned == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(cleaned)
	if err != nil {
		zap.S().Warnf("config: %s invalid (%q), using fallback %d", key, cleaned, fallback)
		return fallback
	}
	if parsed <= 0 {
		zap.S().Warnf("config: %s non-positive (%d), using fallback %d", key, parsed, fallback)
		return fallback
	}
	return parsed
}

// ParseDurationEnv reads a duration environment variable such as "500ms" or
// "30s". Values without a unit, unparsable or negative values return the
// fallback.
func ParseDurationEnv(key string, fallback time.Duration) time.Duration {
	cleaned := GetEnvDefault(key, "")
	if cleaned == "" {
		return fallback
	}
	if strings.IndexFunc(cleaned, func(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }) < 0 {
		zap.S().Warnf("config: %s missing duration unit (%q), using fallback %s", key, cleaned, fallback)
		return fallback
	}
	parsed, err := time.ParseDuration(cleaned)
	if err != nil {
		zap.S().Warnf("config: %s invalid (%q), using fallback %s", key, cleaned, fallback)
		return fallback
	}
	if parsed < 0 {
		zap.S().Warnf("config: %s negative (%s), using fallback %s", key, parsed, fallback)
		return fallback
	}
	return parsed
}

// ParseBoolEnv interprets typical boolean environment values (true/false,
// 1/0, yes/no, on/off).
func ParseBoolEnv(key string, fallback bool) bool {
	cleaned := GetEnvDefault(key, "")
	if cleaned == "" {
		return fallback
	}
	switch strings.ToLower(cleaned) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		zap.S().Warnf("config: %s has unrecognised boolean value %q, using fallback %v", key, cleaned, fallback)
		return fallback
	}
}
