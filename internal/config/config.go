package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/serverbind/internal/binding"
	"github.com/eugenenazirov/serverbind/internal/configtree"
)

const (
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50

	// EnvPrefix marks environment variables overlaid onto the server
	// endpoint tree, e.g. SERVERBIND_Endpoints__Public__Url.
	EnvPrefix = "SERVERBIND_"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Sources are applied in order: defaults, YAML file, environment variables,
// CLI flags. Each later source wins.
type Config struct {
	ContentRoot          string
	StoreRoot            string
	LogLevel             string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int

	// LocalhostPorts and UnixSockets are endpoints registered in code on
	// top of the declarative Server tree.
	LocalhostPorts []int
	UnixSockets    []string

	EndpointDefaults EndpointDefaults
	HTTPSDefaults    HTTPSDefaults

	// Server is the endpoint tree holding the Endpoints and Certificates sections.
	Server *configtree.Section
}

// EndpointDefaults are applied to every endpoint before its own settings.
type EndpointDefaults struct {
	NoDelay bool
}

// HTTPSDefaults are applied to every new set of HTTPS options.
type HTTPSDefaults struct {
	ClientCertificateMode binding.ClientCertificateMode
	MinVersion            uint16
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	ContentRoot          string               `yaml:"content_root"`
	StoreRoot            string               `yaml:"store_root"`
	LogLevel             string               `yaml:"log_level"`
	ShutdownGracePeriod  string               `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string               `yaml:"read_header_timeout"`
	WriteTimeout         string               `yaml:"write_timeout"`
	IdleTimeout          string               `yaml:"idle_timeout"`
	EnableRequestLogging *bool                `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit        `yaml:"rate_limit"`
	EndpointDefaults     yamlEndpointDefaults `yaml:"endpoint_defaults"`
	HTTPSDefaults        yamlHTTPSDefaults    `yaml:"https_defaults"`
	Server               yaml.Node            `yaml:"server"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

type yamlEndpointDefaults struct {
	NoDelay *bool `yaml:"no_delay"`
}

type yamlHTTPSDefaults struct {
	ClientCertificateMode string `yaml:"client_certificate_mode"`
	MinTLSVersion         string `yaml:"min_tls_version"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	ContentRoot    *string
	StoreRoot      *string
	LogLevel       *string
	LocalhostPorts []int
	UnixSockets    []string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load resolves configuration from defaults, the YAML file named in
// overrides, the environment and finally the CLI overrides.
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Load from YAML file if specified
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config %s: %w", overrides.ConfigFile, err)
		}
	}

	// Apply environment variables (override YAML)
	if err := applyEnvConfig(&cfg, os.Environ()); err != nil {
		return Config{}, err
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		ContentRoot:          ".",
		LogLevel:             defaultLogLevel,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		EndpointDefaults:     EndpointDefaults{NoDelay: true},
		HTTPSDefaults:        HTTPSDefaults{MinVersion: tls.VersionTLS12},
		Server:               configtree.Empty(),
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.ContentRoot != "" {
		cfg.ContentRoot = yamlCfg.ContentRoot
	}
	if yamlCfg.StoreRoot != "" {
		cfg.StoreRoot = yamlCfg.StoreRoot
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return fmt.Errorf("%s: must not be negative, got %s", d.key, d.raw)
		}
		*d.dst = v
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.RateLimit.RPS != nil && *yamlCfg.RateLimit.RPS >= 0 {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil && *yamlCfg.RateLimit.Burst >= 0 {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	if yamlCfg.EndpointDefaults.NoDelay != nil {
		cfg.EndpointDefaults.NoDelay = *yamlCfg.EndpointDefaults.NoDelay
	}
	if raw := yamlCfg.HTTPSDefaults.ClientCertificateMode; raw != "" {
		mode, err := binding.ParseClientCertificateMode(raw)
		if err != nil {
			return fmt.Errorf("https_defaults: %w", err)
		}
		cfg.HTTPSDefaults.ClientCertificateMode = mode
	}
	if raw := yamlCfg.HTTPSDefaults.MinTLSVersion; raw != "" {
		version, err := parseTLSVersion(raw)
		if err != nil {
			return fmt.Errorf("https_defaults: %w", err)
		}
		cfg.HTTPSDefaults.MinVersion = version
	}

	server, err := configtree.FromNode(&yamlCfg.Server)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	cfg.Server = server
	return nil
}

// envLookup returns a getter over environ ("NAME=value" entries). A later
// entry for the same name wins.
func envLookup(environ []string) func(string) string {
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		if name, value, ok := strings.Cut(entry, "="); ok {
			values[name] = value
		}
	}
	return func(name string) string {
		return values[name]
	}
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config, environ []string) error {
	getenv := envLookup(environ)

	if root := strings.TrimSpace(getenv("CONTENT_ROOT")); root != "" {
		cfg.ContentRoot = root
	}

	if root := strings.TrimSpace(getenv("STORE_ROOT")); root != "" {
		cfg.StoreRoot = root
	}

	if level := strings.TrimSpace(getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if rawPorts := strings.TrimSpace(getenv("LOCALHOST_PORTS")); rawPorts != "" {
		ports, err := parsePorts(rawPorts)
		if err != nil {
			return fmt.Errorf("LOCALHOST_PORTS: %w", err)
		}
		cfg.LocalhostPorts = ports
	}

	if rps := strings.TrimSpace(getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	cfg.Server.ApplyEnv(EnvPrefix, environ)
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.ContentRoot != nil && *overrides.ContentRoot != "" {
		cfg.ContentRoot = *overrides.ContentRoot
	}

	if overrides.StoreRoot != nil && *overrides.StoreRoot != "" {
		cfg.StoreRoot = *overrides.StoreRoot
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if len(overrides.LocalhostPorts) > 0 {
		cfg.LocalhostPorts = append([]int(nil), overrides.LocalhostPorts...)
	}

	if len(overrides.UnixSockets) > 0 {
		cfg.UnixSockets = append([]string(nil), overrides.UnixSockets...)
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	for _, port := range cfg.LocalhostPorts {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("localhost port %d out of range [1, 65535]", port)
		}
	}
	for _, path := range cfg.UnixSockets {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("unix socket path %q must be absolute", path)
		}
	}
	return nil
}

// parsePorts parses a comma-separated string of TCP ports.
func parsePorts(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		if value <= 0 || value > 65535 {
			return nil, fmt.Errorf("port must be in [1, 65535], got %d", value)
		}
		ports = append(ports, value)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports provided")
	}
	return ports, nil
}

func parseTLSVersion(raw string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "tls") {
	case "1.0", "10":
		return tls.VersionTLS10, nil
	case "1.1", "11":
		return tls.VersionTLS11, nil
	case "1.2", "12":
		return tls.VersionTLS12, nil
	case "1.3", "13":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", raw)
	}
}
