// Package config loads the service configuration from
// ~/.diplomasecure/config.yaml (or an explicit path) and applies
// DIPLOMASECURE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Policy      PolicyConfig      `yaml:"policy"`
	Attestation AttestationConfig `yaml:"attestation"`
	Signing     SigningConfig     `yaml:"signing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	// PublicRate is the sustained public verification rate per client, per second.
	PublicRate float64 `yaml:"public_rate"`
	// PublicBurst is the public verification burst per client.
	PublicBurst int `yaml:"public_burst"`
	// LimiterCacheSize bounds how many clients are tracked by the rate limiter.
	LimiterCacheSize int           `yaml:"limiter_cache_size"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path             string `yaml:"path"`
	MaxOpenReadConns int    `yaml:"max_open_read_conns"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level         string `yaml:"level"`
	JSON          bool   `yaml:"json"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// PolicyConfig points at the tenant policy file. Without a file, the
// defaults apply to every tenant.
type PolicyConfig struct {
	File                      string   `yaml:"file"`
	DefaultRequiredSignatures int      `yaml:"default_required_signatures"`
	DefaultSignerRoles        []string `yaml:"default_signer_roles"`
}

// AttestationConfig selects where the attestation master key is kept.
type AttestationConfig struct {
	Backend   string `yaml:"backend"`
	KeyFile   string `yaml:"key_file"`
	AWSSecret string `yaml:"aws_secret_id"`
	AWSRegion string `yaml:"aws_region"`
}

// SigningConfig tunes bulk signing.
type SigningConfig struct {
	BulkConcurrency int `yaml:"bulk_concurrency"`
}

// Dir returns ~/.diplomasecure.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".diplomasecure")
	}
	return filepath.Join(home, ".diplomasecure")
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	dir := Dir()
	return &Config{
		Server: ServerConfig{
			Addr:             "127.0.0.1:8080",
			CORSOrigins:      []string{"*"},
			PublicRate:       5,
			PublicBurst:      20,
			LimiterCacheSize: 10000,
			ShutdownTimeout:  10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dir, "diplomasecure.db"),
		},
		Log: LogConfig{
			Level:         "info",
			Dir:           filepath.Join(dir, "logs"),
			RetentionDays: 14,
		},
		Attestation: AttestationConfig{
			Backend: "keychain",
			KeyFile: filepath.Join(dir, "attestation.key"),
		},
		Signing: SigningConfig{
			BulkConcurrency: 4,
		},
	}
}

// Load reads path, or ~/.diplomasecure/config.yaml when path is empty, over
// the defaults and then applies environment overrides. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(Dir(), "config.yaml")
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.PublicRate <= 0 || c.Server.PublicBurst <= 0 {
		errs = append(errs, errors.New("server.public_rate and server.public_burst must be positive"))
	}
	if c.Server.LimiterCacheSize <= 0 {
		errs = append(errs, errors.New("server.limiter_cache_size must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Policy.DefaultRequiredSignatures < 0 {
		errs = append(errs, errors.New("policy.default_required_signatures must not be negative"))
	}
	if c.Signing.BulkConcurrency < 1 {
		errs = append(errs, errors.New("signing.bulk_concurrency must be at least 1"))
	}
	switch c.Attestation.Backend {
	case "keychain", "file":
	case "aws":
		if c.Attestation.AWSSecret == "" {
			errs = append(errs, errors.New("attestation.aws_secret_id is required for the aws backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("attestation.backend %q must be keychain, file or aws", c.Attestation.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// envPrefix prefixes every override variable.
const envPrefix = "DIPLOMASECURE_"

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"ADDR":                &cfg.Server.Addr,
		"DB_PATH":             &cfg.Database.Path,
		"LOG_LEVEL":           &cfg.Log.Level,
		"LOG_DIR":             &cfg.Log.Dir,
		"POLICY_FILE":         &cfg.Policy.File,
		"ATTESTATION_BACKEND": &cfg.Attestation.Backend,
		"ATTESTATION_KEY":     &cfg.Attestation.KeyFile,
		"AWS_SECRET_ID":       &cfg.Attestation.AWSSecret,
		"AWS_REGION":          &cfg.Attestation.AWSRegion,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PUBLIC_BURST":        &cfg.Server.PublicBurst,
		"BULK_CONCURRENCY":    &cfg.Signing.BulkConcurrency,
		"REQUIRED_SIGNATURES": &cfg.Policy.DefaultRequiredSignatures,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv(envPrefix + "PUBLIC_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sPUBLIC_RATE: %w", envPrefix, err)
		}
		cfg.Server.PublicRate = f
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_JSON: %w", envPrefix, err)
		}
		cfg.Log.JSON = b
	}
	if v, ok := os.LookupEnv(envPrefix + "CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
