package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Engine holds the report lifecycle and ledger knobs.
type Engine struct {
	VerifyThreshold       int     `yaml:"verify_threshold"`
	MaxSuspiciousFraction float64 `yaml:"max_suspicious_fraction"`
	MaxDescriptionLen     int     `yaml:"max_description_len"`
	MilestoneEvery        int     `yaml:"milestone_every"`
	LevelPoints           int     `yaml:"level_points"`
}

type Config struct {
	MySQLDSN        string   `yaml:"mysql_dsn"`
	RedisURL        string   `yaml:"redis_url"`
	JWTSecret       string   `yaml:"jwt_secret"`
	Port            string   `yaml:"port"`
	StoreDriver     string   `yaml:"store_driver"`
	ForecastURL     string   `yaml:"forecast_url"`
	CORSOrigins     []string `yaml:"cors_origins"`
	ReportRateLimit int      `yaml:"report_rate_limit"`
	EnableSSL       bool     `yaml:"enable_ssl"`
	SSLCert         string   `yaml:"ssl_cert"`
	SSLKey          string   `yaml:"ssl_key"`
	Engine          Engine   `yaml:"engine"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:            "8000",
		StoreDriver:     DriverMySQL,
		CORSOrigins:     []string{"http://localhost:3000"},
		ReportRateLimit: 20,
		Engine: Engine{
			VerifyThreshold:       10,
			MaxSuspiciousFraction: 0.25,
			MaxDescriptionLen:     1000,
			MilestoneEvery:        5,
			LevelPoints:           500,
		},
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

type envReader struct{ errs []error }

func (r *envReader) str(key string, dst *string) {
	*dst = getenv(key, *dst)
}

func (r *envReader) int(key string, dst *int) {
	v := getenv(key, "")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) float(key string, dst *float64) {
	v := getenv(key, "")
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (r *envReader) bool(key string, dst *bool) {
	v := getenv(key, "")
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (r *envReader) list(key string, dst *[]string) {
	v := getenv(key, "")
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

// Load builds the configuration from defaults, then the YAML file at path
// (if any; AIRSENSE_CONFIG names it when path is empty), then the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("AIRSENSE_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	r := &envReader{}
	r.str("MYSQL_DSN", &cfg.MySQLDSN)
	r.str("REDIS_URL", &cfg.RedisURL)
	r.str("JWT_SECRET", &cfg.JWTSecret)
	r.str("PORT", &cfg.Port)
	r.str("STORE_DRIVER", &cfg.StoreDriver)
	r.str("FORECAST_URL", &cfg.ForecastURL)
	r.list("CORS_ORIGINS", &cfg.CORSOrigins)
	r.int("REPORT_RATE_LIMIT", &cfg.ReportRateLimit)
	r.bool("ENABLE_SSL", &cfg.EnableSSL)
	r.str("SSL_CERT", &cfg.SSLCert)
	r.str("SSL_KEY", &cfg.SSLKey)
	r.int("VERIFY_THRESHOLD", &cfg.Engine.VerifyThreshold)
	r.float("MAX_SUSPICIOUS_FRACTION", &cfg.Engine.MaxSuspiciousFraction)
	r.int("MAX_DESCRIPTION_LEN", &cfg.Engine.MaxDescriptionLen)
	r.int("MILESTONE_EVERY", &cfg.Engine.MilestoneEvery)
	r.int("LEVEL_POINTS", &cfg.Engine.LevelPoints)
	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	return cfg, cfg.Validate()
}

// Validate reports every setting that cannot be used.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverMySQL:
		if c.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required for the mysql store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.EnableSSL && (c.SSLCert == "" || c.SSLKey == "") {
		errs = append(errs, errors.New("ENABLE_SSL needs SSL_CERT and SSL_KEY"))
	}
	if c.ReportRateLimit < 0 {
		errs = append(errs, errors.New("REPORT_RATE_LIMIT must not be negative"))
	}
	e := c.Engine
	if e.VerifyThreshold < 1 {
		errs = append(errs, errors.New("VERIFY_THRESHOLD must be at least 1"))
	}
	if e.MaxSuspiciousFraction < 0 || e.MaxSuspiciousFraction > 1 {
		errs = append(errs, errors.New("MAX_SUSPICIOUS_FRACTION must be within [0, 1]"))
	}
	if e.MaxDescriptionLen < 1 {
		errs = append(errs, errors.New("MAX_DESCRIPTION_LEN must be at least 1"))
	}
	if e.MilestoneEvery < 0 {
		errs = append(errs, errors.New("MILESTONE_EVERY must not be negative"))
	}
	if e.LevelPoints < 1 {
		errs = append(errs, errors.New("LEVEL_POINTS must be at least 1"))
	}
	return errors.Join(errs...)
}
