// Package config loads armory settings from an HCL file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/joho/godotenv"

	"github.com/agentic-research/armory/internal/domain"
)

// Environment overrides.
const (
	EnvDBDriver = "ARMORY_DB_DRIVER"
	EnvDBDSN    = "ARMORY_DB_DSN"
	EnvLogLevel = "ARMORY_LOG_LEVEL"
)

type Config struct {
	LocaleCodes []string `hcl:"locales,optional" validate:"omitempty,dive,required"`
	Catalog     string   `hcl:"catalog,optional"`
	LockFile    string   `hcl:"lock_file,optional" validate:"required"`

	Database *Database `hcl:"database,block" validate:"required"`
	Harvest  *Harvest  `hcl:"harvest,block" validate:"required"`
	Log      *Log      `hcl:"log,block" validate:"required"`
	Metrics  *Metrics  `hcl:"metrics,block" validate:"required"`
	Server   *Server   `hcl:"server,block" validate:"required"`

	locales []domain.Locale
}

type Database struct {
	Driver    string `hcl:"driver,optional" validate:"oneof=sqlite pgx"`
	DSN       string `hcl:"dsn,optional" validate:"required"`
	BatchSize int    `hcl:"batch_size,optional" validate:"gte=0,lte=5000"`
}

type Harvest struct {
	// BaseURL points at a JSON mirror of the content site; Dir at a local copy.
	BaseURL    string `hcl:"base_url,optional" validate:"omitempty,url"`
	Dir        string `hcl:"dir,optional"`
	Workers    int    `hcl:"workers,optional" validate:"gte=1,lte=64"`
	MaxRetries int    `hcl:"max_retries,optional" validate:"gte=0,lte=20"`
	Timeout    string `hcl:"timeout,optional"`
}

type Log struct {
	Level  string `hcl:"level,optional" validate:"oneof=debug info warn error"`
	Format string `hcl:"format,optional" validate:"oneof=text json"`
}

type Metrics struct {
	// Textfile receives the registry after every batch command.
	Textfile string `hcl:"textfile,optional"`
}

type Server struct {
	Addr      string `hcl:"addr,optional" validate:"required"`
	CacheSize int    `hcl:"cache_size,optional" validate:"gte=1"`
}

// Load reads path (optional), then .env, then the environment.
func Load(path string) (*Config, error) {
	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	return finish(cfg)
}

// Parse decodes HCL source; filename is used in diagnostics and must end
// in .hcl.
func Parse(filename string, src []byte) (*Config, error) {
	cfg := &Config{}
	if err := hclsimple.Decode(filename, src, nil, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg)
}

// Default is the configuration used without a file.
func Default() *Config {
	cfg, err := finish(&Config{})
	if err != nil {
		panic(err)
	}
	return cfg
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LockFile == "" {
		c.LockFile = "armory.lock"
	}
	if c.Database == nil {
		c.Database = &Database{}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "armory.db"
	}
	if c.Harvest == nil {
		c.Harvest = &Harvest{}
	}
	if c.Harvest.Workers == 0 {
		c.Harvest.Workers = 8
	}
	if c.Harvest.MaxRetries == 0 {
		c.Harvest.MaxRetries = 5
	}
	if c.Harvest.Timeout == "" {
		c.Harvest.Timeout = "30s"
	}
	if c.Log == nil {
		c.Log = &Log{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}
	if c.Server == nil {
		c.Server = &Server{}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.CacheSize == 0 {
		c.Server.CacheSize = 1024
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvDBDriver); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := os.LookupEnv(EnvDBDSN); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and canonicalizes the locale list.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", verrs)
		}
		return err
	}
	if _, err := time.ParseDuration(c.Harvest.Timeout); err != nil {
		return fmt.Errorf("invalid config: harvest.timeout: %w", err)
	}

	codes := c.LocaleCodes
	if len(codes) == 0 {
		c.locales = append([]domain.Locale(nil), domain.DefaultLocales...)
		return nil
	}
	seen := make(map[domain.Locale]bool, len(codes))
	c.locales = c.locales[:0]
	for _, code := range codes {
		loc, err := domain.ParseLocale(code)
		if err != nil {
			return fmt.Errorf("invalid config: locales: %w", err)
		}
		if seen[loc] {
			return fmt.Errorf("invalid config: locale %q listed twice", loc)
		}
		seen[loc] = true
		c.locales = append(c.locales, loc)
	}
	return nil
}

// Locales returns the canonical locale list, reference locale first.
func (c *Config) Locales() []domain.Locale {
	return append([]domain.Locale(nil), c.locales...)
}

// HarvestTimeout is the per-request timeout for fetches.
func (c *Config) HarvestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Harvest.Timeout)
	return d
}
