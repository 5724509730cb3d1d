package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type S3 struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

type Config struct {
	App struct {
		Bind     string `yaml:"bind" json:"bind"`
		Port     int    `yaml:"port" json:"port"`
		DataDir  string `yaml:"data_dir" json:"data_dir"`
		LogLevel string `yaml:"log_level" json:"log_level"`
		Dev      bool   `yaml:"dev" json:"dev"`
		// RatePerSecond limits API requests per client address; 0 disables.
		RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	} `yaml:"app" json:"app"`

	Import struct {
		NaturalKey        string                       `yaml:"natural_key" json:"natural_key"`
		ProductVocabulary map[string]string            `yaml:"product_vocabulary" json:"product_vocabulary"`
		Presets           map[string]map[string]string `yaml:"presets" json:"presets"`
	} `yaml:"import" json:"import"`

	Backup struct {
		Dir             string `yaml:"dir" json:"dir"`
		Keep            int    `yaml:"keep" json:"keep"`
		IntervalMinutes int    `yaml:"interval_minutes" json:"interval_minutes"`
		S3              S3     `yaml:"s3" json:"s3"`
	} `yaml:"backup" json:"backup"`

	Autosave struct {
		OnMutation      bool `yaml:"on_mutation" json:"on_mutation"`
		IntervalSeconds int  `yaml:"interval_seconds" json:"interval_seconds"`
	} `yaml:"autosave" json:"autosave"`
}

// Environment overrides, applied after the file is read.
const (
	EnvDataDir = "LEADTRACK_DATA_DIR"
	EnvConfig  = "LEADTRACK_CONFIG"
	EnvPort    = "LEADTRACK_PORT"
)

func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// Load reads path over the defaults, so a partial file keeps default values
// for everything it leaves out.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, ApplyEnv(&cfg)
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.App.DataDir = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.App.Port = p
	}
	return nil
}
