package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendGoogle = "google"
	BackendCalDAV = "caldav"
)

// OCRConfig configures the recognition engine.
type OCRConfig struct {
	// TesseractPath is the tesseract binary, looked up in PATH when bare.
	TesseractPath string `yaml:"tesseract_path"`
	// Language is the tesseract language pack (e.g. "eng", "eng+deu").
	Language string `yaml:"language"`
}

// ExtractionConfig configures the language-model completion service.
type ExtractionConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// GoogleConfig configures the Google Calendar backend and its OAuth session.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CalendarID   string `yaml:"calendar_id"`
	// Account selects token-<account>.json in TokenDir.
	Account  string `yaml:"account"`
	TokenDir string `yaml:"token_dir"`
}

// CalDAVConfig configures the CalDAV backend.
type CalDAVConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CalendarName string `yaml:"calendar_name"`
}

// CalendarConfig selects and configures the submission backend.
type CalendarConfig struct {
	// Backend is "google" (default) or "caldav".
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
	Google  GoogleConfig  `yaml:"google"`
	CalDAV  CalDAVConfig  `yaml:"caldav"`
}

// Config is the top-level application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Timezone is the IANA zone events are created in. Empty means the
	// process-local zone.
	Timezone string `yaml:"timezone"`

	OCR        OCRConfig        `yaml:"ocr"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Calendar   CalendarConfig   `yaml:"calendar"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with defaults.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OCR.TesseractPath == "" {
		c.OCR.TesseractPath = "tesseract"
	}
	if c.OCR.Language == "" {
		c.OCR.Language = "eng"
	}
	if c.Extraction.Endpoint == "" {
		c.Extraction.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if c.Extraction.Model == "" {
		c.Extraction.Model = "gpt-3.5-turbo"
	}
	if c.Extraction.Temperature == 0 {
		c.Extraction.Temperature = 0.3
	}
	if c.Extraction.Timeout <= 0 {
		c.Extraction.Timeout = 60 * time.Second
	}
	c.Calendar.Backend = strings.ToLower(strings.TrimSpace(c.Calendar.Backend))
	if c.Calendar.Backend == "" {
		c.Calendar.Backend = BackendGoogle
	}
	if c.Calendar.Timeout <= 0 {
		c.Calendar.Timeout = 30 * time.Second
	}
	if c.Calendar.Google.CalendarID == "" {
		c.Calendar.Google.CalendarID = "primary"
	}
	if c.Calendar.Google.TokenDir == "" {
		c.Calendar.Google.TokenDir = "."
	}
	if c.Calendar.CalDAV.Endpoint == "" {
		c.Calendar.CalDAV.Endpoint = "https://caldav.icloud.com/"
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Calendar.Backend {
	case BackendGoogle, BackendCalDAV:
	default:
		return fmt.Errorf("unknown calendar backend %q (want %q or %q)", c.Calendar.Backend, BackendGoogle, BackendCalDAV)
	}
	if c.Extraction.Temperature < 0 || c.Extraction.Temperature > 2 {
		return fmt.Errorf("extraction temperature must be between 0 and 2, got %v", c.Extraction.Temperature)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads the YAML file at path (skipped when path is empty), then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// applyEnv overrides fields from environment variables that are set.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("PRIMARY_TIMEZONE", &c.Timezone)

	str("TESSERACT_PATH", &c.OCR.TesseractPath)
	str("OCR_LANGUAGE", &c.OCR.Language)

	str("LLM_ENDPOINT", &c.Extraction.Endpoint)
	str("OPENAI_API_KEY", &c.Extraction.APIKey)
	str("LLM_MODEL", &c.Extraction.Model)
	if v, ok := lookup("LLM_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LLM_TEMPERATURE: %w", err))
		} else {
			c.Extraction.Temperature = f
		}
	}
	dur("EXTRACTION_TIMEOUT", &c.Extraction.Timeout)

	str("CALENDAR_BACKEND", &c.Calendar.Backend)
	dur("SUBMISSION_TIMEOUT", &c.Calendar.Timeout)
	str("GOOGLE_CLIENT_ID", &c.Calendar.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Calendar.Google.ClientSecret)
	str("GOOGLE_CALENDAR_ID", &c.Calendar.Google.CalendarID)
	str("GOOGLE_ACCOUNT", &c.Calendar.Google.Account)
	str("GOOGLE_TOKEN_DIR", &c.Calendar.Google.TokenDir)
	str("CALDAV_ENDPOINT", &c.Calendar.CalDAV.Endpoint)
	str("ICLOUD_USERNAME", &c.Calendar.CalDAV.Username)
	str("ICLOUD_APP_SPECIFIC_PASSWORD", &c.Calendar.CalDAV.Password)
	str("ICLOUD_CALENDAR_NAME", &c.Calendar.CalDAV.CalendarName)

	return errors.Join(errs...)
}
