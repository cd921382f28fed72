package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"melon-ticket/internal/browser"
	"melon-ticket/internal/captcha"
)

// DefaultPath is where the form keeps its settings.
const DefaultPath = "ticket_config.json"

// ScheduleLayout is the format of StartAt, in local time.
const ScheduleLayout = "2006-01-02 15:04"

const (
	minBound = 1
	maxBound = 10
)

// Config is the persisted form state. Credentials are stored in clear text.
type Config struct {
	BrowserType     browser.Kind `json:"browser_type" toml:"browser_type"`
	BrowserPath     string       `json:"browser_path" toml:"browser_path"`
	DriverPath      string       `json:"driver_path" toml:"driver_path"`
	Headless        bool         `json:"headless" toml:"headless"`
	Username        string       `json:"username" toml:"username"`
	Password        string       `json:"password" toml:"password"`
	ProdID          string       `json:"prod_id" toml:"prod_id"`
	RefreshInterval int          `json:"refresh_interval" toml:"refresh_interval"`
	DateIndex       int          `json:"date_index" toml:"date_index"`
	TimeIndex       int          `json:"time_index" toml:"time_index"`
	CaptchaMode     captcha.Mode `json:"captcha_mode" toml:"captcha_mode"`
	TesseractPath   string       `json:"tesseract_path" toml:"tesseract_path"`
	OCRAPIKey       string       `json:"ocr_api_key,omitempty" toml:"ocr_api_key,omitempty"`
	StartAt         string       `json:"start_at,omitempty" toml:"start_at,omitempty"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	return Config{
		BrowserType:     browser.Firefox,
		RefreshInterval: 1,
		DateIndex:       1,
		TimeIndex:       1,
		CaptchaMode:     captcha.Manual,
	}
}

// Load reads path, falling back to defaults when it does not exist. Files
// ending in .toml are TOML, everything else JSON.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg to path in the format chosen by its extension.
func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	cfg.Normalize()

	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Normalize clamps the bounded fields and canonicalizes enumerations.
func (c *Config) Normalize() {
	if kind, err := browser.ParseKind(string(c.BrowserType)); err == nil {
		c.BrowserType = kind
	} else {
		c.BrowserType = browser.Firefox
	}
	c.CaptchaMode = captcha.ParseMode(string(c.CaptchaMode))
	c.RefreshInterval = clamp(c.RefreshInterval)
	c.DateIndex = clamp(c.DateIndex)
	c.TimeIndex = clamp(c.TimeIndex)
	c.ProdID = strings.TrimSpace(c.ProdID)
	c.StartAt = strings.TrimSpace(c.StartAt)
}

func clamp(v int) int {
	if v < minBound {
		return minBound
	}
	if v > maxBound {
		return maxBound
	}
	return v
}

// Validate reports settings a run cannot start without.
func (c Config) Validate() error {
	var problems []string
	if c.ProdID == "" {
		problems = append(problems, "performance id is empty")
	}
	if c.BrowserType == browser.Firefox && c.DriverPath == "" {
		problems = append(problems, "driver path is empty")
	}
	if c.StartAt != "" {
		if _, err := c.StartTime(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Interval is the refresh interval as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(clamp(c.RefreshInterval)) * time.Second
}

// StartTime parses StartAt. The zero time means start immediately.
func (c Config) StartTime() (time.Time, error) {
	if c.StartAt == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(ScheduleLayout, c.StartAt, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q (use YYYY-MM-DD HH:MM)", c.StartAt)
	}
	return t, nil
}

// Environment variables that override file values when set.
const (
	EnvUsername      = "MELON_USERNAME"
	EnvPassword      = "MELON_PASSWORD"
	EnvBrowserPath   = "MELON_BROWSER_PATH"
	EnvDriverPath    = "MELON_DRIVER_PATH"
	EnvTesseractPath = "MELON_TESSERACT_PATH"
	EnvOCRAPIKey     = "MELON_OCR_API_KEY"
)

// ApplyEnv loads an optional .env file and overlays the MELON_* variables.
func ApplyEnv(cfg *Config, envFiles ...string) {
	_ = godotenv.Load(envFiles...)

	for env, field := range map[string]*string{
		EnvUsername:      &cfg.Username,
		EnvPassword:      &cfg.Password,
		EnvBrowserPath:   &cfg.BrowserPath,
		EnvDriverPath:    &cfg.DriverPath,
		EnvTesseractPath: &cfg.TesseractPath,
		EnvOCRAPIKey:     &cfg.OCRAPIKey,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*field = v
		}
	}
}
