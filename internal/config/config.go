package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models upkeep.yml.
type Config struct {
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
	Services struct {
		Task        ServiceConfig `yaml:"task" json:"task"`
		Building    ServiceConfig `yaml:"building" json:"building"`
		Crack       ServiceConfig `yaml:"crack" json:"crack"`
		TokenSecret string        `yaml:"token_secret" json:"-"`
	} `yaml:"services" json:"services"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Schedule      ScheduleConfig      `yaml:"schedule" json:"schedule"`
	Server        struct {
		Addr      string `yaml:"addr" json:"addr"`
		BasePath  string `yaml:"base_path" json:"base_path"`
		JWTSecret string `yaml:"jwt_secret" json:"-"`
	} `yaml:"server" json:"server"`
}

// ServiceConfig addresses one remote collaborator.
type ServiceConfig struct {
	URL            string `yaml:"url" json:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Timeout returns the per-call deadline, defaulting to 10s.
func (s ServiceConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type NotificationsConfig struct {
	Redis struct {
		Addr          string `yaml:"addr" json:"addr"`
		Password      string `yaml:"password" json:"-"`
		DB            int    `yaml:"db" json:"db"`
		ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix"`
	} `yaml:"redis" json:"redis"`
	WebhookURL     string  `yaml:"webhook_url" json:"webhook_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst          int     `yaml:"burst" json:"burst"`
	TimeWindow     string  `yaml:"time_window" json:"time_window"`
}

type ScheduleConfig struct {
	ActivationCron  string `yaml:"activation_cron" json:"activation_cron"`
	ExpansionCron   string `yaml:"expansion_cron" json:"expansion_cron"`
	ResumeCron      string `yaml:"resume_cron" json:"resume_cron"`
	DedupWindowDays int    `yaml:"dedup_window_days" json:"dedup_window_days"`
	HorizonDays     int    `yaml:"horizon_days" json:"horizon_days"`
	Concurrency     int    `yaml:"concurrency" json:"concurrency"`
}

// DedupWindow is how recently a schedule must have been produced for a cycle to be skipped.
func (s ScheduleConfig) DedupWindow() time.Duration {
	return time.Duration(s.DedupWindowDays) * 24 * time.Hour
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with upk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for name, svc := range map[string]ServiceConfig{
		"task":     c.Services.Task,
		"building": c.Services.Building,
		"crack":    c.Services.Crack,
	} {
		if strings.TrimSpace(svc.URL) == "" {
			return fmt.Errorf("config.services.%s.url is required", name)
		}
		if svc.TimeoutSeconds < 0 {
			return fmt.Errorf("config.services.%s.timeout_seconds must not be negative", name)
		}
	}
	for name, expr := range map[string]string{
		"activation_cron": c.Schedule.ActivationCron,
		"expansion_cron":  c.Schedule.ExpansionCron,
		"resume_cron":     c.Schedule.ResumeCron,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("config.schedule.%s: %w", name, err)
		}
	}
	if c.Schedule.DedupWindowDays < 0 {
		return fmt.Errorf("config.schedule.dedup_window_days must not be negative")
	}
	if c.Schedule.HorizonDays <= 0 {
		return fmt.Errorf("config.schedule.horizon_days must be positive")
	}
	if c.Schedule.Concurrency <= 0 {
		return fmt.Errorf("config.schedule.concurrency must be positive")
	}
	if c.Notifications.RatePerSecond < 0 {
		return fmt.Errorf("config.notifications.rate_per_second must not be negative")
	}
	if w := c.Notifications.TimeWindow; w != "" && !strings.Contains(w, "-") {
		return fmt.Errorf("config.notifications.time_window must look like 08:00-17:00")
	}
	return nil
}

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "UPKEEP_"

// ApplyEnv overrides secrets and endpoints from the environment so they can
// stay out of upkeep.yml. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for key, dst := range map[string]*string{
		"JWT_SECRET":     &c.Server.JWTSecret,
		"TOKEN_SECRET":   &c.Services.TokenSecret,
		"TASK_URL":       &c.Services.Task.URL,
		"BUILDING_URL":   &c.Services.Building.URL,
		"CRACK_URL":      &c.Services.Crack.URL,
		"REDIS_ADDR":     &c.Notifications.Redis.Addr,
		"REDIS_PASSWORD": &c.Notifications.Redis.Password,
		"WEBHOOK_URL":    &c.Notifications.WebhookURL,
		"LOG_LEVEL":      &c.Log.Level,
		"SERVER_ADDR":    &c.Server.Addr,
	} {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "upkeep.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Keys missing from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `log:
  level: info
  format: text

services:
  task:
    url: http://localhost:3001
    timeout_seconds: 15
  building:
    url: http://localhost:3002
    timeout_seconds: 10
  crack:
    url: http://localhost:3003
    timeout_seconds: 10
  token_secret: ""

notifications:
  redis:
    addr: ""
    db: 0
    channel_prefix: upkeep
  webhook_url: ""
  timeout_seconds: 5
  rate_per_second: 20
  burst: 40
  time_window: "08:00-17:00"

schedule:
  activation_cron: "0 6 * * *"
  expansion_cron: "0 2 * * 1"
  resume_cron: "*/30 * * * *"
  dedup_window_days: 30
  horizon_days: 365
  concurrency: 8

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
`
