package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	maintops "equipment-maintops/internal/maintops/domain"
)

// Config is the process configuration. Environment variables give the
// defaults; a YAML file named by MAINTOPS_CONFIG overrides them.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	Recompute RecomputeConfig `yaml:"recompute"`
	Reports   ReportConfig    `yaml:"reports"`
	Notify    NotifyConfig    `yaml:"notify"`

	// Statuses are the diagnosis workflow stages beyond the default one.
	Statuses           []maintops.DiagnosisStatus   `yaml:"statuses"`
	EquipmentInstances []maintops.EquipmentInstance `yaml:"equipment_instances"`
	ProblemTypes       []string                     `yaml:"problem_types"`
}

// RecomputeConfig controls the startup batch recompute.
type RecomputeConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Instances   []string `yaml:"instances"`
	Concurrency int      `yaml:"concurrency"`
}

// ReportConfig controls alert period report export.
type ReportConfig struct {
	Dir       string   `yaml:"dir"`
	Formats   []string `yaml:"formats"`
	Instances []string `yaml:"instances"`
}

// NotifyConfig controls operator notifications. Notifications are off
// without a webhook URL.
type NotifyConfig struct {
	WebhookURL   string        `yaml:"webhook_url"`
	Template     string        `yaml:"template"`
	Cooldown     time.Duration `yaml:"cooldown"`
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

// Load reads the configuration from the environment and the optional file.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getenvDefault("MAINTOPS_LOG_LEVEL", "info"),
		MetricsAddr: os.Getenv("MAINTOPS_METRICS_ADDR"),
		Recompute: RecomputeConfig{
			Enabled:     getenvBoolDefault("MAINTOPS_RECOMPUTE", false),
			Instances:   splitCSV(os.Getenv("MAINTOPS_RECOMPUTE_INSTANCES")),
			Concurrency: getenvIntDefault("MAINTOPS_RECOMPUTE_CONCURRENCY", 4),
		},
		Reports: ReportConfig{
			Dir:       getenvDefault("MAINTOPS_REPORT_DIR", filepath.FromSlash("var/reports/maintops")),
			Formats:   splitCSV(os.Getenv("MAINTOPS_REPORT_FORMATS")),
			Instances: splitCSV(os.Getenv("MAINTOPS_REPORT_INSTANCES")),
		},
		Notify: NotifyConfig{
			WebhookURL:   os.Getenv("MAINTOPS_NOTIFY_WEBHOOK"),
			Cooldown:     getenvDurationDefault("MAINTOPS_NOTIFY_COOLDOWN", 0),
			DedupeWindow: getenvDurationDefault("MAINTOPS_NOTIFY_DEDUPE_WINDOW", 10*time.Minute),
		},
	}

	if path := os.Getenv("MAINTOPS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Recompute.Concurrency <= 0 {
		cfg.Recompute.Concurrency = 1
	}
	for i, format := range cfg.Reports.Formats {
		format = strings.ToLower(strings.TrimSpace(format))
		if format != "xlsx" && format != "pdf" {
			return cfg, errors.New("config: report format must be xlsx or pdf")
		}
		cfg.Reports.Formats[i] = format
	}
	if len(cfg.Reports.Formats) > 0 && cfg.Reports.Dir == "" {
		return cfg, errors.New("config: report dir required")
	}
	for _, status := range cfg.Statuses {
		if err := status.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
