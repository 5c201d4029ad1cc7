package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rizoma-coop/tapir/pkg/core/services"
)

// Config represents the application configuration
type Config struct {
	DatabaseURL string `yaml:"databaseURL" validate:"required"`

	// CycleStartDates anchor the ABCD rotation, formatted as 2006-01-02.
	CycleStartDates []string `yaml:"cycleStartDates" validate:"required,min=1"`

	GenerateWeeksAhead        int `yaml:"generateWeeksAhead,omitempty" validate:"omitempty,min=1"`
	CycleDays                 int `yaml:"cycleDays,omitempty" validate:"omitempty,min=1"`
	FreezeThreshold           int `yaml:"freezeThreshold,omitempty" validate:"omitempty,max=0"`
	FreezeAfterDays           int `yaml:"freezeAfterDays,omitempty" validate:"omitempty,min=1"`
	MakeUpWeeks               int `yaml:"makeUpWeeks,omitempty" validate:"omitempty,min=1"`
	SelfUnregisterDays        int `yaml:"selfUnregisterDays,omitempty" validate:"omitempty,min=0"`
	SelfLookForStandInDays    int `yaml:"selfLookForStandInDays,omitempty" validate:"omitempty,min=0"`
	ExemptionUnregisterCycles int `yaml:"exemptionUnregisterCycles,omitempty" validate:"omitempty,min=1"`

	SolidarityShiftsEnabled bool `yaml:"solidarityShiftsEnabled,omitempty"`
	SolidarityUsesPerYear   int  `yaml:"solidarityUsesPerYear,omitempty" validate:"omitempty,min=1"`

	GmailUserID string `yaml:"gmailUserID" validate:"required"`
	GmailSender string `yaml:"gmailSender,omitempty"`
	CalendarID  string `yaml:"calendarID,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration from tapir_config.yaml
// It looks for the config file in the current directory first, then in the user's home directory
func Load() (*Config, error) {
	return LoadWithEnv("")
}

// LoadWithEnv loads and validates the configuration with an environment suffix
// For example, env="test" will look for "tapir_config.test.yaml"
func LoadWithEnv(env string) (*Config, error) {
	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration struct and checks date syntax
func Validate(cfg *Config) error {
	// Run struct validation
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Validate date syntax for each cycle anchor
	for i, d := range cfg.CycleStartDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid date in cycleStartDates[%d]: %w", i, err)
		}
	}

	return nil
}

// Settings converts the configuration into engine settings, filling in
// defaults for any tunable left unset
func (c *Config) Settings() (services.Settings, error) {
	s := services.DefaultSettings()

	for _, d := range c.CycleStartDates {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return s, fmt.Errorf("invalid date in cycleStartDates: %w", err)
		}
		s.CycleStartDates = append(s.CycleStartDates, parsed)
	}

	if c.GenerateWeeksAhead != 0 {
		s.GenerateWeeksAhead = c.GenerateWeeksAhead
	}
	if c.CycleDays != 0 {
		s.CycleDays = c.CycleDays
	}
	if c.FreezeThreshold != 0 {
		s.FreezeThreshold = c.FreezeThreshold
	}
	if c.FreezeAfterDays != 0 {
		s.FreezeAfterDays = c.FreezeAfterDays
	}
	if c.MakeUpWeeks != 0 {
		s.MakeUpWeeks = c.MakeUpWeeks
	}
	if c.SelfUnregisterDays != 0 {
		s.SelfUnregisterDays = c.SelfUnregisterDays
	}
	if c.SelfLookForStandInDays != 0 {
		s.SelfLookForStandInDays = c.SelfLookForStandInDays
	}
	if c.ExemptionUnregisterCycles != 0 {
		s.ExemptionUnregisterCycles = c.ExemptionUnregisterCycles
	}
	if c.SolidarityUsesPerYear != 0 {
		s.SolidarityUsesPerYear = c.SolidarityUsesPerYear
	}
	s.SolidarityShiftsEnabled = c.SolidarityShiftsEnabled

	return s, nil
}

// findConfigFile searches for tapir_config.yaml in current directory and home directory
// If env is provided, it adds it as an extension (e.g., "tapir_config.test.yaml")
func findConfigFile(env string) (string, error) {
	configFileName := "tapir_config.yaml"
	if env != "" {
		configFileName = "tapir_config." + env + ".yaml"
	}

	// Check current directory
	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	// Check home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homeConfigPath := filepath.Join(homeDir, configFileName)
	if _, err := os.Stat(homeConfigPath); err == nil {
		return homeConfigPath, nil
	}

	return "", fmt.Errorf("config file not found in current directory or home directory")
}
