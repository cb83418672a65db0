package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SchedulerConfig controls scheduler intervals and batch sizes. It is read
// from scheduler.yml when present so operators can tune jobs without
// rebuilding, with environment overrides under the COMMERCE_ prefix.
type SchedulerConfig struct {
	RunInterval     time.Duration `mapstructure:"runInterval"`
	JobTimeout      time.Duration `mapstructure:"jobTimeout"`
	BatchSize       int           `mapstructure:"batchSize"`
	EnabledJobs     []string      `mapstructure:"enabledJobs"`
	PollShipments   bool          `mapstructure:"pollShipments"`
	ShipmentsWindow time.Duration `mapstructure:"shipmentsWindow"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RunInterval:     time.Minute,
		JobTimeout:      30 * time.Second,
		BatchSize:       50,
		PollShipments:   true,
		ShipmentsWindow: 14 * 24 * time.Hour,
	}
}

// LoadSchedulerConfig reads scheduler.yml from the usual config paths,
// falling back to defaults when the file is absent.
func LoadSchedulerConfig() (SchedulerConfig, error) {
	v := viper.New()

	v.SetConfigName("scheduler")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/commerce-core")
	v.AddConfigPath(".")

	v.SetEnvPrefix("COMMERCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSchedulerConfig()
	v.SetDefault("scheduler.runInterval", defaults.RunInterval)
	v.SetDefault("scheduler.jobTimeout", defaults.JobTimeout)
	v.SetDefault("scheduler.batchSize", defaults.BatchSize)
	v.SetDefault("scheduler.pollShipments", defaults.PollShipments)
	v.SetDefault("scheduler.shipmentsWindow", defaults.ShipmentsWindow)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return defaults, err
		}
	}

	var cfg SchedulerConfig
	if err := v.UnmarshalKey("scheduler", &cfg); err != nil {
		return defaults, err
	}
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = defaults.RunInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaults.JobTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.ShipmentsWindow <= 0 {
		cfg.ShipmentsWindow = defaults.ShipmentsWindow
	}
	return cfg, nil
}
