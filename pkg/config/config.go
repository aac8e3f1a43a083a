// Package config provides a reusable loader for vaultkernel configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"vaultkernel/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a transaction runner: kernel
// resource limits, cost-table overrides, and genesis fee-reserve
// parameters. It mirrors the structure of the YAML files under
// cmd/txrunner/config.
type Config struct {
	Kernel struct {
		MaxCallDepth int `mapstructure:"max_call_depth" json:"max_call_depth"`
	} `mapstructure:"kernel" json:"kernel"`

	Cost struct {
		BaseCostOverrides map[string]uint64 `mapstructure:"base_cost_overrides" json:"base_cost_overrides"`
		ByteCostPerUnit   uint64            `mapstructure:"byte_cost_per_unit" json:"byte_cost_per_unit"`
	} `mapstructure:"cost" json:"cost"`

	Fee struct {
		GenesisReserve uint64 `mapstructure:"genesis_reserve" json:"genesis_reserve"`
	} `mapstructure:"fee" json:"fee"`

	Storage struct {
		SnapshotPath string `mapstructure:"snapshot_path" json:"snapshot_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // best-effort; a missing .env is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/txrunner/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env via godotenv.Load above

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the VAULTKERNEL_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("VAULTKERNEL_ENV", ""))
}
