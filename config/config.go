// Package config contains rangesync configuration definitions
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/spacemeshos/go-rangesync/chainsync"
	"github.com/spacemeshos/go-rangesync/origin"
)

const (
	defaultDataDirName = ".rangesync"
	chainsDirName      = "chains"
	lockFileName       = "LOCK"
	statusFileName     = "status.json"
)

// Config defines the top level configuration of rangesync.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Preset     string           `mapstructure:"preset"`
	Sync       chainsync.Config `mapstructure:"sync"`
	Origin     origin.Config    `mapstructure:"origin"`
	LOGGING    LoggerConfig     `mapstructure:"logging"`
}

// BaseConfig defines the options shared by all commands.
type BaseConfig struct {
	DataDir    string `mapstructure:"data-folder"`
	ConfigFile string `mapstructure:"config"`
	// FileLock guards the data folder against concurrent instances. Defaults to a file in DataDir.
	FileLock string `mapstructure:"filelock"`
	// StatusFile receives a JSON snapshot of chain states after every sync pass.
	// Defaults to a file in DataDir.
	StatusFile string `mapstructure:"status-file"`

	CollectMetrics bool `mapstructure:"metrics"`
	MetricsPort    int  `mapstructure:"metrics-port"`
}

// ChainsDir is where chain replicas are kept.
func (cfg *BaseConfig) ChainsDir() string {
	return filepath.Join(cfg.DataDir, chainsDirName)
}

// LockPath is the lock file of the data folder.
func (cfg *BaseConfig) LockPath() string {
	if cfg.FileLock != "" {
		return cfg.FileLock
	}
	return filepath.Join(cfg.DataDir, lockFileName)
}

// StatusPath is the file chain states are written to.
func (cfg *BaseConfig) StatusPath() string {
	if cfg.StatusFile != "" {
		return cfg.StatusFile
	}
	return filepath.Join(cfg.DataDir, statusFileName)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseConfig: defaultBaseConfig(),
		Sync:       chainsync.DefaultConfig(),
		Origin:     origin.DefaultConfig(),
		LOGGING:    defaultLoggingConfig(),
	}
}

func defaultBaseConfig() BaseConfig {
	return BaseConfig{
		DataDir:     defaultDataDir(),
		MetricsPort: 1010,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDataDirName
	}
	return filepath.Join(home, defaultDataDirName)
}

// LoadConfig reads the config file at fileLocation into vip.
// An empty location leaves vip untouched.
func LoadConfig(fileLocation string, vip *viper.Viper) error {
	if fileLocation == "" {
		return nil
	}
	vip.SetConfigFile(fileLocation)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %v: %w", fileLocation, err)
	}
	return nil
}
