package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/spacemeshos/go-rangesync/config"
	"github.com/spacemeshos/go-rangesync/config/presets"
)

// AddFlags binds the persistent flags shared by all commands to cfg and
// returns the location of the config file flag.
func AddFlags(flagSet *pflag.FlagSet, cfg *config.Config) (configPath *string) {
	flagSet.StringVarP(&cfg.Preset, "preset", "p", cfg.Preset,
		fmt.Sprintf("preset overwrites default values of the config. options %s", strings.Join(presets.Options(), ", ")))

	/** ======================== BaseConfig Flags ========================== **/
	configPath = flagSet.StringP("config", "c", "", "load configuration from file")
	flagSet.StringVarP(&cfg.DataDir, "data-folder", "d",
		cfg.DataDir, "directory holding chain replicas")
	flagSet.StringVar(&cfg.FileLock, "filelock",
		cfg.FileLock, "lock file guarding the data folder, defaults to a file in the data folder")
	flagSet.StringVar(&cfg.StatusFile, "status-file",
		cfg.StatusFile, "file chain states are written to after every sync pass")
	flagSet.BoolVar(&cfg.CollectMetrics, "metrics",
		cfg.CollectMetrics, "serve prometheus metrics")
	flagSet.IntVar(&cfg.MetricsPort, "metrics-port",
		cfg.MetricsPort, "metrics server port")

	/** ======================== Logging Flags ========================== **/
	flagSet.StringVar(&cfg.LOGGING.Encoder, "log-encoder",
		cfg.LOGGING.Encoder, "log as json or console")
	flagSet.StringVar(&cfg.LOGGING.AppLoggerLevel, "log-level",
		cfg.LOGGING.AppLoggerLevel, "log level of the app")
	return configPath
}

// AddSyncFlags binds the flags of the sync command.
func AddSyncFlags(flagSet *pflag.FlagSet, cfg *config.Config) {
	flagSet.StringVar(&cfg.Sync.Origin, "origin",
		cfg.Sync.Origin, "base url of the origin serving chains")
	flagSet.Uint64Var(&cfg.Sync.SeedBlocks, "seed-blocks",
		cfg.Sync.SeedBlocks, "number of blocks requested when a chain is bootstrapped")
	flagSet.DurationVar(&cfg.Sync.Interval, "interval",
		cfg.Sync.Interval, "interval between sync passes, 0 to sync once and exit")
	flagSet.IntVar(&cfg.Sync.Concurrency, "concurrency",
		cfg.Sync.Concurrency, "number of chains synced in parallel")
	flagSet.IntVar(&cfg.Sync.OpenChains, "open-chains",
		cfg.Sync.OpenChains, "number of replica handles kept open between passes")
	flagSet.DurationVar(&cfg.Sync.Transport.Timeout, "request-timeout",
		cfg.Sync.Transport.Timeout, "timeout of a single request")
	flagSet.IntVar(&cfg.Sync.Transport.MaxRetries, "max-retries",
		cfg.Sync.Transport.MaxRetries, "retries of a failed request")
	flagSet.Float64Var(&cfg.Sync.Transport.RequestsPerSecond, "requests-per-second",
		cfg.Sync.Transport.RequestsPerSecond, "limit of requests to the origin, 0 for no limit")
}

// AddServeFlags binds the flags of the serve command.
func AddServeFlags(flagSet *pflag.FlagSet, cfg *config.Config) {
	flagSet.StringVar(&cfg.Origin.Listen, "listen",
		cfg.Origin.Listen, "address to serve chains on")
	flagSet.Uint64Var(&cfg.Origin.MaxBlocks, "max-blocks",
		cfg.Origin.MaxBlocks, "maximum number of blocks in one response, 0 for no limit")
}
