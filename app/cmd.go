package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-rangesync/cmd"
	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/config"
	"github.com/spacemeshos/go-rangesync/config/presets"
	"github.com/spacemeshos/go-rangesync/log"
)

const cleanupTimeout = 30 * time.Second

// GetCommand returns the root command of the rangesync executable.
func GetCommand() *cobra.Command {
	conf := config.DefaultConfig()
	var configPath *string
	c := &cobra.Command{
		Use:           "rangesync",
		Short:         "keep local replicas of chains in sync with an HTTP origin",
		SilenceErrors: true,
	}
	configPath = cmd.AddFlags(c.PersistentFlags(), &conf)

	syncCmd := &cobra.Command{
		Use:   "sync [CHAIN-ID...]",
		Short: "bootstrap and catch up chains from the origin",
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, *configPath, &conf); err != nil {
				return err
			}
			ids, err := parseChainIDs(args)
			if err != nil {
				return err
			}
			return run(c, &conf, func(ctx context.Context, app *App) error {
				return app.Sync(ctx, ids)
			})
		},
	}
	cmd.AddSyncFlags(syncCmd.Flags(), &conf)
	c.AddCommand(syncCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "serve local replicas to other instances",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, *configPath, &conf); err != nil {
				return err
			}
			return run(c, &conf, func(ctx context.Context, app *App) error {
				if _, err := app.StartOrigin(); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.AddServeFlags(serveCmd.Flags(), &conf)
	c.AddCommand(serveCmd)

	var (
		count uint64
		tail  string
	)
	verifyCmd := &cobra.Command{
		Use:   "verify CHAIN-ID",
		Short: "verify a local replica block by block",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, *configPath, &conf); err != nil {
				return err
			}
			id, err := types.ParseChainID(args[0])
			if err != nil {
				return fmt.Errorf("chain id %q: %w", args[0], err)
			}
			var expected *types.Hash32
			if tail != "" {
				h, err := types.ParseHash32(tail)
				if err != nil {
					return fmt.Errorf("tail hash %q: %w", tail, err)
				}
				expected = &h
			}
			app := New(WithConfig(&conf), WithLog(newAppLogger(&conf)))
			if err := app.Initialize(); err != nil {
				return err
			}
			c.SilenceUsage = true
			status, err := app.Verify(id, count, expected)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
	verifyCmd.Flags().Uint64Var(&count, "count", 0, "expected number of blocks")
	verifyCmd.Flags().StringVar(&tail, "tail", "", "expected hash of the last block")
	c.AddCommand(verifyCmd)

	// versionCmd returns the current version of rangesync.
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(c *cobra.Command, args []string) {
			fmt.Fprintln(c.OutOrStdout(), cmd.VersionString())
		},
	}
	c.AddCommand(versionCmd)

	return c
}

// run starts an App for a long running command and cleans it up after fn returns.
func run(c *cobra.Command, conf *config.Config, fn func(context.Context, *App) error) error {
	app := New(WithConfig(conf), WithLog(newAppLogger(conf)))

	// os.Interrupt for all systems, syscall.SIGTERM is mainly for docker.
	ctx, cancel := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Lock(); err != nil {
		return fmt.Errorf("getting exclusive file lock: %w", err)
	}
	defer app.Unlock()

	// Don't print usage on error from this point forward
	c.SilenceUsage = true

	if err := app.Initialize(); err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	err := fn(ctx, app)

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cleanupCancel()
	app.Cleanup(cleanupCtx)
	return err
}

func newAppLogger(conf *config.Config) *zap.Logger {
	logger, err := log.NewFromLevelString(AppLogger, conf.LOGGING.AppLoggerLevel)
	if err != nil {
		return log.NewWithLevel(AppLogger, zap.NewAtomicLevelAt(zap.InfoLevel))
	}
	return logger
}

func parseChainIDs(args []string) ([]types.ChainID, error) {
	ids := make([]types.ChainID, 0, len(args))
	for _, arg := range args {
		id, err := types.ParseChainID(arg)
		if err != nil {
			return nil, fmt.Errorf("chain id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// configure applies the preset, then the config file, then the flags set on
// the command line, so that explicit flags always win.
func configure(c *cobra.Command, configPath string, conf *config.Config) error {
	changed := map[string]string{}
	c.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := loadConfig(conf, conf.Preset, configPath); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// apply CLI args to config
	for name, value := range changed {
		if err := c.Flags().Set(name, value); err != nil {
			return fmt.Errorf("parsing flag %s: %w", name, err)
		}
	}
	if conf.LOGGING.Encoder == config.JSONLogEncoder {
		log.JSONLog(true)
	}
	return nil
}

// loadConfig loads config and preset (if provided) into the provided config.
// It first loads the preset and then overrides it with values from the config file.
func loadConfig(cfg *config.Config, preset, path string) error {
	v := viper.New()
	// read in config from file
	if err := config.LoadConfig(path, v); err != nil {
		return err
	}

	// override default config with preset if provided
	if len(preset) == 0 && v.IsSet("preset") {
		preset = v.GetString("preset")
	}
	if len(preset) > 0 {
		p, err := presets.Get(preset)
		if err != nil {
			return err
		}
		*cfg = p
		cfg.Preset = preset
	}

	// Unmarshall config file into config struct
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)

	opts := []viper.DecoderConfigOption{
		viper.DecodeHook(hook),
		WithZeroFields(),
		WithIgnoreUntagged(),
		WithErrorUnused(),
	}

	// load config if it was loaded to the viper
	if err := v.Unmarshal(cfg, opts...); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func WithZeroFields() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ZeroFields = true
	}
}

func WithIgnoreUntagged() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.IgnoreUntaggedFields = true
	}
}

func WithErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}
