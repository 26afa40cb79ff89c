// Package app wires rangesync components into the commands of the executable.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-rangesync/chainstore"
	"github.com/spacemeshos/go-rangesync/chainsync"
	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/config"
	"github.com/spacemeshos/go-rangesync/log"
	"github.com/spacemeshos/go-rangesync/metrics"
	"github.com/spacemeshos/go-rangesync/origin"
)

// Logger names.
const (
	AppLogger       = "app"
	SyncLogger      = "sync"
	TransportLogger = "transport"
	StoreLogger     = "store"
	OriginLogger    = "origin"
)

// Option to modify an App instance.
type Option func(app *App)

// WithConfig overrides the default configuration.
func WithConfig(conf *config.Config) Option {
	return func(app *App) {
		app.Config = conf
	}
}

// WithLog sets the app logger.
func WithLog(logger *zap.Logger) Option {
	return func(app *App) {
		app.log = logger
	}
}

// App holds the components shared by the commands.
type App struct {
	Config *config.Config

	log      *zap.Logger
	fileLock *flock.Flock
	store    *chainstore.Store
	metrics  *metrics.Server
	origin   *origin.Server
}

// New creates an App with the default configuration.
func New(opts ...Option) *App {
	defaultConfig := config.DefaultConfig()
	app := &App{
		Config: &defaultConfig,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// addLogger creates a logger for a module with the level configured for it.
func (app *App) addLogger(name, level string) *zap.Logger {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		app.log.Warn("cannot parse logging level, using info",
			zap.String("module", name),
			zap.String("level", level),
			zap.Error(err),
		)
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return log.NewWithLevel(name, lvl)
}

// Lock takes an exclusive lock on the data folder.
func (app *App) Lock() error {
	lockPath := app.Config.LockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return fmt.Errorf("creating dir for lock %s: %w", lockPath, err)
	}
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", lockPath, err)
	} else if !locked {
		return fmt.Errorf("only one rangesync instance should be using %s (locking file %s)",
			app.Config.DataDir, fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock unlocks the app. It is a no-op if the app is not locked.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.log.Error("failed to unlock file",
			zap.String("path", app.fileLock.Path()),
			zap.Error(err),
		)
	}
}

// Initialize prepares the data folder and the chain store.
func (app *App) Initialize() error {
	if err := os.MkdirAll(app.Config.ChainsDir(), 0o700); err != nil {
		return fmt.Errorf("ensure folders exist: %w", err)
	}
	app.store = chainstore.New(app.Config.ChainsDir(),
		chainstore.WithLogger(app.addLogger(StoreLogger, app.Config.LOGGING.StoreLoggerLevel)),
	)
	if app.Config.CollectMetrics {
		app.metrics = metrics.NewServer(fmt.Sprintf(":%d", app.Config.MetricsPort), app.log.Named("metrics"))
		if _, err := app.metrics.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup stops background servers.
func (app *App) Cleanup(ctx context.Context) {
	if app.origin != nil {
		if err := app.origin.Stop(ctx); err != nil {
			app.log.Warn("origin server shutdown", zap.Error(err))
		}
	}
	if app.metrics != nil {
		if err := app.metrics.Stop(ctx); err != nil {
			app.log.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}

// chainIDs are the chains to sync: the ones named explicitly, or all local
// replicas when none are.
func (app *App) chainIDs(ids []types.ChainID) ([]types.ChainID, error) {
	ids = append(ids, app.Config.Sync.Chains...)
	if len(ids) > 0 {
		return ids, nil
	}
	local, err := app.store.ListChains()
	if err != nil {
		return nil, err
	}
	if len(local) == 0 {
		return nil, errors.New("no chains to sync: pass chain ids or configure sync.chains")
	}
	return local, nil
}

// Sync keeps ids in sync with the configured origin. With a zero interval it
// makes a single pass; otherwise it syncs periodically until ctx is canceled.
func (app *App) Sync(ctx context.Context, ids []types.ChainID) error {
	ids, err := app.chainIDs(ids)
	if err != nil {
		return err
	}
	syncLogger := app.addLogger(SyncLogger, app.Config.LOGGING.SyncLoggerLevel)
	transport := chainsync.NewHTTPTransport(app.Config.Sync.Transport,
		chainsync.WithTransportLogger(app.addLogger(TransportLogger, app.Config.LOGGING.TransportLoggerLevel)),
	)
	syncer, err := chainsync.NewSyncer(app.Config.Sync, app.store,
		chainsync.WithSyncerLogger(syncLogger),
		chainsync.WithClientOpts(chainsync.WithTransport(transport)),
		chainsync.WithPassCallback(func(statuses []chainsync.ChainStatus, _ error) {
			if err := app.writeStatus(statuses); err != nil {
				app.log.Warn("failed to write status file", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return err
	}
	defer syncer.Close()

	app.log.Info("syncing chains",
		zap.String("origin", app.Config.Sync.Origin),
		zap.Int("chains", len(ids)),
		zap.Duration("interval", app.Config.Sync.Interval),
	)
	if app.Config.Sync.Interval <= 0 {
		err := syncer.SyncAll(ctx, ids)
		return errors.Join(err, app.writeStatus(syncer.Status()))
	}
	syncer.Start(ctx, ids)
	syncer.Wait()
	return nil
}

type statusFile struct {
	Updated time.Time               `json:"updated"`
	Chains  []chainsync.ChainStatus `json:"chains"`
}

// writeStatus replaces the status file so readers never see a partial snapshot.
func (app *App) writeStatus(statuses []chainsync.ChainStatus) error {
	data, err := json.MarshalIndent(statusFile{Updated: time.Now().UTC(), Chains: statuses}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := atomic.WriteFile(app.Config.StatusPath(), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write status %s: %w", app.Config.StatusPath(), err)
	}
	return nil
}

// StartOrigin serves the local replicas to other instances.
func (app *App) StartOrigin() (net.Addr, error) {
	app.origin = origin.NewServer(app.Config.ChainsDir(), app.Config.Origin,
		origin.WithLogger(app.addLogger(OriginLogger, app.Config.LOGGING.OriginLoggerLevel)),
	)
	return app.origin.Start()
}

// Verify re-checks the whole replica of id and compares it with the expected
// count and tail when they are given.
func (app *App) Verify(id types.ChainID, count uint64, tail *types.Hash32) (chainsync.ChainStatus, error) {
	chain, err := app.store.OpenChain(id)
	if err != nil {
		return chainsync.ChainStatus{}, err
	}
	defer chain.Close()
	status := chainsync.ChainStatus{
		ID:       id,
		State:    chainsync.Bootstrapped,
		Count:    chain.Count(),
		TailHash: chain.TailHash(),
	}
	if count == 0 && tail == nil {
		return status, nil
	}
	if count == 0 {
		count = chain.Count()
	}
	expected := chain.TailHash()
	if tail != nil {
		expected = *tail
	}
	return status, chainsync.Verify(chain, count, expected)
}
