package presets

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spacemeshos/go-rangesync/config"
)

func init() {
	register("standalone", standalone())
	register("fastsync", fastsync())
}

// standalone syncs from an origin served by the same machine, keeping data in a temp folder.
func standalone() config.Config {
	conf := config.DefaultConfig()
	conf.DataDir = filepath.Join(os.TempDir(), "rangesync")
	conf.FileLock = filepath.Join(conf.DataDir, "LOCK")

	conf.Origin.Listen = "127.0.0.1:8420"
	conf.Origin.MaxBlocks = 256

	conf.Sync.Origin = "http://127.0.0.1:8420"
	conf.Sync.Interval = 3 * time.Second
	conf.Sync.Transport.MaxRetries = 1
	conf.Sync.Transport.RetryDelay = 100 * time.Millisecond
	conf.Sync.Transport.MaxRetryDelay = time.Second

	conf.LOGGING.SyncLoggerLevel = "debug"
	return conf
}

// fastsync trades politeness towards the origin for catch-up speed.
func fastsync() config.Config {
	conf := config.DefaultConfig()
	conf.Sync.SeedBlocks = 1024
	conf.Sync.Concurrency = 16
	conf.Sync.OpenChains = 256
	conf.Sync.Transport.MaxResponseBytes = 256 << 20
	conf.Sync.Transport.RequestsPerSecond = 0
	return conf
}
