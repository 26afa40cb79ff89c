// Package origin serves chain files over HTTP with byte range support.
// A directory of replicas kept by chainstore can be served as is, which lets
// a synced node act as the origin of others.
package origin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/go-rangesync/byterange"
	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/log"
	"github.com/spacemeshos/go-rangesync/metrics"
)

var served = metrics.NewCounter(
	"requests",
	"origin",
	"chain requests served by response status",
	[]string{"status"},
)

type Config struct {
	Listen string `mapstructure:"listen"`
	// MaxBlocks caps the number of blocks in one response. Zero means no cap.
	MaxBlocks uint64 `mapstructure:"max-blocks"`
}

func DefaultConfig() Config {
	return Config{
		Listen: "127.0.0.1:8420",
	}
}

// Server serves GET /chains/{id} from files named after the chain id.
type Server struct {
	srv       *http.Server
	eg        errgroup.Group
	logger    *zap.Logger
	fs        afero.Fs
	dir       string
	maxBlocks uint64
}

type Opt func(*Server)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithFilesystem(fs afero.Fs) Opt {
	return func(s *Server) {
		s.fs = fs
	}
}

func NewServer(dir string, cfg Config, opts ...Opt) *Server {
	s := &Server{
		logger:    zap.NewNop(),
		fs:        afero.NewOsFs(),
		dir:       dir,
		maxBlocks: cfg.MaxBlocks,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler routes chain requests. It is what Start serves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chains/{id}", s.handle)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.eg.Go(func() error {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("origin server stopped", zap.Error(err))
			return err
		}
		return nil
	})
	s.logger.Info("origin starts serving",
		zap.Stringer("addr", ln.Addr()),
		zap.String("dir", s.dir),
		zap.Uint64("max_blocks", s.maxBlocks),
	)
	return ln.Addr(), nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down origin server")
	err := s.srv.Shutdown(ctx)
	return errors.Join(err, s.eg.Wait())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		served.WithLabelValues(strconv.Itoa(rec.status)).Inc()
	}()

	id, err := types.ParseChainID(r.PathValue("id"))
	if err != nil {
		s.logger.Debug("unrecognized chain id", zap.String("url", r.URL.String()), zap.Error(err))
		http.NotFound(rec, r)
		return
	}
	f, err := s.fs.Open(filepath.Join(s.dir, id.String()))
	if errors.Is(err, os.ErrNotExist) {
		http.NotFound(rec, r)
		return
	} else if err != nil {
		s.logger.Error("failed to open chain", log.ZShortStringer("chain", id), zap.Error(err))
		http.Error(rec, "open chain", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(rec, "stat chain", http.StatusInternalServerError)
		return
	}
	s.capRange(r)
	// chains only grow, so a stale validator must never turn a range request into a full response
	r.Header.Del("If-Range")
	http.ServeContent(rec, r, id.String(), info.ModTime(), f)
	s.logger.Debug("served chain",
		log.ZShortStringer("chain", id),
		zap.String("range", r.Header.Get("Range")),
		zap.Int("status", rec.status),
	)
}

// capRange shortens the requested range to at most maxBlocks blocks.
func (s *Server) capRange(r *http.Request) {
	if s.maxBlocks == 0 {
		return
	}
	rng, err := byterange.Parse(r.Header.Get("Range"))
	if err != nil {
		return
	}
	limit := s.maxBlocks * types.BlockSize
	if rng.Open || rng.Len() > limit {
		rng.Open = false
		rng.End = rng.Start + limit - 1
		r.Header.Set("Range", rng.String())
	}
}
