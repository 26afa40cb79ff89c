package chainsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/go-rangesync/byterange"
	"github.com/spacemeshos/go-rangesync/chainstore"
	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/log"
)

var errSyncerClosed = errors.New("syncer closed")

// Config for keeping a set of chains in sync with one origin.
type Config struct {
	Origin string          `mapstructure:"origin"`
	Chains []types.ChainID `mapstructure:"chains"`
	// SeedBlocks is how many blocks the bootstrap request asks for.
	SeedBlocks uint64 `mapstructure:"seed-blocks"`
	// Interval between catch-up passes over all chains. Zero syncs once.
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	// OpenChains bounds the number of replica handles kept open between passes.
	OpenChains int             `mapstructure:"open-chains"`
	Transport  TransportConfig `mapstructure:"transport"`
}

func DefaultConfig() Config {
	return Config{
		Origin:      "http://localhost:8420",
		SeedBlocks:  1,
		Interval:    time.Minute,
		Concurrency: 4,
		OpenChains:  64,
		Transport:   DefaultTransportConfig(),
	}
}

// Syncer drives independent chains through bootstrap and catch-up.
// At most one operation per chain is in flight.
type Syncer struct {
	cfg    Config
	client *Client
	store  chainStore
	logger *zap.Logger
	clock  clockwork.Clock

	clientOpts []ClientOpt
	onPass     func([]ChainStatus, error)

	mu sync.Mutex
	// handles, inUse and evicted are guarded by mu. The eviction callback
	// runs synchronously inside cache calls, which are all made with mu held.
	handles *lru.Cache[types.ChainID, *chainstore.Chain]
	inUse   map[types.ChainID]struct{}
	evicted map[types.ChainID]*chainstore.Chain
	locks   map[types.ChainID]*sync.Mutex
	states  map[types.ChainID]ChainStatus
	stop    context.CancelFunc
	closed  bool

	once sync.Once
	eg   errgroup.Group
}

type SyncerOpt func(*Syncer)

func WithSyncerLogger(logger *zap.Logger) SyncerOpt {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithClientOpts passes options to the client the syncer creates.
func WithClientOpts(opts ...ClientOpt) SyncerOpt {
	return func(s *Syncer) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// WithPassCallback registers fn to be called after every background sync pass
// with the state of all chains and the errors of the pass.
func WithPassCallback(fn func([]ChainStatus, error)) SyncerOpt {
	return func(s *Syncer) {
		s.onPass = fn
	}
}

func withClock(clock clockwork.Clock) SyncerOpt {
	return func(s *Syncer) {
		s.clock = clock
	}
}

func NewSyncer(cfg Config, store chainStore, opts ...SyncerOpt) (*Syncer, error) {
	if cfg.SeedBlocks == 0 || cfg.SeedBlocks > byterange.MaxBlocks {
		return nil, fmt.Errorf("seed blocks must be in [1, %d], got %d", byterange.MaxBlocks, cfg.SeedBlocks)
	}
	s := &Syncer{
		cfg:     cfg,
		store:   store,
		logger:  zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		inUse:   make(map[types.ChainID]struct{}),
		evicted: make(map[types.ChainID]*chainstore.Chain),
		locks:   make(map[types.ChainID]*sync.Mutex),
		states:  make(map[types.ChainID]ChainStatus),
	}
	for _, opt := range opts {
		opt(s)
	}
	handles, err := lru.NewWithEvict(cfg.OpenChains, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("chain handle cache: %w", err)
	}
	s.handles = handles

	clientOpts := append([]ClientOpt{
		WithLogger(s.logger),
		WithTransport(NewHTTPTransport(cfg.Transport, WithTransportLogger(s.logger))),
	}, s.clientOpts...)
	s.client, err = NewClient(cfg.Origin, store, clientOpts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// onEvict is called with mu held.
func (s *Syncer) onEvict(id types.ChainID, chain *chainstore.Chain) {
	if _, busy := s.inUse[id]; busy {
		s.evicted[id] = chain
		return
	}
	if err := chain.Close(); err != nil {
		s.logger.Warn("failed to close evicted chain", log.ZShortStringer("chain", id), zap.Error(err))
	}
}

func (s *Syncer) lockChain(id types.ChainID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// acquire returns an open replica of id, bootstrapping it from the origin if
// there is none. The caller must hold the chain lock and call release.
func (s *Syncer) acquire(ctx context.Context, id types.ChainID) (*chainstore.Chain, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errSyncerClosed
	}
	s.inUse[id] = struct{}{}
	chain, ok := s.handles.Get(id)
	s.mu.Unlock()
	if ok {
		return chain, nil
	}

	exists, err := s.store.Exists(id)
	if err != nil {
		s.release(id)
		return nil, err
	}
	if exists {
		chain, err = s.store.OpenChain(id)
	} else {
		chain, err = s.client.Bootstrap(ctx, id, s.cfg.SeedBlocks)
	}
	if err != nil {
		s.release(id)
		return nil, err
	}
	s.setStatus(ChainStatus{ID: id, State: Bootstrapped, Count: chain.Count(), TailHash: chain.TailHash()})

	s.mu.Lock()
	defer s.mu.Unlock()
	// Close may have purged the cache while the chain was being opened.
	if s.closed {
		delete(s.inUse, id)
		chain.Close()
		return nil, errSyncerClosed
	}
	s.handles.Add(id, chain)
	return chain, nil
}

func (s *Syncer) release(id types.ChainID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inUse, id)
	if chain, ok := s.evicted[id]; ok {
		delete(s.evicted, id)
		chain.Close()
	}
}

// drop evicts the handle of id so the next pass reopens and re-verifies the replica.
func (s *Syncer) drop(id types.ChainID) {
	s.mu.Lock()
	s.handles.Remove(id)
	s.mu.Unlock()
}

func (s *Syncer) setStatus(status ChainStatus) {
	s.mu.Lock()
	s.states[status.ID] = status
	s.mu.Unlock()
	chainHeight.WithLabelValues(status.ID.String()).Set(float64(status.Count))
}

// SyncChain bootstraps id if needed and catches up until the origin has
// nothing new.
func (s *Syncer) SyncChain(ctx context.Context, id types.ChainID) (ChainStatus, error) {
	ctx = log.WithNewSessionID(ctx)
	unlock := s.lockChain(id)
	defer unlock()

	start := s.clock.Now()
	chain, err := s.acquire(ctx, id)
	if err != nil {
		return s.State(id), err
	}
	defer s.release(id)

	appended, err := s.client.ResyncLoop(ctx, chain)
	status := ChainStatus{ID: id, State: Bootstrapped, Count: chain.Count(), TailHash: chain.TailHash()}
	if err == nil {
		status.State = Converged
	} else {
		s.drop(id)
	}
	s.setStatus(status)
	s.logger.Info("chain synced",
		log.ZContext(ctx),
		log.ZShortStringer("chain", id),
		zap.Stringer("state", status.State),
		zap.Int("appended", appended),
		zap.Uint64("count", status.Count),
		log.ZShortStringer("tail", status.TailHash),
		zap.Duration("duration", s.clock.Since(start)),
		zap.Error(err),
	)
	return status, err
}

// SyncAll syncs ids concurrently. A failing chain doesn't stop the others;
// all failures are returned joined.
func (s *Syncer) SyncAll(ctx context.Context, ids []types.ChainID) error {
	unique := slices.Clone(ids)
	slices.SortFunc(unique, func(a, b types.ChainID) int {
		return bytes.Compare(a[:], b[:])
	})
	unique = slices.Compact(unique)

	var eg errgroup.Group
	if s.cfg.Concurrency > 0 {
		eg.SetLimit(s.cfg.Concurrency)
	}
	errs := make([]error, len(unique))
	for i, id := range unique {
		eg.Go(func() error {
			if _, err := s.SyncChain(ctx, id); err != nil {
				errs[i] = fmt.Errorf("chain %s: %w", id.ShortString(), err)
			}
			return nil
		})
	}
	eg.Wait()
	return errors.Join(errs...)
}

// Start syncs ids in the background every configured interval until Close
// is called or ctx is canceled. Only the first call has an effect.
func (s *Syncer) Start(ctx context.Context, ids []types.ChainID) {
	s.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.stop = cancel
		s.mu.Unlock()
		s.eg.Go(func() error {
			s.run(ctx, ids)
			return nil
		})
	})
}

func (s *Syncer) run(ctx context.Context, ids []types.ChainID) {
	for {
		err := s.SyncAll(ctx, ids)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("sync pass failed", zap.Error(err))
		}
		if s.onPass != nil {
			s.onPass(s.Status(), err)
		}
		if s.cfg.Interval <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.Interval):
		}
	}
}

// Wait blocks until the background loop started by Start exits.
func (s *Syncer) Wait() {
	s.eg.Wait()
}

// Close stops the background loop and closes all open replicas.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()
	s.eg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.handles.Purge()
}

// State of id as of its last sync.
func (s *Syncer) State(id types.ChainID) ChainStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.states[id]; ok {
		return status
	}
	return ChainStatus{ID: id, State: Uninitialized}
}

// Status lists every chain the syncer has seen, ordered by id.
func (s *Syncer) Status() []ChainStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	rst := make([]ChainStatus, 0, len(s.states))
	for _, status := range s.states {
		rst = append(rst, status)
	}
	slices.SortFunc(rst, func(a, b ChainStatus) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return rst
}
