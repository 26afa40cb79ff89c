// Package chainstore keeps local replicas of chains. A replica is a single
// append-only file of concatenated blocks, named after the chain id.
package chainstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/log"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600

	tmpSuffix = ".tmp"
)

var (
	// ErrIntegrity is returned when a block doesn't hash-link to the chain it is added to.
	ErrIntegrity = errors.New("chain integrity")
	ErrNotFound  = errors.New("chain not found")
	ErrExists    = errors.New("chain already exists")
	// ErrCorrupted is returned when a replica on disk fails verification.
	ErrCorrupted = errors.New("corrupted chain file")
)

// Store is a directory of chain replicas.
type Store struct {
	dir    string
	fs     afero.Fs
	logger *zap.Logger
}

type Opt func(*Store)

func WithFilesystem(fs afero.Fs) Opt {
	return func(s *Store) {
		s.fs = fs
	}
}

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store rooted at dir. The directory is created lazily.
func New(dir string, opts ...Opt) *Store {
	s := &Store{
		dir:    dir,
		fs:     afero.NewOsFs(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir is the directory holding the replicas.
func (s *Store) Dir() string { return s.dir }

// Fs is the filesystem the replicas live on.
func (s *Store) Fs() afero.Fs { return s.fs }

// Path is the location of the replica of id.
func (s *Store) Path(id types.ChainID) string {
	return filepath.Join(s.dir, id.String())
}

// Exists reports whether a replica of id is present.
func (s *Store) Exists(id types.ChainID) (bool, error) {
	ok, err := afero.Exists(s.fs, s.Path(id))
	if err != nil {
		return false, fmt.Errorf("stat chain %s: %w", id.ShortString(), err)
	}
	return ok, nil
}

// ListChains returns the ids of all replicas in the store.
func (s *Store) ListChains() ([]types.ChainID, error) {
	files, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read store dir %s: %w", s.dir, err)
	}
	var ids []types.ChainID
	for _, f := range files {
		if f.IsDir() || strings.HasSuffix(f.Name(), tmpSuffix) {
			continue
		}
		id, err := types.ParseChainID(f.Name())
		if err != nil {
			s.logger.Debug("skipping unrelated file", zap.String("name", f.Name()))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateChain starts a replica of id from its first block.
// The block must be block 0 and hash to id.
func (s *Store) CreateChain(first []byte, id types.ChainID) (*Chain, error) {
	h, err := types.VerifyBlock(first, 0, types.EmptyHash32)
	if err != nil {
		return nil, fmt.Errorf("%w: first block: %w", ErrIntegrity, err)
	}
	if h != id.Hash32() {
		return nil, fmt.Errorf("%w: first block hash %s doesn't match chain %s",
			ErrIntegrity, h.ShortString(), id.ShortString())
	}
	if exists, err := s.Exists(id); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, id.ShortString())
	}
	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", s.dir, err)
	}
	if err := s.writeAtomic(s.Path(id), first); err != nil {
		return nil, err
	}
	f, err := s.fs.OpenFile(s.Path(id), os.O_RDWR, filePerm)
	if err != nil {
		return nil, fmt.Errorf("open created chain %s: %w", id.ShortString(), err)
	}
	s.logger.Info("created chain", log.ZShortStringer("chain", id))
	return newChain(id, f, 1, h, s.logger), nil
}

// writeAtomic writes data to a temporary file next to path and renames it into place.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmpf, err := afero.TempFile(s.fs, filepath.Dir(path), filepath.Base(path)+"-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	defer tmpf.Close()
	if _, err := tmpf.Write(data); err != nil {
		s.fs.Remove(tmpf.Name())
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := tmpf.Sync(); err != nil {
		s.fs.Remove(tmpf.Name())
		return fmt.Errorf("sync tmp file: %w", err)
	}
	if err := tmpf.Close(); err != nil {
		s.fs.Remove(tmpf.Name())
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := s.fs.Rename(tmpf.Name(), path); err != nil {
		s.fs.Remove(tmpf.Name())
		return fmt.Errorf("rename tmp file %v to %v: %w", tmpf.Name(), path, err)
	}
	return nil
}

// OpenChain opens the replica of id and verifies every block on disk.
func (s *Store) OpenChain(id types.ChainID) (*Chain, error) {
	f, err := s.fs.OpenFile(s.Path(id), os.O_RDWR, filePerm)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.ShortString())
	} else if err != nil {
		return nil, fmt.Errorf("open chain %s: %w", id.ShortString(), err)
	}
	count, tail, err := verifyFile(f, id)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.logger.Debug("opened chain",
		log.ZShortStringer("chain", id),
		zap.Uint64("count", count),
		log.ZShortStringer("tail", tail),
	)
	return newChain(id, f, count, tail, s.logger), nil
}

func verifyFile(f afero.File, id types.ChainID) (uint64, types.Hash32, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, types.Hash32{}, fmt.Errorf("stat chain %s: %w", id.ShortString(), err)
	}
	size := info.Size()
	if size == 0 || size%types.BlockSize != 0 {
		return 0, types.Hash32{}, fmt.Errorf("%w: %s has %d bytes, not a positive multiple of %d",
			ErrCorrupted, id.ShortString(), size, types.BlockSize)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, types.Hash32{}, fmt.Errorf("seek chain %s: %w", id.ShortString(), err)
	}
	var (
		rd    = bufio.NewReaderSize(f, 64*types.BlockSize)
		buf   = make([]byte, types.BlockSize)
		tail  types.Hash32
		count = uint64(size / types.BlockSize)
	)
	for i := range count {
		if _, err := io.ReadFull(rd, buf); err != nil {
			return 0, types.Hash32{}, fmt.Errorf("read block %d of %s: %w", i, id.ShortString(), err)
		}
		h, err := types.VerifyBlock(buf, i, tail)
		if err != nil {
			return 0, types.Hash32{}, fmt.Errorf("%w: %s: %w", ErrCorrupted, id.ShortString(), err)
		}
		if i == 0 && h != id.Hash32() {
			return 0, types.Hash32{}, fmt.Errorf("%w: block 0 of %s hashes to %s",
				ErrCorrupted, id.ShortString(), h.ShortString())
		}
		tail = h
	}
	return count, tail, nil
}
