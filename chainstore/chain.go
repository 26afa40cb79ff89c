package chainstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/log"
)

var ErrClosed = errors.New("chain closed")

// Chain is an open replica. Appends are serialized, but the caller is expected
// to drive a chain from a single sync operation at a time.
type Chain struct {
	id     types.ChainID
	logger *zap.Logger

	mu     sync.Mutex
	file   afero.File
	count  uint64
	tail   types.Hash32
	closed bool
}

func newChain(id types.ChainID, f afero.File, count uint64, tail types.Hash32, logger *zap.Logger) *Chain {
	return &Chain{
		id:     id,
		logger: logger.With(log.ZShortStringer("chain", id)),
		file:   f,
		count:  count,
		tail:   tail,
	}
}

// ID of the chain.
func (c *Chain) ID() types.ChainID { return c.id }

// Count is the number of blocks in the replica.
func (c *Chain) Count() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// TailHash is the hash of the last block in the replica.
func (c *Chain) TailHash() types.Hash32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tail
}

// Append adds block to the end of the replica if it links to the current tail.
// A block that fails to be persisted leaves the replica as it was.
func (c *Chain) Append(block []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	h, err := types.VerifyBlock(block, c.count, c.tail)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	offset := int64(c.count) * types.BlockSize
	if _, err := c.file.WriteAt(block, offset); err != nil {
		return c.rollback(offset, fmt.Errorf("write block %d: %w", c.count, err))
	}
	if err := c.file.Sync(); err != nil {
		return c.rollback(offset, fmt.Errorf("sync block %d: %w", c.count, err))
	}
	c.count++
	c.tail = h
	return nil
}

func (c *Chain) rollback(offset int64, cause error) error {
	if err := c.file.Truncate(offset); err != nil {
		c.logger.Error("failed to truncate partially written block",
			zap.Int64("offset", offset),
			zap.Error(err),
		)
		return errors.Join(cause, fmt.Errorf("truncate to %d: %w", offset, err))
	}
	return cause
}

// Block reads the block at index.
func (c *Chain) Block(index uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if index >= c.count {
		return nil, fmt.Errorf("block %d out of range, chain has %d", index, c.count)
	}
	buf := make([]byte, types.BlockSize)
	if _, err := c.file.ReadAt(buf, int64(index)*types.BlockSize); err != nil {
		return nil, fmt.Errorf("read block %d: %w", index, err)
	}
	return buf, nil
}

// Close releases the file handle. Calling Close more than once is a no-op.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.file.Close()
}
