// Package chainsync keeps local chain replicas in sync with a static HTTP
// origin by requesting byte ranges past the local tail.
package chainsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spacemeshos/go-rangesync/byterange"
	"github.com/spacemeshos/go-rangesync/chainstore"
	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/log"
)

const chainsPath = "chains"

// Client issues range requests for chains hosted at one origin and feeds the
// decoded blocks to local replicas.
type Client struct {
	origin    *url.URL
	store     chainStore
	transport transport
	logger    *zap.Logger
}

type ClientOpt func(*Client)

func WithLogger(logger *zap.Logger) ClientOpt {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTransport replaces the default HTTP transport.
func WithTransport(t transport) ClientOpt {
	return func(c *Client) {
		c.transport = t
	}
}

// NewClient creates a client for chains served under origin.
func NewClient(origin string, store chainStore, opts ...ClientOpt) (*Client, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", origin, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("origin scheme not supported: %q", origin)
	}
	c := &Client{
		origin: parsed,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(DefaultTransportConfig(), WithTransportLogger(c.logger))
	}
	return c, nil
}

// ChainURL is the location of the remote resource of id.
func (c *Client) ChainURL(id types.ChainID) string {
	return c.origin.JoinPath(chainsPath, id.String()).String()
}

func (c *Client) fetch(ctx context.Context, op string, id types.ChainID, rng byterange.Range) (*Response, error) {
	start := time.Now()
	resp, err := c.transport.Fetch(ctx, c.ChainURL(id), rng.String())
	requestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		requests.WithLabelValues(op, "error").Inc()
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil, err
	}
	requests.WithLabelValues(op, strconv.Itoa(resp.Status)).Inc()
	c.logger.Debug("range response",
		log.ZContext(ctx),
		zap.String("op", op),
		log.ZShortStringer("chain", id),
		zap.Stringer("range", rng),
		zap.Int("status", resp.Status),
		zap.Int("bytes", len(resp.Body)),
		zap.String("content_range", resp.ContentRange),
	)
	return resp, nil
}

// Bootstrap creates the local replica of id from the first seed blocks of the remote chain.
// Any further whole blocks of the response are appended in order; a trailing
// partial block is discarded.
func (c *Client) Bootstrap(ctx context.Context, id types.ChainID, seed uint64) (*chainstore.Chain, error) {
	var (
		rng byterange.Range
		err error
	)
	if seed == 1 {
		rng, err = byterange.Single(0)
	} else {
		rng, err = byterange.Bulk(0, seed)
	}
	if err != nil {
		return nil, fmt.Errorf("seed blocks: %w", err)
	}
	resp, err := c.fetch(ctx, opBootstrap, id, rng)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusPartialContent {
		return nil, &StatusError{Kind: ErrBootstrapFailed, Status: resp.Status}
	}
	if _, err := c.checkContentRange(ctx, opBootstrap, resp, rng); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
	}
	if len(resp.Body) < types.BlockSize {
		return nil, fmt.Errorf("%w: response of %d bytes is shorter than a block", ErrBootstrapFailed, len(resp.Body))
	}

	chain, err := c.store.CreateChain(resp.Body[:types.BlockSize], id)
	if err != nil {
		return nil, err
	}
	appendedBlocks.WithLabelValues(opBootstrap).Inc()
	n, err := c.appendBlocks(ctx, opBootstrap, chain, resp.Body[types.BlockSize:])
	if err != nil {
		chain.Close()
		return nil, err
	}
	c.logger.Info("chain bootstrapped",
		log.ZContext(ctx),
		log.ZShortStringer("chain", id),
		zap.Int("seed_blocks", n+1),
	)
	return chain, nil
}

// Resync requests everything past the local tail of the chain and appends the
// whole blocks of the response. It returns the number of appended blocks;
// 0 means the origin had nothing new.
func (c *Client) Resync(ctx context.Context, chain chain) (int, error) {
	rng := byterange.Tail(chain.Count())
	resp, err := c.fetch(ctx, opResync, chain.ID(), rng)
	if err != nil {
		return 0, err
	}
	switch resp.Status {
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, nil
	default:
		return 0, &StatusError{Kind: ErrSync, Status: resp.Status}
	}
	truncated, err := c.checkContentRange(ctx, opResync, resp, rng)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSync, err)
	}
	n, err := c.appendBlocks(ctx, opResync, chain, resp.Body)
	if err != nil {
		return n, err
	}
	if n == 0 && truncated {
		return 0, fmt.Errorf("%w: %d bytes received from %s", ErrTruncated, len(resp.Body), rng)
	}
	return n, nil
}

// ResyncLoop calls Resync until it reports no progress. Every round either
// appends at least one block or ends the loop.
func (c *Client) ResyncLoop(ctx context.Context, chain chain) (int, error) {
	total := 0
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := c.Resync(ctx, chain)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			c.logger.Debug("chain converged",
				log.ZContext(ctx),
				log.ZShortStringer("chain", chain.ID()),
				zap.Int("rounds", round),
				zap.Int("appended", total),
				zap.Uint64("count", chain.Count()),
			)
			return total, nil
		}
	}
}

// appendBlocks appends every whole block of data in order and discards the remainder.
func (c *Client) appendBlocks(ctx context.Context, op string, chain chain, data []byte) (int, error) {
	whole := len(data) / types.BlockSize
	for i := range whole {
		if err := chain.Append(data[i*types.BlockSize : (i+1)*types.BlockSize]); err != nil {
			appendedBlocks.WithLabelValues(op).Add(float64(i))
			return i, fmt.Errorf("append block %d of %s: %w", chain.Count(), chain.ID().ShortString(), err)
		}
	}
	appendedBlocks.WithLabelValues(op).Add(float64(whole))
	if rem := len(data) % types.BlockSize; rem > 0 {
		discardedBytes.WithLabelValues(op).Add(float64(rem))
		c.logger.Debug("discarded partial block",
			log.ZContext(ctx),
			log.ZShortStringer("chain", chain.ID()),
			zap.Int("bytes", rem),
		)
	}
	return whole, nil
}

// checkContentRange verifies that the response starts where it was asked to
// and reports whether it carries fewer bytes than the server announced.
func (c *Client) checkContentRange(
	ctx context.Context,
	op string,
	resp *Response,
	requested byterange.Range,
) (bool, error) {
	truncated := resp.Truncated
	if resp.ContentRange != "" {
		cr, err := byterange.ParseContentRange(resp.ContentRange)
		if err != nil {
			c.logger.Warn("ignoring malformed content range", log.ZContext(ctx), zap.Error(err))
		} else {
			if cr.Start != requested.Start {
				return false, fmt.Errorf("%w: requested %s, got %q", ErrRangeMismatch, requested, resp.ContentRange)
			}
			if uint64(len(resp.Body)) < cr.Len() {
				truncated = true
			}
		}
	}
	if truncated {
		truncatedResponses.WithLabelValues(op).Inc()
		c.logger.Warn("response ended before the announced range",
			log.ZContext(ctx),
			zap.Stringer("range", requested),
			zap.String("content_range", resp.ContentRange),
			zap.Int("received", len(resp.Body)),
		)
	}
	return truncated, nil
}

// Verify compares a replica against a known remote state.
func Verify(chain chain, count uint64, tail types.Hash32) error {
	if actual := chain.Count(); actual != count {
		return fmt.Errorf("%w: chain %s has %d blocks, expected %d",
			ErrCountMismatch, chain.ID().ShortString(), actual, count)
	}
	if actual := chain.TailHash(); actual != tail {
		return fmt.Errorf("%w: chain %s ends with %s, expected %s",
			ErrTailMismatch, chain.ID().ShortString(), actual, tail)
	}
	return nil
}
