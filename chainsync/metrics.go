package chainsync

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spacemeshos/go-rangesync/metrics"
)

const (
	subsystem = "chainsync"

	opBootstrap = "bootstrap"
	opResync    = "resync"
)

var (
	requests = metrics.NewCounter(
		"requests",
		subsystem,
		"range requests by operation and response status",
		[]string{"op", "status"},
	)
	requestLatency = metrics.NewHistogramWithBuckets(
		"request_duration_seconds",
		subsystem,
		"duration of range requests including transport retries",
		[]string{"op"},
		prometheus.ExponentialBuckets(0.01, 2, 12),
	)
	appendedBlocks = metrics.NewCounter(
		"appended_blocks",
		subsystem,
		"blocks appended to local replicas",
		[]string{"op"},
	)
	discardedBytes = metrics.NewCounter(
		"discarded_bytes",
		subsystem,
		"trailing bytes of responses shorter than a block",
		[]string{"op"},
	)
	truncatedResponses = metrics.NewCounter(
		"truncated_responses",
		subsystem,
		"responses that ended before the announced content range",
		[]string{"op"},
	)
	chainHeight = metrics.NewGauge(
		"chain_height",
		subsystem,
		"number of blocks in the local replica",
		[]string{"chain"},
	)
)
