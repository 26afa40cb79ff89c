// Package byterange translates block positions of a chain into HTTP byte ranges.
package byterange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spacemeshos/go-rangesync/common/types"
)

const (
	unit = "bytes"

	// UnknownTotal is the Total of a Content-Range that doesn't report the resource size.
	UnknownTotal = ^uint64(0)

	// MaxBlocks is the number of blocks whose byte offsets fit in a uint64.
	MaxBlocks uint64 = math.MaxUint64 / types.BlockSize
)

var (
	// ErrZeroCount is returned when a range of zero blocks is requested.
	ErrZeroCount = errors.New("block count must be positive")
	// ErrOutOfRange is returned when a range would end past the last addressable byte.
	ErrOutOfRange = errors.New("block range out of bounds")
	// ErrMalformed is returned when a range header can't be parsed.
	ErrMalformed = errors.New("malformed range")
)

// Range is a byte range of a chain resource. End is inclusive and ignored
// when the range is open.
type Range struct {
	Start uint64
	End   uint64
	Open  bool
}

// Single is the range of the block at index.
func Single(index uint64) (Range, error) {
	return Bulk(index, 1)
}

// Bulk is the range of count blocks starting at index.
func Bulk(index, count uint64) (Range, error) {
	if count == 0 {
		return Range{}, ErrZeroCount
	}
	if count > MaxBlocks || index > MaxBlocks-count {
		return Range{}, fmt.Errorf("%w: %d blocks from %d", ErrOutOfRange, count, index)
	}
	return Range{
		Start: index * types.BlockSize,
		End:   (index+count)*types.BlockSize - 1,
	}, nil
}

// Tail is the open range of everything after the first count blocks.
func Tail(count uint64) Range {
	return Range{Start: count * types.BlockSize, Open: true}
}

// Len is the number of bytes covered by a bounded range, 0 for open ranges.
func (r Range) Len() uint64 {
	if r.Open {
		return 0
	}
	return r.End - r.Start + 1
}

// Blocks is the number of whole blocks covered by a bounded range.
func (r Range) Blocks() uint64 {
	return r.Len() / types.BlockSize
}

// FirstBlock is the index of the block the range starts at.
func (r Range) FirstBlock() uint64 {
	return r.Start / types.BlockSize
}

// String returns the value of the Range header for r.
func (r Range) String() string {
	if r.Open {
		return fmt.Sprintf("%s=%d-", unit, r.Start)
	}
	return fmt.Sprintf("%s=%d-%d", unit, r.Start, r.End)
}

// Parse reads a Range header holding a single range. Suffix ranges
// ("bytes=-N") are not supported.
func Parse(value string) (Range, error) {
	set, ok := strings.CutPrefix(strings.TrimSpace(value), unit+"=")
	if !ok || strings.Contains(set, ",") {
		return Range{}, fmt.Errorf("%w: %q", ErrMalformed, value)
	}
	first, last, ok := strings.Cut(set, "-")
	if !ok || first == "" {
		return Range{}, fmt.Errorf("%w: %q", ErrMalformed, value)
	}
	start, err := strconv.ParseUint(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start %q: %w", ErrMalformed, first, err)
	}
	if last = strings.TrimSpace(last); last == "" {
		return Range{Start: start, Open: true}, nil
	}
	end, err := strconv.ParseUint(last, 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end %q: %w", ErrMalformed, last, err)
	}
	if end < start {
		return Range{}, fmt.Errorf("%w: end before start in %q", ErrMalformed, value)
	}
	return Range{Start: start, End: end}, nil
}

// ContentRange is the value of a Content-Range header of a 206 response.
type ContentRange struct {
	Start uint64
	End   uint64
	Total uint64
}

// Len is the number of bytes the server announced.
func (cr ContentRange) Len() uint64 {
	return cr.End - cr.Start + 1
}

// ParseContentRange reads "bytes <start>-<end>/<total>" where total may be "*".
func ParseContentRange(value string) (ContentRange, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), unit+" ")
	if !ok {
		return ContentRange{}, fmt.Errorf("%w: %q", ErrMalformed, value)
	}
	span, total, ok := strings.Cut(rest, "/")
	if !ok {
		return ContentRange{}, fmt.Errorf("%w: %q", ErrMalformed, value)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return ContentRange{}, fmt.Errorf("%w: %q", ErrMalformed, value)
	}
	var (
		cr  ContentRange
		err error
	)
	if cr.Start, err = strconv.ParseUint(first, 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("%w: start %q: %w", ErrMalformed, first, err)
	}
	if cr.End, err = strconv.ParseUint(last, 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("%w: end %q: %w", ErrMalformed, last, err)
	}
	if cr.End < cr.Start {
		return ContentRange{}, fmt.Errorf("%w: end before start in %q", ErrMalformed, value)
	}
	if total == "*" {
		cr.Total = UnknownTotal
		return cr, nil
	}
	if cr.Total, err = strconv.ParseUint(total, 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("%w: total %q: %w", ErrMalformed, total, err)
	}
	return cr, nil
}
