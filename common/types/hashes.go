package types

import (
	"encoding/base32"
	"errors"
	"fmt"

	"github.com/spacemeshos/go-rangesync/hash"
)

const (
	// Hash32Length is 32, the expected length of the hash.
	Hash32Length = hash.Size

	// z32Alphabet avoids the characters most easily confused with digits.
	z32Alphabet = "3456789ABCDEFGHIJKLMNOPQRSTUVWXY"
)

// Hash32EncodedLength is the length of a Hash32 in its textual form.
var Hash32EncodedLength = z32.EncodedLen(Hash32Length)

var z32 = base32.NewEncoding(z32Alphabet).WithPadding(base32.NoPadding)

// ErrInvalidHash is returned when a textual hash can't be decoded.
var ErrInvalidHash = errors.New("invalid hash")

// EmptyHash32 is the zero value of Hash32. It is the previous hash of block 0.
var EmptyHash32 = Hash32{}

// Hash32 represents the 32-byte blake3 hash of arbitrary data.
type Hash32 [Hash32Length]byte

// CalcHash32 returns the 32-byte blake3 sum of the given data.
func CalcHash32(data ...[]byte) Hash32 {
	return hash.Sum(data...)
}

// ParseHash32 decodes a hash from its z32 textual form.
func ParseHash32(s string) (Hash32, error) {
	var h Hash32
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash32{}, err
	}
	return h, nil
}

// Bytes gets the byte representation of the underlying hash.
func (h Hash32) Bytes() []byte { return h[:] }

// Empty is true if the hash is all zeros.
func (h Hash32) Empty() bool { return h == EmptyHash32 }

// String returns the z32 form of the hash. It is also the form used in urls and
// file names.
func (h Hash32) String() string {
	return z32.EncodeToString(h[:])
}

// ShortString returns the first 10 characters of the hash, for logging purposes.
func (h Hash32) ShortString() string {
	return h.String()[:10]
}

// Format implements fmt.Formatter, forcing the byte slice to be formatted as is,
// without going through the stringer interface used for logging.
func (h Hash32) Format(s fmt.State, c rune) {
	if c == 'v' || c == 's' {
		_, _ = fmt.Fprint(s, h.String())
		return
	}
	_, _ = fmt.Fprintf(s, "%"+string(c), h[:])
}

// MarshalText returns the z32 representation of h.
func (h Hash32) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses a hash in z32 syntax.
func (h *Hash32) UnmarshalText(input []byte) error {
	if len(input) != Hash32EncodedLength {
		return fmt.Errorf("%w: length %d, expected %d", ErrInvalidHash, len(input), Hash32EncodedLength)
	}
	var buf [Hash32Length + 1]byte
	n, err := z32.Decode(buf[:], input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	if n != Hash32Length {
		return fmt.Errorf("%w: decoded %d bytes", ErrInvalidHash, n)
	}
	if z32.EncodeToString(buf[:n]) != string(input) {
		return fmt.Errorf("%w: non-canonical encoding %q", ErrInvalidHash, input)
	}
	copy(h[:], buf[:n])
	return nil
}
