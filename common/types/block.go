package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BlockSize is the size of every block of every chain.
	BlockSize = 512

	prevHashOffset = Hash32Length
	indexOffset    = prevHashOffset + Hash32Length
	payloadOffset  = indexOffset + 8

	// PayloadSize is the number of opaque bytes carried by one block.
	PayloadSize = BlockSize - payloadOffset
)

var (
	ErrBlockSize  = errors.New("wrong block size")
	ErrBlockHash  = errors.New("block hash mismatch")
	ErrBlockLink  = errors.New("block does not link to previous block")
	ErrBlockIndex = errors.New("unexpected block index")
)

// BlockHeader is the fixed leading part of a block.
//
//	[0:32]   hash of bytes [32:BlockSize]
//	[32:64]  hash of the previous block, zero for block 0
//	[64:72]  big endian index of the block in its chain
type BlockHeader struct {
	Hash     Hash32
	PrevHash Hash32
	Index    uint64
}

// DecodeBlockHeader reads the header of a block. It doesn't verify the block.
func DecodeBlockHeader(block []byte) (BlockHeader, error) {
	if len(block) != BlockSize {
		return BlockHeader{}, fmt.Errorf("%w: %d", ErrBlockSize, len(block))
	}
	var hdr BlockHeader
	copy(hdr.Hash[:], block[:prevHashOffset])
	copy(hdr.PrevHash[:], block[prevHashOffset:indexOffset])
	hdr.Index = binary.BigEndian.Uint64(block[indexOffset:payloadOffset])
	return hdr, nil
}

// BlockPayload returns the opaque part of a block.
func BlockPayload(block []byte) []byte {
	return block[payloadOffset:]
}

// NewBlock builds a block that follows prev at position index.
// Payload longer than PayloadSize is rejected, shorter payload is zero padded.
func NewBlock(prev Hash32, index uint64, payload []byte) ([]byte, error) {
	if len(payload) > PayloadSize {
		return nil, fmt.Errorf("payload too large: %d > %d", len(payload), PayloadSize)
	}
	block := make([]byte, BlockSize)
	copy(block[prevHashOffset:], prev[:])
	binary.BigEndian.PutUint64(block[indexOffset:], index)
	copy(block[payloadOffset:], payload)
	h := CalcHash32(block[prevHashOffset:])
	copy(block, h[:])
	return block, nil
}

// VerifyBlock checks that block is intact and that it is the block at
// position index following a block with hash prev. It returns the hash of the block.
func VerifyBlock(block []byte, index uint64, prev Hash32) (Hash32, error) {
	hdr, err := DecodeBlockHeader(block)
	if err != nil {
		return Hash32{}, err
	}
	if actual := CalcHash32(block[prevHashOffset:]); actual != hdr.Hash {
		return Hash32{}, fmt.Errorf("%w: embedded %s, computed %s",
			ErrBlockHash, hdr.Hash.ShortString(), actual.ShortString())
	}
	if hdr.Index != index {
		return Hash32{}, fmt.Errorf("%w: got %d, expected %d", ErrBlockIndex, hdr.Index, index)
	}
	if hdr.PrevHash != prev {
		return Hash32{}, fmt.Errorf("%w: block %d links to %s, tail is %s",
			ErrBlockLink, index, hdr.PrevHash.ShortString(), prev.ShortString())
	}
	return hdr.Hash, nil
}
