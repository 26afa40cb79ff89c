package types

// ChainID names a remote chain and its local replica. It is the hash of the
// chain's first block.
type ChainID Hash32

// ParseChainID decodes a chain id from its z32 textual form.
func ParseChainID(s string) (ChainID, error) {
	h, err := ParseHash32(s)
	if err != nil {
		return ChainID{}, err
	}
	return ChainID(h), nil
}

// Hash32 returns the chain id as the hash of block 0.
func (id ChainID) Hash32() Hash32 { return Hash32(id) }

// Bytes returns the byte representation of the id.
func (id ChainID) Bytes() []byte { return id[:] }

// String returns the z32 form, used as the url path segment and file name.
func (id ChainID) String() string { return Hash32(id).String() }

// ShortString returns a prefix of the z32 form for logging.
func (id ChainID) ShortString() string { return Hash32(id).ShortString() }

// MarshalText implements encoding.TextMarshaler.
func (id ChainID) MarshalText() ([]byte, error) { return Hash32(id).MarshalText() }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ChainID) UnmarshalText(input []byte) error {
	return (*Hash32)(id).UnmarshalText(input)
}
