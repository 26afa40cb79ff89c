package chainsync

import (
	"fmt"

	"github.com/spacemeshos/go-rangesync/common/types"
)

// State is the synchronization state of one chain.
type State int

const (
	// Uninitialized chains have no local replica.
	Uninitialized State = iota
	// Bootstrapped chains have a replica with at least one block.
	Bootstrapped
	// Converged chains are bootstrapped and their last resync made no progress.
	Converged
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Bootstrapped:
		return "bootstrapped"
	case Converged:
		return "converged"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, state := range []State{Uninitialized, Bootstrapped, Converged} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown chain state %q", text)
}

// ChainStatus is the last observed progress of a chain.
type ChainStatus struct {
	ID       types.ChainID `json:"id"`
	State    State         `json:"state"`
	Count    uint64        `json:"count"`
	TailHash types.Hash32  `json:"tail"`
}
