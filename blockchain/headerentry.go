package blockchain

import (
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// HeaderEntry is a header known to the pool together with its pool links.
// Identity for the pool table is the header's own hash; the parent is stored
// as a hash and children as a vector of hashes, so back-references are
// lookups rather than ownership.
type HeaderEntry struct {
	header   *wire.BlockHeader
	hash     chainhash.Hash
	height   uint64
	children []chainhash.Hash

	// state is the chain state computed for this header, nil until one
	// is derived. Once set it is kept for the life of the entry.
	state *ChainState

	// block is the full block when one has arrived for this header, nil
	// for header-only entries.
	block *wire.MsgBlock
}

// NewHeaderEntry creates a pool entry for the given header at the given
// candidate height.
func NewHeaderEntry(header *wire.BlockHeader, height uint64) *HeaderEntry {
	return &HeaderEntry{
		header: header,
		hash:   header.BlockHash(),
		height: height,
	}
}

// Header returns the wrapped header.
func (e *HeaderEntry) Header() *wire.BlockHeader {
	return e.header
}

// Hash returns the header hash, the entry identity.
func (e *HeaderEntry) Hash() *chainhash.Hash {
	return &e.hash
}

// ParentHash returns the hash of the parent header.
func (e *HeaderEntry) ParentHash() *chainhash.Hash {
	return &e.header.PrevBlock
}

// Height returns the candidate height recorded for the entry.
func (e *HeaderEntry) Height() uint64 {
	return e.height
}

// Children returns the hashes of entries whose parent is this entry.
func (e *HeaderEntry) Children() []chainhash.Hash {
	return e.children
}

// State returns the chain state attached to this entry, or nil.
func (e *HeaderEntry) State() *ChainState {
	return e.state
}

// SetState attaches a chain state to this entry.
func (e *HeaderEntry) SetState(state *ChainState) {
	e.state = state
}

// Block returns the full block attached to this entry, or nil when only the
// header has arrived.
func (e *HeaderEntry) Block() *wire.MsgBlock {
	return e.block
}

// SetBlock attaches a full block to this entry.
func (e *HeaderEntry) SetBlock(block *wire.MsgBlock) {
	e.block = block
}

// addChild records a child hash. The caller guarantees the child's parent
// field equals this entry's hash.
func (e *HeaderEntry) addChild(hash *chainhash.Hash) {
	e.children = append(e.children, *hash)
}

// removeChild drops a child hash if present.
func (e *HeaderEntry) removeChild(hash *chainhash.Hash) {
	for i := range e.children {
		if e.children[i] == *hash {
			e.children = append(e.children[:i], e.children[i+1:]...)
			return
		}
	}
}
