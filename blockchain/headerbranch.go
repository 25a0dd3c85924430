package blockchain

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/argentumnet/argentumd/util/chainhash"
)

// ErrBranchEmpty is returned when Top or TopParent is called on an empty
// branch.
var ErrBranchEmpty = errors.New("header branch is empty")

// HeaderBranch is an ordered sequence of candidate header entries layered
// above a fork point of the indexed chain. The front entry's parent is the
// indexed block at the fork height; each following entry's parent is the
// entry before it. The branch can be queried by height as if it were
// indexed, covering heights (forkHeight, forkHeight+len].
type HeaderBranch struct {
	forkHeight uint64
	entries    []*HeaderEntry
}

// NewHeaderBranch returns an empty branch rooted at the given fork height.
func NewHeaderBranch(forkHeight uint64) *HeaderBranch {
	return &HeaderBranch{forkHeight: forkHeight}
}

// SetForkHeight updates the fork height of the branch root.
func (b *HeaderBranch) SetForkHeight(height uint64) {
	b.forkHeight = height
}

// Push inserts an entry at the front of the branch. The entry must be the
// parent of the current front entry; the first pushed entry establishes the
// branch top. It returns false when the entry does not link.
func (b *HeaderBranch) Push(entry *HeaderEntry) bool {
	if b.Empty() || b.entries[0].ParentHash().IsEqual(entry.Hash()) {
		b.entries = append([]*HeaderEntry{entry}, b.entries...)
		return true
	}
	return false
}

// Extend appends an entry at the top of the branch. The entry's parent
// must be the current top; the first extended entry establishes the branch
// root. It returns false when the entry does not link.
func (b *HeaderBranch) Extend(entry *HeaderEntry) bool {
	if b.Empty() || entry.ParentHash().IsEqual(b.entries[len(b.entries)-1].Hash()) {
		b.entries = append(b.entries, entry)
		return true
	}
	return false
}

// Empty returns whether the branch holds no entries.
func (b *HeaderBranch) Empty() bool {
	return len(b.entries) == 0
}

// Size returns the number of entries in the branch.
func (b *HeaderBranch) Size() int {
	return len(b.entries)
}

// Entries returns the branch entries ordered from the fork point upward.
func (b *HeaderBranch) Entries() []*HeaderEntry {
	return b.entries
}

// ForkHeight returns the height of the indexed block the branch is rooted
// on.
func (b *HeaderBranch) ForkHeight() uint64 {
	return b.forkHeight
}

// ForkHash returns the hash of the indexed block the branch is rooted on,
// which is the previous hash of the front entry. The zero hash is returned
// for an empty branch.
func (b *HeaderBranch) ForkHash() chainhash.Hash {
	if b.Empty() {
		return chainhash.ZeroHash
	}
	return *b.entries[0].ParentHash()
}

// Top returns the highest entry of the branch.
func (b *HeaderBranch) Top() (*HeaderEntry, error) {
	if b.Empty() {
		return nil, ErrBranchEmpty
	}
	return b.entries[len(b.entries)-1], nil
}

// TopParent returns the entry below the top, or nil when the branch holds a
// single entry.
func (b *HeaderBranch) TopParent() (*HeaderEntry, error) {
	if b.Empty() {
		return nil, ErrBranchEmpty
	}
	if len(b.entries) < 2 {
		return nil, nil
	}
	return b.entries[len(b.entries)-2], nil
}

// TopHeight returns the height of the highest entry of the branch.
func (b *HeaderBranch) TopHeight() uint64 {
	return b.forkHeight + uint64(len(b.entries))
}

// Work returns the sum of proof claimed by the branch headers. Total
// claimed work exceeding that of the competing chain segment is a consensus
// requirement; that the work was actually expended is checked during header
// acceptance.
func (b *HeaderBranch) Work() *big.Int {
	total := new(big.Int)
	for _, entry := range b.entries {
		total.Add(total, CalcWork(entry.Header().Bits))
	}
	return total
}

// indexOf translates a covered chain height to a branch slice index.
func (b *HeaderBranch) indexOf(height uint64) (int, bool) {
	if height <= b.forkHeight || height > b.TopHeight() {
		return 0, false
	}
	return int(height - b.forkHeight - 1), true
}

// GetBits returns the bits of the branch header at the given height, when
// covered by the branch.
func (b *HeaderBranch) GetBits(height uint64) (uint32, bool) {
	i, ok := b.indexOf(height)
	if !ok {
		return 0, false
	}
	return b.entries[i].Header().Bits, true
}

// GetVersion returns the version of the branch header at the given height,
// when covered by the branch.
func (b *HeaderBranch) GetVersion(height uint64) (uint32, bool) {
	i, ok := b.indexOf(height)
	if !ok {
		return 0, false
	}
	return b.entries[i].Header().Version, true
}

// GetTimestamp returns the timestamp of the branch header at the given
// height, when covered by the branch.
func (b *HeaderBranch) GetTimestamp(height uint64) (uint32, bool) {
	i, ok := b.indexOf(height)
	if !ok {
		return 0, false
	}
	return b.entries[i].Header().Timestamp, true
}

// GetBlockHash returns the hash of the branch header at the given height,
// when covered by the branch.
func (b *HeaderBranch) GetBlockHash(height uint64) (*chainhash.Hash, bool) {
	i, ok := b.indexOf(height)
	if !ok {
		return nil, false
	}
	return b.entries[i].Hash(), true
}
