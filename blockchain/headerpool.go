package blockchain

import (
	"github.com/argentumnet/argentumd/util/chainhash"
)

// HeaderPool is the set of known but not yet indexed headers, linked by
// parent and child hashes. The pool is a forest connected to the indexed
// chain at the root of each tree.
//
// The pool is not safe for concurrent access. It is protected by the
// organizer's single-writer discipline; readers in other contexts must go
// through the organizer's ordered dispatcher.
type HeaderPool struct {
	entries      map[chainhash.Hash]*HeaderEntry
	maximumDepth uint64
}

// NewHeaderPool returns an empty header pool. A zero maximum depth disables
// pruning.
func NewHeaderPool(maximumDepth uint64) *HeaderPool {
	if maximumDepth == 0 {
		maximumDepth = UnspecifiedHeight
	}
	return &HeaderPool{
		entries:      make(map[chainhash.Hash]*HeaderEntry),
		maximumDepth: maximumDepth,
	}
}

// Size returns the number of entries in the pool.
func (p *HeaderPool) Size() int {
	return len(p.entries)
}

// Exists returns whether the pool holds an entry for the given hash.
func (p *HeaderPool) Exists(hash *chainhash.Hash) bool {
	_, ok := p.entries[*hash]
	return ok
}

// Get returns the entry for the given hash, or nil.
func (p *HeaderPool) Get(hash *chainhash.Hash) *HeaderEntry {
	return p.entries[*hash]
}

// Insert adds an entry to the pool, linking it to its parent and children
// when they are present. Inserting a hash that already exists is a no-op.
func (p *HeaderPool) Insert(entry *HeaderEntry) {
	hash := entry.Hash()
	if p.Exists(hash) {
		return
	}

	// Link to the parent when it is already pooled.
	if parent, ok := p.entries[*entry.ParentHash()]; ok {
		parent.addChild(hash)
	}

	// Adopt any entries already pooled whose parent is this entry.
	for otherHash, other := range p.entries {
		if *other.ParentHash() == *hash {
			otherHash := otherHash
			entry.addChild(&otherHash)
		}
	}

	p.entries[*hash] = entry
}

// Remove detaches the entry from its parent's child set and deletes it. The
// entry's children remain pooled as new roots.
func (p *HeaderPool) Remove(hash *chainhash.Hash) {
	entry, ok := p.entries[*hash]
	if !ok {
		return
	}

	if parent, ok := p.entries[*entry.ParentHash()]; ok {
		parent.removeChild(hash)
	}

	delete(p.entries, *hash)
}

// ChildrenOf returns the pooled entries whose parent field equals the
// given hash. This finds the children of an entry that already left the
// pool, so it scans rather than following child links.
func (p *HeaderPool) ChildrenOf(hash *chainhash.Hash) []*HeaderEntry {
	var children []*HeaderEntry
	for _, entry := range p.entries {
		if *entry.ParentHash() == *hash {
			children = append(children, entry)
		}
	}
	return children
}

// Descendants returns the hashes of all pool entries below the given hash,
// discovered by a breadth-first walk over child links.
func (p *HeaderPool) Descendants(hash *chainhash.Hash) []chainhash.Hash {
	var result []chainhash.Hash

	queue := make([]chainhash.Hash, 0, 8)
	if entry, ok := p.entries[*hash]; ok {
		queue = append(queue, entry.Children()...)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		entry, ok := p.entries[current]
		if !ok {
			continue
		}

		result = append(result, current)
		queue = append(queue, entry.Children()...)
	}

	return result
}

// BranchTo walks parent links from the given hash until an ancestor is
// found outside the pool, returning the ordered branch rooted there. The
// returned branch has no fork height; the organizer resolves the root's
// parent against the indexed chain.
func (p *HeaderPool) BranchTo(hash *chainhash.Hash) *HeaderBranch {
	branch := NewHeaderBranch(0)

	entry := p.entries[*hash]
	for entry != nil {
		if !branch.Push(entry) {
			break
		}
		entry = p.entries[*entry.ParentHash()]
	}

	return branch
}

// Prune removes entries whose recorded height is buried deeper than the
// maximum depth below the given top height. Each entry is judged by its own
// recorded height in a single pass; children of removed entries that are
// within depth remain pooled as new roots.
func (p *HeaderPool) Prune(topHeight uint64) {
	if p.maximumDepth == UnspecifiedHeight || topHeight < p.maximumDepth {
		return
	}
	minimumHeight := topHeight - p.maximumDepth

	var expired []chainhash.Hash
	for hash, entry := range p.entries {
		if entry.Height() < minimumHeight {
			expired = append(expired, hash)
		}
	}

	for _, hash := range expired {
		hash := hash
		p.Remove(&hash)
	}
}
