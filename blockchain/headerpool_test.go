package blockchain

import (
	"testing"

	"github.com/argentumnet/argentumd/util/chainhash"
)

// poolEntry creates an entry linked under the given parent hash.
func poolEntry(parent *chainhash.Hash, height uint64, salt uint32) *HeaderEntry {
	return NewHeaderEntry(branchHeader(parent, 0x1d00ffff, 2, salt), height)
}

// TestHeaderPoolLinks checks parent and child links across insertion
// orders.
func TestHeaderPoolLinks(t *testing.T) {
	pool := NewHeaderPool(0)
	root := chainhash.Hash{0x01}

	parent := poolEntry(&root, 1, 100)
	child := poolEntry(parent.Hash(), 2, 101)
	grandchild := poolEntry(child.Hash(), 3, 102)

	// Insert out of order; the pool adopts pre-existing children.
	pool.Insert(child)
	pool.Insert(grandchild)
	pool.Insert(parent)

	if pool.Size() != 3 {
		t.Fatalf("pool size: got %d, want 3", pool.Size())
	}
	if len(parent.Children()) != 1 || parent.Children()[0] != *child.Hash() {
		t.Fatal("parent did not adopt its pooled child")
	}
	if len(child.Children()) != 1 || child.Children()[0] != *grandchild.Hash() {
		t.Fatal("child did not link its child")
	}

	// Every child hash refers to an entry whose parent is the owner.
	for _, hash := range child.Children() {
		hash := hash
		entry := pool.Get(&hash)
		if entry == nil || *entry.ParentHash() != *child.Hash() {
			t.Fatal("child set invariant violated")
		}
	}
}

// TestHeaderPoolRemove detaches an entry from its parent and orphans its
// children.
func TestHeaderPoolRemove(t *testing.T) {
	pool := NewHeaderPool(0)
	root := chainhash.Hash{0x02}

	parent := poolEntry(&root, 1, 200)
	child := poolEntry(parent.Hash(), 2, 201)
	pool.Insert(parent)
	pool.Insert(child)

	pool.Remove(child.Hash())
	if pool.Exists(child.Hash()) {
		t.Fatal("removed entry still present")
	}
	if len(parent.Children()) != 0 {
		t.Fatal("parent still references the removed child")
	}

	// Removing an absent hash is a no-op.
	pool.Remove(child.Hash())
}

// TestHeaderPoolBranchTo walks parent links into an ordered branch.
func TestHeaderPoolBranchTo(t *testing.T) {
	pool := NewHeaderPool(0)
	root := chainhash.Hash{0x03}

	a := poolEntry(&root, 1, 300)
	b := poolEntry(a.Hash(), 2, 301)
	c := poolEntry(b.Hash(), 3, 302)
	pool.Insert(a)
	pool.Insert(b)
	pool.Insert(c)

	branch := pool.BranchTo(c.Hash())
	if branch.Size() != 3 {
		t.Fatalf("branch size: got %d, want 3", branch.Size())
	}
	if branch.ForkHash() != root {
		t.Fatalf("branch root: got %s, want %s", branch.ForkHash(), root)
	}
	top, err := branch.Top()
	if err != nil || *top.Hash() != *c.Hash() {
		t.Fatal("branch top mismatch")
	}

	// A partial walk starts mid-branch.
	partial := pool.BranchTo(b.Hash())
	if partial.Size() != 2 {
		t.Fatalf("partial branch size: got %d, want 2", partial.Size())
	}
}

// TestHeaderPoolDescendants walks child links breadth first.
func TestHeaderPoolDescendants(t *testing.T) {
	pool := NewHeaderPool(0)
	root := chainhash.Hash{0x04}

	a := poolEntry(&root, 1, 400)
	b := poolEntry(a.Hash(), 2, 401)
	c := poolEntry(a.Hash(), 2, 402)
	d := poolEntry(b.Hash(), 3, 403)
	pool.Insert(a)
	pool.Insert(b)
	pool.Insert(c)
	pool.Insert(d)

	descendants := pool.Descendants(a.Hash())
	if len(descendants) != 3 {
		t.Fatalf("descendants: got %d, want 3", len(descendants))
	}

	seen := make(map[chainhash.Hash]bool)
	for _, hash := range descendants {
		seen[hash] = true
	}
	if !seen[*b.Hash()] || !seen[*c.Hash()] || !seen[*d.Hash()] {
		t.Fatal("descendant walk missed an entry")
	}
}

// TestHeaderPoolChildrenOf scans for children of an entry that is no
// longer pooled.
func TestHeaderPoolChildrenOf(t *testing.T) {
	pool := NewHeaderPool(0)
	departed := chainhash.Hash{0x05}

	a := poolEntry(&departed, 5, 500)
	b := poolEntry(&departed, 5, 501)
	pool.Insert(a)
	pool.Insert(b)

	children := pool.ChildrenOf(&departed)
	if len(children) != 2 {
		t.Fatalf("children: got %d, want 2", len(children))
	}
}

// TestHeaderPoolPrune evicts entries buried deeper than the maximum depth.
func TestHeaderPoolPrune(t *testing.T) {
	pool := NewHeaderPool(10)
	root := chainhash.Hash{0x06}

	shallow := poolEntry(&root, 95, 600)
	deep := poolEntry(&root, 80, 601)
	pool.Insert(shallow)
	pool.Insert(deep)

	pool.Prune(100)
	if !pool.Exists(shallow.Hash()) {
		t.Fatal("entry within depth was pruned")
	}
	if pool.Exists(deep.Hash()) {
		t.Fatal("expired entry survived pruning")
	}
}
