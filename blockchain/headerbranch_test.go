package blockchain

import (
	"testing"

	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// branchHeader returns a minimal header linked to the given parent.
func branchHeader(parent *chainhash.Hash, bits, version, timestamp uint32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:   version,
		PrevBlock: *parent,
		Bits:      bits,
		Timestamp: timestamp,
	}
}

// buildBranch assembles a linked branch of the given length above the fork
// height.
func buildBranch(forkHeight uint64, length int) *HeaderBranch {
	branch := NewHeaderBranch(forkHeight)
	parent := chainhash.Hash{0xaa}
	for i := 0; i < length; i++ {
		header := branchHeader(&parent, 0x1d00ffff+uint32(i), 2,
			1000+uint32(i))
		entry := NewHeaderEntry(header, forkHeight+uint64(i)+1)
		if !branch.Extend(entry) {
			panic("branch does not link")
		}
		parent = *entry.Hash()
	}
	return branch
}

// TestHeaderBranchEmpty checks the failure modes of an empty branch.
func TestHeaderBranchEmpty(t *testing.T) {
	branch := NewHeaderBranch(10)

	if _, err := branch.Top(); err != ErrBranchEmpty {
		t.Fatalf("expected ErrBranchEmpty, got %v", err)
	}
	if _, err := branch.TopParent(); err != ErrBranchEmpty {
		t.Fatalf("expected ErrBranchEmpty, got %v", err)
	}
	if got := branch.ForkHash(); got != chainhash.ZeroHash {
		t.Fatalf("expected zero fork hash, got %s", got)
	}
	if _, ok := branch.GetBits(11); ok {
		t.Fatal("empty branch should cover no heights")
	}
}

// TestHeaderBranchCoverage checks the height coverage of the indexed
// queries: covered heights resolve, heights at or below the fork point and
// above the top do not.
func TestHeaderBranchCoverage(t *testing.T) {
	const forkHeight = 10
	branch := buildBranch(forkHeight, 3)

	if got := branch.TopHeight(); got != forkHeight+3 {
		t.Fatalf("top height mismatch: got %d, want %d", got, forkHeight+3)
	}

	// Heights at or below the fork point are not covered; the caller
	// falls back to the indexed chain there.
	if _, ok := branch.GetBits(forkHeight); ok {
		t.Fatal("fork height must not be covered")
	}
	if _, ok := branch.GetTimestamp(forkHeight - 1); ok {
		t.Fatal("heights below the fork must not be covered")
	}
	if _, ok := branch.GetVersion(forkHeight + 4); ok {
		t.Fatal("heights above the top must not be covered")
	}

	for i := 0; i < 3; i++ {
		height := uint64(forkHeight + i + 1)
		bits, ok := branch.GetBits(height)
		if !ok || bits != 0x1d00ffff+uint32(i) {
			t.Fatalf("bits at %d: got %08x ok=%v", height, bits, ok)
		}
		timestamp, ok := branch.GetTimestamp(height)
		if !ok || timestamp != 1000+uint32(i) {
			t.Fatalf("timestamp at %d: got %d ok=%v", height, timestamp, ok)
		}
	}
}

// TestHeaderBranchTopParent checks top and top parent resolution.
func TestHeaderBranchTopParent(t *testing.T) {
	branch := buildBranch(5, 2)

	top, err := branch.Top()
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	parent, err := branch.TopParent()
	if err != nil {
		t.Fatalf("top parent: %v", err)
	}
	if !top.ParentHash().IsEqual(parent.Hash()) {
		t.Fatal("top's parent hash does not match the top parent entry")
	}

	// A single entry branch has no top parent but is not an error.
	single := buildBranch(5, 1)
	parent, err = single.TopParent()
	if err != nil || parent != nil {
		t.Fatalf("single entry branch: parent=%v err=%v", parent, err)
	}
}

// TestHeaderBranchPushLinks checks that Push only accepts the parent of
// the current front entry.
func TestHeaderBranchPushLinks(t *testing.T) {
	child := NewHeaderEntry(branchHeader(&chainhash.Hash{0xbb}, 1, 2, 3), 2)
	parentHeader := branchHeader(&chainhash.Hash{0xcc}, 1, 2, 3)
	unrelated := NewHeaderEntry(parentHeader, 1)

	branch := NewHeaderBranch(0)
	if !branch.Push(child) {
		t.Fatal("first push must succeed")
	}
	if branch.Push(unrelated) {
		t.Fatal("unlinked push must fail")
	}
}

// TestHeaderBranchWork checks the work sum over the branch headers.
func TestHeaderBranchWork(t *testing.T) {
	branch := buildBranch(0, 2)

	expected := CalcWork(0x1d00ffff)
	expected.Add(expected, CalcWork(0x1d00ffff+1))
	if branch.Work().Cmp(expected) != 0 {
		t.Fatalf("branch work mismatch: got %s, want %s", branch.Work(),
			expected)
	}

	single := buildBranch(0, 1)
	if single.Work().Cmp(CalcWork(0x1d00ffff)) != 0 {
		t.Fatal("single entry work must equal its header work")
	}
}
