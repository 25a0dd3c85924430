package blockchain

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/wire"
)

// TestMerkleRootGenesis checks the computed merkle root of the genesis
// block against the value carried in its header.
func TestMerkleRootGenesis(t *testing.T) {
	block := chaincfg.MainNetParams.GenesisBlock

	merkleRoot := CalcMerkleRoot(block.Transactions)
	if merkleRoot != block.Header.MerkleRoot {
		t.Fatalf("merkle root mismatch: got %v, want %v",
			spew.Sdump(merkleRoot), spew.Sdump(block.Header.MerkleRoot))
	}
}

// TestMerkleRootSingle checks that a single transaction is its own root.
func TestMerkleRootSingle(t *testing.T) {
	tx := chaincfg.MainNetParams.GenesisBlock.Transactions[0]

	if got := CalcMerkleRoot([]*wire.MsgTx{tx}); got != tx.TxHash() {
		t.Fatalf("single tx root mismatch: got %s, want %s", got, tx.TxHash())
	}
}

// TestMerkleTreeOddLeaves checks the duplicate-final-leaf rule for odd
// transaction counts.
func TestMerkleTreeOddLeaves(t *testing.T) {
	base := chaincfg.MainNetParams.GenesisBlock.Transactions[0]
	second := base.Copy()
	second.LockTime = 1
	third := base.Copy()
	third.LockTime = 2

	merkles := BuildMerkleTreeStore([]*wire.MsgTx{base, second, third})

	// With three leaves the tree is padded to four; the final parent
	// hashes the third leaf with itself.
	h3 := third.TxHash()
	expected := hashMerkleBranches(&h3, &h3)
	if *merkles[5] != *expected {
		t.Fatal("odd leaf was not paired with itself")
	}
}
