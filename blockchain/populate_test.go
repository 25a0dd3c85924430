package blockchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/dispatch"
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// TestPopulateCoinbaseMetadata verifies the fixed coinbase input metadata:
// not spent, confirmed, an empty cached output and no coinbase height.
func TestPopulateCoinbaseMetadata(t *testing.T) {
	chain, populator, _, _ := connectSetup(t, 5)

	topHeight, _ := chain.TopHeight(true)
	block := newTestBlock(t, chain.tipHash(), topHeight+1, testTimestamp+4000)
	pb := populateNext(t, chain, populator, block)

	require.True(t, pb.HasOutPointMeta(0, 0))
	meta := pb.OutPointMeta(0, 0)
	require.False(t, meta.Spent)
	require.True(t, meta.Confirmed)
	require.NotNil(t, meta.Cache)
	require.Equal(t, uint64(0), meta.Cache.Value)
	require.Equal(t, UnspecifiedHeight, meta.CoinbaseHeight)
}

// TestPopulateWritesEveryInputOnce verifies that the bucketed passes, with
// fewer buckets than inputs, write the metadata of every non-coinbase input.
func TestPopulateWritesEveryInputOnce(t *testing.T) {
	chain, populator, _, _ := connectSetup(t, 120)

	// Several transactions with several inputs spread work over every
	// bucket.
	spends := make([]*wire.MsgTx, 0, 5)
	for i := 0; i < 5; i++ {
		spend := spendOf(chain, uint64(i+1), 10*chaincfg.SatoshiPerCoin)
		spend.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{
				Hash: chain.entries[i+10].block.Transactions[0].TxHash(),
			},
			Sequence: wire.MaxTxInSequenceNum,
		})
		spends = append(spends, spend)
	}

	topHeight, _ := chain.TopHeight(true)
	block := newTestBlock(t, chain.tipHash(), topHeight+1,
		testTimestamp+200000, spends...)
	pb := populateNext(t, chain, populator, block)

	for txIndex := 1; txIndex < len(block.Transactions); txIndex++ {
		for inputIndex := range block.Transactions[txIndex].TxIn {
			require.True(t, pb.HasOutPointMeta(txIndex, inputIndex),
				"input %d:%d was not populated", txIndex, inputIndex)
			require.NotNil(t, pb.OutPointMeta(txIndex, inputIndex).Cache)
		}
	}
}

// TestPopulateUnderCheckpoint verifies that blocks under a checkpoint are
// populated with their chain state only.
func TestPopulateUnderCheckpoint(t *testing.T) {
	params := newTestParams()
	params.Checkpoints = []chaincfg.Checkpoint{
		{Height: 1000, Hash: &chainhash.Hash{0x01}},
	}
	chain := newFakeChain(t)
	buildChain(t, chain, 5, 600)

	states := NewChainStatePopulator(chain, params, params.DefaultForks, 0)
	populator := NewBlockPopulator(dispatch.NewConcurrent(4), chain, states)

	topHeight, _ := chain.TopHeight(true)
	spend := spendOf(chain, 1, chaincfg.SatoshiPerCoin)
	block := newTestBlock(t, chain.tipHash(), topHeight+1,
		testTimestamp+4000, spend)

	branch := NewHeaderBranch(topHeight)
	branch.Extend(NewHeaderEntry(&block.Header, topHeight+1))
	pb, err := populator.Populate(block, branch)
	require.NoError(t, err)
	require.NotNil(t, pb.State)
	require.True(t, pb.State.IsUnderCheckpoint())
	require.False(t, pb.HasOutPointMeta(1, 0))
}

// TestPopulateMissingState verifies that an underivable chain state fails
// population without partial results.
func TestPopulateMissingState(t *testing.T) {
	chain, populator, _, _ := connectSetup(t, 2)

	block := newTestBlock(t, chain.tipHash(), 50, testTimestamp+4000)
	branch := NewHeaderBranch(49)
	branch.Extend(NewHeaderEntry(&block.Header, 50))

	_, err := populator.Populate(block, branch)
	requireErrorCode(t, err, ErrOperationFailed)
}
