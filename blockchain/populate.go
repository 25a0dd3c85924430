package blockchain

import (
	"time"

	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/dispatch"
	"github.com/argentumnet/argentumd/wire"
)

// PopulatedBlock is a block together with the validation metadata attached
// by the populate pipeline: the chain state of its header, per-transaction
// duplicate flags and per-input previous output metadata.
type PopulatedBlock struct {
	Block *wire.MsgBlock
	State *ChainState

	// StartPopulate records when population began, for observability.
	StartPopulate time.Time

	txMeta  []TxMeta
	outMeta [][]OutPointMeta
	hasMeta [][]bool
}

// newPopulatedBlock preallocates the metadata tables so that each bucket
// writes only its own disjoint slots.
func newPopulatedBlock(block *wire.MsgBlock) *PopulatedBlock {
	pb := &PopulatedBlock{
		Block:   block,
		txMeta:  make([]TxMeta, len(block.Transactions)),
		outMeta: make([][]OutPointMeta, len(block.Transactions)),
		hasMeta: make([][]bool, len(block.Transactions)),
	}
	for i, tx := range block.Transactions {
		pb.outMeta[i] = make([]OutPointMeta, len(tx.TxIn))
		pb.hasMeta[i] = make([]bool, len(tx.TxIn))
	}
	return pb
}

// OutPointMeta returns the previous output metadata of the given input.
func (pb *PopulatedBlock) OutPointMeta(txIndex, inputIndex int) *OutPointMeta {
	return &pb.outMeta[txIndex][inputIndex]
}

// HasOutPointMeta returns whether the given input's metadata was written by
// the pipeline.
func (pb *PopulatedBlock) HasOutPointMeta(txIndex, inputIndex int) bool {
	return pb.hasMeta[txIndex][inputIndex]
}

// TxMeta returns the metadata of the transaction at the given position.
func (pb *PopulatedBlock) TxMeta(txIndex int) *TxMeta {
	return &pb.txMeta[txIndex]
}

// setOutPointMeta writes the metadata of an input. Each (block, input)
// instance is written exactly once, by the single bucket that owns the
// input position, so no synchronization is required.
func (pb *PopulatedBlock) setOutPointMeta(txIndex, inputIndex int, meta OutPointMeta) {
	pb.outMeta[txIndex][inputIndex] = meta
	pb.hasMeta[txIndex][inputIndex] = true
}

// BlockPopulator attaches previous output and confirmation metadata to
// every transaction input of a block, in parallel, against a forked view of
// the chain.
type BlockPopulator struct {
	dispatch *dispatch.Concurrent
	chain    FastChainReader
	states   *ChainStatePopulator
}

// NewBlockPopulator returns a populator fanning work out on the given
// concurrent dispatcher.
func NewBlockPopulator(d *dispatch.Concurrent, chain FastChainReader,
	states *ChainStatePopulator) *BlockPopulator {

	return &BlockPopulator{
		dispatch: d,
		chain:    chain,
		states:   states,
	}
}

// Populate computes the chain state for the block at the top of the branch
// and attaches metadata to all of its transaction inputs. The fork height
// is the branch root; confirmed transactions above it are treated as pool
// transactions for validation purposes.
//
// The returned error carries ErrOperationFailed when the chain state cannot
// be derived. A block under a checkpoint is returned populated with its
// state only, since input metadata is not required there.
func (p *BlockPopulator) Populate(block *wire.MsgBlock,
	branch *HeaderBranch) (*PopulatedBlock, error) {

	pb := newPopulatedBlock(block)
	pb.StartPopulate = time.Now()

	state := p.states.PopulateBranch(branch)
	if state == nil {
		return nil, ruleError(ErrOperationFailed, "chain state could not "+
			"be derived for block population")
	}
	pb.State = state

	// Blocks under a checkpoint are not connected, so input metadata is
	// not required.
	if state.IsUnderCheckpoint() {
		return pb, nil
	}

	forkHeight := branch.ForkHeight()
	p.populateCoinbase(pb, forkHeight)

	nonCoinbaseInputs := block.TotalNonCoinbaseInputs()
	if nonCoinbaseInputs == 0 {
		return pb, nil
	}

	buckets := p.dispatch.Size()
	if buckets > nonCoinbaseInputs {
		buckets = nonCoinbaseInputs
	}

	tasks := make([]func() error, buckets)
	for bucket := 0; bucket < buckets; bucket++ {
		bucket := bucket
		tasks[bucket] = func() error {
			p.populateBucket(pb, forkHeight, bucket, buckets)
			return nil
		}
	}

	if err := p.dispatch.Execute(tasks); err != nil {
		return nil, err
	}

	return pb, nil
}

// populateCoinbase initializes the coinbase input for subsequent
// validation. A coinbase input originates coin: it cannot be a double
// spend, is confirmed iff its block is valid, references no previous output
// and is always mature.
func (p *BlockPopulator) populateCoinbase(pb *PopulatedBlock, forkHeight uint64) {
	pb.setOutPointMeta(0, 0, OutPointMeta{
		Cache:          &wire.TxOut{},
		Spent:          false,
		Confirmed:      true,
		CoinbaseHeight: UnspecifiedHeight,
	})

	coinbase := pb.Block.Transactions[0]
	pb.txMeta[0] = p.chain.PopulateTransaction(coinbase,
		pb.State.EnabledForks(), forkHeight)
}

// populateBucket performs the per-transaction and per-input passes for one
// bucket. Bucket work is disjoint by construction: distinct transaction
// positions and distinct input positions, so metadata writes need no
// synchronization.
func (p *BlockPopulator) populateBucket(pb *PopulatedBlock, forkHeight uint64,
	bucket, buckets int) {

	txs := pb.Block.Transactions
	state := pb.State

	// Skip the coinbase position as it is already accounted for.
	first := bucket
	if bucket == 0 {
		first = buckets
	}

	// If collisions are allowed there is no need to test for them, and
	// when the chain is stale the pool optimization is not worth the
	// queries.
	if !p.chain.IsBlocksStale() ||
		!state.IsEnabled(chaincfg.ForkAllowCollisions) {

		forks := state.EnabledForks()
		for position := first; position < len(txs); position += buckets {
			pb.txMeta[position] = p.chain.PopulateTransaction(
				txs[position], forks, forkHeight)
		}
	}

	// Per-input pass over every non-coinbase input, indexed by global
	// input position.
	inputPosition := 0
	for txIndex := 1; txIndex < len(txs); txIndex++ {
		for inputIndex := range txs[txIndex].TxIn {
			position := inputPosition
			inputPosition++

			if position%buckets != bucket {
				continue
			}

			prevout := &txs[txIndex].TxIn[inputIndex].PreviousOutPoint
			meta := p.chain.PopulateOutput(prevout, forkHeight)
			pb.setOutPointMeta(txIndex, inputIndex, meta)
		}
	}
}
