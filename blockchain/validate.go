// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/dispatch"
	"github.com/argentumnet/argentumd/txscript"
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

const (
	// MaxSigOpsPerBlock is the maximum number of signature operations
	// allowed for a block. It is a fraction of the max block payload
	// size.
	MaxSigOpsPerBlock = wire.MaxBlockPayload / 50

	// MaxTimeOffsetSeconds is the maximum number of seconds a block time
	// is allowed to be ahead of the current time. This is currently 2
	// hours.
	MaxTimeOffsetSeconds = 2 * 60 * 60

	// MinCoinbaseScriptLen is the minimum length a coinbase script can
	// be.
	MinCoinbaseScriptLen = 2

	// MaxCoinbaseScriptLen is the maximum length a coinbase script can
	// be.
	MaxCoinbaseScriptLen = 100

	// baseSubsidy is the starting subsidy amount for mined blocks. This
	// value is halved every SubsidyReductionInterval blocks.
	baseSubsidy = 50 * chaincfg.SatoshiPerCoin
)

// ValidatorConfig is the capability record injected into a block validator.
// Tests substitute in-memory fakes for the chain reader and a recording
// stub for the script executor.
type ValidatorConfig struct {
	// Dispatch supplies the worker slots for data-parallel checks.
	Dispatch *dispatch.Concurrent

	// Chain is the fast chain read interface.
	Chain FastChainReader

	// Params identifies the network.
	Params *chaincfg.Params

	// ExecuteScript validates an input against the script of the output
	// it spends.
	ExecuteScript ScriptExecutor

	// Stopped is polled at every check boundary; validation unwinds with
	// ErrServiceStopped once it returns true.
	Stopped func() bool

	// TimeSource returns the current time in unix seconds. When nil the
	// wall clock is used.
	TimeSource func() uint32
}

// BlockValidator performs the three validation phases of a block: context
// free checks, contextual acceptance checks, and input connection checks.
// Every entry point completes with exactly one error value; a nil error is
// the success completion.
type BlockValidator struct {
	dispatch      *dispatch.Concurrent
	chain         FastChainReader
	params        *chaincfg.Params
	executeScript ScriptExecutor
	stopped       func() bool
	now           func() uint32
}

// NewBlockValidator returns a validator using the given capabilities.
func NewBlockValidator(config *ValidatorConfig) *BlockValidator {
	stopped := config.Stopped
	if stopped == nil {
		stopped = func() bool { return false }
	}
	now := config.TimeSource
	if now == nil {
		now = func() uint32 { return uint32(time.Now().Unix()) }
	}

	return &BlockValidator{
		dispatch:      config.Dispatch,
		chain:         config.Chain,
		params:        config.Params,
		executeScript: config.ExecuteScript,
		stopped:       stopped,
		now:           now,
	}
}

// CalcBlockSubsidy returns the subsidy amount a block at the provided
// height should have. The subsidy is halved every SubsidyReductionInterval
// blocks.
func CalcBlockSubsidy(height uint64, params *chaincfg.Params) uint64 {
	if params.SubsidyReductionInterval == 0 {
		return baseSubsidy
	}

	// Equivalent to: baseSubsidy / 2^(height/SubsidyReductionInterval)
	return baseSubsidy >> uint(height/params.SubsidyReductionInterval)
}

// CheckTransactionSanity performs preliminary checks on a transaction to
// ensure it is sane. These checks are context free.
func CheckTransactionSanity(tx *wire.MsgTx) error {
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return ruleError(ErrEmptyTransaction, "transaction has no inputs "+
			"or no outputs")
	}

	// Ensure the transaction amounts are in range. Each transaction
	// output must not be more than the max allowed per transaction, and
	// the total of all outputs must abide by the same restriction.
	var totalSatoshi uint64
	for _, txOut := range tx.TxOut {
		if txOut.Value > chaincfg.MaxSatoshi {
			str := fmt.Sprintf("transaction output value of %d is "+
				"higher than max allowed value of %d", txOut.Value,
				uint64(chaincfg.MaxSatoshi))
			return ruleError(ErrOutputValueOverflow, str)
		}

		newTotalSatoshi := totalSatoshi + txOut.Value
		if newTotalSatoshi < totalSatoshi ||
			newTotalSatoshi > chaincfg.MaxSatoshi {
			str := fmt.Sprintf("total value of all transaction outputs "+
				"exceeds max allowed value of %d",
				uint64(chaincfg.MaxSatoshi))
			return ruleError(ErrOutputValueOverflow, str)
		}
		totalSatoshi = newTotalSatoshi
	}

	// Check for duplicate transaction inputs.
	existingTxOut := make(map[wire.OutPoint]struct{})
	for _, txIn := range tx.TxIn {
		if _, exists := existingTxOut[txIn.PreviousOutPoint]; exists {
			return ruleError(ErrDuplicate, "transaction contains "+
				"duplicate inputs")
		}
		existingTxOut[txIn.PreviousOutPoint] = struct{}{}
	}

	if tx.IsCoinBase() {
		// Coinbase script length must be between min and max length.
		slen := len(tx.TxIn[0].SignatureScript)
		if slen < MinCoinbaseScriptLen || slen > MaxCoinbaseScriptLen {
			str := fmt.Sprintf("coinbase transaction script length of "+
				"%d is out of range (min: %d, max: %d)", slen,
				MinCoinbaseScriptLen, MaxCoinbaseScriptLen)
			return ruleError(ErrCoinbaseScriptSize, str)
		}
	} else {
		// Previous transaction outputs referenced by the inputs to
		// this transaction must not be null.
		for _, txIn := range tx.TxIn {
			if txIn.PreviousOutPoint.IsNull() {
				return ruleError(ErrPreviousOutputNull, "transaction "+
					"input refers to previous output that is null")
			}
		}
	}

	return nil
}

// legacySigOpsCount returns the number of signature operations in all input
// and output scripts of the transactions, using the pessimistic counting
// mode.
func legacySigOpsCount(transactions []*wire.MsgTx) int {
	totalSigOps := 0
	for _, tx := range transactions {
		for _, txIn := range tx.TxIn {
			totalSigOps += txscript.GetSigOpCount(txIn.SignatureScript)
		}
		for _, txOut := range tx.TxOut {
			totalSigOps += txscript.GetSigOpCount(txOut.PkScript)
		}
	}
	return totalSigOps
}

// isDistinctTxSet returns whether every transaction hash occurs exactly
// once. Distinctness is tested over the full set, not merely adjacent
// entries.
func isDistinctTxSet(transactions []*wire.MsgTx) bool {
	existing := make(map[chainhash.Hash]struct{}, len(transactions))
	for _, tx := range transactions {
		hash := tx.TxHash()
		if _, ok := existing[hash]; ok {
			return false
		}
		existing[hash] = struct{}{}
	}
	return true
}

// CheckBlock performs the checks that are independent of the block chain.
// These can be validated before storing an orphan block. The first failure
// wins and the stop predicate is consulted between checks.
func (v *BlockValidator) CheckBlock(block *wire.MsgBlock) error {
	transactions := block.Transactions
	if len(transactions) == 0 || len(transactions) > wire.MaxBlockPayload ||
		block.SerializeSize() > wire.MaxBlockPayload {
		return ruleError(ErrSizeLimits, "block violates size limits")
	}

	header := &block.Header
	hash := header.BlockHash()
	if !CheckProofOfWork(&hash, header.Bits, v.params.PowLimit) {
		str := fmt.Sprintf("block hash of %s does not meet its claimed "+
			"target", hash)
		return ruleError(ErrProofOfWork, str)
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	if header.Timestamp > v.now()+MaxTimeOffsetSeconds {
		str := fmt.Sprintf("block timestamp of %d is too far in the "+
			"future", header.Timestamp)
		return ruleError(ErrFuturisticTimestamp, str)
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	if !transactions[0].IsCoinBase() {
		return ruleError(ErrFirstNotCoinbase, "first transaction in "+
			"block is not a coinbase")
	}

	for i, tx := range transactions[1:] {
		if v.stopped() {
			return ruleError(ErrServiceStopped, "validation stopped")
		}
		if tx.IsCoinBase() {
			str := fmt.Sprintf("block contains second coinbase at "+
				"index %d", i+1)
			return ruleError(ErrExtraCoinbases, str)
		}
	}

	for _, tx := range transactions {
		if v.stopped() {
			return ruleError(ErrServiceStopped, "validation stopped")
		}
		if err := CheckTransactionSanity(tx); err != nil {
			return err
		}
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	if !isDistinctTxSet(transactions) {
		return ruleError(ErrDuplicate, "block contains duplicate "+
			"transactions")
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	if sigOps := legacySigOpsCount(transactions); sigOps > MaxSigOpsPerBlock {
		str := fmt.Sprintf("block contains too many signature operations "+
			"- got %d, max %d", sigOps, MaxSigOpsPerBlock)
		return ruleError(ErrTooManySigs, str)
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	if merkleRoot := CalcMerkleRoot(transactions); header.MerkleRoot != merkleRoot {
		str := fmt.Sprintf("block merkle root is invalid - header "+
			"indicates %s, but calculated value is %s",
			header.MerkleRoot, merkleRoot)
		return ruleError(ErrMerkleMismatch, str)
	}

	return nil
}

// validateCheckpoint returns whether the block hash matches the checkpoint
// registered at its height. Heights without a checkpoint always validate.
func validateCheckpoint(blockHash *chainhash.Hash, height uint64,
	checkpoints []chaincfg.Checkpoint) bool {

	for i := range checkpoints {
		if checkpoints[i].Height == height {
			return checkpoints[i].Hash.IsEqual(blockHash)
		}
	}
	return true
}

// checkSerializedHeight checks that the coinbase signature script begins
// with the canonical script number push of the expected block height.
func checkSerializedHeight(coinbase *wire.MsgTx, height uint64) error {
	sigScript := coinbase.TxIn[0].SignatureScript
	expect := txscript.MakeScriptNumPush(int64(height))

	if len(sigScript) < len(expect) || !bytes.Equal(sigScript[:len(expect)], expect) {
		str := fmt.Sprintf("the coinbase signature script does not begin "+
			"with the serialized block height %d", height)
		return ruleError(ErrCoinbaseHeightMismatch, str)
	}
	return nil
}

// AcceptBlock performs the validation checks that require the chain state
// at the block's height.
func (v *BlockValidator) AcceptBlock(pb *PopulatedBlock) error {
	header := &pb.Block.Header
	state := pb.State
	height := state.Height()

	if header.Bits != state.WorkRequired() {
		str := fmt.Sprintf("block difficulty of %08x is not the expected "+
			"value of %08x", header.Bits, state.WorkRequired())
		return ruleError(ErrIncorrectProofOfWork, str)
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	if header.Timestamp <= state.MedianTimePast() {
		str := fmt.Sprintf("block timestamp of %d is not after the "+
			"median time past of %d", header.Timestamp,
			state.MedianTimePast())
		return ruleError(ErrTimestampTooEarly, str)
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	for _, tx := range pb.Block.Transactions {
		// Transactions must be final when included in a block.
		if !tx.IsFinal(height, header.Timestamp) {
			str := fmt.Sprintf("block contains unfinalized transaction %s",
				tx.TxHash())
			return ruleError(ErrNonFinalTransaction, str)
		}

		if v.stopped() {
			return ruleError(ErrServiceStopped, "validation stopped")
		}
	}

	// Ensure the block passes checkpoints. This is both DOS protection
	// and a performance optimization during sync.
	blockHash := header.BlockHash()
	if !validateCheckpoint(&blockHash, height, v.params.Checkpoints) {
		str := fmt.Sprintf("block at height %d does not match checkpoint "+
			"hash", height)
		return ruleError(ErrCheckpointsFailed, str)
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	if header.Version < 2 && height > v.params.MaxVersion1Height {
		str := fmt.Sprintf("version 1 block at height %d above the "+
			"version switchover height %d", height,
			v.params.MaxVersion1Height)
		return ruleError(ErrOldVersionBlock, str)
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}
	if header.Version >= 2 && height > v.params.MaxVersion1Height {
		coinbase := pb.Block.Transactions[0]
		if err := checkSerializedHeight(coinbase, height); err != nil {
			return err
		}
	}

	return nil
}

// connectContext carries the accumulators shared by the parallel input
// connection tasks of one block.
type connectContext struct {
	pb          *PopulatedBlock
	height      uint64
	spenders    map[wire.OutPoint]inputPosition
	totalSigOps int64
	totalFees   uint64
}

// inputPosition identifies an input within a block.
type inputPosition struct {
	txIndex    int
	inputIndex int
}

// ConnectBlock performs the validation checks that require populated
// previous output metadata: the duplicate transaction rule, signature
// operation accounting, value and maturity rules, script validation, double
// spend detection and the block fee tally.
func (v *BlockValidator) ConnectBlock(pb *PopulatedBlock) error {
	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}

	height := pb.State.Height()
	transactions := pb.Block.Transactions

	// Blocks are not allowed to contain a transaction whose identifier
	// matches that of an earlier, not fully spent transaction in the
	// same chain. Two historical violations are buried under checkpoints
	// and exempted.
	skipDuplicateRule := height == v.params.BIP30ExceptionHeights[0] ||
		height == v.params.BIP30ExceptionHeights[1]
	if !skipDuplicateRule {
		if err := v.checkSpentDuplicates(pb); err != nil {
			return err
		}
	}

	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}

	// Identify the unique spender of every outpoint up front. A
	// collision here is an intra-block double spend and needs no chain
	// query at all.
	ctx := &connectContext{
		pb:       pb,
		height:   height,
		spenders: make(map[wire.OutPoint]inputPosition),
	}
	for txIndex := 1; txIndex < len(transactions); txIndex++ {
		for inputIndex, txIn := range transactions[txIndex].TxIn {
			position := inputPosition{txIndex, inputIndex}
			if _, ok := ctx.spenders[txIn.PreviousOutPoint]; ok {
				str := fmt.Sprintf("block double spends outpoint %s:%d",
					txIn.PreviousOutPoint.Hash,
					txIn.PreviousOutPoint.Index)
				return ruleError(ErrValidateInputsFailed, str)
			}
			ctx.spenders[txIn.PreviousOutPoint] = position
		}
	}

	// Validate the inputs of each non-coinbase transaction in parallel.
	tasks := make([]func() error, 0, len(transactions)-1)
	for txIndex := 1; txIndex < len(transactions); txIndex++ {
		txIndex := txIndex
		tasks = append(tasks, func() error {
			return v.connectTransaction(ctx, txIndex)
		})
	}
	if err := v.dispatch.Execute(tasks); err != nil {
		return err
	}

	// The total output value of the coinbase must not exceed the
	// expected subsidy plus the fees gained from the block.
	coinbaseValue := transactions[0].TotalOutputValue()
	expectedValue := CalcBlockSubsidy(height, v.params) + ctx.totalFees
	if coinbaseValue > expectedValue {
		str := fmt.Sprintf("coinbase transaction for block pays %d which "+
			"is more than the expected value of %d", coinbaseValue,
			expectedValue)
		return ruleError(ErrValidateInputsFailed, str)
	}

	return nil
}

// checkSpentDuplicates applies the duplicate transaction rule to every
// transaction of the block in parallel: a transaction whose id already
// exists in the indexed chain is only allowed when every output of the
// earlier transaction is spent.
func (v *BlockValidator) checkSpentDuplicates(pb *PopulatedBlock) error {
	transactions := pb.Block.Transactions

	tasks := make([]func() error, 0, len(transactions))
	for txIndex := range transactions {
		txIndex := txIndex
		tasks = append(tasks, func() error {
			if v.stopped() {
				return ruleError(ErrServiceStopped, "validation stopped")
			}

			if !pb.TxMeta(txIndex).Duplicate {
				return nil
			}

			tx := transactions[txIndex]
			hash := tx.TxHash()
			for outputIndex := range tx.TxOut {
				outpoint := wire.OutPoint{
					Hash:  hash,
					Index: uint32(outputIndex),
				}
				if !v.chain.IsOutputSpent(&outpoint) {
					str := fmt.Sprintf("block overwrites transaction "+
						"%s that is not fully spent", hash)
					return ruleError(ErrDuplicateOrSpent, str)
				}
			}
			return nil
		})
	}

	return v.dispatch.Execute(tasks)
}

// connectTransaction runs the input connection checks for one transaction,
// accumulating its fee into the block tally.
func (v *BlockValidator) connectTransaction(ctx *connectContext, txIndex int) error {
	if v.stopped() {
		return ruleError(ErrServiceStopped, "validation stopped")
	}

	tx := ctx.pb.Block.Transactions[txIndex]

	var valueIn uint64
	for inputIndex := range tx.TxIn {
		if err := v.connectInput(ctx, txIndex, inputIndex, &valueIn); err != nil {
			log.Warnf("Invalid input [%s:%d]: %s", tx.TxHash(),
				inputIndex, err)
			return err
		}
	}

	// The fee is non-negative by the valueIn >= valueOut check below.
	valueOut := tx.TotalOutputValue()
	if valueIn < valueOut {
		str := fmt.Sprintf("transaction %s spends %d with only %d in",
			tx.TxHash(), valueOut, valueIn)
		return ruleError(ErrValidateInputsFailed, str)
	}
	atomic.AddUint64(&ctx.totalFees, valueIn-valueOut)

	return nil
}

// connectInput validates a single input against its populated previous
// output metadata.
func (v *BlockValidator) connectInput(ctx *connectContext, txIndex,
	inputIndex int, valueIn *uint64) error {

	pb := ctx.pb
	tx := pb.Block.Transactions[txIndex]
	txIn := tx.TxIn[inputIndex]
	meta := pb.OutPointMeta(txIndex, inputIndex)

	// The previous output must have been found and confirmed at or below
	// the fork height.
	if meta.Cache == nil || !meta.Confirmed {
		str := fmt.Sprintf("input %s:%d references a missing or "+
			"unconfirmed output", txIn.PreviousOutPoint.Hash,
			txIn.PreviousOutPoint.Index)
		return ruleError(ErrValidateInputsFailed, str)
	}

	// Count the precise pay-to-script-hash signature operations against
	// the block limit. A malformed redeem script fails the input.
	if txscript.IsPayToScriptHash(meta.Cache.PkScript) {
		sigOps, err := txscript.GetPreciseSigOpCount(
			txIn.SignatureScript, meta.Cache.PkScript)
		if err != nil {
			return ruleError(ErrValidateInputsFailed,
				"invalid script-hash redeem script")
		}
		total := atomic.AddInt64(&ctx.totalSigOps, int64(sigOps))
		if total > MaxSigOpsPerBlock {
			str := fmt.Sprintf("block contains too many signature "+
				"operations - got %d, max %d", total, MaxSigOpsPerBlock)
			return ruleError(ErrTooManySigs, str)
		}
	}

	if meta.Cache.Value > chaincfg.MaxSatoshi {
		return ruleError(ErrValidateInputsFailed, "output money exceeds "+
			"the maximum amount")
	}

	// A coinbase product must have reached maturity.
	if meta.CoinbaseHeight != UnspecifiedHeight {
		heightDifference := ctx.height - meta.CoinbaseHeight
		if heightDifference < v.params.CoinbaseMaturity {
			str := fmt.Sprintf("tried to spend coinbase output %s:%d "+
				"from height %d at height %d before required maturity "+
				"of %d blocks", txIn.PreviousOutPoint.Hash,
				txIn.PreviousOutPoint.Index, meta.CoinbaseHeight,
				ctx.height, v.params.CoinbaseMaturity)
			return ruleError(ErrValidateInputsFailed, str)
		}
	}

	// Run the consensus script executor over the spend.
	if !v.executeScript(meta.Cache.PkScript, tx, inputIndex,
		&pb.Block.Header, ctx.height) {
		return ruleError(ErrValidateInputsFailed, "input script failed "+
			"consensus validation")
	}

	// Search for double spends: against the chain, and against any other
	// input of this block. The spender map holds exactly one position
	// per outpoint, so a differing position is another input's spend.
	if meta.Spent {
		return ruleError(ErrValidateInputsFailed, "output is already "+
			"spent by a confirmed transaction")
	}
	position := ctx.spenders[txIn.PreviousOutPoint]
	if position.txIndex != txIndex || position.inputIndex != inputIndex {
		return ruleError(ErrValidateInputsFailed, "output is spent by "+
			"another input of the block")
	}

	*valueIn += meta.Cache.Value
	if *valueIn > chaincfg.MaxSatoshi {
		return ruleError(ErrValidateInputsFailed, "input money exceeds "+
			"the maximum amount")
	}

	return nil
}
