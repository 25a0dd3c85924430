package mempool

import (
	"fmt"

	"github.com/argentumnet/argentumd/blockchain"
	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/wire"
)

// ruleError creates a blockchain.RuleError. The pool shares the chain error
// vocabulary so callers observe a single flat code space.
func ruleError(c blockchain.ErrorCode, desc string) blockchain.RuleError {
	return blockchain.RuleError{ErrorCode: c, Description: desc}
}

// validateTransaction runs transaction level validation against the pool
// context and the indexed chain: context free checks, duplicate and double
// spend detection, input resolution with pool fallback, script validation
// and the fee tally. It returns the indexes of inputs resolved against the
// pool; when an input fails, it returns that input's index instead.
//
// Callers hold the ordered dispatcher, so the ring may be read freely.
func (mp *TxPool) validateTransaction(tx *wire.MsgTx) ([]uint32, error) {
	if err := blockchain.CheckTransactionSanity(tx); err != nil {
		return nil, err
	}

	if tx.IsCoinBase() {
		return nil, ruleError(blockchain.ErrCoinbaseTransaction,
			"coinbase transactions are only valid within a block")
	}

	txHash := tx.TxHash()
	if mp.find(&txHash) >= 0 {
		return nil, ruleError(blockchain.ErrDuplicate,
			"transaction is already in the pool")
	}

	// Check for duplicates in the indexed chain.
	switch mp.cfg.Chain.TransactionStatus(&txHash) {
	case blockchain.TxStatusConfirmed, blockchain.TxStatusIndexed:
		return nil, ruleError(blockchain.ErrDuplicate,
			"transaction is already indexed")
	}

	if mp.isSpentInPool(tx) {
		return nil, ruleError(blockchain.ErrDoubleSpend,
			"transaction double spends a pool transaction")
	}

	// The top height anchors the coinbase maturity check.
	lastHeight, ok := mp.cfg.Chain.TopHeight(true)
	if !ok {
		return nil, ruleError(blockchain.ErrOperationFailed,
			"chain height is unavailable")
	}

	var unconfirmed []uint32
	var valueIn uint64
	for inputIndex, txIn := range tx.TxIn {
		prevOut := &txIn.PreviousOutPoint

		prevTx, prevHeight, found := mp.cfg.Chain.FetchTransaction(&prevOut.Hash)
		if !found {
			// Fall back to the pool for the parent. Pool parents are
			// unconfirmed, which is reported to the caller, and can
			// never be coinbase.
			poolIndex := mp.find(&prevOut.Hash)
			if poolIndex < 0 {
				return []uint32{uint32(inputIndex)}, ruleError(
					blockchain.ErrInputNotFound, fmt.Sprintf(
						"input %d references unknown transaction %s",
						inputIndex, prevOut.Hash))
			}
			prevTx = mp.buffer[poolIndex].tx
			prevHeight = 0
			unconfirmed = append(unconfirmed, uint32(inputIndex))
		}

		err := mp.connectInput(tx, inputIndex, prevTx, prevHeight,
			lastHeight, &valueIn)
		if err != nil {
			return []uint32{uint32(inputIndex)}, err
		}

		// Search for double spends against the indexed chain.
		if mp.cfg.Chain.IsOutputSpent(prevOut) {
			return nil, ruleError(blockchain.ErrDoubleSpend,
				"transaction double spends a confirmed output")
		}
	}

	// Ensure the transaction does not spend more than its inputs.
	if valueIn < tx.TotalOutputValue() {
		return nil, ruleError(blockchain.ErrFeesOutOfRange, fmt.Sprintf(
			"transaction %s spends more than its inputs provide", txHash))
	}

	return unconfirmed, nil
}

// connectInput validates a single input against its resolved parent
// transaction.
func (mp *TxPool) connectInput(tx *wire.MsgTx, inputIndex int,
	prevTx *wire.MsgTx, prevHeight, lastHeight uint64,
	valueIn *uint64) error {

	txIn := tx.TxIn[inputIndex]
	prevOut := &txIn.PreviousOutPoint

	if prevOut.Index >= uint32(len(prevTx.TxOut)) {
		return ruleError(blockchain.ErrValidateInputsFailed, fmt.Sprintf(
			"input %d references output %d beyond the outputs of %s",
			inputIndex, prevOut.Index, prevOut.Hash))
	}
	prevTxOut := prevTx.TxOut[prevOut.Index]

	if prevTxOut.Value > chaincfg.MaxSatoshi {
		return ruleError(blockchain.ErrValidateInputsFailed,
			"output money exceeds the maximum amount")
	}

	// Coins originating in a coinbase must have matured.
	if prevTx.IsCoinBase() {
		if lastHeight-prevHeight < mp.cfg.Params.CoinbaseMaturity {
			return ruleError(blockchain.ErrValidateInputsFailed,
				fmt.Sprintf("immature coinbase spend attempt from "+
					"height %d at height %d", prevHeight, lastHeight))
		}
	}

	if !mp.cfg.ExecuteScript(prevTxOut.PkScript, tx, inputIndex, nil,
		lastHeight+1) {
		return ruleError(blockchain.ErrValidateInputsFailed,
			"input script failed consensus validation")
	}

	*valueIn += prevTxOut.Value
	if *valueIn > chaincfg.MaxSatoshi {
		return ruleError(blockchain.ErrValidateInputsFailed,
			"input money exceeds the maximum amount")
	}

	return nil
}

// isSpentInPool returns whether any input of the transaction is already
// spent by a pooled transaction.
func (mp *TxPool) isSpentInPool(tx *wire.MsgTx) bool {
	for _, txIn := range tx.TxIn {
		if mp.isOutputSpentInPool(&txIn.PreviousOutPoint) {
			return true
		}
	}
	return false
}

// isOutputSpentInPool returns whether the outpoint is spent by a pooled
// transaction.
func (mp *TxPool) isOutputSpentInPool(outpoint *wire.OutPoint) bool {
	for i := range mp.buffer {
		for _, txIn := range mp.buffer[i].tx.TxIn {
			if txIn.PreviousOutPoint == *outpoint {
				return true
			}
		}
	}
	return false
}
