// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/argentumnet/argentumd/blockchain"
	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/dispatch"
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// Config is the configuration injected into a transaction pool.
type Config struct {
	// Chain is the fast chain read interface used to resolve inputs.
	Chain blockchain.FastChainReader

	// Organizer emits the fork events the pool reconciles against.
	Organizer *blockchain.Organizer

	// Writer, when set, receives successfully validated transactions
	// through its push operation so they are indexed for relay.
	Writer blockchain.FastChainWriter

	// Params identifies the network.
	Params *chaincfg.Params

	// ExecuteScript validates an input against the script of the output
	// it spends.
	ExecuteScript blockchain.ScriptExecutor

	// Capacity is the fixed number of entries the pool ring holds.
	Capacity int
}

// entry is one pooled transaction. The hash is precomputed to make lookups
// faster.
type entry struct {
	hash      chainhash.Hash
	tx        *wire.MsgTx
	onConfirm func(error)
}

// TxPool is a bounded ring of unconfirmed transactions kept consistent with
// the indexed chain across reorganizations. All operations are serialized
// through an ordered dispatcher; the ring has a single writer.
type TxPool struct {
	cfg     Config
	ordered *dispatch.Ordered
	buffer  []entry
	running bool
}

// New returns a transaction pool using the given configuration. Start must
// be called before use.
func New(cfg *Config) *TxPool {
	return &TxPool{
		cfg:     *cfg,
		ordered: dispatch.NewOrdered(),
		buffer:  make([]entry, 0, cfg.Capacity),
	}
}

// Start launches the pool dispatcher and subscribes to reorganization
// events.
func (mp *TxPool) Start() {
	mp.ordered.Start()
	mp.ordered.Do(func() {
		mp.running = true
	})
	mp.subscribe()
}

// Stop terminates the pool dispatcher. Pending entries are retained but no
// further operations run.
func (mp *TxPool) Stop() {
	mp.ordered.Do(func() {
		mp.running = false
	})
	mp.ordered.Stop()
}

// Validate runs transaction level validation and reports the indexes of
// inputs that were resolved against the pool rather than the chain,
// together with the error code.
func (mp *TxPool) Validate(tx *wire.MsgTx,
	handler func(unconfirmed []uint32, err error)) {

	mp.ordered.Do(func() {
		if !mp.running {
			handler(nil, ruleError(blockchain.ErrServiceStopped,
				"transaction pool stopped"))
			return
		}
		handler(mp.validateTransaction(tx))
	})
}

// Store validates the transaction and admits it to the ring on success.
// When the ring is full the displaced entry's confirmation handler fires
// with ErrPoolFilled. The onConfirm handler of the new entry fires when the
// transaction leaves the pool: confirmation in a block, reorganization, or
// displacement.
func (mp *TxPool) Store(tx *wire.MsgTx, onConfirm func(error),
	handleValidate func(unconfirmed []uint32, err error)) {

	mp.ordered.Do(func() {
		if !mp.running {
			handleValidate(nil, ruleError(blockchain.ErrServiceStopped,
				"transaction pool stopped"))
			return
		}

		unconfirmed, err := mp.validateTransaction(tx)
		if err != nil {
			handleValidate(unconfirmed, err)
			return
		}

		// When new entries are added to the ring any entry at the
		// front is dropped and its owner notified. There is no
		// guarantee the displaced transaction will confirm.
		if len(mp.buffer) == cap(mp.buffer) {
			displaced := mp.buffer[0]
			mp.buffer = append(mp.buffer[:0], mp.buffer[1:]...)
			if displaced.onConfirm != nil {
				displaced.onConfirm(ruleError(blockchain.ErrPoolFilled,
					"entry displaced by a newly arrived transaction"))
			}
		}

		mp.buffer = append(mp.buffer, entry{
			hash:      tx.TxHash(),
			tx:        tx,
			onConfirm: onConfirm,
		})
		log.Debugf("Transaction saved to mempool (%d)", len(mp.buffer))

		if mp.cfg.Writer != nil {
			mp.cfg.Writer.PushTransaction(tx, func(err error) {
				if err != nil {
					log.Warnf("Failed to index pooled transaction %s: %s",
						tx.TxHash(), err)
				}
			})
		}

		handleValidate(unconfirmed, nil)
	})
}

// Fetch returns the pooled transaction with the given hash through the
// handler, or ErrNotFound.
func (mp *TxPool) Fetch(hash *chainhash.Hash,
	handler func(*wire.MsgTx, error)) {

	mp.ordered.Do(func() {
		if !mp.running {
			handler(nil, ruleError(blockchain.ErrServiceStopped,
				"transaction pool stopped"))
			return
		}

		if i := mp.find(hash); i >= 0 {
			handler(mp.buffer[i].tx, nil)
			return
		}
		handler(nil, ruleError(blockchain.ErrNotFound,
			"transaction is not in the pool"))
	})
}

// Exists reports through the handler whether the pool holds the hash.
func (mp *TxPool) Exists(hash *chainhash.Hash, handler func(bool)) {
	mp.ordered.Do(func() {
		handler(mp.find(hash) >= 0)
	})
}

// Size reports the number of pooled entries through the handler.
func (mp *TxPool) Size(handler func(int)) {
	mp.ordered.Do(func() {
		handler(len(mp.buffer))
	})
}

// find returns the buffer index of the hash, or -1. Linear scan: the ring
// is small and bounded.
func (mp *TxPool) find(hash *chainhash.Hash) int {
	for i := range mp.buffer {
		if mp.buffer[i].hash == *hash {
			return i
		}
	}
	return -1
}

// handleReorganize reconciles the pool with a fork event and re-subscribes
// for the next one.
func (mp *TxPool) handleReorganize(err error, forkPoint uint64,
	incoming, outgoing []*wire.MsgBlock) {

	if err != nil {
		log.Debugf("Stopping transaction pool: %s", err)
		mp.Stop()
		return
	}

	log.Debugf("Reorganize: new blocks (%d) replace blocks (%d)",
		len(incoming), len(outgoing))

	if len(outgoing) == 0 {
		mp.ordered.Do(func() {
			mp.deleteConfirmed(incoming)
		})
	} else {
		mp.ordered.Do(func() {
			mp.invalidatePool()
		})
	}

	mp.subscribe()
}

// subscribe registers for the next fork event. The organizer collaborator
// is optional; an embedder may drive reconciliation directly.
func (mp *TxPool) subscribe() {
	if mp.cfg.Organizer != nil {
		mp.cfg.Organizer.SubscribeReorganize(mp.handleReorganize)
	}
}

// deleteConfirmed removes every pooled transaction that was confirmed by a
// pure chain extension, firing its confirmation handler with success.
func (mp *TxPool) deleteConfirmed(incoming []*wire.MsgBlock) {
	if !mp.running || len(mp.buffer) == 0 {
		return
	}

	for _, block := range incoming {
		for _, tx := range block.Transactions {
			hash := tx.TxHash()
			mp.tryDeleteTx(&hash)
		}
	}
}

// tryDeleteTx removes the entry with the given hash when present, firing
// its confirmation handler with success.
func (mp *TxPool) tryDeleteTx(hash *chainhash.Hash) {
	i := mp.find(hash)
	if i < 0 {
		return
	}

	removed := mp.buffer[i]
	mp.buffer = append(mp.buffer[:i], mp.buffer[i+1:]...)
	if removed.onConfirm != nil {
		removed.onConfirm(nil)
	}
}

// invalidatePool clears the ring after a true reorganization. Every entry's
// confirmation handler observes ErrBlockchainReorganized exactly once.
func (mp *TxPool) invalidatePool() {
	if !mp.running {
		return
	}

	for i := range mp.buffer {
		if mp.buffer[i].onConfirm != nil {
			mp.buffer[i].onConfirm(ruleError(
				blockchain.ErrBlockchainReorganized,
				"entry invalidated by chain reorganization"))
		}
	}
	mp.buffer = mp.buffer[:0]
}
