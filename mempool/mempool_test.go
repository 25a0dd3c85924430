package mempool

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argentumnet/argentumd/blockchain"
	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// fakeReader is a minimal fast chain read interface for pool tests. Only
// the operations transaction validation touches carry state.
type fakeReader struct {
	height uint64
	txs    map[chainhash.Hash]fakeTx
	spent  map[wire.OutPoint]bool
}

type fakeTx struct {
	tx     *wire.MsgTx
	height uint64
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		height: 500,
		txs:    make(map[chainhash.Hash]fakeTx),
		spent:  make(map[wire.OutPoint]bool),
	}
}

// confirm indexes a transaction at the given height and returns its hash.
func (r *fakeReader) confirm(tx *wire.MsgTx, height uint64) chainhash.Hash {
	hash := tx.TxHash()
	r.txs[hash] = fakeTx{tx: tx, height: height}
	return hash
}

func (r *fakeReader) TopHeight(blockIndex bool) (uint64, bool) {
	return r.height, true
}

func (r *fakeReader) HeightByHash(hash *chainhash.Hash, blockIndex bool) (uint64, bool) {
	return 0, false
}

func (r *fakeReader) HashByHeight(height uint64, blockIndex bool) (*chainhash.Hash, bool) {
	return nil, false
}

func (r *fakeReader) Bits(height uint64, blockIndex bool) (uint32, bool) {
	return 0, false
}

func (r *fakeReader) Version(height uint64, blockIndex bool) (uint32, bool) {
	return 0, false
}

func (r *fakeReader) Timestamp(height uint64, blockIndex bool) (uint32, bool) {
	return 0, false
}

func (r *fakeReader) Work(maximum *big.Int, aboveHeight uint64, blockIndex bool) *big.Int {
	return new(big.Int)
}

func (r *fakeReader) BlockError(hash *chainhash.Hash) (blockchain.ErrorCode, bool) {
	return blockchain.ErrSuccess, false
}

func (r *fakeReader) TransactionError(hash *chainhash.Hash) (blockchain.ErrorCode, bool) {
	return blockchain.ErrSuccess, false
}

func (r *fakeReader) BlockStatus(hash *chainhash.Hash) blockchain.BlockStatus {
	return 0
}

func (r *fakeReader) TransactionStatus(hash *chainhash.Hash) blockchain.TxStatus {
	if _, ok := r.txs[*hash]; ok {
		return blockchain.TxStatusConfirmed
	}
	return blockchain.TxStatusMissing
}

func (r *fakeReader) PopulateHeader(header *wire.BlockHeader,
	forkHeight uint64) blockchain.HeaderMeta {
	return blockchain.HeaderMeta{Error: blockchain.ErrSuccess}
}

func (r *fakeReader) PopulateTransaction(tx *wire.MsgTx, forks uint32,
	forkHeight uint64) blockchain.TxMeta {
	return blockchain.TxMeta{}
}

func (r *fakeReader) PopulateOutput(outpoint *wire.OutPoint,
	forkHeight uint64) blockchain.OutPointMeta {
	return blockchain.OutPointMeta{CoinbaseHeight: blockchain.UnspecifiedHeight}
}

func (r *fakeReader) IsOutputSpent(outpoint *wire.OutPoint) bool {
	return r.spent[*outpoint]
}

func (r *fakeReader) FetchTransaction(hash *chainhash.Hash) (*wire.MsgTx, uint64, bool) {
	record, ok := r.txs[*hash]
	if !ok {
		return nil, 0, false
	}
	return record.tx, record.height, true
}

func (r *fakeReader) IsBlocksStale() bool { return false }

func (r *fakeReader) IsHeadersStale() bool { return false }

// fundingTx returns a non-coinbase transaction with one output.
func fundingTx(salt byte, value uint64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{salt, 0x01}},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(value, nil))
	return tx
}

// spendingTx returns a transaction spending the first output of parent.
func spendingTx(parent *wire.MsgTx, value uint64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: parent.TxHash()},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(value, nil))
	return tx
}

// newTestPool assembles a started pool of the given capacity over the
// reader. The organizer collaborator is only needed for subscription, so
// tests drive reorganization events directly.
func newTestPool(t *testing.T, chain *fakeReader, capacity int) *TxPool {
	t.Helper()
	params := chaincfg.MainNetParams

	pool := New(&Config{
		Chain:  chain,
		Params: &params,
		ExecuteScript: func([]byte, *wire.MsgTx, int, *wire.BlockHeader,
			uint64) bool {
			return true
		},
		Capacity: capacity,
	})

	pool.ordered.Start()
	pool.ordered.Do(func() { pool.running = true })
	t.Cleanup(pool.Stop)
	return pool
}

// storeWait stores a transaction and waits for the validation handler.
func storeWait(t *testing.T, pool *TxPool, tx *wire.MsgTx,
	onConfirm func(error)) ([]uint32, error) {

	t.Helper()
	type result struct {
		unconfirmed []uint32
		err         error
	}
	done := make(chan result, 1)
	pool.Store(tx, onConfirm, func(unconfirmed []uint32, err error) {
		done <- result{unconfirmed, err}
	})

	select {
	case r := <-done:
		return r.unconfirmed, r.err
	case <-time.After(10 * time.Second):
		t.Fatal("pool store did not complete")
		return nil, nil
	}
}

// poolSize reads the pool size synchronously.
func poolSize(t *testing.T, pool *TxPool) int {
	t.Helper()
	done := make(chan int, 1)
	pool.Size(func(size int) { done <- size })
	select {
	case size := <-done:
		return size
	case <-time.After(10 * time.Second):
		t.Fatal("pool size query did not complete")
		return 0
	}
}

// TestPoolStoreFetchExists stores a valid transaction and finds it again.
func TestPoolStoreFetchExists(t *testing.T) {
	chain := newFakeReader()
	parent := fundingTx(0x01, 5000)
	chain.confirm(parent, 10)

	pool := newTestPool(t, chain, 10)

	spend := spendingTx(parent, 4000)
	unconfirmed, err := storeWait(t, pool, spend, nil)
	require.NoError(t, err)
	require.Empty(t, unconfirmed)
	require.Equal(t, 1, poolSize(t, pool))

	hash := spend.TxHash()
	fetched := make(chan error, 1)
	pool.Fetch(&hash, func(tx *wire.MsgTx, err error) {
		if err == nil && tx.TxHash() != hash {
			err = ruleError(blockchain.ErrNotFound, "wrong transaction")
		}
		fetched <- err
	})
	require.NoError(t, <-fetched)

	exists := make(chan bool, 1)
	pool.Exists(&hash, func(ok bool) { exists <- ok })
	require.True(t, <-exists)
}

// TestPoolRejects covers rejection paths: coinbase, duplicate, unknown
// input and pool double spend.
func TestPoolRejects(t *testing.T) {
	chain := newFakeReader()
	parent := fundingTx(0x02, 5000)
	chain.confirm(parent, 10)

	pool := newTestPool(t, chain, 10)

	// Coinbase transactions are only valid within a block.
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x00, 0x00},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(wire.NewTxOut(50, nil))
	_, err := storeWait(t, pool, coinbase, nil)
	require.Equal(t, blockchain.ErrCoinbaseTransaction,
		blockchain.ErrorCodeOf(err))

	// A stored transaction is a duplicate the second time.
	spend := spendingTx(parent, 4000)
	_, err = storeWait(t, pool, spend, nil)
	require.NoError(t, err)
	_, err = storeWait(t, pool, spend, nil)
	require.Equal(t, blockchain.ErrDuplicate, blockchain.ErrorCodeOf(err))

	// Spending an output a pooled transaction already spends is a
	// double spend.
	conflicting := spendingTx(parent, 3000)
	_, err = storeWait(t, pool, conflicting, nil)
	require.Equal(t, blockchain.ErrDoubleSpend, blockchain.ErrorCodeOf(err))

	// An input that neither the chain nor the pool can resolve reports
	// the failing input index.
	unknown := fundingTx(0x7f, 100)
	unconfirmed, err := storeWait(t, pool, spendingTx(unknown, 50), nil)
	require.Equal(t, blockchain.ErrInputNotFound, blockchain.ErrorCodeOf(err))
	require.Equal(t, []uint32{0}, unconfirmed)
}

// TestPoolUnconfirmedParent resolves an input against the pool and
// reports its index as unconfirmed.
func TestPoolUnconfirmedParent(t *testing.T) {
	chain := newFakeReader()
	parent := fundingTx(0x03, 5000)
	chain.confirm(parent, 10)

	pool := newTestPool(t, chain, 10)

	pooledParent := spendingTx(parent, 4500)
	_, err := storeWait(t, pool, pooledParent, nil)
	require.NoError(t, err)

	child := spendingTx(pooledParent, 4000)
	unconfirmed, err := storeWait(t, pool, child, nil)
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, unconfirmed)
}

// TestPoolCapacityEviction displaces the oldest entry at capacity, firing
// its confirmation handler with the pool filled code.
func TestPoolCapacityEviction(t *testing.T) {
	chain := newFakeReader()
	pool := newTestPool(t, chain, 2)

	confirms := make(chan error, 3)
	for i := byte(0); i < 3; i++ {
		parent := fundingTx(i+0x10, 5000)
		chain.confirm(parent, 10)

		_, err := storeWait(t, pool, spendingTx(parent, 4000),
			func(err error) { confirms <- err })
		require.NoError(t, err)
	}

	// The first entry was displaced by the third.
	select {
	case err := <-confirms:
		require.Equal(t, blockchain.ErrPoolFilled, blockchain.ErrorCodeOf(err))
	case <-time.After(10 * time.Second):
		t.Fatal("displaced entry was not notified")
	}
	require.Equal(t, 2, poolSize(t, pool))
}

// TestPoolDeleteConfirmed removes entries confirmed by a pure chain
// extension, firing success exactly once.
func TestPoolDeleteConfirmed(t *testing.T) {
	chain := newFakeReader()
	parent := fundingTx(0x04, 5000)
	chain.confirm(parent, 10)

	pool := newTestPool(t, chain, 10)

	confirms := make(chan error, 1)
	spend := spendingTx(parent, 4000)
	_, err := storeWait(t, pool, spend, func(err error) { confirms <- err })
	require.NoError(t, err)

	// A block confirming the pooled transaction arrives as a pure
	// extension.
	block := &wire.MsgBlock{Transactions: []*wire.MsgTx{spend}}
	pool.handleReorganize(nil, 11, []*wire.MsgBlock{block}, nil)

	select {
	case err := <-confirms:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("confirmed entry was not notified")
	}
	require.Equal(t, 0, poolSize(t, pool))
}

// TestPoolReorganizeInvalidates clears the pool on a true reorganization;
// every entry observes the reorganized code exactly once.
func TestPoolReorganizeInvalidates(t *testing.T) {
	chain := newFakeReader()
	pool := newTestPool(t, chain, 10)

	confirms := make(chan error, 2)
	for i := byte(0); i < 2; i++ {
		parent := fundingTx(i+0x20, 5000)
		chain.confirm(parent, 10)
		_, err := storeWait(t, pool, spendingTx(parent, 4000),
			func(err error) { confirms <- err })
		require.NoError(t, err)
	}

	outgoing := []*wire.MsgBlock{{Transactions: nil}}
	pool.handleReorganize(nil, 5, nil, outgoing)

	for i := 0; i < 2; i++ {
		select {
		case err := <-confirms:
			require.Equal(t, blockchain.ErrBlockchainReorganized,
				blockchain.ErrorCodeOf(err))
		case <-time.After(10 * time.Second):
			t.Fatal("invalidated entry was not notified")
		}
	}
	require.Equal(t, 0, poolSize(t, pool))
}
