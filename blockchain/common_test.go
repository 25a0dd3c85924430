package blockchain

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/dispatch"
	"github.com/argentumnet/argentumd/txscript"
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// testPowLimitBits encodes a trivially easy target so test blocks solve in
// a couple of nonce iterations.
const testPowLimitBits = 0x207fffff

// testTimestamp is the fixed wall clock used by validator tests.
const testTimestamp = uint32(1400000000)

// newTestParams returns network parameters with an easy proof of work
// limit and no checkpoints.
func newTestParams() *chaincfg.Params {
	params := chaincfg.MainNetParams
	params.Name = "testparams"
	params.PowLimit = CompactToBig(testPowLimitBits)
	params.PowLimitBits = testPowLimitBits
	params.Checkpoints = nil
	return &params
}

// solveHeader finds a nonce whose block hash satisfies the header's own
// target. The test target is easy enough that this terminates after a few
// iterations.
func solveHeader(t *testing.T, header *wire.BlockHeader) {
	t.Helper()

	target := CompactToBig(header.Bits)
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if chainhash.HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
		if nonce == 1<<20 {
			t.Fatal("unable to solve test header")
		}
	}
}

// newTestCoinbase returns a coinbase paying the given value with a
// signature script carrying the serialized height.
func newTestCoinbase(height uint64, value uint64) *wire.MsgTx {
	sigScript := txscript.MakeScriptNumPush(int64(height))
	// Keep the script within the consensus length range.
	for len(sigScript) < MinCoinbaseScriptLen {
		sigScript = append(sigScript, txscript.Op0)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  sigScript,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(value, []byte{txscript.OpCheckSig}))
	return tx
}

// newTestBlock assembles and solves a block on the given parent.
func newTestBlock(t *testing.T, prevHash *chainhash.Hash, height uint64,
	timestamp uint32, txs ...*wire.MsgTx) *wire.MsgBlock {

	t.Helper()

	coinbase := newTestCoinbase(height, 50*chaincfg.SatoshiPerCoin)

	// Blend the timestamp into the coinbase script so same-height blocks
	// on competing branches carry distinct transaction ids.
	var extra [4]byte
	binary.LittleEndian.PutUint32(extra[:], timestamp)
	coinbase.TxIn[0].SignatureScript = append(
		coinbase.TxIn[0].SignatureScript, extra[:]...)

	transactions := append([]*wire.MsgTx{coinbase}, txs...)

	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:    2,
			PrevBlock:  *prevHash,
			MerkleRoot: CalcMerkleRoot(transactions),
			Timestamp:  timestamp,
			Bits:       testPowLimitBits,
		},
		Transactions: transactions,
	}
	solveHeader(t, &block.Header)
	return block
}

// fakeEntry is one indexed block of the fake chain.
type fakeEntry struct {
	hash      chainhash.Hash
	bits      uint32
	version   uint32
	timestamp uint32
	block     *wire.MsgBlock
}

// fakeTxRecord is one indexed transaction of the fake chain.
type fakeTxRecord struct {
	tx     *wire.MsgTx
	height uint64
}

// fakeChain is an in-memory fast chain for tests.
type fakeChain struct {
	entries []fakeEntry
	byHash  map[chainhash.Hash]uint64
	txs     map[chainhash.Hash]fakeTxRecord
	spent   map[wire.OutPoint]bool
	stale   bool

	blockErrors map[chainhash.Hash]ErrorCode
}

// newFakeChain returns a fake chain seeded with a solved genesis block.
func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()

	chain := &fakeChain{
		byHash:      make(map[chainhash.Hash]uint64),
		txs:         make(map[chainhash.Hash]fakeTxRecord),
		spent:       make(map[wire.OutPoint]bool),
		blockErrors: make(map[chainhash.Hash]ErrorCode),
	}

	genesis := newTestBlock(t, &chainhash.ZeroHash, 0, testTimestamp-600)
	chain.appendBlock(genesis)
	return chain
}

// appendBlock indexes a block at the chain top.
func (c *fakeChain) appendBlock(block *wire.MsgBlock) {
	header := &block.Header
	hash := header.BlockHash()
	height := uint64(len(c.entries))

	c.entries = append(c.entries, fakeEntry{
		hash:      hash,
		bits:      header.Bits,
		version:   header.Version,
		timestamp: header.Timestamp,
		block:     block,
	})
	c.byHash[hash] = height

	for _, tx := range block.Transactions {
		c.txs[tx.TxHash()] = fakeTxRecord{tx: tx, height: height}
		if !tx.IsCoinBase() {
			for _, txIn := range tx.TxIn {
				c.spent[txIn.PreviousOutPoint] = true
			}
		}
	}
}

// tipHash returns the hash of the chain top.
func (c *fakeChain) tipHash() *chainhash.Hash {
	return &c.entries[len(c.entries)-1].hash
}

func (c *fakeChain) TopHeight(blockIndex bool) (uint64, bool) {
	if len(c.entries) == 0 {
		return 0, false
	}
	return uint64(len(c.entries) - 1), true
}

func (c *fakeChain) HeightByHash(hash *chainhash.Hash, blockIndex bool) (uint64, bool) {
	height, ok := c.byHash[*hash]
	return height, ok
}

func (c *fakeChain) HashByHeight(height uint64, blockIndex bool) (*chainhash.Hash, bool) {
	if height >= uint64(len(c.entries)) {
		return nil, false
	}
	hash := c.entries[height].hash
	return &hash, true
}

func (c *fakeChain) Bits(height uint64, blockIndex bool) (uint32, bool) {
	if height >= uint64(len(c.entries)) {
		return 0, false
	}
	return c.entries[height].bits, true
}

func (c *fakeChain) Version(height uint64, blockIndex bool) (uint32, bool) {
	if height >= uint64(len(c.entries)) {
		return 0, false
	}
	return c.entries[height].version, true
}

func (c *fakeChain) Timestamp(height uint64, blockIndex bool) (uint32, bool) {
	if height >= uint64(len(c.entries)) {
		return 0, false
	}
	return c.entries[height].timestamp, true
}

func (c *fakeChain) Work(maximum *big.Int, aboveHeight uint64, blockIndex bool) *big.Int {
	total := new(big.Int)
	for height := aboveHeight + 1; height < uint64(len(c.entries)); height++ {
		total.Add(total, CalcWork(c.entries[height].bits))
	}
	return total
}

func (c *fakeChain) BlockError(hash *chainhash.Hash) (ErrorCode, bool) {
	code, ok := c.blockErrors[*hash]
	return code, ok
}

func (c *fakeChain) TransactionError(hash *chainhash.Hash) (ErrorCode, bool) {
	return ErrSuccess, false
}

func (c *fakeChain) BlockStatus(hash *chainhash.Hash) BlockStatus {
	if _, ok := c.byHash[*hash]; ok {
		return StatusStored | StatusIndexed | StatusValidated
	}
	return 0
}

func (c *fakeChain) TransactionStatus(hash *chainhash.Hash) TxStatus {
	if _, ok := c.txs[*hash]; ok {
		return TxStatusConfirmed
	}
	return TxStatusMissing
}

func (c *fakeChain) PopulateHeader(header *wire.BlockHeader,
	forkHeight uint64) HeaderMeta {

	hash := header.BlockHash()
	meta := HeaderMeta{Error: ErrSuccess}
	if code, ok := c.blockErrors[hash]; ok {
		meta.Error = code
	}
	if height, ok := c.byHash[hash]; ok && height <= forkHeight {
		meta.Exists = true
		meta.Height = height
	}
	return meta
}

func (c *fakeChain) PopulateTransaction(tx *wire.MsgTx, forks uint32,
	forkHeight uint64) TxMeta {

	record, ok := c.txs[tx.TxHash()]
	return TxMeta{Duplicate: ok && record.height <= forkHeight}
}

func (c *fakeChain) PopulateOutput(outpoint *wire.OutPoint,
	forkHeight uint64) OutPointMeta {

	meta := OutPointMeta{CoinbaseHeight: UnspecifiedHeight}

	record, ok := c.txs[outpoint.Hash]
	if !ok || record.height > forkHeight {
		return meta
	}
	if outpoint.Index >= uint32(len(record.tx.TxOut)) {
		return meta
	}

	meta.Cache = record.tx.TxOut[outpoint.Index]
	meta.Confirmed = true
	if record.tx.IsCoinBase() {
		meta.CoinbaseHeight = record.height
	}
	meta.Spent = c.spent[*outpoint]
	return meta
}

func (c *fakeChain) IsOutputSpent(outpoint *wire.OutPoint) bool {
	return c.spent[*outpoint]
}

func (c *fakeChain) FetchTransaction(hash *chainhash.Hash) (*wire.MsgTx, uint64, bool) {
	record, ok := c.txs[*hash]
	if !ok {
		return nil, 0, false
	}
	return record.tx, record.height, true
}

func (c *fakeChain) IsBlocksStale() bool {
	return c.stale
}

func (c *fakeChain) IsHeadersStale() bool {
	return c.stale
}

func (c *fakeChain) PushTransaction(tx *wire.MsgTx, onComplete func(error)) {
	c.txs[tx.TxHash()] = fakeTxRecord{tx: tx, height: UnspecifiedHeight}
	onComplete(nil)
}

func (c *fakeChain) Reorganize(forkPoint uint64, incoming []*wire.MsgBlock,
	onComplete func([]*wire.MsgBlock, error)) {

	var outgoing []*wire.MsgBlock
	for uint64(len(c.entries)) > forkPoint+1 {
		top := c.entries[len(c.entries)-1]
		outgoing = append([]*wire.MsgBlock{top.block}, outgoing...)

		for _, tx := range top.block.Transactions {
			delete(c.txs, tx.TxHash())
			if !tx.IsCoinBase() {
				for _, txIn := range tx.TxIn {
					delete(c.spent, txIn.PreviousOutPoint)
				}
			}
		}
		delete(c.byHash, top.hash)
		c.entries = c.entries[:len(c.entries)-1]
	}

	for _, block := range incoming {
		c.appendBlock(block)
	}

	onComplete(outgoing, nil)
}

// newTestValidator wires a validator over the fake chain with an
// always-true script executor and a fixed clock.
func newTestValidator(chain *fakeChain, params *chaincfg.Params) *BlockValidator {
	return NewBlockValidator(&ValidatorConfig{
		Dispatch: dispatch.NewConcurrent(4),
		Chain:    chain,
		Params:   params,
		ExecuteScript: func([]byte, *wire.MsgTx, int, *wire.BlockHeader,
			uint64) bool {
			return true
		},
		TimeSource: func() uint32 { return testTimestamp },
	})
}

// newTestPopulator wires a block populator over the fake chain.
func newTestPopulator(chain *fakeChain, params *chaincfg.Params) *BlockPopulator {
	states := NewChainStatePopulator(chain, params, params.DefaultForks, 0)
	return NewBlockPopulator(dispatch.NewConcurrent(4), chain, states)
}
