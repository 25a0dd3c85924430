package chainstore

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/argentumnet/argentumd/blockchain"
	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// Key prefixes of the store's leveldb tables.
const (
	blockKeyPrefix = 'b' // block hash -> serialized block
	txKeyPrefix    = 't' // tx hash -> confirming height + serialized tx
	spendKeyPrefix = 's' // outpoint -> spending tx hash
)

// indexEntry is the in-memory index record of one chain block. The hot
// attribute queries of chain state derivation are answered from memory;
// leveldb holds the bulk data.
type indexEntry struct {
	hash      chainhash.Hash
	bits      uint32
	version   uint32
	timestamp uint32
}

// Store is a fast chain implementation over an in-memory block index and a
// leveldb backing store for blocks, transactions and spends. Reads are safe
// for concurrent use; the writers assume the organizer's exclusive access.
type Store struct {
	mtx sync.RWMutex
	db  *leveldb.DB

	params *chaincfg.Params

	// blockIndex is ordered by height. The header index, when non-empty,
	// answers header queries in place of the block index; nothing in the
	// store adds entries to it.
	blockIndex  []indexEntry
	headerIndex []indexEntry
	byHash      map[chainhash.Hash]uint64

	blockErrors map[chainhash.Hash]blockchain.ErrorCode
	txErrors    map[chainhash.Hash]blockchain.ErrorCode

	staleSeconds uint32
	now          func() uint32
}

// New opens a store over the given leveldb handle and indexes the genesis
// block of the network. The in-memory index always starts at genesis;
// blocks already in the database are not reloaded into it.
func New(db *leveldb.DB, params *chaincfg.Params, staleSeconds uint32) (*Store, error) {
	s := &Store{
		db:           db,
		params:       params,
		byHash:       make(map[chainhash.Hash]uint64),
		blockErrors:  make(map[chainhash.Hash]blockchain.ErrorCode),
		txErrors:     make(map[chainhash.Hash]blockchain.ErrorCode),
		staleSeconds: staleSeconds,
		now:          func() uint32 { return uint32(time.Now().Unix()) },
	}

	if err := s.appendBlock(params.GenesisBlock); err != nil {
		return nil, errors.Wrap(err, "failed to index the genesis block")
	}

	return s, nil
}

// blockKey returns the leveldb key of a block.
func blockKey(hash *chainhash.Hash) []byte {
	return append([]byte{blockKeyPrefix}, hash[:]...)
}

// txKey returns the leveldb key of a transaction.
func txKey(hash *chainhash.Hash) []byte {
	return append([]byte{txKeyPrefix}, hash[:]...)
}

// spendKey returns the leveldb key of an outpoint spend record.
func spendKey(outpoint *wire.OutPoint) []byte {
	key := make([]byte, 0, 1+chainhash.HashSize+4)
	key = append(key, spendKeyPrefix)
	key = append(key, outpoint.Hash[:]...)
	var index [4]byte
	binary.LittleEndian.PutUint32(index[:], outpoint.Index)
	return append(key, index[:]...)
}

// appendBlock indexes a block at the current top height and persists its
// content. The caller holds no lock.
func (s *Store) appendBlock(block *wire.MsgBlock) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.appendBlockLocked(block)
}

func (s *Store) appendBlockLocked(block *wire.MsgBlock) error {
	header := &block.Header
	hash := header.BlockHash()
	height := uint64(len(s.blockIndex))

	batch := new(leveldb.Batch)

	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		return err
	}
	batch.Put(blockKey(&hash), buf.Bytes())

	for _, tx := range block.Transactions {
		txHash := tx.TxHash()

		var record bytes.Buffer
		var heightBytes [8]byte
		binary.LittleEndian.PutUint64(heightBytes[:], height)
		record.Write(heightBytes[:])
		if err := tx.Serialize(&record); err != nil {
			return err
		}
		batch.Put(txKey(&txHash), record.Bytes())

		// Record the spends of every non-coinbase input.
		if !tx.IsCoinBase() {
			for _, txIn := range tx.TxIn {
				batch.Put(spendKey(&txIn.PreviousOutPoint), txHash[:])
			}
		}
	}

	if err := s.db.Write(batch, nil); err != nil {
		return err
	}

	s.blockIndex = append(s.blockIndex, indexEntry{
		hash:      hash,
		bits:      header.Bits,
		version:   header.Version,
		timestamp: header.Timestamp,
	})
	s.byHash[hash] = height
	return nil
}

// removeTopLocked removes the top block from the index and backing tables,
// returning it.
func (s *Store) removeTopLocked() (*wire.MsgBlock, error) {
	if len(s.blockIndex) <= 1 {
		return nil, errors.New("cannot remove the genesis block")
	}

	top := s.blockIndex[len(s.blockIndex)-1]
	block, err := s.fetchBlock(&top.hash)
	if err != nil {
		return nil, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(blockKey(&top.hash))
	for _, tx := range block.Transactions {
		txHash := tx.TxHash()
		batch.Delete(txKey(&txHash))
		if !tx.IsCoinBase() {
			for _, txIn := range tx.TxIn {
				batch.Delete(spendKey(&txIn.PreviousOutPoint))
			}
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return nil, err
	}

	s.blockIndex = s.blockIndex[:len(s.blockIndex)-1]
	delete(s.byHash, top.hash)
	return block, nil
}

// fetchBlock loads a block from the backing store.
func (s *Store) fetchBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	raw, err := s.db.Get(blockKey(hash), nil)
	if err != nil {
		return nil, err
	}

	block := new(wire.MsgBlock)
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return block, nil
}

// index returns the requested index slice. The header index falls back to
// the block index while no headers run ahead of blocks.
func (s *Store) index(blockIndex bool) []indexEntry {
	if !blockIndex && len(s.headerIndex) > 0 {
		return s.headerIndex
	}
	return s.blockIndex
}

// TopHeight returns the height of the highest indexed entry.
func (s *Store) TopHeight(blockIndex bool) (uint64, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	index := s.index(blockIndex)
	if len(index) == 0 {
		return 0, false
	}
	return uint64(len(index) - 1), true
}

// HeightByHash returns the height of the entry with the given hash.
func (s *Store) HeightByHash(hash *chainhash.Hash, blockIndex bool) (uint64, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	height, ok := s.byHash[*hash]
	return height, ok
}

// HashByHeight returns the hash of the entry at the given height.
func (s *Store) HashByHeight(height uint64, blockIndex bool) (*chainhash.Hash, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	index := s.index(blockIndex)
	if height >= uint64(len(index)) {
		return nil, false
	}
	hash := index[height].hash
	return &hash, true
}

// Bits returns the difficulty bits of the entry at the given height.
func (s *Store) Bits(height uint64, blockIndex bool) (uint32, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	index := s.index(blockIndex)
	if height >= uint64(len(index)) {
		return 0, false
	}
	return index[height].bits, true
}

// Version returns the version of the entry at the given height.
func (s *Store) Version(height uint64, blockIndex bool) (uint32, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	index := s.index(blockIndex)
	if height >= uint64(len(index)) {
		return 0, false
	}
	return index[height].version, true
}

// Timestamp returns the timestamp of the entry at the given height.
func (s *Store) Timestamp(height uint64, blockIndex bool) (uint32, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	index := s.index(blockIndex)
	if height >= uint64(len(index)) {
		return 0, false
	}
	return index[height].timestamp, true
}

// Work returns the summed work of all entries above the given height,
// bounded by maximum when non-nil. The bound lets branch competitiveness
// checks stop summing as soon as the chain segment proves heavier.
func (s *Store) Work(maximum *big.Int, aboveHeight uint64, blockIndex bool) *big.Int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	total := new(big.Int)
	index := s.index(blockIndex)
	for height := uint64(len(index)); height > aboveHeight+1; height-- {
		total.Add(total, blockchain.CalcWork(index[height-1].bits))
		if maximum != nil && total.Cmp(maximum) > 0 {
			break
		}
	}
	return total
}

// BlockError returns the cached validation failure of a block.
func (s *Store) BlockError(hash *chainhash.Hash) (blockchain.ErrorCode, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	code, ok := s.blockErrors[*hash]
	return code, ok
}

// TransactionError returns the cached validation failure of a transaction.
func (s *Store) TransactionError(hash *chainhash.Hash) (blockchain.ErrorCode, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	code, ok := s.txErrors[*hash]
	return code, ok
}

// CacheBlockError records a validation failure so the block is not
// re-validated.
func (s *Store) CacheBlockError(hash *chainhash.Hash, code blockchain.ErrorCode) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.blockErrors[*hash] = code
}

// BlockStatus returns the status flags of the given block.
func (s *Store) BlockStatus(hash *chainhash.Hash) blockchain.BlockStatus {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var status blockchain.BlockStatus
	if _, ok := s.byHash[*hash]; ok {
		status |= blockchain.StatusStored | blockchain.StatusIndexed |
			blockchain.StatusValidated
	}
	if _, ok := s.blockErrors[*hash]; ok {
		status |= blockchain.StatusFailed
	}
	return status
}

// TransactionStatus returns the state of the given transaction.
func (s *Store) TransactionStatus(hash *chainhash.Hash) blockchain.TxStatus {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if _, ok := s.txErrors[*hash]; ok {
		return blockchain.TxStatusFailed
	}

	raw, err := s.db.Get(txKey(hash), nil)
	if err != nil || len(raw) < 8 {
		return blockchain.TxStatusMissing
	}
	if binary.LittleEndian.Uint64(raw[:8]) == blockchain.UnspecifiedHeight {
		return blockchain.TxStatusPooled
	}
	return blockchain.TxStatusConfirmed
}

// fetchTxRecord loads a transaction record and its confirming height.
func (s *Store) fetchTxRecord(hash *chainhash.Hash) (*wire.MsgTx, uint64, bool) {
	raw, err := s.db.Get(txKey(hash), nil)
	if err != nil || len(raw) < 8 {
		return nil, 0, false
	}

	height := binary.LittleEndian.Uint64(raw[:8])
	tx := new(wire.MsgTx)
	if err := tx.Deserialize(bytes.NewReader(raw[8:])); err != nil {
		return nil, 0, false
	}
	return tx, height, true
}

// FetchTransaction returns an indexed transaction and the height of the
// block that confirmed it.
func (s *Store) FetchTransaction(hash *chainhash.Hash) (*wire.MsgTx, uint64, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.fetchTxRecord(hash)
}

// PopulateHeader returns candidate metadata for a header with respect to
// the chain at or below the fork height.
func (s *Store) PopulateHeader(header *wire.BlockHeader,
	forkHeight uint64) blockchain.HeaderMeta {

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	hash := header.BlockHash()
	meta := blockchain.HeaderMeta{Error: blockchain.ErrSuccess}
	if code, ok := s.blockErrors[hash]; ok {
		meta.Error = code
	}
	if height, ok := s.byHash[hash]; ok && height <= forkHeight {
		meta.Exists = true
		meta.Height = height
	}
	return meta
}

// PopulateTransaction returns duplicate metadata for the transaction with
// respect to the chain at or below the fork height.
func (s *Store) PopulateTransaction(tx *wire.MsgTx, forks uint32,
	forkHeight uint64) blockchain.TxMeta {

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	hash := tx.TxHash()
	_, height, ok := s.fetchTxRecord(&hash)
	return blockchain.TxMeta{Duplicate: ok && height <= forkHeight}
}

// PopulateOutput returns the metadata of the output referenced by the
// outpoint with respect to the chain at or below the fork height.
func (s *Store) PopulateOutput(outpoint *wire.OutPoint,
	forkHeight uint64) blockchain.OutPointMeta {

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	meta := blockchain.OutPointMeta{CoinbaseHeight: blockchain.UnspecifiedHeight}

	prevTx, height, ok := s.fetchTxRecord(&outpoint.Hash)
	if !ok || (height != blockchain.UnspecifiedHeight && height > forkHeight) {
		return meta
	}
	if outpoint.Index >= uint32(len(prevTx.TxOut)) {
		return meta
	}

	// A record without a confirming height is a pooled transaction; its
	// output is cached but not confirmed.
	meta.Cache = prevTx.TxOut[outpoint.Index]
	meta.Confirmed = height != blockchain.UnspecifiedHeight
	if prevTx.IsCoinBase() {
		meta.CoinbaseHeight = height
	}

	_, err := s.db.Get(spendKey(outpoint), nil)
	meta.Spent = err == nil

	return meta
}

// IsOutputSpent returns whether the output is spent by a confirmed
// transaction.
func (s *Store) IsOutputSpent(outpoint *wire.OutPoint) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	_, err := s.db.Get(spendKey(outpoint), nil)
	return err == nil
}

// IsBlocksStale returns whether the top block age exceeds the configured
// limit.
func (s *Store) IsBlocksStale() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.staleSeconds == 0 || len(s.blockIndex) == 0 {
		return false
	}
	top := s.blockIndex[len(s.blockIndex)-1].timestamp
	now := s.now()
	return now > top && now-top > s.staleSeconds
}

// IsHeadersStale returns whether the top header age exceeds the configured
// limit.
func (s *Store) IsHeadersStale() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	index := s.index(false)
	if s.staleSeconds == 0 || len(index) == 0 {
		return false
	}
	top := index[len(index)-1].timestamp
	now := s.now()
	return now > top && now-top > s.staleSeconds
}

// PushTransaction indexes a validated transaction without a confirming
// block. The record carries an unspecified height until a block confirms
// it.
func (s *Store) PushTransaction(tx *wire.MsgTx, onComplete func(error)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	hash := tx.TxHash()
	var record bytes.Buffer
	var heightBytes [8]byte
	binary.LittleEndian.PutUint64(heightBytes[:], blockchain.UnspecifiedHeight)
	record.Write(heightBytes[:])
	if err := tx.Serialize(&record); err != nil {
		onComplete(err)
		return
	}

	onComplete(s.db.Put(txKey(&hash), record.Bytes(), nil))
}

// Reorganize atomically replaces the indexed chain above the fork point
// with the incoming blocks. The displaced blocks are returned through the
// completion handler.
func (s *Store) Reorganize(forkPoint uint64, incoming []*wire.MsgBlock,
	onComplete func([]*wire.MsgBlock, error)) {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	var outgoing []*wire.MsgBlock
	for uint64(len(s.blockIndex)) > forkPoint+1 {
		block, err := s.removeTopLocked()
		if err != nil {
			onComplete(nil, err)
			return
		}
		// Displaced blocks are returned top first; reverse to fork
		// point order.
		outgoing = append([]*wire.MsgBlock{block}, outgoing...)
	}

	for _, block := range incoming {
		if err := s.appendBlockLocked(block); err != nil {
			onComplete(nil, err)
			return
		}
	}

	onComplete(outgoing, nil)
}
