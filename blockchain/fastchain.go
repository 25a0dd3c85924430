package blockchain

import (
	"math"
	"math/big"

	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// UnspecifiedHeight is the sentinel for an absent coinbase height in output
// point metadata and for unrequested heights in chain state maps.
const UnspecifiedHeight = uint64(math.MaxUint64)

// MaxForkHeight is passed as the fork height when no fork constrains a
// population query, making every indexed block eligible.
const MaxForkHeight = uint64(math.MaxUint64)

// BlockStatus is a bitfield describing what is known about a block.
type BlockStatus uint8

// These constants are the individual block status flags.
const (
	// StatusStored indicates the raw block is stored.
	StatusStored BlockStatus = 1 << iota

	// StatusPooled indicates the block header is in the header pool.
	StatusPooled

	// StatusIndexed indicates the block is part of the indexed chain.
	StatusIndexed

	// StatusValidated indicates the block passed full validation.
	StatusValidated

	// StatusFailed indicates the block failed validation.
	StatusFailed
)

// TxStatus describes what is known about a transaction.
type TxStatus uint8

// These constants are the possible transaction states.
const (
	// TxStatusMissing indicates the transaction is unknown.
	TxStatusMissing TxStatus = iota

	// TxStatusPooled indicates the transaction is in the memory pool.
	TxStatusPooled

	// TxStatusIndexed indicates the transaction is indexed in a block
	// above the fork point under consideration.
	TxStatusIndexed

	// TxStatusConfirmed indicates the transaction is confirmed in the
	// indexed chain.
	TxStatusConfirmed

	// TxStatusFailed indicates the transaction failed validation.
	TxStatusFailed
)

// OutPointMeta is the validation metadata attached to a previous output
// reference. It is written exactly once per (block, input) instance by the
// populate pipeline and read without synchronization afterwards; the
// populate to connect ordering provides the required happens-before.
type OutPointMeta struct {
	// Cache is the referenced output. A nil cache means the output could
	// not be found at or below the fork height.
	Cache *wire.TxOut

	// Spent indicates the output is already spent by a confirmed
	// transaction.
	Spent bool

	// Confirmed indicates the output is confirmed at or below the fork
	// height.
	Confirmed bool

	// CoinbaseHeight is the height of the coinbase transaction that
	// produced the output, or UnspecifiedHeight when the output is not a
	// coinbase product.
	CoinbaseHeight uint64
}

// TxMeta is the validation metadata attached to a transaction during block
// population.
type TxMeta struct {
	// Duplicate indicates a transaction with the same hash already
	// exists in the indexed chain.
	Duplicate bool
}

// HeaderMeta is the candidate metadata attached to a header.
type HeaderMeta struct {
	// Exists indicates the header is already indexed.
	Exists bool

	// Height is the indexed height when Exists is true.
	Height uint64

	// Error is the cached validation failure of the header, ErrSuccess
	// when none is cached.
	Error ErrorCode
}

// FastChainReader is the read interface over the indexed chain consumed by
// the validation core. Implementations must be safe for concurrent reads.
type FastChainReader interface {
	// TopHeight returns the height of the highest entry of the block
	// index, or of the header index when blockIndex is false.
	TopHeight(blockIndex bool) (uint64, bool)

	// HeightByHash returns the height of the block with the given hash.
	HeightByHash(hash *chainhash.Hash, blockIndex bool) (uint64, bool)

	// HashByHeight returns the hash of the block at the given height.
	HashByHeight(height uint64, blockIndex bool) (*chainhash.Hash, bool)

	// Bits returns the difficulty bits of the block at the given height.
	Bits(height uint64, blockIndex bool) (uint32, bool)

	// Version returns the version of the block at the given height.
	Version(height uint64, blockIndex bool) (uint32, bool)

	// Timestamp returns the timestamp of the block at the given height.
	Timestamp(height uint64, blockIndex bool) (uint32, bool)

	// Work returns the sum of work of all blocks above the given height,
	// bounded by maximum when it is non-nil.
	Work(maximum *big.Int, aboveHeight uint64, blockIndex bool) *big.Int

	// BlockError returns the cached validation failure of a block, and
	// whether one is cached.
	BlockError(hash *chainhash.Hash) (ErrorCode, bool)

	// TransactionError returns the cached validation failure of a
	// transaction, and whether one is cached.
	TransactionError(hash *chainhash.Hash) (ErrorCode, bool)

	// BlockStatus returns the status flags of the given block.
	BlockStatus(hash *chainhash.Hash) BlockStatus

	// TransactionStatus returns the state of the given transaction.
	TransactionStatus(hash *chainhash.Hash) TxStatus

	// PopulateHeader returns candidate metadata for a header with
	// respect to the chain at or below the fork height.
	PopulateHeader(header *wire.BlockHeader, forkHeight uint64) HeaderMeta

	// PopulateTransaction returns metadata for a transaction with
	// respect to the chain at or below the fork height, under the given
	// active forks.
	PopulateTransaction(tx *wire.MsgTx, forks uint32, forkHeight uint64) TxMeta

	// PopulateOutput returns metadata for the output referenced by the
	// outpoint with respect to the chain at or below the fork height.
	PopulateOutput(outpoint *wire.OutPoint, forkHeight uint64) OutPointMeta

	// IsOutputSpent returns whether the given output is spent by a
	// confirmed transaction.
	IsOutputSpent(outpoint *wire.OutPoint) bool

	// FetchTransaction returns an indexed transaction and the height of
	// the block that confirmed it.
	FetchTransaction(hash *chainhash.Hash) (*wire.MsgTx, uint64, bool)

	// IsBlocksStale returns true if the top block age exceeds the
	// configured limit.
	IsBlocksStale() bool

	// IsHeadersStale returns true if the top header age exceeds the
	// configured limit.
	IsHeadersStale() bool
}

// FastChainWriter is the write interface over the indexed chain. Writers
// assume exclusive access and must only be called from the organizer's
// ordered path.
type FastChainWriter interface {
	// PushTransaction indexes a validated transaction.
	PushTransaction(tx *wire.MsgTx, onComplete func(error))

	// Reorganize atomically replaces the indexed chain above the fork
	// point with the incoming blocks, returning the outgoing blocks
	// through the completion handler.
	Reorganize(forkPoint uint64, incoming []*wire.MsgBlock,
		onComplete func([]*wire.MsgBlock, error))
}

// FastChain combines the read and write chain interfaces.
type FastChain interface {
	FastChainReader
	FastChainWriter
}

// ScriptExecutor validates an input script against the script of the output
// it spends. It is a pure function supplied by the embedder; the validation
// core performs no script interpretation of its own.
type ScriptExecutor func(prevOutScript []byte, tx *wire.MsgTx, inputIndex int,
	header *wire.BlockHeader, height uint64) bool
