// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"

	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// These variables are the chain proof-of-work limit parameters for each
// default network.
var (
	// bigOne is 1 represented as a big.Int. It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a block can have for
	// the main network. It is the value 2^224 - 1.
	mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

	// testNetPowLimit is the highest proof of work value a block can have
	// for the test network. It is the value 2^224 - 1.
	testNetPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)
)

const (
	// SatoshiPerCoin is the number of base units in one coin.
	SatoshiPerCoin = 1e8

	// MaxSatoshi is the maximum transaction amount allowed in satoshi.
	MaxSatoshi = 21e6 * SatoshiPerCoin
)

// RuleFork identifies a consensus rule fork. Forks are combined into a
// bitfield so that a chain state can report the full set active at a height.
type RuleFork uint32

// These constants define the individual rule forks.
const (
	// ForkBIP16 enables pay-to-script-hash evaluation.
	ForkBIP16 RuleFork = 1 << iota

	// ForkBIP30 disallows duplicate transaction ids unless the earlier
	// transaction is fully spent.
	ForkBIP30

	// ForkBIP34 requires the block height in the coinbase signature
	// script for version 2 blocks.
	ForkBIP34

	// ForkBIP65 enables CHECKLOCKTIMEVERIFY.
	ForkBIP65

	// ForkBIP66 requires strict DER signature encoding.
	ForkBIP66

	// ForkAllowCollisions relaxes BIP30 above the activation height at
	// which coinbase uniqueness makes transaction id collisions
	// impossible.
	ForkAllowCollisions

	// ForkRetarget enables difficulty retargeting. Disabled only by some
	// regression configurations.
	ForkRetarget

	// ForkDifficult requires the full work target. When unset the
	// testnet minimum-difficulty (20 minute) rule applies.
	ForkDifficult
)

// ForkAll is the combination of all rule forks.
const ForkAll = ForkBIP16 | ForkBIP30 | ForkBIP34 | ForkBIP65 | ForkBIP66 |
	ForkAllowCollisions | ForkRetarget | ForkDifficult

// Checkpoint identifies a known good point in the block chain. Using
// checkpoints allows a few optimizations for old blocks during initial
// download and also prevents forks from old blocks.
type Checkpoint struct {
	Height uint64
	Hash   *chainhash.Hash
}

// Params defines a network by its parameters. These parameters may be used
// by applications to differentiate networks as well as addresses and keys
// for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *wire.MsgBlock

	// GenesisHash is the starting block hash.
	GenesisHash *chainhash.Hash

	// PowLimit defines the highest allowed proof of work value for a
	// block as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// TargetTimespan is the desired amount of time that should elapse
	// before block difficulty requirement is examined to determine how
	// it should be changed in order to maintain the desired block
	// generation rate, in seconds.
	TargetTimespan uint32

	// TargetSpacing is the desired amount of time to generate each
	// block, in seconds.
	TargetSpacing uint32

	// RetargetInterval is the number of blocks between difficulty
	// readjustments. It is TargetTimespan / TargetSpacing.
	RetargetInterval uint64

	// ReduceMinDifficulty records whether the network uses the testnet 20
	// minute rule. Validation does not read this field; the rule applies
	// when ForkDifficult is absent from the active fork set.
	ReduceMinDifficulty bool

	// CoinbaseMaturity is the number of blocks required before newly
	// mined coins can be spent.
	CoinbaseMaturity uint64

	// SubsidyReductionInterval is the interval of blocks before the
	// subsidy is reduced.
	SubsidyReductionInterval uint64

	// MaxVersion1Height is the highest height at which version 1 blocks
	// are accepted.
	MaxVersion1Height uint64

	// BIP30ExceptionHeights are the heights at which the BIP30 duplicate
	// check is skipped due to historical violations buried under
	// checkpoints.
	BIP30ExceptionHeights [2]uint64

	// AllowCollisionsHeight is the height at which coinbase uniqueness
	// activated, making the allow_collisions fork applicable above it.
	AllowCollisionsHeight uint64

	// AllowCollisionsHash is the hash of the block at
	// AllowCollisionsHeight.
	AllowCollisionsHash *chainhash.Hash

	// DefaultForks is the set of rule forks active by default on this
	// network.
	DefaultForks RuleFork

	// Checkpoints ordered from oldest to newest.
	Checkpoints []Checkpoint
}

// LatestCheckpoint returns the most recent checkpoint, or nil when none are
// configured.
func (p *Params) LatestCheckpoint() *Checkpoint {
	if len(p.Checkpoints) == 0 {
		return nil
	}
	return &p.Checkpoints[len(p.Checkpoints)-1]
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name: "mainnet",

	GenesisBlock:             &genesisBlock,
	GenesisHash:              &genesisHash,
	PowLimit:                 mainPowLimit,
	PowLimitBits:             0x1d00ffff,
	TargetTimespan:           14 * 24 * 60 * 60, // 14 days
	TargetSpacing:            10 * 60,           // 10 minutes
	RetargetInterval:         2016,
	ReduceMinDifficulty:      false,
	CoinbaseMaturity:         100,
	SubsidyReductionInterval: 210000,
	MaxVersion1Height:        237370,
	BIP30ExceptionHeights:    [2]uint64{91842, 91880},
	AllowCollisionsHeight:    227931,
	AllowCollisionsHash:      newHashFromStr("000000000000024b89b42a942fe0d9fea3bb44ab7bd1b19115dd6a759c0808b8"),
	DefaultForks:             ForkAll,

	Checkpoints: []Checkpoint{
		{11111, newHashFromStr("0000000069e244f73d78e8fd29ba2fd2ed618bd6fa2ee92559f542fdb26e7c1d")},
		{33333, newHashFromStr("000000002dd5588a74784eaa7ab0507a18ad16a236e7b1ce69f00d7ddfb5d0a6")},
		{74000, newHashFromStr("0000000000573993a3c9e41ce34471c079dcf5f52a0e824a81e7f953b8661a20")},
		{105000, newHashFromStr("00000000000291ce28027faea320c8d2b054b2e0fe44a773f3eefb151d6bdc97")},
		{134444, newHashFromStr("00000000000005b12ffd4cd315cd34ffd4a594f430ac814c91184a0d42d2b0fe")},
		{168000, newHashFromStr("000000000000099e61ea72015e79632f216fe6cb33d7899acb35b75c8303b763")},
		{193000, newHashFromStr("000000000000059f452a5f7340de6682a977387c17010ff6e6c3bd83ca8b1317")},
		{210000, newHashFromStr("000000000000048b95347e83192f69cf0366076336c639f9b7228e9ba171342e")},
		{216116, newHashFromStr("00000000000001b4f4b433e81ee46494af945cf96014816a4e2370f11b23df4e")},
		{225430, newHashFromStr("00000000000001c108384350f74090433e7fcf79a606b8e797f065b130575932")},
		{250000, newHashFromStr("000000000000003887df1f29024b06fc2200b55f8af8f35453d7be294df2d214")},
	},
}

// TestNetParams defines the network parameters for the test network.
var TestNetParams = Params{
	Name: "testnet",

	GenesisBlock:             &testNetGenesisBlock,
	GenesisHash:              &testNetGenesisHash,
	PowLimit:                 testNetPowLimit,
	PowLimitBits:             0x1d00ffff,
	TargetTimespan:           14 * 24 * 60 * 60,
	TargetSpacing:            10 * 60,
	RetargetInterval:         2016,
	ReduceMinDifficulty:      true,
	CoinbaseMaturity:         100,
	SubsidyReductionInterval: 210000,
	MaxVersion1Height:        237370,
	BIP30ExceptionHeights:    [2]uint64{91842, 91880},
	AllowCollisionsHeight:    21111,
	AllowCollisionsHash:      newHashFromStr("0000000023b3a96d3484e5abb3755c413e7d41500f8e2a5c3f0dd01299cd8ef8"),
	DefaultForks:             ForkAll &^ ForkDifficult,

	Checkpoints: []Checkpoint{
		{546, newHashFromStr("000000002a936ca763904c3c35fce2f3556c559c0214345d31b1bcebf76acb70")},
		{100000, newHashFromStr("00000000009e2958c15ff9290d571bf9459e93b19765c6801ddeccadbb160a1e")},
		{200000, newHashFromStr("0000000000287bffd321963ef05feab753ebe274e1d78b2fd4e2bfe9ad3aa6f2")},
	},
}

// newHashFromStr converts the passed big-endian hex string into a
// chainhash.Hash. It only differs from the one available in chainhash in
// that it panics on an error since it will only be called with hard-coded,
// and therefore known good, hashes.
func newHashFromStr(hexStr string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic(err)
	}
	return hash
}
