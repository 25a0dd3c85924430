package blockchain

import (
	"math/big"
	"sort"

	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

const (
	// medianTimeBlocks is the number of previous blocks which should be
	// used to calculate the median time used to validate block
	// timestamps.
	medianTimeBlocks = 11

	// activationSampleSize is the number of previous block versions
	// sampled when computing soft fork activation by version counting.
	activationSampleSize = 1000

	// activationThreshold is the number of version samples that must
	// meet the minimum version for a counted fork to be active.
	activationThreshold = 750

	// unspecifiedTimestamp should never be read, but may be useful in
	// debugging.
	unspecifiedTimestamp = uint32(0xffffffff)
)

// HeightRange identifies an inclusive run of block heights ending at High
// and containing Count heights.
type HeightRange struct {
	High  uint64
	Count uint64
}

// Low returns the first height of the range.
func (r HeightRange) Low() uint64 {
	return r.High - r.Count + 1
}

// ChainStateMap is a descriptor naming the set of historical heights
// required to derive the chain state at a height. Populating the named
// heights is the only database traffic state derivation generates.
type ChainStateMap struct {
	// BitsSelf, VersionSelf and TimestampSelf are the height of the
	// subject header, whose own attributes are read through the branch.
	BitsSelf      uint64
	VersionSelf   uint64
	TimestampSelf uint64

	// Bits is the range of difficulty bits required, ending at the
	// parent of the subject.
	Bits HeightRange

	// Version is the range of versions required for activation counting.
	Version HeightRange

	// Timestamp is the range of timestamps required for the median time
	// past.
	Timestamp HeightRange

	// TimestampRetarget is the height of the timestamp needed for
	// retarget arithmetic, or UnspecifiedHeight when the subject is not
	// on a retarget boundary.
	TimestampRetarget uint64

	// AllowCollisionsHeight is the height of the block hash anchoring
	// the duplicate-txid relaxation, or UnspecifiedHeight when
	// unrequested.
	AllowCollisionsHeight uint64
}

// GetChainStateMap computes the map for the given height under the given
// network parameters and enabled forks.
func GetChainStateMap(height uint64, params *chaincfg.Params,
	forks chaincfg.RuleFork) ChainStateMap {

	m := ChainStateMap{
		TimestampRetarget:     UnspecifiedHeight,
		AllowCollisionsHeight: UnspecifiedHeight,
	}
	if height == 0 {
		return m
	}

	m.BitsSelf = height
	m.VersionSelf = height
	m.TimestampSelf = height

	// Difficulty requires the parent bits only, unless the minimum
	// difficulty rule is in play, in which case the scan for the last
	// non-minimum bits can reach back to the last retarget boundary.
	m.Bits.High = height - 1
	m.Bits.Count = 1
	if forks&chaincfg.ForkDifficult == 0 {
		m.Bits.Count = height%params.RetargetInterval + 1
	}
	if m.Bits.Count > height {
		m.Bits.Count = height
	}

	// Version activation counting samples a rolling window of previous
	// block versions.
	if forks&(chaincfg.ForkBIP34|chaincfg.ForkBIP65|chaincfg.ForkBIP66) != 0 {
		m.Version.High = height - 1
		m.Version.Count = activationSampleSize
		if m.Version.Count > height {
			m.Version.Count = height
		}
	}

	// Median time past samples the timestamps preceding the subject.
	m.Timestamp.High = height - 1
	m.Timestamp.Count = medianTimeBlocks
	if m.Timestamp.Count > height {
		m.Timestamp.Count = height
	}

	// Retarget arithmetic additionally requires the timestamp of the
	// first block of the ending period.
	if forks&chaincfg.ForkRetarget != 0 && height%params.RetargetInterval == 0 {
		m.TimestampRetarget = height - params.RetargetInterval
	}

	// The duplicate-txid relaxation is anchored on the hash of its
	// activation block.
	if forks&chaincfg.ForkAllowCollisions != 0 &&
		height > params.AllowCollisionsHeight {
		m.AllowCollisionsHeight = params.AllowCollisionsHeight
	}

	return m
}

// orderedValues is an ordered vector of attribute values together with the
// subject's own value.
type orderedValues struct {
	Ordered []uint32
	Self    uint32
}

// last returns the final ordered value, the attribute of the subject's
// parent.
func (v *orderedValues) last() uint32 {
	return v.Ordered[len(v.Ordered)-1]
}

// ChainStateData is a populated chain state map.
type ChainStateData struct {
	Height uint64
	Hash   chainhash.Hash

	Bits    orderedValues
	Version orderedValues

	Timestamp struct {
		Ordered  []uint32
		Self     uint32
		Retarget uint32
	}

	AllowCollisionsHash chainhash.Hash
}

// ChainState holds the consensus context sufficient to apply all rules to a
// block at its height: rolling windows over bits, versions and timestamps,
// the active fork set, checkpoint coverage and staleness.
type ChainState struct {
	data         ChainStateData
	checkpoints  []chaincfg.Checkpoint
	forks        chaincfg.RuleFork
	staleSeconds uint32
	params       *chaincfg.Params
}

// NewChainState constructs a chain state from populated data.
func NewChainState(data ChainStateData, checkpoints []chaincfg.Checkpoint,
	forks chaincfg.RuleFork, staleSeconds uint32,
	params *chaincfg.Params) *ChainState {

	return &ChainState{
		data:         data,
		checkpoints:  checkpoints,
		forks:        forks,
		staleSeconds: staleSeconds,
		params:       params,
	}
}

// NewChildState derives the state of the direct child of the state's
// subject by a single-step window shift, avoiding a full map population.
// The result is identical to a full derivation. It returns nil when the
// child cannot be derived incrementally, which the caller handles by
// deriving from scratch.
func NewChildState(parent *ChainState, header *wire.BlockHeader) *ChainState {
	childHeight := parent.data.Height + 1
	childMap := GetChainStateMap(childHeight, parent.params, parent.forks)

	// A retarget boundary needs a timestamp outside the parent windows.
	if childMap.TimestampRetarget != UnspecifiedHeight {
		return nil
	}

	// The collision anchor only carries over if the parent requested it.
	if childMap.AllowCollisionsHeight != UnspecifiedHeight &&
		parent.data.AllowCollisionsHash == chainhash.ZeroHash {
		return nil
	}

	data := ChainStateData{
		Height: childHeight,
		Hash:   header.BlockHash(),
	}
	data.Bits.Ordered = shiftWindow(parent.data.Bits.Ordered,
		parent.data.Bits.Self, childMap.Bits.Count)
	data.Bits.Self = header.Bits
	data.Version.Ordered = shiftWindow(parent.data.Version.Ordered,
		parent.data.Version.Self, childMap.Version.Count)
	if childMap.Version.Count > 0 {
		data.Version.Self = header.Version
	}
	data.Timestamp.Ordered = shiftWindow(parent.data.Timestamp.Ordered,
		parent.data.Timestamp.Self, childMap.Timestamp.Count)
	data.Timestamp.Self = header.Timestamp
	data.Timestamp.Retarget = unspecifiedTimestamp
	data.AllowCollisionsHash = parent.data.AllowCollisionsHash
	if childMap.AllowCollisionsHeight == UnspecifiedHeight {
		data.AllowCollisionsHash = chainhash.ZeroHash
	}

	return NewChainState(data, parent.checkpoints, parent.forks,
		parent.staleSeconds, parent.params)
}

// shiftWindow appends the parent's own value to the parent window and trims
// the front so the result holds at most count values.
func shiftWindow(ordered []uint32, self uint32, count uint64) []uint32 {
	if count == 0 {
		return nil
	}

	shifted := make([]uint32, 0, count)
	shifted = append(shifted, ordered...)
	shifted = append(shifted, self)
	if uint64(len(shifted)) > count {
		shifted = shifted[uint64(len(shifted))-count:]
	}
	return shifted
}

// Height returns the height of the subject header.
func (s *ChainState) Height() uint64 {
	return s.data.Height
}

// Hash returns the hash of the subject header.
func (s *ChainState) Hash() *chainhash.Hash {
	return &s.data.Hash
}

// EnabledForks returns the configured fork set as a bitfield.
func (s *ChainState) EnabledForks() uint32 {
	return uint32(s.forks)
}

// minimumForkVersion returns the block version introducing the given
// counted fork.
func minimumForkVersion(fork chaincfg.RuleFork) uint32 {
	switch fork {
	case chaincfg.ForkBIP34:
		return 2
	case chaincfg.ForkBIP66:
		return 3
	case chaincfg.ForkBIP65:
		return 4
	}
	return 0
}

// IsEnabled returns whether the given fork is active at the subject height.
// Forks activated by version counting additionally require the activation
// threshold to be met within the sampled window.
func (s *ChainState) IsEnabled(fork chaincfg.RuleFork) bool {
	if s.forks&fork == 0 {
		return false
	}

	switch fork {
	case chaincfg.ForkBIP34, chaincfg.ForkBIP65, chaincfg.ForkBIP66:
		minVersion := minimumForkVersion(fork)
		count := 0
		for _, version := range s.data.Version.Ordered {
			if version >= minVersion {
				count++
			}
		}
		return count >= activationThreshold

	case chaincfg.ForkAllowCollisions:
		return s.params.AllowCollisionsHash != nil &&
			s.data.AllowCollisionsHash == *s.params.AllowCollisionsHash
	}

	return true
}

// IsUnderCheckpoint returns whether the subject height is at or below the
// highest configured checkpoint.
func (s *ChainState) IsUnderCheckpoint() bool {
	if len(s.checkpoints) == 0 {
		return false
	}
	return s.data.Height <= s.checkpoints[len(s.checkpoints)-1].Height
}

// MedianTimePast returns the median of the sampled timestamp window. Blocks
// near genesis work over a smaller window.
func (s *ChainState) MedianTimePast() uint32 {
	ordered := s.data.Timestamp.Ordered
	if len(ordered) == 0 {
		return 0
	}

	sorted := make([]uint32, len(ordered))
	copy(sorted, ordered)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// WorkRequired returns the expected difficulty bits of the subject header.
func (s *ChainState) WorkRequired() uint32 {
	if s.data.Height == 0 {
		return s.params.PowLimitBits
	}

	if s.forks&chaincfg.ForkRetarget == 0 {
		return s.params.PowLimitBits
	}

	if s.data.Height%s.params.RetargetInterval == 0 {
		return s.workRequiredRetarget()
	}

	if s.forks&chaincfg.ForkDifficult == 0 {
		return s.workRequiredEasy()
	}

	return s.data.Bits.last()
}

// workRequiredRetarget recomputes the difficulty from the actual elapsed
// time of the ending period, constrained to a quarter below and a quadruple
// above the target timespan.
func (s *ChainState) workRequiredRetarget() uint32 {
	targetTimespan := int64(s.params.TargetTimespan)

	actual := int64(s.data.Timestamp.Ordered[len(s.data.Timestamp.Ordered)-1]) -
		int64(s.data.Timestamp.Retarget)
	if actual < targetTimespan/4 {
		actual = targetTimespan / 4
	}
	if actual > targetTimespan*4 {
		actual = targetTimespan * 4
	}

	retarget := CompactToBig(s.data.Bits.last())
	retarget.Mul(retarget, big.NewInt(actual))
	retarget.Div(retarget, big.NewInt(targetTimespan))
	if retarget.Cmp(s.params.PowLimit) > 0 {
		retarget.Set(s.params.PowLimit)
	}

	return BigToCompact(retarget)
}

// workRequiredEasy applies the testnet minimum difficulty rule: a block
// whose timestamp is more than twice the target spacing past its parent may
// use the minimum difficulty, and otherwise inherits the bits of the last
// block that did not.
func (s *ChainState) workRequiredEasy() uint32 {
	maxTimeGap := s.data.Timestamp.Ordered[len(s.data.Timestamp.Ordered)-1] +
		2*s.params.TargetSpacing
	if s.data.Timestamp.Self > maxTimeGap {
		return s.params.PowLimitBits
	}

	// Scan back for the last non-minimum bits. The window reaches the
	// last retarget boundary, whose bits apply when every block since
	// was mined at the minimum.
	ordered := s.data.Bits.Ordered
	low := s.data.Height - uint64(len(ordered))
	for i := len(ordered) - 1; i > 0; i-- {
		if ordered[i] != s.params.PowLimitBits ||
			(low+uint64(i))%s.params.RetargetInterval == 0 {
			return ordered[i]
		}
	}
	return ordered[0]
}

// IsStale returns whether the subject timestamp is further than the stale
// threshold behind the given current time. A zero threshold disables
// staleness.
func (s *ChainState) IsStale(now uint32) bool {
	if s.staleSeconds == 0 {
		return false
	}
	return now > s.data.Timestamp.Self &&
		now-s.data.Timestamp.Self > s.staleSeconds
}

// ChainStatePopulator derives chain states against a branch layered over
// the fast chain. Database access is limited to the attribute getters named
// by the chain state map.
type ChainStatePopulator struct {
	chain        FastChainReader
	params       *chaincfg.Params
	checkpoints  []chaincfg.Checkpoint
	forks        chaincfg.RuleFork
	staleSeconds uint32
}

// NewChainStatePopulator returns a populator deriving states under the
// given configuration.
func NewChainStatePopulator(chain FastChainReader, params *chaincfg.Params,
	forks chaincfg.RuleFork, staleSeconds uint32) *ChainStatePopulator {

	return &ChainStatePopulator{
		chain:        chain,
		params:       params,
		checkpoints:  params.Checkpoints,
		forks:        forks,
		staleSeconds: staleSeconds,
	}
}

// getBits reads bits at a height from the branch, falling back to the
// indexed chain.
func (p *ChainStatePopulator) getBits(height uint64, branch *HeaderBranch,
	blockIndex bool) (uint32, bool) {

	if bits, ok := branch.GetBits(height); ok {
		return bits, true
	}
	return p.chain.Bits(height, blockIndex)
}

func (p *ChainStatePopulator) getVersion(height uint64, branch *HeaderBranch,
	blockIndex bool) (uint32, bool) {

	if version, ok := branch.GetVersion(height); ok {
		return version, true
	}
	return p.chain.Version(height, blockIndex)
}

func (p *ChainStatePopulator) getTimestamp(height uint64, branch *HeaderBranch,
	blockIndex bool) (uint32, bool) {

	if timestamp, ok := branch.GetTimestamp(height); ok {
		return timestamp, true
	}
	return p.chain.Timestamp(height, blockIndex)
}

func (p *ChainStatePopulator) getBlockHash(height uint64, branch *HeaderBranch,
	blockIndex bool) (*chainhash.Hash, bool) {

	if hash, ok := branch.GetBlockHash(height); ok {
		return hash, true
	}
	return p.chain.HashByHeight(height, blockIndex)
}

// populateRange fills an ordered vector with the attribute over the mapped
// range using the given getter. The vector's index to height translation is
// height = range.Low() + index.
func populateRange(out *[]uint32, r HeightRange,
	get func(height uint64) (uint32, bool)) bool {

	if r.Count == 0 {
		*out = nil
		return true
	}

	ordered := make([]uint32, 0, r.Count)
	for height := r.Low(); height <= r.High; height++ {
		value, ok := get(height)
		if !ok {
			return false
		}
		ordered = append(ordered, value)
	}
	*out = ordered
	return true
}

// populateAll fills the chain state data for data.Height. It returns false,
// and the data must be discarded, when any required attribute is missing
// from both the branch and the indexed chain.
func (p *ChainStatePopulator) populateAll(data *ChainStateData,
	branch *HeaderBranch, blockIndex bool) bool {

	m := GetChainStateMap(data.Height, p.params, p.forks)

	ok := populateRange(&data.Bits.Ordered, m.Bits, func(h uint64) (uint32, bool) {
		return p.getBits(h, branch, blockIndex)
	})
	if !ok {
		return false
	}
	if data.Height > 0 {
		if data.Bits.Self, ok = p.getBits(m.BitsSelf, branch, blockIndex); !ok {
			return false
		}
	}

	ok = populateRange(&data.Version.Ordered, m.Version, func(h uint64) (uint32, bool) {
		return p.getVersion(h, branch, blockIndex)
	})
	if !ok {
		return false
	}
	if data.Height > 0 && m.Version.Count > 0 {
		if data.Version.Self, ok = p.getVersion(m.VersionSelf, branch, blockIndex); !ok {
			return false
		}
	}

	ok = populateRange(&data.Timestamp.Ordered, m.Timestamp, func(h uint64) (uint32, bool) {
		return p.getTimestamp(h, branch, blockIndex)
	})
	if !ok {
		return false
	}
	if data.Height > 0 {
		if data.Timestamp.Self, ok = p.getTimestamp(m.TimestampSelf, branch, blockIndex); !ok {
			return false
		}
	}

	data.Timestamp.Retarget = unspecifiedTimestamp
	if m.TimestampRetarget != UnspecifiedHeight {
		if data.Timestamp.Retarget, ok = p.getTimestamp(m.TimestampRetarget,
			branch, blockIndex); !ok {
			return false
		}
	}

	data.AllowCollisionsHash = chainhash.ZeroHash
	if m.AllowCollisionsHeight != UnspecifiedHeight {
		hash, ok := p.getBlockHash(m.AllowCollisionsHeight, branch, blockIndex)
		if !ok {
			return false
		}
		data.AllowCollisionsHash = *hash
	}

	return true
}

// PopulateTop derives the chain state of the top of the block index, or of
// the header index when blockIndex is false. This is the startup scenario,
// so there is no branch.
func (p *ChainStatePopulator) PopulateTop(blockIndex bool) *ChainState {
	height, ok := p.chain.TopHeight(blockIndex)
	if !ok {
		return nil
	}

	hash, ok := p.chain.HashByHeight(height, blockIndex)
	if !ok {
		return nil
	}

	data := ChainStateData{Height: height, Hash: *hash}
	if !p.populateAll(&data, NewHeaderBranch(0), blockIndex) {
		return nil
	}

	return NewChainState(data, p.checkpoints, p.forks, p.staleSeconds,
		p.params)
}

// PopulateBranch derives the chain state of the top header of the given
// branch, consulting the header index for heights the branch does not
// cover. The branch must not be empty. When the immediate parent carries a
// state the child is promoted from it directly, which is the common case
// while committing a branch in order.
func (p *ChainStatePopulator) PopulateBranch(branch *HeaderBranch) *ChainState {
	top, err := branch.Top()
	if err != nil {
		return nil
	}

	if parent, _ := branch.TopParent(); parent != nil && parent.State() != nil {
		if state := NewChildState(parent.State(), top.Header()); state != nil {
			top.SetState(state)
			return state
		}
	}

	data := ChainStateData{Height: branch.TopHeight(), Hash: *top.Hash()}
	if !p.populateAll(&data, branch, false) {
		return nil
	}

	state := NewChainState(data, p.checkpoints, p.forks, p.staleSeconds,
		p.params)
	top.SetState(state)
	return state
}
