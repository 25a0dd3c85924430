package blockchain

import (
	"sync"

	"github.com/argentumnet/argentumd/dispatch"
	"github.com/argentumnet/argentumd/util/chainhash"
	"github.com/argentumnet/argentumd/wire"
)

// blockPhase tracks the progress of a branch entry through the validation
// phases while a commit is in flight.
type blockPhase int

const (
	phaseCheckPending blockPhase = iota
	phaseChecked
	phaseAcceptPending
	phaseAccepted
	phaseConnectPending
	phaseConnected
	phaseFailed
)

// ReorganizeHandler is notified of a committed reorganization: the fork
// point, the blocks that entered the indexed chain in order, and the blocks
// displaced from it. A non-nil error indicates the organizer is stopping
// and no event data is carried.
type ReorganizeHandler func(err error, forkPoint uint64,
	incoming, outgoing []*wire.MsgBlock)

// Organizer accepts candidate blocks, stages them in the header pool, and
// reorganizes the indexed chain when a staged branch carries more work than
// the chain segment it competes with. All pool and chain mutation happens
// on a single ordered dispatcher, which is the only writer.
type Organizer struct {
	ordered   *dispatch.Ordered
	pool      *HeaderPool
	chain     FastChain
	populator *BlockPopulator
	validator *BlockValidator

	// errorCache remembers validation failures so invalid items are not
	// re-validated.
	errorCache map[chainhash.Hash]ErrorCode

	subscriberMtx sync.Mutex
	subscribers   []ReorganizeHandler

	stopMtx sync.Mutex
	running bool
}

// NewOrganizer assembles an organizer over the given collaborators.
func NewOrganizer(ordered *dispatch.Ordered, pool *HeaderPool, chain FastChain,
	populator *BlockPopulator, validator *BlockValidator) *Organizer {

	return &Organizer{
		ordered:    ordered,
		pool:       pool,
		chain:      chain,
		populator:  populator,
		validator:  validator,
		errorCache: make(map[chainhash.Hash]ErrorCode),
	}
}

// Start transitions the organizer to running. Re-entry is allowed.
func (o *Organizer) Start() {
	o.stopMtx.Lock()
	defer o.stopMtx.Unlock()
	if o.running {
		return
	}
	o.running = true
	o.ordered.Start()
}

// Stop transitions the organizer to stopped, notifying subscribers so
// dependent pools can unwind. Re-entry is allowed.
func (o *Organizer) Stop() {
	o.stopMtx.Lock()
	if !o.running {
		o.stopMtx.Unlock()
		return
	}
	o.running = false
	o.stopMtx.Unlock()

	o.notify(ruleError(ErrServiceStopped, "organizer stopped"), 0, nil, nil)
	o.ordered.Stop()
}

// Stopped returns whether the organizer is not running.
func (o *Organizer) Stopped() bool {
	o.stopMtx.Lock()
	defer o.stopMtx.Unlock()
	return !o.running
}

// SubscribeReorganize registers a one-shot reorganization handler. The
// handler observes at most one event and must re-subscribe to observe the
// next; events are delivered in commit order.
func (o *Organizer) SubscribeReorganize(handler ReorganizeHandler) {
	o.subscriberMtx.Lock()
	defer o.subscriberMtx.Unlock()
	o.subscribers = append(o.subscribers, handler)
}

// notify delivers an event to every current subscriber exactly once and
// clears the subscription list.
func (o *Organizer) notify(err error, forkPoint uint64,
	incoming, outgoing []*wire.MsgBlock) {

	o.subscriberMtx.Lock()
	subscribers := o.subscribers
	o.subscribers = nil
	o.subscriberMtx.Unlock()

	for _, handler := range subscribers {
		handler(err, forkPoint, incoming, outgoing)
	}
}

// ProcessBlock submits a candidate block. The handler fires exactly once:
// with nil when the block was staged or committed, and with the validation
// failure otherwise.
func (o *Organizer) ProcessBlock(block *wire.MsgBlock, handler func(error)) {
	if o.Stopped() {
		handler(ruleError(ErrServiceStopped, "organizer stopped"))
		return
	}
	o.ordered.Do(func() {
		handler(o.processBlock(block))
	})
}

// ProcessHeader submits a candidate header without transaction data. The
// header is staged in the pool and extends a branch once its block content
// arrives.
func (o *Organizer) ProcessHeader(header *wire.BlockHeader, handler func(error)) {
	if o.Stopped() {
		handler(ruleError(ErrServiceStopped, "organizer stopped"))
		return
	}
	o.ordered.Do(func() {
		handler(o.processHeader(header))
	})
}

func (o *Organizer) processHeader(header *wire.BlockHeader) error {
	if o.Stopped() {
		return ruleError(ErrServiceStopped, "organizer stopped")
	}

	hash := header.BlockHash()
	if err := o.knownInvalid(&hash); err != nil {
		return err
	}

	meta := o.chain.PopulateHeader(header, MaxForkHeight)
	if meta.Error != ErrSuccess {
		return ruleError(meta.Error, "header is known to be invalid")
	}
	if meta.Exists || o.pool.Exists(&hash) {
		return ruleError(ErrDuplicate, "header is already known")
	}

	if !CheckProofOfWork(&hash, header.Bits, o.validator.params.PowLimit) {
		err := ruleError(ErrProofOfWork, "header does not meet its "+
			"claimed target")
		o.errorCache[hash] = ErrProofOfWork
		return err
	}

	o.pool.Insert(NewHeaderEntry(header, o.candidateHeight(header)))
	return nil
}

func (o *Organizer) processBlock(block *wire.MsgBlock) error {
	if o.Stopped() {
		return ruleError(ErrServiceStopped, "organizer stopped")
	}

	hash := block.BlockHash()
	if err := o.knownInvalid(&hash); err != nil {
		return err
	}

	// The block must not already be indexed.
	if meta := o.chain.PopulateHeader(&block.Header, MaxForkHeight); meta.Exists {
		return ruleError(ErrDuplicate, "block is already indexed")
	}

	// Attach block content to a staged header, or stage a new entry.
	entry := o.pool.Get(&hash)
	if entry != nil && entry.Block() != nil {
		return ruleError(ErrDuplicate, "block is already staged")
	}

	// Context free checks precede staging so that invalid blocks never
	// occupy pool space. These failures never mutate persistent state
	// but are remembered in the error cache.
	if err := o.validator.CheckBlock(block); err != nil {
		if code := ErrorCodeOf(err); code != ErrServiceStopped {
			o.errorCache[hash] = code
		}
		return err
	}

	if entry == nil {
		entry = NewHeaderEntry(&block.Header, o.candidateHeight(&block.Header))
		o.pool.Insert(entry)
	}
	entry.SetBlock(block)

	return o.organize(entry)
}

// knownInvalid consults the error caches for a prior failure of the hash.
func (o *Organizer) knownInvalid(hash *chainhash.Hash) error {
	if code, ok := o.errorCache[*hash]; ok {
		return ruleError(code, "block is known to be invalid")
	}
	if code, ok := o.chain.BlockError(hash); ok && code != ErrSuccess {
		return ruleError(code, "block is known to be invalid")
	}
	return nil
}

// candidateHeight resolves the height a header would occupy, or zero when
// its parent is unknown.
func (o *Organizer) candidateHeight(header *wire.BlockHeader) uint64 {
	if parent := o.pool.Get(&header.PrevBlock); parent != nil {
		if parent.Height() != 0 {
			return parent.Height() + 1
		}
		return 0
	}
	if height, ok := o.chain.HeightByHash(&header.PrevBlock, true); ok {
		return height + 1
	}
	return 0
}

// organize traces the branch holding the entry and commits it when it
// carries more work than the competing chain segment.
func (o *Organizer) organize(entry *HeaderEntry) error {
	branch := o.pool.BranchTo(entry.Hash())
	if branch.Empty() {
		return ruleError(ErrOperationFailed, "entry is not staged")
	}

	// The branch must connect to the indexed chain; otherwise wait for
	// more ancestors.
	forkHash := branch.ForkHash()
	forkHeight, ok := o.chain.HeightByHash(&forkHash, true)
	if !ok {
		log.Debugf("Branch root %s has no indexed ancestor, waiting",
			forkHash)
		return nil
	}
	branch.SetForkHeight(forkHeight)

	// Compare cumulative work of the branch against the indexed chain
	// above the fork point. Sufficient claimed work is required before
	// validating, as denial of service protection.
	branchWork := branch.Work()
	chainWork := o.chain.Work(branchWork, forkHeight, true)
	if branchWork.Cmp(chainWork) <= 0 {
		log.Tracef("Branch work %s does not exceed chain work %s, "+
			"keeping in pool", branchWork, chainWork)
		return nil
	}

	committed, err := o.commit(branch)
	if committed == 0 {
		return err
	}

	// Work was summed over the whole branch; after a clip the surviving
	// prefix must itself outweigh the chain segment.
	if committed < branch.Size() {
		surviving := NewHeaderBranch(forkHeight)
		for _, entry := range branch.Entries()[:committed] {
			surviving.Extend(entry)
		}
		survivingWork := surviving.Work()
		if survivingWork.Cmp(o.chain.Work(survivingWork, forkHeight,
			true)) <= 0 {
			return err
		}
		branch = surviving
	}

	o.reorganize(branch)

	// Pooled blocks parented on the new top are no longer waiting for
	// ancestors; organize them in turn.
	if top, topErr := branch.Top(); topErr == nil {
		o.organizeChildren(top.Hash())
	}

	return err
}

// organizeChildren organizes every pooled child of the given hash that has
// block content. Failures are already cached and clipped by the nested
// commit, so they do not propagate.
func (o *Organizer) organizeChildren(hash *chainhash.Hash) {
	for _, child := range o.pool.ChildrenOf(hash) {
		if child.Block() == nil {
			continue
		}
		if err := o.organize(child); err != nil {
			log.Debugf("Pooled descendant %s failed to organize: %s",
				child.Hash(), err)
		}
	}
}

// commit advances each branch entry through the accept and connect phases
// in order, clipping the branch at the first failure. It returns the
// number of fully validated entries and the error that stopped the
// commit, if any.
func (o *Organizer) commit(branch *HeaderBranch) (int, error) {
	forkHeight := branch.ForkHeight()
	staged := NewHeaderBranch(forkHeight)

	for index, entry := range branch.Entries() {
		// A branch can only be committed through entries with block
		// content; a header-only entry stalls the commit until its
		// block arrives.
		if entry.Block() == nil {
			return index, nil
		}

		if !staged.Extend(entry) {
			return index, ruleError(ErrOperationFailed, "branch does "+
				"not link")
		}

		phase := phaseCheckPending
		var pb *PopulatedBlock
		var err error

		// Advance the entry through its validation phases. Check ran
		// at arrival; population precedes acceptance so the accept
		// checks can consult the chain state.
		for phase != phaseConnected && phase != phaseFailed {
			switch phase {
			case phaseCheckPending:
				phase = phaseChecked

			case phaseChecked:
				pb, err = o.populator.Populate(entry.Block(), staged)
				if err != nil {
					phase = phaseFailed
					break
				}
				phase = phaseAcceptPending

			case phaseAcceptPending:
				if err = o.validator.AcceptBlock(pb); err != nil {
					phase = phaseFailed
					break
				}
				phase = phaseAccepted

			case phaseAccepted:
				// Blocks under a checkpoint are not connected; the
				// checkpoint stands in for full validation.
				if pb.State.IsUnderCheckpoint() {
					phase = phaseConnected
					break
				}
				phase = phaseConnectPending

			case phaseConnectPending:
				if err = o.validator.ConnectBlock(pb); err != nil {
					phase = phaseFailed
					break
				}
				phase = phaseConnected
			}
		}

		if phase == phaseFailed {
			// Service failures unwind without cache mutation or
			// clipping so the work can be retried.
			if code := ErrorCodeOf(err); !isServiceCode(code) {
				o.clip(branch, index, code)
			}
			return index, err
		}
	}

	return branch.Size(), nil
}

// isServiceCode returns whether the code is a service failure rather than
// a rule violation.
func isServiceCode(code ErrorCode) bool {
	return code == ErrServiceStopped || code == ErrOperationFailed ||
		code == ErrNotFound
}

// clip discards the invalid entry and all of its descendants from the pool,
// recording their failure in the error cache.
func (o *Organizer) clip(branch *HeaderBranch, index int, code ErrorCode) {
	entries := branch.Entries()
	invalid := entries[index]

	o.errorCache[*invalid.Hash()] = code
	for _, hash := range o.pool.Descendants(invalid.Hash()) {
		o.errorCache[hash] = ErrPreviousBlockInvalid
	}

	for _, hash := range o.pool.Descendants(invalid.Hash()) {
		hash := hash
		o.pool.Remove(&hash)
	}
	o.pool.Remove(invalid.Hash())

	log.Warnf("Invalid block [%s] clipped with %d descendants: %s",
		invalid.Hash(), len(entries)-index-1, code)
}

// reorganize atomically swaps the validated branch into the indexed chain
// and emits the fork event to every subscriber exactly once.
func (o *Organizer) reorganize(branch *HeaderBranch) {
	forkHeight := branch.ForkHeight()

	incoming := make([]*wire.MsgBlock, 0, branch.Size())
	for _, entry := range branch.Entries() {
		incoming = append(incoming, entry.Block())
	}

	var outgoing []*wire.MsgBlock
	o.chain.Reorganize(forkHeight, incoming, func(displaced []*wire.MsgBlock,
		err error) {

		if err != nil {
			// Validation has already run; a failing swap means the
			// chain storage is inconsistent and continuing would
			// corrupt the index.
			panic(err)
		}
		outgoing = displaced
	})

	// The branch entries are now indexed; displaced blocks return to the
	// pool so a later branch can reclaim them.
	for _, entry := range branch.Entries() {
		o.pool.Remove(entry.Hash())
	}
	for _, block := range outgoing {
		displacedEntry := NewHeaderEntry(&block.Header,
			o.candidateHeight(&block.Header))
		displacedEntry.SetBlock(block)
		o.pool.Insert(displacedEntry)
	}
	o.pool.Prune(forkHeight + uint64(branch.Size()))

	if len(outgoing) > 0 {
		log.Warnf("Reorganizing chain at fork height %d: %d in, %d out",
			forkHeight, len(incoming), len(outgoing))
	}

	o.notify(nil, forkHeight, incoming, outgoing)
}
