package blockchain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argentumnet/argentumd/dispatch"
	"github.com/argentumnet/argentumd/wire"
)

// newTestOrganizer assembles an organizer over the fake chain.
func newTestOrganizer(t *testing.T, chain *fakeChain) *Organizer {
	t.Helper()
	params := newTestParams()

	organizer := NewOrganizer(dispatch.NewOrdered(), NewHeaderPool(0), chain,
		newTestPopulator(chain, params), newTestValidator(chain, params))
	organizer.Start()
	t.Cleanup(organizer.Stop)
	return organizer
}

// submitBlock runs ProcessBlock synchronously and returns the completion
// error.
func submitBlock(t *testing.T, organizer *Organizer,
	block *wire.MsgBlock) error {

	t.Helper()
	done := make(chan error, 1)
	organizer.ProcessBlock(block, func(err error) { done <- err })

	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("organizer did not complete")
		return nil
	}
}

// TestOrganizerExtendsChain commits a block extending the chain top and
// emits a fork event with no outgoing blocks.
func TestOrganizerExtendsChain(t *testing.T) {
	chain := newFakeChain(t)
	organizer := newTestOrganizer(t, chain)

	type event struct {
		forkPoint uint64
		incoming  int
		outgoing  int
	}
	events := make(chan event, 1)
	organizer.SubscribeReorganize(func(err error, forkPoint uint64,
		incoming, outgoing []*wire.MsgBlock) {
		if err != nil {
			return
		}
		events <- event{forkPoint, len(incoming), len(outgoing)}
	})

	block := newTestBlock(t, chain.tipHash(), 1, testTimestamp)
	require.NoError(t, submitBlock(t, organizer, block))

	select {
	case got := <-events:
		require.Equal(t, event{forkPoint: 0, incoming: 1, outgoing: 0}, got)
	case <-time.After(10 * time.Second):
		t.Fatal("no fork event was emitted")
	}

	// The chain advanced to the new block.
	topHeight, ok := chain.TopHeight(true)
	require.True(t, ok)
	require.Equal(t, uint64(1), topHeight)
	require.Equal(t, block.BlockHash(), *chain.tipHash())
}

// TestOrganizerReorganize commits a heavier branch, displacing the current
// top and emitting a fork event carrying both sides.
func TestOrganizerReorganize(t *testing.T) {
	chain := newFakeChain(t)
	organizer := newTestOrganizer(t, chain)
	genesisHash := chain.entries[0].hash

	// Extend the chain with one block.
	original := newTestBlock(t, chain.tipHash(), 1, testTimestamp)
	require.NoError(t, submitBlock(t, organizer, original))

	// A competing single block does not outweigh the chain and stays in
	// the pool.
	competing := newTestBlock(t, &genesisHash, 1, testTimestamp+1)
	require.NoError(t, submitBlock(t, organizer, competing))
	topHeight, _ := chain.TopHeight(true)
	require.Equal(t, uint64(1), topHeight)
	require.Equal(t, original.BlockHash(), *chain.tipHash())

	var (
		gotFork     uint64
		gotIncoming []*wire.MsgBlock
		gotOutgoing []*wire.MsgBlock
	)
	eventDone := make(chan struct{}, 1)
	organizer.SubscribeReorganize(func(err error, forkPoint uint64,
		incoming, outgoing []*wire.MsgBlock) {
		if err != nil {
			return
		}
		gotFork = forkPoint
		gotIncoming = incoming
		gotOutgoing = outgoing
		eventDone <- struct{}{}
	})

	// A second block on the competing branch tips the scales.
	competingHash := competing.BlockHash()
	competing2 := newTestBlock(t, &competingHash, 2, testTimestamp+601)
	require.NoError(t, submitBlock(t, organizer, competing2))

	select {
	case <-eventDone:
	case <-time.After(10 * time.Second):
		t.Fatal("no fork event was emitted")
	}

	require.Equal(t, uint64(0), gotFork)
	require.Len(t, gotIncoming, 2)
	require.Len(t, gotOutgoing, 1)
	require.Equal(t, original.BlockHash(), gotOutgoing[0].BlockHash())

	topHeight, _ = chain.TopHeight(true)
	require.Equal(t, uint64(2), topHeight)
	require.Equal(t, competing2.BlockHash(), *chain.tipHash())
}

// TestOrganizerClipsInvalid rejects a block failing acceptance, caches the
// failure, and refuses resubmission.
func TestOrganizerClipsInvalid(t *testing.T) {
	chain := newFakeChain(t)
	organizer := newTestOrganizer(t, chain)

	// The timestamp is not after the parent median time past.
	genesisTimestamp := chain.entries[0].timestamp
	invalid := newTestBlock(t, chain.tipHash(), 1, genesisTimestamp)

	err := submitBlock(t, organizer, invalid)
	requireErrorCode(t, err, ErrTimestampTooEarly)

	// The failure was cached; resubmission is short-circuited.
	err = submitBlock(t, organizer, invalid)
	requireErrorCode(t, err, ErrTimestampTooEarly)

	// The chain did not advance.
	topHeight, _ := chain.TopHeight(true)
	require.Equal(t, uint64(0), topHeight)
}

// TestOrganizerWaitsForAncestors keeps a block whose parent is unknown in
// the pool without committing.
func TestOrganizerWaitsForAncestors(t *testing.T) {
	chain := newFakeChain(t)
	organizer := newTestOrganizer(t, chain)

	orphanParent := newTestBlock(t, chain.tipHash(), 1, testTimestamp)
	orphanParentHash := orphanParent.BlockHash()
	orphan := newTestBlock(t, &orphanParentHash, 2, testTimestamp+600)

	// The child arrives first; it stages but cannot commit.
	require.NoError(t, submitBlock(t, organizer, orphan))
	topHeight, _ := chain.TopHeight(true)
	require.Equal(t, uint64(0), topHeight)

	// Once the parent arrives the whole branch commits.
	require.NoError(t, submitBlock(t, organizer, orphanParent))
	topHeight, _ = chain.TopHeight(true)
	require.Equal(t, uint64(2), topHeight)
	require.Equal(t, orphan.BlockHash(), *chain.tipHash())
}

// TestOrganizerStoppedRejectsWork checks that Stop notifies subscribers
// with the stopped error and that submissions after Stop complete with it.
func TestOrganizerStoppedRejectsWork(t *testing.T) {
	chain := newFakeChain(t)
	params := newTestParams()

	organizer := NewOrganizer(dispatch.NewOrdered(), NewHeaderPool(0), chain,
		newTestPopulator(chain, params), newTestValidator(chain, params))
	organizer.Start()

	var stopErr error
	organizer.SubscribeReorganize(func(err error, _ uint64,
		_, _ []*wire.MsgBlock) {
		stopErr = err
	})
	organizer.Stop()

	requireErrorCode(t, stopErr, ErrServiceStopped)

	var submitErr error
	block := newTestBlock(t, chain.tipHash(), 1, testTimestamp)
	organizer.ProcessBlock(block, func(err error) { submitErr = err })
	requireErrorCode(t, submitErr, ErrServiceStopped)
}
