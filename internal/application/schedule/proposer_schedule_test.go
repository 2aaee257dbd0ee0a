package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marketen/validator-watcher/internal/application/domain"
)

const slotsPerEpoch = 4

type fakeFetcher struct {
	calls   []domain.Epoch
	failFor map[domain.Epoch]bool
	// drop leaves the given slots out of a response to simulate partial answers.
	drop map[domain.Slot]bool
}

func (f *fakeFetcher) GetProposerDuties(_ context.Context, epoch domain.Epoch) ([]domain.ProposerDuty, error) {
	f.calls = append(f.calls, epoch)
	if f.failFor[epoch] {
		return nil, errors.New("beacon unavailable")
	}
	var out []domain.ProposerDuty
	first := domain.Slot(uint64(epoch) * slotsPerEpoch)
	for slot := first; slot < first+slotsPerEpoch; slot++ {
		if f.drop[slot] {
			continue
		}
		out = append(out, domain.ProposerDuty{Slot: slot, ValidatorIndex: domain.ValidatorIndex(1000 + slot)})
	}
	return out, nil
}

func TestUpdateHeadFetchesCurrentAndNextEpoch(t *testing.T) {
	f := &fakeFetcher{}
	s := NewProposerSchedule(slotsPerEpoch)

	require.NoError(t, s.UpdateHead(context.Background(), f, 9))
	assert.Equal(t, []domain.Epoch{2, 3}, f.calls)

	idx, ok := s.HeadProposer(9)
	assert.True(t, ok)
	assert.Equal(t, domain.ValidatorIndex(1009), idx)
	_, ok = s.HeadProposer(15)
	assert.True(t, ok)

	// already present, nothing to fetch
	require.NoError(t, s.UpdateHead(context.Background(), f, 10))
	assert.Len(t, f.calls, 2)

	// next epoch boundary only needs the following epoch
	s.Trim(11, 0)
	require.NoError(t, s.UpdateHead(context.Background(), f, 12))
	assert.Equal(t, []domain.Epoch{2, 3, 4}, f.calls)
}

func TestUpdateHeadSelfHealsPartialFetch(t *testing.T) {
	f := &fakeFetcher{drop: map[domain.Slot]bool{10: true}}
	s := NewProposerSchedule(slotsPerEpoch)

	require.NoError(t, s.UpdateHead(context.Background(), f, 8))
	_, ok := s.HeadProposer(10)
	assert.False(t, ok)

	f.drop = nil
	require.NoError(t, s.UpdateHead(context.Background(), f, 8))
	_, ok = s.HeadProposer(10)
	assert.True(t, ok)
	assert.Equal(t, []domain.Epoch{2, 3, 2}, f.calls)
}

func TestUpdateHeadReportsFailures(t *testing.T) {
	f := &fakeFetcher{failFor: map[domain.Epoch]bool{3: true}}
	s := NewProposerSchedule(slotsPerEpoch)

	err := s.UpdateHead(context.Background(), f, 8)
	require.Error(t, err)
	// the epoch that worked is still usable
	_, ok := s.HeadProposer(8)
	assert.True(t, ok)
	_, ok = s.HeadProposer(12)
	assert.False(t, ok)
}

func TestUpdateFinalizedCoversGap(t *testing.T) {
	f := &fakeFetcher{}
	s := NewProposerSchedule(slotsPerEpoch)

	require.NoError(t, s.UpdateFinalized(context.Background(), f, 8, 8))
	assert.Empty(t, f.calls)

	require.NoError(t, s.UpdateFinalized(context.Background(), f, 8, 20))
	assert.Equal(t, []domain.Epoch{2, 3, 4, 5}, f.calls)
	for slot := domain.Slot(9); slot <= 20; slot++ {
		_, ok := s.FinalizedProposer(slot)
		assert.True(t, ok, "slot %d", slot)
	}

	s.Trim(0, 20)
	head, finalized := s.Len()
	assert.Equal(t, 0, head)
	assert.Equal(t, 3, finalized) // 21, 22, 23 remain

	// the partially trimmed epoch 5 still covers 21..23, no refetch needed
	require.NoError(t, s.UpdateFinalized(context.Background(), f, 20, 23))
	assert.Len(t, f.calls, 4)
}

func TestLookupsOutsideWindow(t *testing.T) {
	s := NewProposerSchedule(slotsPerEpoch)
	_, ok := s.HeadProposer(1)
	assert.False(t, ok)
	_, ok = s.FinalizedProposer(1)
	assert.False(t, ok)
	assert.Empty(t, s.FutureProposals(0))
}

func TestFutureProposalsOrdered(t *testing.T) {
	f := &fakeFetcher{}
	s := NewProposerSchedule(slotsPerEpoch)
	require.NoError(t, s.UpdateHead(context.Background(), f, 4))

	future := s.FutureProposals(5)
	require.Len(t, future, 6)
	for i, d := range future {
		assert.Equal(t, domain.Slot(6+i), d.Slot)
	}
}

func TestTrimBoundsMemory(t *testing.T) {
	f := &fakeFetcher{}
	s := NewProposerSchedule(slotsPerEpoch)
	for slot := domain.Slot(0); slot < 100; slot++ {
		require.NoError(t, s.UpdateHead(context.Background(), f, slot))
		s.Trim(slot, 0)
		head, _ := s.Len()
		assert.LessOrEqual(t, head, 2*slotsPerEpoch)
	}
}
