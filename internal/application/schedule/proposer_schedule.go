// Package schedule keeps the rolling proposer duty window used for head,
// finalized and future block checks.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/logger"
)

// DutiesFetcher loads proposer duties for a whole epoch.
type DutiesFetcher interface {
	GetProposerDuties(ctx context.Context, epoch domain.Epoch) ([]domain.ProposerDuty, error)
}

// ProposerSchedule caches slot -> proposer for two views of the chain. The head
// view covers the current and next epoch, the finalized view covers the epochs
// between the last processed finalized slot and the newest finalized slot.
// It is owned by the tick loop and not safe for concurrent use.
type ProposerSchedule struct {
	slotsPerEpoch uint64
	head          map[domain.Slot]domain.ValidatorIndex
	finalized     map[domain.Slot]domain.ValidatorIndex
}

// NewProposerSchedule returns an empty schedule.
func NewProposerSchedule(slotsPerEpoch uint64) *ProposerSchedule {
	return &ProposerSchedule{
		slotsPerEpoch: slotsPerEpoch,
		head:          make(map[domain.Slot]domain.ValidatorIndex),
		finalized:     make(map[domain.Slot]domain.ValidatorIndex),
	}
}

func (s *ProposerSchedule) epochOf(slot domain.Slot) domain.Epoch {
	return domain.Epoch(uint64(slot) / s.slotsPerEpoch)
}

func (s *ProposerSchedule) epochBounds(epoch domain.Epoch) (first, last domain.Slot) {
	first = domain.Slot(uint64(epoch) * s.slotsPerEpoch)
	return first, first + domain.Slot(s.slotsPerEpoch) - 1
}

// complete reports whether every slot in [from, to] has a known proposer.
func complete(m map[domain.Slot]domain.ValidatorIndex, from, to domain.Slot) bool {
	for slot := from; slot <= to; slot++ {
		if _, ok := m[slot]; !ok {
			return false
		}
	}
	return true
}

func (s *ProposerSchedule) fetchInto(ctx context.Context, fetcher DutiesFetcher, m map[domain.Slot]domain.ValidatorIndex, epoch domain.Epoch) error {
	duties, err := fetcher.GetProposerDuties(ctx, epoch)
	if err != nil {
		return fmt.Errorf("proposer duties for epoch %d: %w", epoch, err)
	}
	for _, d := range duties {
		m[d.Slot] = d.ValidatorIndex
	}
	return nil
}

// UpdateHead makes sure the head view holds the rest of the epoch of slot and the
// whole next epoch. Completeness is checked per slot so that a partial earlier
// fetch is retried, and slots before slot are ignored since they may be trimmed.
func (s *ProposerSchedule) UpdateHead(ctx context.Context, fetcher DutiesFetcher, slot domain.Slot) error {
	epoch := s.epochOf(slot)
	var errs []error
	for _, e := range []domain.Epoch{epoch, epoch + 1} {
		first, last := s.epochBounds(e)
		if first < slot {
			first = slot
		}
		if complete(s.head, first, last) {
			continue
		}
		if err := s.fetchInto(ctx, fetcher, s.head, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UpdateFinalized fetches duties for every epoch spanning (lastProcessed, finalized].
func (s *ProposerSchedule) UpdateFinalized(ctx context.Context, fetcher DutiesFetcher, lastProcessed, finalized domain.Slot) error {
	if finalized <= lastProcessed {
		return nil
	}
	var errs []error
	for e := s.epochOf(lastProcessed + 1); e <= s.epochOf(finalized); e++ {
		// slots at or before lastProcessed may already be trimmed
		first, last := s.epochBounds(e)
		if first <= lastProcessed {
			first = lastProcessed + 1
		}
		if last > finalized {
			last = finalized
		}
		if complete(s.finalized, first, last) {
			continue
		}
		if err := s.fetchInto(ctx, fetcher, s.finalized, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HeadProposer returns the proposer of slot in the head view.
func (s *ProposerSchedule) HeadProposer(slot domain.Slot) (domain.ValidatorIndex, bool) {
	idx, ok := s.head[slot]
	return idx, ok
}

// FinalizedProposer returns the proposer of slot in the finalized view.
func (s *ProposerSchedule) FinalizedProposer(slot domain.Slot) (domain.ValidatorIndex, bool) {
	idx, ok := s.finalized[slot]
	return idx, ok
}

// FutureProposals returns the head view duties strictly after slot, ordered by slot.
func (s *ProposerSchedule) FutureProposals(after domain.Slot) []domain.ProposerDuty {
	out := make([]domain.ProposerDuty, 0, s.slotsPerEpoch)
	for slot, idx := range s.head {
		if slot > after {
			out = append(out, domain.ProposerDuty{Slot: slot, ValidatorIndex: idx})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Trim evicts head entries at or before lastHead and finalized entries at or before lastFinalized.
func (s *ProposerSchedule) Trim(lastHead, lastFinalized domain.Slot) {
	for slot := range s.head {
		if slot <= lastHead {
			delete(s.head, slot)
		}
	}
	for slot := range s.finalized {
		if slot <= lastFinalized {
			delete(s.finalized, slot)
		}
	}
	head, finalized := s.Len()
	logger.Debug("Proposer schedule trimmed: %d head / %d finalized entries", head, finalized)
}

// Len returns the number of cached head and finalized entries.
func (s *ProposerSchedule) Len() (head, finalized int) {
	return len(s.head), len(s.finalized)
}
