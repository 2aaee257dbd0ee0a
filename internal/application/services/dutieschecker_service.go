package services

import (
	"context"
	"fmt"

	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/application/duties"
	"github.com/Marketen/validator-watcher/internal/logger"
)

// processHeadSlots checks every head slot in [from, upTo]: the proposal
// outcome, the attestation duties of the slot before and the fee recipient.
// It stops at the first fetch failure so the slot is retried on the next tick.
func (w *Watcher) processHeadSlots(ctx context.Context, from, upTo domain.Slot) {
	for slot := from; slot <= upTo; slot++ {
		block, err := w.beacon.GetBlock(ctx, slot)
		if err != nil {
			logger.Warn("Could not fetch block at slot %d, retrying next tick: %v", slot, err)
			return
		}

		proposer, known := w.schedule.HeadProposer(slot)
		if block == nil {
			// Missed slot → 404.
			if known {
				w.registry.RecordBlockOutcome(proposer, slot, false, false)
				logger.Debug("Validator %d was scheduled to propose at slot %d but did not", proposer, slot)
			} else {
				logger.Warn("No block and no known proposer at slot %d", slot)
			}
			w.lastHeadProcessed = slot
			continue
		}

		if !known {
			proposer = block.ProposerIndex
		}
		w.registry.RecordBlockOutcome(proposer, slot, true, false)
		if slot > 0 {
			w.checkAttestations(ctx, slot-1, block)
		}
		w.checkFeeRecipient(ctx, proposer, block)
		w.lastHeadProcessed = slot
	}
}

// checkAttestations resolves the attestation duties of dutySlot from the
// attestations included in the following block.
func (w *Watcher) checkAttestations(ctx context.Context, dutySlot domain.Slot, block *domain.Block) {
	committees, err := w.committeesFor(ctx, w.spec.EpochOf(dutySlot))
	if err != nil {
		logger.Warn("Error fetching committees for slot %d: %v", dutySlot, err)
		return
	}
	slotCommittees, ok := committees[dutySlot]
	if !ok {
		logger.Warn("No committees found for data slot %d (included in block slot %d)", dutySlot, block.Slot)
		return
	}

	res := duties.Resolve(dutySlot, slotCommittees, block.Attestations)
	w.registry.ApplyDuties(res.Attested, res.Missed())
	logger.Debug("Slot %d attestation duties: %d assigned, %d attested in block %d",
		dutySlot, len(res.Assigned), len(res.Attested), block.Slot)
}

func (w *Watcher) committeesFor(ctx context.Context, epoch domain.Epoch) (domain.EpochCommittees, error) {
	if c, ok := w.committees.Get(epoch); ok {
		return c, nil
	}
	c, err := w.beacon.GetEpochCommittees(ctx, epoch)
	if err != nil {
		return nil, err
	}
	w.committees.Add(epoch, c)
	return c, nil
}

// checkFeeRecipient verifies that a block proposed by a watched validator pays
// the configured fee recipient, either directly in the payload or through the
// last transaction of the execution block (builder payment).
func (w *Watcher) checkFeeRecipient(ctx context.Context, proposer domain.ValidatorIndex, block *domain.Block) {
	if w.opts.FeeRecipient == "" || block.ExecutionBlockHash == "" || !w.registry.IsWatched(proposer) {
		return
	}
	if block.FeeRecipient == w.opts.FeeRecipient {
		return
	}
	if w.execution != nil {
		recipient, ok, err := w.execution.LastTransactionRecipient(ctx, block.ExecutionBlockHash)
		if err != nil {
			// unknown is not wrong
			logger.Warn("Could not check the last transaction of block %d: %v", block.Slot, err)
			return
		}
		if ok && recipient == w.opts.FeeRecipient {
			return
		}
	}

	labels, _ := w.registry.Labels(proposer)
	w.metrics.IncWrongFeeRecipient(labels.All)
	w.sendAlert(ctx, fmt.Sprintf("🚩 Validator %s proposed block at slot %d with wrong fee recipient %s",
		w.describe(proposer), block.Slot, block.FeeRecipient))
}

// processFinalizedSlots records finalized proposal outcomes up to target. A slot
// whose proposer stays unknown for maxFinalizedSlotRetries ticks is skipped,
// together with the unknown slots that directly follow it.
func (w *Watcher) processFinalizedSlots(ctx context.Context, target domain.Slot) {
	skipping := false
	for slot := w.lastFinalizedProcessed + 1; slot <= target; slot++ {
		proposer, ok := w.schedule.FinalizedProposer(slot)
		if !ok {
			if !skipping && !w.finalizedRetriesExhausted(slot) {
				logger.Warn("No finalized proposer known for slot %d, retrying next tick", slot)
				return
			}
			skipping = true
			logger.Error("No finalized proposer known for slot %d, skipping it", slot)
			w.lastFinalizedProcessed = slot
			continue
		}
		skipping = false
		_, found, err := w.beacon.GetHeader(ctx, fmt.Sprintf("%d", slot))
		if err != nil {
			logger.Warn("Could not fetch finalized header at slot %d, retrying next tick: %v", slot, err)
			return
		}
		w.registry.RecordBlockOutcome(proposer, slot, found, true)
		w.lastFinalizedProcessed = slot
	}
}

// finalizedRetriesExhausted counts one more tick stuck on slot.
func (w *Watcher) finalizedRetriesExhausted(slot domain.Slot) bool {
	if w.finalizedStuckSlot != slot {
		w.finalizedStuckSlot, w.finalizedStuckTicks = slot, 0
	}
	w.finalizedStuckTicks++
	return w.finalizedStuckTicks >= maxFinalizedSlotRetries
}
