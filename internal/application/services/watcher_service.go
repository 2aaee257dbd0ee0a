package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Marketen/validator-watcher/internal/application/aggregation"
	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/application/entryqueue"
	"github.com/Marketen/validator-watcher/internal/application/ports"
	"github.com/Marketen/validator-watcher/internal/application/registry"
	"github.com/Marketen/validator-watcher/internal/application/schedule"
	"github.com/Marketen/validator-watcher/internal/logger"
)

const (
	// finalized slots checked per tick, so a long finality gap is caught up gradually
	maxFinalizedEpochsPerTick = 2
	committeeCacheEpochs      = 3

	// ticks a finalized slot without a known proposer is retried before it is skipped
	maxFinalizedSlotRetries = 3
)

// WatcherOptions carries the tunables of the tick loop.
type WatcherOptions struct {
	Watched []domain.WatchedKey
	// ReloadWatched, when set, is called on every epoch change; a failing
	// reload keeps the current watch list.
	ReloadWatched func() ([]domain.WatchedKey, error)

	// FeeRecipient enables the fee recipient check when not empty (lower-case 0x hex).
	FeeRecipient string

	LivenessSlotOffset uint64
	RewardsSlotOffset  uint64
	AggregationWorkers int
	AlertDetailLimit   int
}

// Watcher runs one processing tick per slot: it feeds chain data into the
// validator registry, aggregates it and publishes metrics and alerts.
type Watcher struct {
	beacon    ports.BeaconChainAdapter
	execution ports.ExecutionAdapter
	metrics   ports.MetricsSink
	alerts    ports.AlertSink

	spec domain.ChainSpec
	opts WatcherOptions

	registry   *registry.Registry
	schedule   *schedule.ProposerSchedule
	aggregator *aggregation.Aggregator
	committees *lru.Cache[domain.Epoch, domain.EpochCommittees]

	started                bool
	snapshotEpoch          domain.Epoch
	lastHeadProcessed      domain.Slot
	lastFinalizedProcessed domain.Slot
	finalizedStuckSlot     domain.Slot
	finalizedStuckTicks    int
	livenessEpochDone      *domain.Epoch
	rewardsEpochDone       *domain.Epoch
	alertedFuture          map[domain.Slot]struct{}
	pendingValidators      uint64
	entryQueue             time.Duration
	lastSuccess            time.Time
}

// NewWatcher constructs a Watcher with dependencies injected. execution may be nil.
func NewWatcher(
	beacon ports.BeaconChainAdapter,
	execution ports.ExecutionAdapter,
	metrics ports.MetricsSink,
	alerts ports.AlertSink,
	spec domain.ChainSpec,
	opts WatcherOptions,
) (*Watcher, error) {
	committees, err := lru.New[domain.Epoch, domain.EpochCommittees](committeeCacheEpochs)
	if err != nil {
		return nil, err
	}
	if opts.LivenessSlotOffset >= spec.SlotsPerEpoch || opts.RewardsSlotOffset >= spec.SlotsPerEpoch {
		return nil, fmt.Errorf("liveness/rewards slot offsets must be below %d", spec.SlotsPerEpoch)
	}

	reg := registry.New()
	reg.ApplyConfig(opts.Watched)

	return &Watcher{
		beacon:        beacon,
		execution:     execution,
		metrics:       metrics,
		alerts:        alerts,
		spec:          spec,
		opts:          opts,
		registry:      reg,
		schedule:      schedule.NewProposerSchedule(spec.SlotsPerEpoch),
		aggregator:    aggregation.New(opts.AggregationWorkers, opts.AlertDetailLimit),
		committees:    committees,
		alertedFuture: make(map[domain.Slot]struct{}),
	}, nil
}

// Registry exposes the validator registry, mainly for tests.
func (w *Watcher) Registry() *registry.Registry {
	return w.registry
}

// Run processes one tick per slot until ctx is done. If a slot starts while
// the previous tick is still running, that slot is skipped and the next tick
// catches up on the missed work.
func (w *Watcher) Run(ctx context.Context, clock ports.SlotClock) {
	ticks := make(chan domain.Slot, 1)
	clock.Subscribe(func(slot domain.Slot) {
		select {
		case ticks <- slot:
		default:
			logger.Warn("Tick for slot %d dropped, previous tick still running", slot)
		}
	})

	w.runTick(ctx, clock.Current())
	for {
		select {
		case slot := <-ticks:
			w.runTick(ctx, slot)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) runTick(ctx context.Context, slot domain.Slot) {
	start := time.Now()
	if err := w.Tick(ctx, slot); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if w.lastSuccess.IsZero() {
			logger.Error("Tick for slot %d failed, no metrics published yet: %v", slot, err)
		} else {
			logger.Error("Tick for slot %d failed, metrics stale since %s: %v", slot, w.lastSuccess.Format(time.RFC3339), err)
		}
		return
	}
	w.lastSuccess = time.Now()
	logger.Debug("Tick for slot %d done in %s", slot, time.Since(start))
}

// Tick runs the full processing of wallclock slot. Only failures that leave
// nothing to publish are returned; partial failures are logged and the tick
// continues with cached state.
func (w *Watcher) Tick(ctx context.Context, slot domain.Slot) error {
	epoch := w.spec.EpochOf(slot)

	head, found, err := w.beacon.GetHeader(ctx, "head")
	if err != nil {
		return fmt.Errorf("head header: %w", err)
	}
	if !found {
		return errors.New("beacon node has no head block")
	}
	finalizedSlot := w.lastFinalizedProcessed
	finalized, found, err := w.beacon.GetHeader(ctx, "finalized")
	switch {
	case err != nil:
		logger.Warn("Could not read finalized header, keeping slot %d: %v", finalizedSlot, err)
	case found:
		finalizedSlot = finalized.Slot
	}

	if !w.started || epoch != w.snapshotEpoch {
		if err := w.processEpochChange(ctx, epoch); err != nil {
			if !w.started {
				return err
			}
			logger.Error("Epoch %d validator snapshot failed: %v", epoch, err)
		}
	}

	upTo := head.Slot
	if slot > 0 && slot-1 < upTo {
		upTo = slot - 1
	}
	if !w.started {
		// no backfill: start from the current head and finality
		if upTo > 0 {
			w.lastHeadProcessed = upTo - 1
		}
		w.lastFinalizedProcessed = finalizedSlot
		w.started = true
	}

	// at most one epoch of head slots per tick; older ones are left to the finalized view
	from := w.lastHeadProcessed + 1
	if spe := domain.Slot(w.spec.SlotsPerEpoch); upTo >= spe && from+spe <= upTo {
		from = upTo - spe + 1
	}
	// the first unprocessed head slot may still be in the previous epoch
	for _, s := range []domain.Slot{from, slot} {
		if err := w.schedule.UpdateHead(ctx, w.beacon, s); err != nil {
			logger.Warn("Head proposer schedule incomplete: %v", err)
		}
	}
	finalizedTarget := min(finalizedSlot, w.lastFinalizedProcessed+domain.Slot(maxFinalizedEpochsPerTick*w.spec.SlotsPerEpoch))
	if err := w.schedule.UpdateFinalized(ctx, w.beacon, w.lastFinalizedProcessed, finalizedTarget); err != nil {
		logger.Warn("Finalized proposer schedule incomplete: %v", err)
	}

	w.processHeadSlots(ctx, from, upTo)
	w.processFinalizedSlots(ctx, finalizedTarget)
	w.recordFutureProposals(ctx)

	livenessApplied := w.processLiveness(ctx, slot)
	w.processRewards(ctx, slot)

	tick, err := w.aggregator.Aggregate(ctx, w.registry, slot)
	if err != nil {
		return fmt.Errorf("aggregation: %w", err)
	}
	w.metrics.PublishTick(tick)
	w.metrics.PublishChain(ports.ChainState{
		Slot:              slot,
		Epoch:             epoch,
		FinalizedSlot:     finalizedSlot,
		WatchedValidators: w.registry.WatchedCount(),
		PendingValidators: w.pendingValidators,
		EntryQueue:        w.entryQueue,
	})
	w.alertTick(ctx, tick, livenessApplied)

	w.schedule.Trim(w.lastHeadProcessed, w.lastFinalizedProcessed)
	return nil
}

// processEpochChange refreshes the validator set, the watch list and the entry queue estimate.
func (w *Watcher) processEpochChange(ctx context.Context, epoch domain.Epoch) error {
	if w.opts.ReloadWatched != nil && w.started {
		keys, err := w.opts.ReloadWatched()
		if err != nil {
			logger.Error("Watch list reload failed, keeping the current one: %v", err)
		} else {
			w.opts.Watched = keys
			w.registry.ApplyConfig(keys)
		}
	}

	snapshot, err := w.beacon.GetValidators(ctx, nil)
	if err != nil {
		return fmt.Errorf("validator snapshot: %w", err)
	}
	transitions := w.registry.UpsertFromSnapshot(snapshot)
	w.snapshotEpoch = epoch

	var active, pending uint64
	for i := range snapshot {
		switch {
		case snapshot[i].Status.IsActive():
			active++
		// pending_initialized validators are not eligible yet and do not consume churn
		case snapshot[i].Status == domain.StatusPendingQueued:
			pending++
		}
	}
	w.pendingValidators = pending
	if d, err := entryqueue.EstimateDuration(active, pending, time.Duration(w.spec.SlotsPerEpoch)*w.spec.SecondsPerSlot); err != nil {
		logger.Warn("Entry queue estimate unavailable: %v", err)
	} else {
		w.entryQueue = d
	}

	logger.Info("Epoch %d: %d validators known, %d watched, %d pending", epoch, w.registry.Len(), w.registry.WatchedCount(), pending)
	w.alertTransitions(ctx, transitions)
	return nil
}

// processLiveness applies the liveness of the previous epoch once the slot offset is reached.
func (w *Watcher) processLiveness(ctx context.Context, slot domain.Slot) bool {
	epoch := w.spec.EpochOf(slot)
	if epoch == 0 || w.spec.SlotInEpoch(slot) < w.opts.LivenessSlotOffset {
		return false
	}
	target := epoch - 1
	if w.livenessEpochDone != nil && *w.livenessEpochDone >= target {
		return false
	}

	liveness, err := w.beacon.GetValidatorsLiveness(ctx, target, w.registry.ActiveIndices())
	if err != nil {
		logger.Warn("Liveness for epoch %d unavailable: %v", target, err)
		return false
	}
	applied := w.registry.ApplyLiveness(target, liveness)
	w.livenessEpochDone = &target
	logger.Debug("Liveness for epoch %d applied to %d validators", target, len(liveness))
	return applied
}

// processRewards scores the epoch before the previous one once the slot offset is reached.
func (w *Watcher) processRewards(ctx context.Context, slot domain.Slot) {
	epoch := w.spec.EpochOf(slot)
	if epoch < 2 || w.spec.SlotInEpoch(slot) < w.opts.RewardsSlotOffset {
		return
	}
	target := epoch - 2
	if w.rewardsEpochDone != nil && *w.rewardsEpochDone >= target {
		return
	}

	rewards, err := w.beacon.GetAttestationRewards(ctx, target, nil)
	if err != nil {
		logger.Warn("Attestation rewards for epoch %d unavailable: %v", target, err)
		return
	}

	indices := make([]domain.ValidatorIndex, 0, len(rewards.Total))
	for idx := range rewards.Total {
		indices = append(indices, idx)
	}
	balances := w.registry.EffectiveBalances(indices)

	pairs := make(map[domain.ValidatorIndex]domain.RewardPair, len(rewards.Total))
	for idx, actual := range rewards.Total {
		balance, ok := balances[idx]
		if !ok {
			continue
		}
		ideal, ok := rewards.Ideal[balance]
		if !ok {
			continue
		}
		pairs[idx] = domain.RewardPair{Ideal: ideal, Actual: actual}
	}
	w.registry.ApplyRewards(target, pairs)
	w.rewardsEpochDone = &target
	logger.Debug("Attestation rewards for epoch %d scored for %d validators", target, len(pairs))
}

// recordFutureProposals feeds the upcoming proposals of the head schedule to the registry.
func (w *Watcher) recordFutureProposals(ctx context.Context) {
	for s := range w.alertedFuture {
		if s <= w.lastHeadProcessed {
			delete(w.alertedFuture, s)
		}
	}
	for _, duty := range w.schedule.FutureProposals(w.lastHeadProcessed) {
		if !w.registry.RecordFutureProposal(duty.ValidatorIndex, duty.Slot) {
			continue
		}
		if !w.registry.IsWatched(duty.ValidatorIndex) {
			continue
		}
		if _, done := w.alertedFuture[duty.Slot]; done {
			continue
		}
		w.alertedFuture[duty.Slot] = struct{}{}
		w.sendAlert(ctx, fmt.Sprintf("💝 Validator %s will propose a block at slot %d", w.describe(duty.ValidatorIndex), duty.Slot))
	}
}
