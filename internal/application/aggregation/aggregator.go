// Package aggregation rolls the per-validator registry state up into per-label
// metrics once per tick.
package aggregation

import (
	"context"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/application/registry"
	"github.com/Marketen/validator-watcher/internal/logger"
)

const (
	DefaultDetailLimit = 10

	// shards smaller than this are not worth a goroutine
	minShardSize = 16384
)

// Aggregator scans the registry in contiguous index shards.
type Aggregator struct {
	workers     int
	detailLimit int
}

// New returns an aggregator. Zero or negative values select the defaults:
// GOMAXPROCS workers and DefaultDetailLimit detail entries per category.
func New(workers, detailLimit int) *Aggregator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if detailLimit <= 0 {
		detailLimit = DefaultDetailLimit
	}
	return &Aggregator{workers: workers, detailLimit: detailLimit}
}

// Aggregate computes the metrics of every label for slot, then clears the
// registry's tick accumulators. The returned metrics do not alias registry memory.
func (a *Aggregator) Aggregate(ctx context.Context, reg *registry.Registry, slot domain.Slot) (*domain.TickMetrics, error) {
	start := time.Now()

	var (
		perSet   []domain.LabelMetrics
		sets     []registry.LabelSet
		reported bool
		err      error
	)
	reg.Read(func(v registry.View) {
		sets = append(sets, v.LabelSets...)
		reported = v.RewardsLoaded
		perSet, err = a.scan(ctx, v)
		if err != nil {
			return
		}
		a.addEvents(perSet, v)
	})
	if err != nil {
		return nil, err
	}
	reg.ResetTickAccumulators()

	out := &domain.TickMetrics{
		Slot:   slot,
		Labels: make(map[string]*domain.LabelMetrics),
	}
	for _, l := range []string{domain.LabelAllNetwork, domain.LabelNetwork, domain.LabelWatched} {
		out.Labels[l] = &domain.LabelMetrics{}
	}
	for id := range perSet {
		// sets left behind by relabelled or removed keys
		if perSet[id].Validators == 0 {
			continue
		}
		for _, l := range sets[id].All {
			m, ok := out.Labels[l]
			if !ok {
				m = &domain.LabelMetrics{}
				out.Labels[l] = m
			}
			m.Add(&perSet[id])
		}
	}
	for _, m := range out.Labels {
		m.RewardsReported = reported
		a.truncate(&m.Details)
	}

	logger.Debug("Aggregated %d label sets into %d labels for slot %d in %s", len(perSet), len(out.Labels), slot, time.Since(start))
	return out, nil
}

// scan produces one partial per label set and merges them. Each shard keeps the
// first detailLimit double-miss entries per set in index order, so merging and
// truncating keeps the globally lowest indices.
func (a *Aggregator) scan(ctx context.Context, v registry.View) ([]domain.LabelMetrics, error) {
	n := len(v.Records)
	shards := a.workers
	if limit := (n + minShardSize - 1) / minShardSize; shards > limit {
		shards = limit
	}
	if shards < 1 {
		shards = 1
	}
	size := (n + shards - 1) / shards

	partials := make([][]domain.LabelMetrics, shards)
	g, gctx := errgroup.WithContext(ctx)
	for s := 0; s < shards; s++ {
		lo := min(s*size, n)
		hi := min(lo+size, n)
		partials[s] = make([]domain.LabelMetrics, len(v.LabelSets))
		part := partials[s]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a.scanShard(v.Records[lo:hi], part)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := partials[0]
	for _, part := range partials[1:] {
		for id := range part {
			merged[id].Add(&part[id])
		}
	}
	return merged, nil
}

func (a *Aggregator) scanShard(records []registry.Record, out []domain.LabelMetrics) {
	for i := range records {
		rec := &records[i]
		if !rec.Known() {
			continue
		}
		m := &out[rec.LabelSet]

		m.Validators++
		m.StatusCount[rec.Status]++
		if rec.Slashed() {
			m.Slashed++
		}
		if rec.MissedAttestation() {
			m.MissedAttestations++
		}
		if rec.DoubleMissedAttestation() {
			m.DoubleMissedAttestations++
			if len(m.Details.DoubleMissedAttestations) < a.detailLimit {
				m.Details.DoubleMissedAttestations = append(m.Details.DoubleMissedAttestations,
					domain.ValidatorDetail{Index: rec.Index, Pubkey: rec.Pubkey})
			}
		}
		if rec.RewardsScored() {
			if rec.SuboptimalSource() {
				m.SuboptimalSource++
			}
			if rec.SuboptimalTarget() {
				m.SuboptimalTarget++
			}
			if rec.SuboptimalHead() {
				m.SuboptimalHead++
			}
			m.IdealConsensusReward += rec.IdealConsensusReward
			m.ActualConsensusReward += rec.ActualConsensusReward
		}
	}
}

// addEvents folds the sparse per-tick block and duty maps into the partials.
func (a *Aggregator) addEvents(perSet []domain.LabelMetrics, v registry.View) {
	for idx, acc := range v.Blocks {
		if uint64(idx) >= uint64(len(v.Records)) || !v.Records[idx].Known() {
			continue
		}
		rec := &v.Records[idx]
		m := &perSet[rec.LabelSet]

		m.ProposedBlocks += uint64(len(acc.ProposedBlocks))
		m.MissedBlocks += uint64(len(acc.MissedBlocks))
		m.ProposedBlocksFinalized += uint64(len(acc.ProposedBlocksFinalized))
		m.MissedBlocksFinalized += uint64(len(acc.MissedBlocksFinalized))
		m.FutureBlockProposals += uint64(len(acc.FutureBlocksProposal))

		m.Details.ProposedBlocks = appendBlockDetails(m.Details.ProposedBlocks, rec, acc.ProposedBlocks)
		m.Details.MissedBlocks = appendBlockDetails(m.Details.MissedBlocks, rec, acc.MissedBlocks)
		m.Details.ProposedBlocksFinalized = appendBlockDetails(m.Details.ProposedBlocksFinalized, rec, acc.ProposedBlocksFinalized)
		m.Details.MissedBlocksFinalized = appendBlockDetails(m.Details.MissedBlocksFinalized, rec, acc.MissedBlocksFinalized)
		m.Details.FutureBlockProposals = appendBlockDetails(m.Details.FutureBlockProposals, rec, acc.FutureBlocksProposal)
	}

	for idx, success := range v.Duties {
		if uint64(idx) >= uint64(len(v.Records)) || !v.Records[idx].Known() {
			continue
		}
		m := &perSet[v.Records[idx].LabelSet]
		m.AttestationDuties++
		if success {
			m.AttestationDutiesSuccess++
		}
	}
}

func appendBlockDetails(dst []domain.BlockDetail, rec *registry.Record, slots []domain.Slot) []domain.BlockDetail {
	for _, slot := range slots {
		dst = append(dst, domain.BlockDetail{Index: rec.Index, Pubkey: rec.Pubkey, Slot: slot})
	}
	return dst
}

func (a *Aggregator) truncate(d *domain.LabelDetails) {
	d.ProposedBlocks = a.truncateBlocks(d.ProposedBlocks)
	d.MissedBlocks = a.truncateBlocks(d.MissedBlocks)
	d.ProposedBlocksFinalized = a.truncateBlocks(d.ProposedBlocksFinalized)
	d.MissedBlocksFinalized = a.truncateBlocks(d.MissedBlocksFinalized)
	d.FutureBlockProposals = a.truncateBlocks(d.FutureBlockProposals)

	sort.Slice(d.DoubleMissedAttestations, func(i, j int) bool {
		return d.DoubleMissedAttestations[i].Index < d.DoubleMissedAttestations[j].Index
	})
	if len(d.DoubleMissedAttestations) > a.detailLimit {
		d.DoubleMissedAttestations = d.DoubleMissedAttestations[:a.detailLimit]
	}
}

// truncateBlocks orders block details by slot then index and keeps the first detailLimit.
func (a *Aggregator) truncateBlocks(d []domain.BlockDetail) []domain.BlockDetail {
	sort.Slice(d, func(i, j int) bool {
		if d[i].Slot != d[j].Slot {
			return d[i].Slot < d[j].Slot
		}
		return d[i].Index < d[j].Index
	})
	if len(d) > a.detailLimit {
		return d[:a.detailLimit]
	}
	return d
}
