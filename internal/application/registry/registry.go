// Package registry holds the per-validator state the watcher accumulates
// across ticks, indexed by validator index and by public key.
package registry

import (
	"sync"

	"github.com/Marketen/validator-watcher/internal/application/domain"
)

// Registry owns one Record per validator index. Mutations come from the tick
// loop only; aggregation reads through Read while holding the read lock.
type Registry struct {
	mu sync.RWMutex

	records []Record
	count   int
	pubkeys map[domain.Pubkey]domain.ValidatorIndex

	labels  *labelInterner
	watch   map[domain.Pubkey][]string
	watched map[domain.ValidatorIndex]struct{}

	// per-tick accumulators, sparse since few validators have events in a tick
	blocks map[domain.ValidatorIndex]*BlockAccumulators
	duties map[domain.ValidatorIndex]bool

	livenessEpoch  domain.Epoch
	livenessLoaded bool
	rewardsEpoch   domain.Epoch
	rewardsLoaded  bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		pubkeys: make(map[domain.Pubkey]domain.ValidatorIndex),
		labels:  newLabelInterner(),
		watch:   make(map[domain.Pubkey][]string),
		watched: make(map[domain.ValidatorIndex]struct{}),
		blocks:  make(map[domain.ValidatorIndex]*BlockAccumulators),
		duties:  make(map[domain.ValidatorIndex]bool),
	}
}

func (r *Registry) record(idx domain.ValidatorIndex) *Record {
	if uint64(idx) >= uint64(len(r.records)) {
		return nil
	}
	rec := &r.records[idx]
	if !rec.Known() {
		return nil
	}
	return rec
}

func (r *Registry) grow(idx domain.ValidatorIndex) {
	need := int(idx) + 1
	if need <= len(r.records) {
		return
	}
	if need > cap(r.records) {
		grown := make([]Record, need, need+need/8+1024)
		copy(grown, r.records)
		r.records = grown
		return
	}
	r.records = r.records[:need]
}

func (r *Registry) applyLabels(rec *Record) {
	configured, watched := r.watch[rec.Pubkey]
	rec.LabelSet = r.labels.labelsFor(configured, watched)
	if watched {
		r.watched[rec.Index] = struct{}{}
	} else {
		delete(r.watched, rec.Index)
	}
}

// UpsertFromSnapshot creates unseen records and refreshes the mutable fields of
// known ones. Indices missing from the snapshot keep their state. The returned
// transitions list known validators that became slashed, started exiting or exited.
func (r *Registry) UpsertFromSnapshot(entries []domain.ValidatorSnapshot) []domain.StatusTransition {
	r.mu.Lock()
	defer r.mu.Unlock()

	var transitions []domain.StatusTransition
	for _, e := range entries {
		r.grow(e.Index)
		rec := &r.records[e.Index]

		if !rec.Known() {
			*rec = Record{
				Index:            e.Index,
				Pubkey:           e.Pubkey,
				EffectiveBalance: e.EffectiveBalance,
				Status:           e.Status,
				flags:            flagKnown,
			}
			rec.set(flagSlashed, e.Slashed)
			r.count++
			r.pubkeys[e.Pubkey] = e.Index
			r.applyLabels(rec)
			continue
		}

		if rec.Pubkey != e.Pubkey {
			// index reuse does not happen on chain, keep the lookup consistent anyway
			if cur, ok := r.pubkeys[rec.Pubkey]; ok && cur == e.Index {
				delete(r.pubkeys, rec.Pubkey)
			}
			rec.Pubkey = e.Pubkey
			r.pubkeys[e.Pubkey] = e.Index
			r.applyLabels(rec)
		}

		if !rec.Slashed() && e.Slashed {
			transitions = append(transitions, domain.StatusTransition{Index: e.Index, Kind: domain.TransitionSlashed, From: rec.Status, To: e.Status})
		}
		if rec.Status != e.Status {
			switch {
			case e.Status == domain.StatusActiveExiting:
				transitions = append(transitions, domain.StatusTransition{Index: e.Index, Kind: domain.TransitionExiting, From: rec.Status, To: e.Status})
			case e.Status.IsExited() && !rec.Status.IsExited():
				transitions = append(transitions, domain.StatusTransition{Index: e.Index, Kind: domain.TransitionExited, From: rec.Status, To: e.Status})
			}
			if rec.Status.IsActive() && !e.Status.IsActive() {
				rec.clearAttestationState()
			}
		}

		rec.EffectiveBalance = e.EffectiveBalance
		rec.Status = e.Status
		rec.set(flagSlashed, e.Slashed)
	}
	return transitions
}

// ApplyConfig replaces the watch list and recomputes labels. Keys that are not
// known yet are kept and labeled when they first appear in a snapshot. Records
// dropped from the watch list go back to the network scope. It returns how many
// configured keys matched a known validator.
func (r *Registry) ApplyConfig(keys []domain.WatchedKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.watched
	r.watch = make(map[domain.Pubkey][]string, len(keys))
	r.watched = make(map[domain.ValidatorIndex]struct{}, len(keys))
	for _, k := range keys {
		// duplicated keys union their labels
		r.watch[k.Pubkey] = append(r.watch[k.Pubkey], k.Labels...)
	}

	for idx := range previous {
		if rec := r.record(idx); rec != nil {
			r.applyLabels(rec)
		}
	}

	applied := 0
	for pk := range r.watch {
		idx, ok := r.pubkeys[pk]
		if !ok {
			continue
		}
		r.applyLabels(&r.records[idx])
		applied++
	}
	return applied
}

// ApplyLiveness shifts the missed-attestation flag of every reported validator
// and records the new value. The previous flag only carries over when epoch
// directly follows the last applied one. Reports for an epoch not newer than
// the last applied one are ignored; the return value tells whether it was applied.
func (r *Registry) ApplyLiveness(epoch domain.Epoch, liveness map[domain.ValidatorIndex]bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.livenessLoaded && epoch <= r.livenessEpoch {
		return false
	}
	consecutive := r.livenessLoaded && epoch == r.livenessEpoch+1
	for idx, live := range liveness {
		rec := r.record(idx)
		if rec == nil {
			continue
		}
		rec.set(flagPreviousMissedAttestation, consecutive && rec.MissedAttestation())
		rec.set(flagMissedAttestation, !live)
	}
	r.livenessEpoch = epoch
	r.livenessLoaded = true
	return true
}

// ApplyRewards scores the validators of a rewards report. Scores of validators
// missing from the report are cleared so rates only cover the scored epoch.
func (r *Registry) ApplyRewards(epoch domain.Epoch, rewards map[domain.ValidatorIndex]domain.RewardPair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rewardsLoaded && epoch <= r.rewardsEpoch {
		return false
	}
	for i := range r.records {
		if r.records[i].RewardsScored() {
			r.records[i].clearRewards()
		}
	}
	for idx, pair := range rewards {
		rec := r.record(idx)
		if rec == nil {
			continue
		}
		rec.set(flagRewardsScored, true)
		rec.set(flagSuboptimalSource, pair.Actual.Source != pair.Ideal.Source)
		rec.set(flagSuboptimalTarget, pair.Actual.Target != pair.Ideal.Target)
		rec.set(flagSuboptimalHead, pair.Actual.Head != pair.Ideal.Head)
		rec.IdealConsensusReward = pair.Ideal.Total()
		rec.ActualConsensusReward = pair.Actual.Total()
	}
	r.rewardsEpoch = epoch
	r.rewardsLoaded = true
	return true
}

// ApplyDuties records the attestation duty outcome of one slot. Indices unknown
// to the registry are skipped.
func (r *Registry) ApplyDuties(attested, missed map[domain.ValidatorIndex]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for idx := range attested {
		if r.record(idx) != nil {
			r.duties[idx] = true
		}
	}
	for idx := range missed {
		if r.record(idx) != nil {
			r.duties[idx] = false
		}
	}
}

func (r *Registry) accumulators(idx domain.ValidatorIndex) *BlockAccumulators {
	acc := r.blocks[idx]
	if acc == nil {
		acc = &BlockAccumulators{}
		r.blocks[idx] = acc
	}
	return acc
}

// RecordBlockOutcome appends slot to the proposed or missed list of the head or
// finalized view. It returns false when the index is unknown.
func (r *Registry) RecordBlockOutcome(idx domain.ValidatorIndex, slot domain.Slot, proposed, finalized bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.record(idx) == nil {
		return false
	}
	acc := r.accumulators(idx)
	switch {
	case proposed && finalized:
		acc.ProposedBlocksFinalized = append(acc.ProposedBlocksFinalized, slot)
	case proposed:
		acc.ProposedBlocks = append(acc.ProposedBlocks, slot)
	case finalized:
		acc.MissedBlocksFinalized = append(acc.MissedBlocksFinalized, slot)
	default:
		acc.MissedBlocks = append(acc.MissedBlocks, slot)
	}
	return true
}

// RecordFutureProposal notes an upcoming proposal assignment.
func (r *Registry) RecordFutureProposal(idx domain.ValidatorIndex, slot domain.Slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.record(idx) == nil {
		return false
	}
	acc := r.accumulators(idx)
	acc.FutureBlocksProposal = append(acc.FutureBlocksProposal, slot)
	return true
}

// ResetTickAccumulators drops the block and duty events of the tick. It must run
// after aggregation has read them.
func (r *Registry) ResetTickAccumulators() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.blocks)
	clear(r.duties)
}

// ByIndex returns a copy of the record for idx.
func (r *Registry) ByIndex(idx domain.ValidatorIndex) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.record(idx)
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// ByPubkey returns a copy of the record for a hex public key in any casing, with or without 0x.
func (r *Registry) ByPubkey(pubkey string) (Record, bool) {
	pk, err := domain.ParsePubkey(pubkey)
	if err != nil {
		return Record{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.pubkeys[pk]
	if !ok {
		return Record{}, false
	}
	return *r.record(idx), true
}

// Labels returns the label set of idx.
func (r *Registry) Labels(idx domain.ValidatorIndex) (LabelSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.record(idx)
	if rec == nil {
		return LabelSet{}, false
	}
	return r.labels.sets[rec.LabelSet], true
}

// IsWatched reports whether idx belongs to a configured key.
func (r *Registry) IsWatched(idx domain.ValidatorIndex) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.watched[idx]
	return ok
}

// Len returns the number of known validators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// WatchedCount returns the number of known validators matching the watch list.
func (r *Registry) WatchedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watched)
}

// ActiveIndices lists the validators currently expected to attest.
func (r *Registry) ActiveIndices() []domain.ValidatorIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ValidatorIndex, 0, r.count)
	for i := range r.records {
		rec := &r.records[i]
		if rec.Known() && rec.Status.IsActive() {
			out = append(out, rec.Index)
		}
	}
	return out
}

// EffectiveBalances returns the effective balance of each known index in indices.
func (r *Registry) EffectiveBalances(indices []domain.ValidatorIndex) map[domain.ValidatorIndex]domain.Gwei {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.ValidatorIndex]domain.Gwei, len(indices))
	for _, idx := range indices {
		if rec := r.record(idx); rec != nil {
			out[idx] = rec.EffectiveBalance
		}
	}
	return out
}

// View exposes the registry internals to read-only scans.
type View struct {
	// Records is addressed by validator index; entries that are not Known are gaps.
	Records   []Record
	LabelSets []LabelSet
	Blocks    map[domain.ValidatorIndex]*BlockAccumulators

	// Duties maps validators with an attestation duty this tick to whether it was performed.
	Duties map[domain.ValidatorIndex]bool

	// RewardsLoaded is true once a rewards report has been applied.
	RewardsLoaded bool
}

// Read runs fn with a consistent view of the registry. fn must not retain the
// view or mutate it, and must not call back into the registry's mutating methods.
func (r *Registry) Read(fn func(View)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn(View{
		Records:       r.records,
		LabelSets:     r.labels.sets,
		Blocks:        r.blocks,
		RewardsLoaded: r.rewardsLoaded,
		Duties:        r.duties,
	})
}
