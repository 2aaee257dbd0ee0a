package registry

import "github.com/Marketen/validator-watcher/internal/application/domain"

type recordFlags uint16

const (
	flagKnown recordFlags = 1 << iota
	flagSlashed
	flagMissedAttestation
	flagPreviousMissedAttestation
	flagRewardsScored
	flagSuboptimalSource
	flagSuboptimalTarget
	flagSuboptimalHead
)

// Record is the state kept for one validator index. Records live in a dense
// slice addressed by index, so the boolean state is packed into flags.
type Record struct {
	Index            domain.ValidatorIndex
	Pubkey           domain.Pubkey
	EffectiveBalance domain.Gwei

	// Reward totals (source+target+head) of the last scored epoch.
	IdealConsensusReward  int64
	ActualConsensusReward int64

	LabelSet LabelSetID
	Status   domain.ValidatorStatus
	flags    recordFlags
}

func (r *Record) has(f recordFlags) bool { return r.flags&f != 0 }

func (r *Record) set(f recordFlags, v bool) {
	if v {
		r.flags |= f
	} else {
		r.flags &^= f
	}
}

// Known reports whether the slot in the arena holds a validator.
func (r *Record) Known() bool { return r.has(flagKnown) }

func (r *Record) Slashed() bool { return r.has(flagSlashed) }

// MissedAttestation is true when the last liveness report marked the validator offline.
func (r *Record) MissedAttestation() bool { return r.has(flagMissedAttestation) }

// PreviousMissedAttestation is the MissedAttestation value of the epoch before.
func (r *Record) PreviousMissedAttestation() bool { return r.has(flagPreviousMissedAttestation) }

// DoubleMissedAttestation is true when the validator missed two epochs in a row.
func (r *Record) DoubleMissedAttestation() bool {
	return r.has(flagMissedAttestation) && r.has(flagPreviousMissedAttestation)
}

// RewardsScored is true when the last rewards report covered the validator.
func (r *Record) RewardsScored() bool { return r.has(flagRewardsScored) }

func (r *Record) SuboptimalSource() bool { return r.has(flagSuboptimalSource) }
func (r *Record) SuboptimalTarget() bool { return r.has(flagSuboptimalTarget) }
func (r *Record) SuboptimalHead() bool   { return r.has(flagSuboptimalHead) }

func (r *Record) clearAttestationState() {
	r.flags &^= flagMissedAttestation | flagPreviousMissedAttestation
	r.clearRewards()
}

func (r *Record) clearRewards() {
	r.flags &^= flagRewardsScored | flagSuboptimalSource | flagSuboptimalTarget | flagSuboptimalHead
	r.IdealConsensusReward = 0
	r.ActualConsensusReward = 0
}

// BlockAccumulators collect the block events of a validator during one tick.
// They are summarized by aggregation and then cleared.
type BlockAccumulators struct {
	ProposedBlocks          []domain.Slot
	MissedBlocks            []domain.Slot
	ProposedBlocksFinalized []domain.Slot
	MissedBlocksFinalized   []domain.Slot
	FutureBlocksProposal    []domain.Slot
}
