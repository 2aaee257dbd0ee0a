package domain

import "time"

// Basic consensus types
type Epoch uint64
type Slot uint64
type ValidatorIndex uint64
type CommitteeIndex uint64
type Gwei uint64

// ChainSpec holds the few chain constants the watcher needs to map wallclock time to slots.
type ChainSpec struct {
	GenesisTime    time.Time
	SecondsPerSlot time.Duration
	SlotsPerEpoch  uint64
}

// EpochOf returns the epoch containing slot.
func (c ChainSpec) EpochOf(slot Slot) Epoch {
	return Epoch(uint64(slot) / c.SlotsPerEpoch)
}

// FirstSlot returns the first slot of epoch.
func (c ChainSpec) FirstSlot(epoch Epoch) Slot {
	return Slot(uint64(epoch) * c.SlotsPerEpoch)
}

// SlotInEpoch returns the position of slot within its epoch.
func (c ChainSpec) SlotInEpoch(slot Slot) uint64 {
	return uint64(slot) % c.SlotsPerEpoch
}

// BlockHeader is the subset of a beacon block header the tick loop reads.
type BlockHeader struct {
	Slot          Slot
	ProposerIndex ValidatorIndex
	Root          string
}

// Block is a beacon block reduced to what duty tracking consumes.
type Block struct {
	Slot          Slot
	ProposerIndex ValidatorIndex
	Attestations  []Attestation

	// Execution payload fields, empty before the merge.
	FeeRecipient       string
	ExecutionBlockHash string
}

// ProposerDuty describes a scheduled block proposal for a validator.
type ProposerDuty struct {
	ValidatorIndex ValidatorIndex
	Pubkey         Pubkey
	Slot           Slot
}

// Attestation is a simplified representation of a beacon block attestation
// sufficient for us to detect if a validator attested or not.
type Attestation struct {
	// Slot that the attestation data refers to (the duty slot).
	Slot Slot

	// Committees covered by the aggregation bits, in bit order. Pre-Electra
	// attestations always carry exactly one committee.
	Committees []CommitteeIndex

	// Hex encoded SSZ bitlist (0x prefix optional), including the length marker bit.
	AggregationBits string
}

// SlotCommittees maps committee-index -> ordered list of validator indices for one slot.
// The list order is the bit order of the aggregation bitfield.
type SlotCommittees map[CommitteeIndex][]ValidatorIndex

// EpochCommittees maps:
//
//	data-slot -> committee-index -> list of validator indices in that committee
type EpochCommittees map[Slot]SlotCommittees

// ValidatorSnapshot is one entry of a validator set snapshot.
type ValidatorSnapshot struct {
	Index            ValidatorIndex
	Pubkey           Pubkey
	EffectiveBalance Gwei
	Slashed          bool
	Status           ValidatorStatus
}

// AttestationReward holds the per-flag consensus rewards of an epoch. Values are
// signed because penalties are reported as negative Gwei.
type AttestationReward struct {
	Source int64
	Target int64
	Head   int64
}

// Total returns the sum of all flag rewards.
func (r AttestationReward) Total() int64 {
	return r.Source + r.Target + r.Head
}

// AttestationRewards is the decoded rewards report of an epoch.
type AttestationRewards struct {
	// Ideal rewards keyed by effective balance.
	Ideal map[Gwei]AttestationReward
	// Actual rewards keyed by validator index.
	Total map[ValidatorIndex]AttestationReward
}

// RewardPair is the ideal and actual reward of one validator for one epoch.
type RewardPair struct {
	Ideal  AttestationReward
	Actual AttestationReward
}

// WatchedKey is one entry of the configured watch list.
type WatchedKey struct {
	Pubkey Pubkey
	Labels []string
}

// TransitionKind classifies a status change worth alerting on.
type TransitionKind int

const (
	TransitionSlashed TransitionKind = iota
	TransitionExiting
	TransitionExited
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionSlashed:
		return "slashed"
	case TransitionExiting:
		return "exiting"
	case TransitionExited:
		return "exited"
	}
	return "unknown"
}

// StatusTransition is reported when a snapshot moves a known validator into a notable state.
type StatusTransition struct {
	Index ValidatorIndex
	Kind  TransitionKind
	From  ValidatorStatus
	To    ValidatorStatus
}
