package domain

// Structural scope labels. Every validator carries LabelAllNetwork; LabelWatched marks
// configured keys and LabelNetwork the rest of the network.
const (
	LabelAllNetwork = "scope:all-network"
	LabelNetwork    = "scope:network"
	LabelWatched    = "scope:watched"

	ScopeLabelPrefix = "scope:"
)

// BlockDetail names a validator and the slot of a block event.
type BlockDetail struct {
	Index  ValidatorIndex
	Pubkey Pubkey
	Slot   Slot
}

// ValidatorDetail names a validator involved in a non-block event.
type ValidatorDetail struct {
	Index  ValidatorIndex
	Pubkey Pubkey
}

// LabelDetails are the bounded per-tick event lists used to build alerts.
type LabelDetails struct {
	ProposedBlocks           []BlockDetail
	MissedBlocks             []BlockDetail
	ProposedBlocksFinalized  []BlockDetail
	MissedBlocksFinalized    []BlockDetail
	FutureBlockProposals     []BlockDetail
	DoubleMissedAttestations []ValidatorDetail
}

// LabelMetrics is the aggregate of all validators carrying one label for one tick.
type LabelMetrics struct {
	Validators  uint64
	StatusCount [NumStatuses]uint64
	Slashed     uint64

	MissedAttestations       uint64
	DoubleMissedAttestations uint64

	// RewardsReported is set once any rewards report has been applied.
	RewardsReported       bool
	SuboptimalSource      uint64
	SuboptimalTarget      uint64
	SuboptimalHead        uint64
	IdealConsensusReward  int64
	ActualConsensusReward int64

	AttestationDuties        uint64
	AttestationDutiesSuccess uint64

	ProposedBlocks          uint64
	MissedBlocks            uint64
	ProposedBlocksFinalized uint64
	MissedBlocksFinalized   uint64
	FutureBlockProposals    uint64

	Details LabelDetails
}

// SuboptimalRates returns source, target and head suboptimal percentages of the
// label's validators. ok is false before the first rewards report or when the
// label has no validators.
func (m *LabelMetrics) SuboptimalRates() (source, target, head float64, ok bool) {
	if !m.RewardsReported || m.Validators == 0 {
		return 0, 0, 0, false
	}
	total := float64(m.Validators)
	return 100 * float64(m.SuboptimalSource) / total,
		100 * float64(m.SuboptimalTarget) / total,
		100 * float64(m.SuboptimalHead) / total,
		true
}

// Add merges o into m. Detail lists are concatenated; callers truncate.
func (m *LabelMetrics) Add(o *LabelMetrics) {
	m.Validators += o.Validators
	for i := range m.StatusCount {
		m.StatusCount[i] += o.StatusCount[i]
	}
	m.Slashed += o.Slashed
	m.MissedAttestations += o.MissedAttestations
	m.DoubleMissedAttestations += o.DoubleMissedAttestations
	m.RewardsReported = m.RewardsReported || o.RewardsReported
	m.SuboptimalSource += o.SuboptimalSource
	m.SuboptimalTarget += o.SuboptimalTarget
	m.SuboptimalHead += o.SuboptimalHead
	m.IdealConsensusReward += o.IdealConsensusReward
	m.ActualConsensusReward += o.ActualConsensusReward
	m.AttestationDuties += o.AttestationDuties
	m.AttestationDutiesSuccess += o.AttestationDutiesSuccess
	m.ProposedBlocks += o.ProposedBlocks
	m.MissedBlocks += o.MissedBlocks
	m.ProposedBlocksFinalized += o.ProposedBlocksFinalized
	m.MissedBlocksFinalized += o.MissedBlocksFinalized
	m.FutureBlockProposals += o.FutureBlockProposals

	m.Details.ProposedBlocks = append(m.Details.ProposedBlocks, o.Details.ProposedBlocks...)
	m.Details.MissedBlocks = append(m.Details.MissedBlocks, o.Details.MissedBlocks...)
	m.Details.ProposedBlocksFinalized = append(m.Details.ProposedBlocksFinalized, o.Details.ProposedBlocksFinalized...)
	m.Details.MissedBlocksFinalized = append(m.Details.MissedBlocksFinalized, o.Details.MissedBlocksFinalized...)
	m.Details.FutureBlockProposals = append(m.Details.FutureBlockProposals, o.Details.FutureBlockProposals...)
	m.Details.DoubleMissedAttestations = append(m.Details.DoubleMissedAttestations, o.Details.DoubleMissedAttestations...)
}

// TickMetrics is the aggregation result of one processing tick.
type TickMetrics struct {
	Slot   Slot
	Labels map[string]*LabelMetrics
}
