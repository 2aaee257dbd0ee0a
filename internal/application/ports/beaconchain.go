package ports

import (
	"context"

	"github.com/Marketen/validator-watcher/internal/application/domain"
)

// BeaconChainAdapter is the hexagonal port for accessing beacon chain data.
// The watcher depends only on this interface, not on any concrete client.
type BeaconChainAdapter interface {
	// GetChainSpec returns genesis time and slot timing.
	GetChainSpec(ctx context.Context) (domain.ChainSpec, error)

	// GetHeader returns the header for a block identifier ("head", "finalized",
	// "genesis" or a slot number). found is false when the node has no such block.
	GetHeader(ctx context.Context, blockID string) (hdr domain.BlockHeader, found bool, err error)

	// GetBlock returns the block at slot, or nil when the slot has no block.
	GetBlock(ctx context.Context, slot domain.Slot) (*domain.Block, error)

	// GetProposerDuties returns the proposer of every slot of an epoch.
	GetProposerDuties(ctx context.Context, epoch domain.Epoch) ([]domain.ProposerDuty, error)

	// GetEpochCommittees returns the attestation committees of every slot of an epoch.
	GetEpochCommittees(ctx context.Context, epoch domain.Epoch) (domain.EpochCommittees, error)

	// GetValidators returns the validator set at the head state. An empty
	// statuses list returns every validator.
	GetValidators(ctx context.Context, statuses []domain.ValidatorStatus) ([]domain.ValidatorSnapshot, error)

	// GetValidatorsLiveness reports, for each index, whether the validator was seen live in epoch.
	GetValidatorsLiveness(ctx context.Context, epoch domain.Epoch, indices []domain.ValidatorIndex) (map[domain.ValidatorIndex]bool, error)

	// GetAttestationRewards returns the ideal and actual attestation rewards of epoch.
	GetAttestationRewards(ctx context.Context, epoch domain.Epoch, indices []domain.ValidatorIndex) (*domain.AttestationRewards, error)
}
