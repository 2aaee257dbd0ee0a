package adapters

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	eth2http "github.com/attestantio/go-eth2-client/http"
	"github.com/attestantio/go-eth2-client/spec"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/application/ports"
	"github.com/Marketen/validator-watcher/internal/logger"
)

// BeaconOptions configures the beacon node adapter.
type BeaconOptions struct {
	Endpoint string
	// Timeout bounds every single request.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed request.
	Retries uint64
}

// beaconHTTPClient implements ports.BeaconChainAdapter using go-eth2-client.
type beaconHTTPClient struct {
	client  *eth2http.Service
	retries uint64
	log     zerolog.Logger
}

// NewBeaconHTTPAdapter is the constructor used from main.go.
func NewBeaconHTTPAdapter(ctx context.Context, opts BeaconOptions) (ports.BeaconChainAdapter, error) {
	httpClient := &nethttp.Client{Timeout: opts.Timeout}

	client, err := eth2http.New(
		ctx,
		eth2http.WithAddress(opts.Endpoint),
		eth2http.WithHTTPClient(httpClient),
		eth2http.WithTimeout(opts.Timeout),
		// Only warnings from the library, without touching the global level.
		eth2http.WithLogLevel(zerolog.WarnLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("beacon client for %s: %w", opts.Endpoint, err)
	}

	return &beaconHTTPClient{
		client:  client.(*eth2http.Service),
		retries: opts.Retries,
		log:     logger.With("beacon"),
	}, nil
}

// isNotFound reports whether err is a 404 answer of the beacon node.
func isNotFound(err error) bool {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == nethttp.StatusNotFound
	}
	return false
}

// withRetry runs fn with exponential backoff. A 404 is not retried and is
// returned as is so callers can branch on absence.
func withRetry[T any](ctx context.Context, b *beaconHTTPClient, op string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	return backoff.RetryNotifyWithData(
		func() (T, error) {
			v, err := fn()
			if err != nil && isNotFound(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, b.retries), ctx),
		func(err error, wait time.Duration) {
			b.log.Warn().Err(err).Str("op", op).Dur("retry_in", wait).Msg("Beacon request failed")
		},
	)
}

// GetChainSpec reads genesis time and slot timing from the node.
func (b *beaconHTTPClient) GetChainSpec(ctx context.Context) (domain.ChainSpec, error) {
	genesis, err := withRetry(ctx, b, "genesis", func() (*api.Response[*apiv1.Genesis], error) {
		return b.client.Genesis(ctx, &api.GenesisOpts{})
	})
	if err != nil {
		return domain.ChainSpec{}, err
	}
	specResp, err := withRetry(ctx, b, "spec", func() (*api.Response[map[string]any], error) {
		return b.client.Spec(ctx, &api.SpecOpts{})
	})
	if err != nil {
		return domain.ChainSpec{}, err
	}

	secondsPerSlot, ok := specResp.Data["SECONDS_PER_SLOT"].(time.Duration)
	if !ok {
		return domain.ChainSpec{}, errors.New("SECONDS_PER_SLOT missing from spec")
	}
	slotsPerEpoch, ok := specResp.Data["SLOTS_PER_EPOCH"].(uint64)
	if !ok || slotsPerEpoch == 0 {
		return domain.ChainSpec{}, errors.New("SLOTS_PER_EPOCH missing from spec")
	}
	return domain.ChainSpec{
		GenesisTime:    genesis.Data.GenesisTime,
		SecondsPerSlot: secondsPerSlot,
		SlotsPerEpoch:  slotsPerEpoch,
	}, nil
}

// GetHeader returns the block header for blockID.
func (b *beaconHTTPClient) GetHeader(ctx context.Context, blockID string) (domain.BlockHeader, bool, error) {
	resp, err := withRetry(ctx, b, "header", func() (*api.Response[*apiv1.BeaconBlockHeader], error) {
		return b.client.BeaconBlockHeader(ctx, &api.BeaconBlockHeaderOpts{Block: blockID})
	})
	if err != nil {
		if isNotFound(err) {
			return domain.BlockHeader{}, false, nil
		}
		return domain.BlockHeader{}, false, err
	}
	if resp == nil || resp.Data == nil || resp.Data.Header == nil || resp.Data.Header.Message == nil {
		return domain.BlockHeader{}, false, nil
	}
	msg := resp.Data.Header.Message
	return domain.BlockHeader{
		Slot:          domain.Slot(msg.Slot),
		ProposerIndex: domain.ValidatorIndex(msg.ProposerIndex),
		Root:          resp.Data.Root.String(),
	}, true, nil
}

// GetBlock returns the block at slot. Missed slot → 404 → (nil, nil).
func (b *beaconHTTPClient) GetBlock(ctx context.Context, slot domain.Slot) (*domain.Block, error) {
	resp, err := withRetry(ctx, b, "block", func() (*api.Response[*spec.VersionedSignedBeaconBlock], error) {
		return b.client.SignedBeaconBlock(ctx, &api.SignedBeaconBlockOpts{
			Block: fmt.Sprintf("%d", slot),
		})
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if resp == nil || resp.Data == nil {
		return nil, nil
	}
	return decodeBlock(resp.Data)
}

func decodeBlock(block *spec.VersionedSignedBeaconBlock) (*domain.Block, error) {
	slot, err := block.Slot()
	if err != nil {
		return nil, err
	}
	proposer, err := block.ProposerIndex()
	if err != nil {
		return nil, err
	}
	out := &domain.Block{
		Slot:          domain.Slot(slot),
		ProposerIndex: domain.ValidatorIndex(proposer),
	}

	attestations, err := block.Attestations()
	if err != nil {
		return nil, fmt.Errorf("attestations of block %d: %w", slot, err)
	}
	out.Attestations = make([]domain.Attestation, 0, len(attestations))
	for _, att := range attestations {
		decoded, err := decodeAttestation(att)
		if err != nil {
			// one undecodable attestation must not hide the rest of the block
			logger.Warn("Skipping attestation in block %d: %v", slot, err)
			continue
		}
		out.Attestations = append(out.Attestations, decoded)
	}

	switch block.Version {
	case spec.DataVersionBellatrix:
		p := block.Bellatrix.Message.Body.ExecutionPayload
		out.FeeRecipient, out.ExecutionBlockHash = p.FeeRecipient.String(), p.BlockHash.String()
	case spec.DataVersionCapella:
		p := block.Capella.Message.Body.ExecutionPayload
		out.FeeRecipient, out.ExecutionBlockHash = p.FeeRecipient.String(), p.BlockHash.String()
	case spec.DataVersionDeneb:
		p := block.Deneb.Message.Body.ExecutionPayload
		out.FeeRecipient, out.ExecutionBlockHash = p.FeeRecipient.String(), p.BlockHash.String()
	case spec.DataVersionElectra:
		p := block.Electra.Message.Body.ExecutionPayload
		out.FeeRecipient, out.ExecutionBlockHash = p.FeeRecipient.String(), p.BlockHash.String()
	case spec.DataVersionFulu:
		p := block.Fulu.Message.Body.ExecutionPayload
		out.FeeRecipient, out.ExecutionBlockHash = p.FeeRecipient.String(), p.BlockHash.String()
	}
	out.FeeRecipient = strings.ToLower(out.FeeRecipient)
	return out, nil
}

func decodeAttestation(att *spec.VersionedAttestation) (domain.Attestation, error) {
	data, err := att.Data()
	if err != nil {
		return domain.Attestation{}, err
	}
	bits, err := att.AggregationBits()
	if err != nil {
		return domain.Attestation{}, err
	}
	out := domain.Attestation{
		Slot:            domain.Slot(data.Slot),
		AggregationBits: "0x" + hex.EncodeToString([]byte(bits)),
	}

	if att.Version < spec.DataVersionElectra {
		out.Committees = []domain.CommitteeIndex{domain.CommitteeIndex(data.Index)}
		return out, nil
	}
	committeeBits, err := att.CommitteeBits()
	if err != nil {
		return domain.Attestation{}, err
	}
	for _, i := range committeeBits.BitIndices() {
		out.Committees = append(out.Committees, domain.CommitteeIndex(i))
	}
	return out, nil
}

// GetProposerDuties returns the proposer duties of every slot in epoch.
func (b *beaconHTTPClient) GetProposerDuties(ctx context.Context, epoch domain.Epoch) ([]domain.ProposerDuty, error) {
	resp, err := withRetry(ctx, b, "proposer_duties", func() (*api.Response[[]*apiv1.ProposerDuty], error) {
		return b.client.ProposerDuties(ctx, &api.ProposerDutiesOpts{
			Epoch: phase0.Epoch(epoch),
		})
	})
	if err != nil {
		return nil, err
	}

	duties := make([]domain.ProposerDuty, 0, len(resp.Data))
	for _, d := range resp.Data {
		duties = append(duties, domain.ProposerDuty{
			ValidatorIndex: domain.ValidatorIndex(d.ValidatorIndex),
			Pubkey:         domain.Pubkey(d.PubKey),
			Slot:           domain.Slot(d.Slot),
		})
	}
	return duties, nil
}

// GetEpochCommittees returns:
//
//	data-slot → committee-index → []validatorIndex
func (b *beaconHTTPClient) GetEpochCommittees(ctx context.Context, epoch domain.Epoch) (domain.EpochCommittees, error) {
	e := phase0.Epoch(epoch)
	resp, err := withRetry(ctx, b, "committees", func() (*api.Response[[]*apiv1.BeaconCommittee], error) {
		return b.client.BeaconCommittees(ctx, &api.BeaconCommitteesOpts{
			State: "head",
			Epoch: &e,
		})
	})
	if err != nil {
		return nil, err
	}

	result := make(domain.EpochCommittees)
	for _, c := range resp.Data {
		slot := domain.Slot(c.Slot)

		vals := make([]domain.ValidatorIndex, len(c.Validators))
		for i, v := range c.Validators {
			vals[i] = domain.ValidatorIndex(v)
		}

		slotMap, ok := result[slot]
		if !ok {
			slotMap = make(domain.SlotCommittees)
			result[slot] = slotMap
		}
		slotMap[domain.CommitteeIndex(c.Index)] = vals
	}
	return result, nil
}

var validatorStates = map[domain.ValidatorStatus]apiv1.ValidatorState{
	domain.StatusPendingInitialized: apiv1.ValidatorStatePendingInitialized,
	domain.StatusPendingQueued:      apiv1.ValidatorStatePendingQueued,
	domain.StatusActiveOngoing:      apiv1.ValidatorStateActiveOngoing,
	domain.StatusActiveExiting:      apiv1.ValidatorStateActiveExiting,
	domain.StatusActiveSlashed:      apiv1.ValidatorStateActiveSlashed,
	domain.StatusExitedUnslashed:    apiv1.ValidatorStateExitedUnslashed,
	domain.StatusExitedSlashed:      apiv1.ValidatorStateExitedSlashed,
	domain.StatusWithdrawalPossible: apiv1.ValidatorStateWithdrawalPossible,
	domain.StatusWithdrawalDone:     apiv1.ValidatorStateWithdrawalDone,
}

// GetValidators returns the head validator set, optionally filtered by status.
func (b *beaconHTTPClient) GetValidators(ctx context.Context, statuses []domain.ValidatorStatus) ([]domain.ValidatorSnapshot, error) {
	states := make([]apiv1.ValidatorState, 0, len(statuses))
	for _, s := range statuses {
		if st, ok := validatorStates[s]; ok {
			states = append(states, st)
		}
	}

	resp, err := withRetry(ctx, b, "validators", func() (*api.Response[map[phase0.ValidatorIndex]*apiv1.Validator], error) {
		return b.client.Validators(ctx, &api.ValidatorsOpts{
			State:           "head",
			ValidatorStates: states,
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.ValidatorSnapshot, 0, len(resp.Data))
	for _, v := range resp.Data {
		if v == nil || v.Validator == nil {
			continue
		}
		out = append(out, domain.ValidatorSnapshot{
			Index:            domain.ValidatorIndex(v.Index),
			Pubkey:           domain.Pubkey(v.Validator.PublicKey),
			EffectiveBalance: domain.Gwei(v.Validator.EffectiveBalance),
			Slashed:          v.Validator.Slashed,
			Status:           domain.ParseValidatorStatus(v.Status.String()),
		})
	}
	return out, nil
}

// GetValidatorsLiveness returns is_live per index for epoch.
func (b *beaconHTTPClient) GetValidatorsLiveness(ctx context.Context, epoch domain.Epoch, indices []domain.ValidatorIndex) (map[domain.ValidatorIndex]bool, error) {
	resp, err := withRetry(ctx, b, "liveness", func() (*api.Response[[]*apiv1.ValidatorLiveness], error) {
		return b.client.ValidatorLiveness(ctx, &api.ValidatorLivenessOpts{
			Epoch:   phase0.Epoch(epoch),
			Indices: toAPIIndices(indices),
		})
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty liveness for epoch %d", epoch)
	}
	return decodeLiveness(resp.Data), nil
}

// GetAttestationRewards returns the ideal and total attestation rewards of epoch.
func (b *beaconHTTPClient) GetAttestationRewards(ctx context.Context, epoch domain.Epoch, indices []domain.ValidatorIndex) (*domain.AttestationRewards, error) {
	resp, err := withRetry(ctx, b, "rewards", func() (*api.Response[*apiv1.AttestationRewards], error) {
		return b.client.AttestationRewards(ctx, &api.AttestationRewardsOpts{
			Epoch:   phase0.Epoch(epoch),
			Indices: toAPIIndices(indices),
		})
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("empty attestation rewards for epoch %d", epoch)
	}
	return decodeRewards(resp.Data), nil
}

func toAPIIndices(indices []domain.ValidatorIndex) []phase0.ValidatorIndex {
	out := make([]phase0.ValidatorIndex, len(indices))
	for i, idx := range indices {
		out[i] = phase0.ValidatorIndex(idx)
	}
	return out
}

func decodeLiveness(data []*apiv1.ValidatorLiveness) map[domain.ValidatorIndex]bool {
	out := make(map[domain.ValidatorIndex]bool, len(data))
	for _, l := range data {
		if l == nil {
			continue
		}
		out[domain.ValidatorIndex(l.Index)] = l.IsLive
	}
	return out
}

// decodeRewards keys ideal rewards by effective balance and actual rewards by
// validator index. Source and target may be negative (penalties).
func decodeRewards(data *apiv1.AttestationRewards) *domain.AttestationRewards {
	out := &domain.AttestationRewards{
		Ideal: make(map[domain.Gwei]domain.AttestationReward, len(data.IdealRewards)),
		Total: make(map[domain.ValidatorIndex]domain.AttestationReward, len(data.TotalRewards)),
	}
	for _, r := range data.IdealRewards {
		out.Ideal[domain.Gwei(r.EffectiveBalance)] = domain.AttestationReward{
			Source: int64(r.Source),
			Target: int64(r.Target),
			Head:   int64(r.Head),
		}
	}
	for _, r := range data.TotalRewards {
		out.Total[domain.ValidatorIndex(r.ValidatorIndex)] = domain.AttestationReward{
			Source: r.Source,
			Target: r.Target,
			Head:   int64(r.Head),
		}
	}
	return out
}
