package adapters

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/application/ports"
)

// sample returns the value of the series of name whose labels include want.
func sample(t *testing.T, p *PrometheusMetrics, name string, want map[string]string) (float64, bool) {
	t.Helper()
	families, err := p.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if !hasLabels(m, want) {
				continue
			}
			switch {
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue(), true
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue(), true
			}
		}
	}
	return 0, false
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestPublishTick(t *testing.T) {
	p := NewPrometheusMetrics("hoodi")
	watched := map[string]string{"scope": domain.LabelWatched, "network": "hoodi"}

	lm := &domain.LabelMetrics{
		Validators:         2,
		MissedAttestations: 1,
		RewardsReported:    true,
		SuboptimalSource:   1,
		MissedBlocks:       1,
	}
	lm.StatusCount[domain.StatusActiveOngoing] = 2
	p.PublishTick(&domain.TickMetrics{Slot: 10, Labels: map[string]*domain.LabelMetrics{domain.LabelWatched: lm}})

	v, ok := sample(t, p, "eth_missed_attestations", watched)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, _ = sample(t, p, "eth_suboptimal_sources_rate", watched)
	assert.Equal(t, 50.0, v)

	v, _ = sample(t, p, "eth_validator_status_count", map[string]string{"scope": domain.LabelWatched, "status": "active_ongoing"})
	assert.Equal(t, 2.0, v)

	// counters accumulate, rates keep the last value until a report exists
	p.PublishTick(&domain.TickMetrics{Slot: 11, Labels: map[string]*domain.LabelMetrics{
		domain.LabelWatched: {Validators: 2, MissedBlocks: 2},
	}})
	v, _ = sample(t, p, "eth_missed_block_proposals_head_total", watched)
	assert.Equal(t, 3.0, v)
	v, _ = sample(t, p, "eth_suboptimal_sources_rate", watched)
	assert.Equal(t, 50.0, v)
	v, _ = sample(t, p, "eth_missed_attestations", watched)
	assert.Zero(t, v)
}

func TestPublishTickDropsRemovedLabels(t *testing.T) {
	p := NewPrometheusMetrics("hoodi")
	op := map[string]string{"scope": "operator:a", "network": "hoodi"}

	p.PublishTick(&domain.TickMetrics{Slot: 1, Labels: map[string]*domain.LabelMetrics{
		domain.LabelWatched: {Validators: 1},
		"operator:a":        {Validators: 1, MissedBlocks: 1},
	}})
	v, ok := sample(t, p, "eth_validators", op)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	p.PublishTick(&domain.TickMetrics{Slot: 2, Labels: map[string]*domain.LabelMetrics{
		domain.LabelWatched: {Validators: 1},
	}})
	_, ok = sample(t, p, "eth_validators", op)
	assert.False(t, ok)
	_, ok = sample(t, p, "eth_validator_status_count", op)
	assert.False(t, ok)
	v, ok = sample(t, p, "eth_missed_block_proposals_head_total", op)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = sample(t, p, "eth_validators", map[string]string{"scope": domain.LabelWatched})
	assert.True(t, ok)
}

func TestPublishChainAndFeeRecipient(t *testing.T) {
	p := NewPrometheusMetrics("mainnet")
	p.PublishChain(ports.ChainState{Slot: 320, Epoch: 10, FinalizedSlot: 256, WatchedValidators: 3})
	p.IncWrongFeeRecipient([]string{domain.LabelAllNetwork, domain.LabelWatched, "operator:a"})

	v, ok := sample(t, p, "eth_slot", map[string]string{"network": "mainnet"})
	require.True(t, ok)
	assert.Equal(t, 320.0, v)

	v, _ = sample(t, p, "eth_watched_validators", nil)
	assert.Equal(t, 3.0, v)

	v, ok = sample(t, p, "eth_wrong_fee_recipient_total", map[string]string{"scope": "operator:a"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}
