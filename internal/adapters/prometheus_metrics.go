package adapters

import (
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/application/ports"
	"github.com/Marketen/validator-watcher/internal/logger"
)

// PrometheusMetrics implements ports.MetricsSink on its own registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry
	network  string

	// labels set by the previous PublishTick
	published map[string]struct{}

	statusCount          *prometheus.GaugeVec
	validators           *prometheus.GaugeVec
	slashed              *prometheus.GaugeVec
	suboptimalSources    *prometheus.GaugeVec
	suboptimalTargets    *prometheus.GaugeVec
	suboptimalHeads      *prometheus.GaugeVec
	missedAttestations   *prometheus.GaugeVec
	doubleMissed         *prometheus.GaugeVec
	idealRewards         *prometheus.GaugeVec
	actualRewards        *prometheus.GaugeVec
	attestationDuties    *prometheus.GaugeVec
	attestationSuccess   *prometheus.GaugeVec
	proposedHead         *prometheus.CounterVec
	missedHead           *prometheus.CounterVec
	proposedFinalized    *prometheus.CounterVec
	missedFinalized      *prometheus.CounterVec
	futureProposals      *prometheus.GaugeVec
	wrongFeeRecipient    *prometheus.CounterVec
	slot                 prometheus.Gauge
	epoch                prometheus.Gauge
	finalizedSlot        prometheus.Gauge
	watchedValidators    prometheus.Gauge
	pendingValidators    prometheus.Gauge
	entryQueueDuration   prometheus.Gauge
	lastTickTimestampSec prometheus.Gauge
}

// NewPrometheusMetrics registers every watcher metric on a fresh registry. All
// label vectors carry {scope, network}; network is fixed for the process.
func NewPrometheusMetrics(network string) *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	scope := []string{"scope", "network"}

	return &PrometheusMetrics{
		registry:  reg,
		network:   network,
		published: make(map[string]struct{}),
		statusCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_validator_status_count",
			Help: "Validator count per status",
		}, []string{"scope", "status", "network"}),
		validators: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_validators",
			Help: "Number of validators carrying the label",
		}, scope),
		slashed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_slashed_validators",
			Help: "Number of slashed validators",
		}, scope),
		suboptimalSources: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_suboptimal_sources_rate",
			Help: "Percentage of scored validators with a suboptimal source vote",
		}, scope),
		suboptimalTargets: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_suboptimal_targets_rate",
			Help: "Percentage of scored validators with a suboptimal target vote",
		}, scope),
		suboptimalHeads: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_suboptimal_heads_rate",
			Help: "Percentage of scored validators with a suboptimal head vote",
		}, scope),
		missedAttestations: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_missed_attestations",
			Help: "Validators that missed their attestation in the last liveness epoch",
		}, scope),
		doubleMissed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_missed_attestations_duplicates",
			Help: "Validators that missed their attestation two epochs in a row",
		}, scope),
		idealRewards: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_ideal_consensus_rewards_gwei",
			Help: "Sum of ideal attestation rewards of the last scored epoch",
		}, scope),
		actualRewards: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_consensus_rewards_gwei",
			Help: "Sum of actual attestation rewards of the last scored epoch",
		}, scope),
		attestationDuties: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_attestation_duties",
			Help: "Attestation duties resolved in the last tick",
		}, scope),
		attestationSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_attestation_duties_success",
			Help: "Attestation duties seen included in the last tick",
		}, scope),
		proposedHead: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eth_block_proposals_head_total",
			Help: "Blocks proposed at head",
		}, scope),
		missedHead: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eth_missed_block_proposals_head_total",
			Help: "Block proposals missed at head",
		}, scope),
		proposedFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eth_block_proposals_finalized_total",
			Help: "Blocks proposed and finalized",
		}, scope),
		missedFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eth_missed_block_proposals_finalized_total",
			Help: "Block proposals missed once finalized",
		}, scope),
		futureProposals: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eth_future_block_proposals",
			Help: "Upcoming block proposals in the current and next epoch",
		}, scope),
		wrongFeeRecipient: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eth_wrong_fee_recipient_total",
			Help: "Proposed blocks paying an unexpected fee recipient",
		}, scope),
		slot: f.NewGauge(prometheus.GaugeOpts{
			Name:        "eth_slot",
			Help:        "Current slot",
			ConstLabels: prometheus.Labels{"network": network},
		}),
		epoch: f.NewGauge(prometheus.GaugeOpts{
			Name:        "eth_epoch",
			Help:        "Current epoch",
			ConstLabels: prometheus.Labels{"network": network},
		}),
		finalizedSlot: f.NewGauge(prometheus.GaugeOpts{
			Name:        "eth_finalized_slot",
			Help:        "Last finalized slot",
			ConstLabels: prometheus.Labels{"network": network},
		}),
		watchedValidators: f.NewGauge(prometheus.GaugeOpts{
			Name:        "eth_watched_validators",
			Help:        "Configured keys known on chain",
			ConstLabels: prometheus.Labels{"network": network},
		}),
		pendingValidators: f.NewGauge(prometheus.GaugeOpts{
			Name:        "eth_pending_validators",
			Help:        "Validators waiting in the activation queue",
			ConstLabels: prometheus.Labels{"network": network},
		}),
		entryQueueDuration: f.NewGauge(prometheus.GaugeOpts{
			Name:        "eth_entry_queue_duration_seconds",
			Help:        "Estimated activation queue wait",
			ConstLabels: prometheus.Labels{"network": network},
		}),
		lastTickTimestampSec: f.NewGauge(prometheus.GaugeOpts{
			Name:        "eth_watcher_last_tick_timestamp_seconds",
			Help:        "Unix time of the last published tick",
			ConstLabels: prometheus.Labels{"network": network},
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// PublishTick sets every per-label series from one aggregation pass. Rates keep
// their previous value until a rewards report exists. Gauges of labels missing
// from m are dropped; counters keep their totals.
func (p *PrometheusMetrics) PublishTick(m *domain.TickMetrics) {
	for label := range p.published {
		if _, ok := m.Labels[label]; !ok {
			p.dropLabel(label)
			delete(p.published, label)
		}
	}
	for label, lm := range m.Labels {
		p.published[label] = struct{}{}
		for s := domain.ValidatorStatus(0); s < domain.NumStatuses; s++ {
			p.statusCount.WithLabelValues(label, s.String(), p.network).Set(float64(lm.StatusCount[s]))
		}
		p.validators.WithLabelValues(label, p.network).Set(float64(lm.Validators))
		p.slashed.WithLabelValues(label, p.network).Set(float64(lm.Slashed))
		p.missedAttestations.WithLabelValues(label, p.network).Set(float64(lm.MissedAttestations))
		p.doubleMissed.WithLabelValues(label, p.network).Set(float64(lm.DoubleMissedAttestations))

		if source, target, head, ok := lm.SuboptimalRates(); ok {
			p.suboptimalSources.WithLabelValues(label, p.network).Set(source)
			p.suboptimalTargets.WithLabelValues(label, p.network).Set(target)
			p.suboptimalHeads.WithLabelValues(label, p.network).Set(head)
			p.idealRewards.WithLabelValues(label, p.network).Set(float64(lm.IdealConsensusReward))
			p.actualRewards.WithLabelValues(label, p.network).Set(float64(lm.ActualConsensusReward))
		}

		p.attestationDuties.WithLabelValues(label, p.network).Set(float64(lm.AttestationDuties))
		p.attestationSuccess.WithLabelValues(label, p.network).Set(float64(lm.AttestationDutiesSuccess))

		p.proposedHead.WithLabelValues(label, p.network).Add(float64(lm.ProposedBlocks))
		p.missedHead.WithLabelValues(label, p.network).Add(float64(lm.MissedBlocks))
		p.proposedFinalized.WithLabelValues(label, p.network).Add(float64(lm.ProposedBlocksFinalized))
		p.missedFinalized.WithLabelValues(label, p.network).Add(float64(lm.MissedBlocksFinalized))
		p.futureProposals.WithLabelValues(label, p.network).Set(float64(lm.FutureBlockProposals))
	}
	p.lastTickTimestampSec.SetToCurrentTime()
}

func (p *PrometheusMetrics) dropLabel(label string) {
	match := prometheus.Labels{"scope": label}
	for _, g := range []*prometheus.GaugeVec{
		p.statusCount, p.validators, p.slashed,
		p.suboptimalSources, p.suboptimalTargets, p.suboptimalHeads,
		p.missedAttestations, p.doubleMissed, p.idealRewards, p.actualRewards,
		p.attestationDuties, p.attestationSuccess, p.futureProposals,
	} {
		g.DeletePartialMatch(match)
	}
}

// PublishChain sets the chain level gauges.
func (p *PrometheusMetrics) PublishChain(s ports.ChainState) {
	p.slot.Set(float64(s.Slot))
	p.epoch.Set(float64(s.Epoch))
	p.finalizedSlot.Set(float64(s.FinalizedSlot))
	p.watchedValidators.Set(float64(s.WatchedValidators))
	p.pendingValidators.Set(float64(s.PendingValidators))
	p.entryQueueDuration.Set(s.EntryQueue.Seconds())
}

// IncWrongFeeRecipient counts one bad block under every label of the proposer.
func (p *PrometheusMetrics) IncWrongFeeRecipient(labels []string) {
	for _, l := range labels {
		p.wrongFeeRecipient.WithLabelValues(l, p.network).Inc()
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (p *PrometheusMetrics) Serve(ctx context.Context, addr string) error {
	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry}))
	srv := &nethttp.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("Metrics server listening on %s", listener.Addr())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error("Error serving metrics: %v", err)
		}
	}()
	return nil
}
