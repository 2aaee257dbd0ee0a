package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/logger"
)

func (w *Watcher) sendAlert(ctx context.Context, text string) {
	if w.alerts == nil {
		return
	}
	if err := w.alerts.Send(ctx, text); err != nil {
		logger.Warn("Alert not delivered: %v", err)
	}
}

// describe renders a validator as its short pubkey followed by its operator labels.
func (w *Watcher) describe(idx domain.ValidatorIndex) string {
	rec, ok := w.registry.ByIndex(idx)
	if !ok {
		return fmt.Sprintf("#%d", idx)
	}
	labels, _ := w.registry.Labels(idx)
	if len(labels.User) == 0 {
		return rec.Pubkey.Short()
	}
	return fmt.Sprintf("%s (%s)", rec.Pubkey.Short(), strings.Join(labels.User, ", "))
}

// alertTick sends the per-validator events of the watched scope. Double misses
// only change with a liveness report, so they are sent on that tick only.
func (w *Watcher) alertTick(ctx context.Context, tick *domain.TickMetrics, livenessApplied bool) {
	m := tick.Labels[domain.LabelWatched]
	if m == nil {
		return
	}

	blocks := func(details []domain.BlockDetail, total uint64, format string) {
		for _, d := range details {
			w.sendAlert(ctx, fmt.Sprintf(format, w.describe(d.Index), d.Slot))
		}
		if extra := total - uint64(len(details)); total > uint64(len(details)) {
			w.sendAlert(ctx, fmt.Sprintf("... and %d more", extra))
		}
	}
	blocks(m.Details.ProposedBlocks, m.ProposedBlocks, "✅ Validator %s proposed a block at slot %d")
	blocks(m.Details.MissedBlocks, m.MissedBlocks, "❌ Validator %s missed its block proposal at slot %d")
	blocks(m.Details.ProposedBlocksFinalized, m.ProposedBlocksFinalized, "✅ Validator %s proposed a finalized block at slot %d")
	blocks(m.Details.MissedBlocksFinalized, m.MissedBlocksFinalized, "❌ Validator %s missed its block proposal at finalized slot %d")

	if !livenessApplied {
		return
	}
	for _, d := range m.Details.DoubleMissedAttestations {
		w.sendAlert(ctx, fmt.Sprintf("😱 Validator %s missed its attestation two epochs in a row", w.describe(d.Index)))
	}
	if n := uint64(len(m.Details.DoubleMissedAttestations)); m.DoubleMissedAttestations > n {
		w.sendAlert(ctx, fmt.Sprintf("... and %d more", m.DoubleMissedAttestations-n))
	}
}

func (w *Watcher) alertTransitions(ctx context.Context, transitions []domain.StatusTransition) {
	for _, tr := range transitions {
		if !w.registry.IsWatched(tr.Index) {
			continue
		}
		switch tr.Kind {
		case domain.TransitionSlashed:
			w.sendAlert(ctx, fmt.Sprintf("🔪 Validator %s was slashed", w.describe(tr.Index)))
		case domain.TransitionExiting:
			w.sendAlert(ctx, fmt.Sprintf("🚪 Validator %s is exiting", w.describe(tr.Index)))
		case domain.TransitionExited:
			w.sendAlert(ctx, fmt.Sprintf("👋 Validator %s has exited (%s)", w.describe(tr.Index), tr.To))
		}
	}
}
