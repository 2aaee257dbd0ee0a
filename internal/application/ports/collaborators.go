package ports

import (
	"context"
	"time"

	"github.com/Marketen/validator-watcher/internal/application/domain"
)

// ExecutionAdapter reads execution layer blocks for the fee recipient check.
type ExecutionAdapter interface {
	// LastTransactionRecipient returns the lower-case 0x recipient of the last
	// transaction of the block with the given hash. ok is false when the block
	// has no transaction or the last one creates a contract.
	LastTransactionRecipient(ctx context.Context, blockHash string) (recipient string, ok bool, err error)
}

// ChainState is the head view published alongside label metrics.
type ChainState struct {
	Slot              domain.Slot
	Epoch             domain.Epoch
	FinalizedSlot     domain.Slot
	WatchedValidators int
	PendingValidators uint64
	EntryQueue        time.Duration
}

// MetricsSink receives the per-tick aggregates.
type MetricsSink interface {
	PublishTick(m *domain.TickMetrics)
	PublishChain(s ChainState)
	IncWrongFeeRecipient(labels []string)
}

// AlertSink delivers human readable notifications.
type AlertSink interface {
	Send(ctx context.Context, text string) error
}

// SlotClock emits the slot number at the start of every slot.
type SlotClock interface {
	// Current returns the slot the wallclock is in.
	Current() domain.Slot
	// Subscribe registers fn to run on every slot change.
	Subscribe(fn func(domain.Slot))
	Stop()
}
