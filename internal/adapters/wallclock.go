package adapters

import (
	"github.com/ethpandaops/ethwallclock"

	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/application/ports"
)

// wallClock implements ports.SlotClock on the beacon chain wallclock.
type wallClock struct {
	clock *ethwallclock.EthereumBeaconChain
}

// NewWallClock starts a wallclock for the given chain timing.
func NewWallClock(spec domain.ChainSpec) ports.SlotClock {
	return &wallClock{
		clock: ethwallclock.NewEthereumBeaconChain(spec.GenesisTime, spec.SecondsPerSlot, spec.SlotsPerEpoch),
	}
}

// Current returns 0 before genesis.
func (w *wallClock) Current() domain.Slot {
	slot, _, err := w.clock.Now()
	if err != nil {
		return 0
	}
	return domain.Slot(slot.Number())
}

func (w *wallClock) Subscribe(fn func(domain.Slot)) {
	w.clock.OnSlotChanged(func(current ethwallclock.Slot) {
		fn(domain.Slot(current.Number()))
	})
}

func (w *wallClock) Stop() {
	w.clock.Stop()
}
