package duties

import (
	"encoding/hex"
	"testing"

	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/assert"

	"github.com/Marketen/validator-watcher/internal/application/domain"
)

func indices(from, to uint64) []domain.ValidatorIndex {
	out := make([]domain.ValidatorIndex, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, domain.ValidatorIndex(i))
	}
	return out
}

func concat(parts ...[]domain.ValidatorIndex) []domain.ValidatorIndex {
	var out []domain.ValidatorIndex
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func bitsHex(size uint64, set ...uint64) string {
	bl := bitfield.NewBitlist(size)
	for _, i := range set {
		bl.SetBitAt(i, true)
	}
	return "0x" + hex.EncodeToString([]byte(bl))
}

func set(idx ...uint64) IndexSet {
	out := make(IndexSet, len(idx))
	for _, i := range idx {
		out[domain.ValidatorIndex(i)] = struct{}{}
	}
	return out
}

// committees of slot 41: committee 0 has 18 members, committee 1 has 18 members.
func slot41Committees() domain.SlotCommittees {
	return domain.SlotCommittees{
		0: concat(indices(1, 9), indices(10, 11), indices(29, 30), indices(31, 35)),
		1: concat(indices(47, 51), indices(69, 70), indices(71, 81)),
	}
}

func TestResolve(t *testing.T) {
	committees := slot41Committees()
	atts := []domain.Attestation{
		{Slot: 41, Committees: []domain.CommitteeIndex{0}, AggregationBits: bitsHex(18, 9)},
		{Slot: 41, Committees: []domain.CommitteeIndex{0}, AggregationBits: bitsHex(18, 12)},
		{Slot: 41, Committees: []domain.CommitteeIndex{1}, AggregationBits: bitsHex(18, 3)},
		// about another slot, ignored
		{Slot: 40, Committees: []domain.CommitteeIndex{1}, AggregationBits: bitsHex(18, 6)},
		// unknown committee, skipped
		{Slot: 41, Committees: []domain.CommitteeIndex{7}, AggregationBits: bitsHex(18, 0)},
	}

	res := Resolve(41, committees, atts)
	assert.Equal(t, set(10, 30, 50), res.Attested)
	assert.Len(t, res.Assigned, 36)

	missed := res.Missed()
	assert.Len(t, missed, 33)
	for _, idx := range []domain.ValidatorIndex{1, 11, 29, 35, 47, 69, 70, 81} {
		assert.Contains(t, missed, idx)
	}
	for _, idx := range []domain.ValidatorIndex{10, 30, 50} {
		assert.NotContains(t, missed, idx)
	}
}

func TestResolveMultiCommitteeAttestation(t *testing.T) {
	committees := slot41Committees()
	atts := []domain.Attestation{
		{Slot: 41, Committees: []domain.CommitteeIndex{0, 1}, AggregationBits: bitsHex(36, 9, 12, 18+3)},
	}

	res := Resolve(41, committees, atts)
	assert.Equal(t, set(10, 30, 50), res.Attested)
}

func TestResolveSkipsMalformed(t *testing.T) {
	committees := slot41Committees()
	atts := []domain.Attestation{
		// all-zero bitlist has no marker
		{Slot: 41, Committees: []domain.CommitteeIndex{0}, AggregationBits: "0x000000"},
		// length mismatch with the other committee-1 vector
		{Slot: 41, Committees: []domain.CommitteeIndex{1}, AggregationBits: bitsHex(18, 3)},
		{Slot: 41, Committees: []domain.CommitteeIndex{1}, AggregationBits: bitsHex(17, 4)},
		// multi committee attestation that does not cover both committee sizes
		{Slot: 41, Committees: []domain.CommitteeIndex{0, 1}, AggregationBits: bitsHex(20, 9)},
		// invalid hex
		{Slot: 41, Committees: []domain.CommitteeIndex{0}, AggregationBits: "0xzz"},
		// valid
		{Slot: 41, Committees: []domain.CommitteeIndex{0}, AggregationBits: bitsHex(18, 0)},
	}

	res := Resolve(41, committees, atts)
	assert.Equal(t, set(1), res.Attested)
}

func TestResolveNoAttestations(t *testing.T) {
	res := Resolve(41, slot41Committees(), nil)
	assert.Empty(t, res.Attested)
	assert.Len(t, res.Missed(), 36)
}
