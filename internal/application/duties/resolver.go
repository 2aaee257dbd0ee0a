// Package duties works out which validators performed their attestation duty for a slot.
package duties

import (
	"github.com/Marketen/validator-watcher/internal/application/bitvector"
	"github.com/Marketen/validator-watcher/internal/application/domain"
	"github.com/Marketen/validator-watcher/internal/logger"
)

// IndexSet is a set of validator indices.
type IndexSet map[domain.ValidatorIndex]struct{}

// Result is the outcome of resolving one slot.
type Result struct {
	Slot     domain.Slot
	Assigned IndexSet
	Attested IndexSet
}

// Missed returns the assigned validators that did not attest.
func (r Result) Missed() IndexSet {
	missed := make(IndexSet)
	for idx := range r.Assigned {
		if _, ok := r.Attested[idx]; !ok {
			missed[idx] = struct{}{}
		}
	}
	return missed
}

// Resolve computes the attested and assigned validator sets for slot from the
// committees of that slot and the attestations included in the following block.
// Attestations about other slots are ignored. Malformed attestations and committees
// are skipped so that one bad item does not blank out the whole slot.
func Resolve(slot domain.Slot, committees domain.SlotCommittees, attestations []domain.Attestation) Result {
	res := Result{
		Slot:     slot,
		Assigned: make(IndexSet),
		Attested: make(IndexSet),
	}
	for _, members := range committees {
		for _, idx := range members {
			res.Assigned[idx] = struct{}{}
		}
	}

	perCommittee := make(map[domain.CommitteeIndex][][]bool)
	for _, att := range attestations {
		if att.Slot != slot {
			continue
		}
		segments, ok := splitByCommittee(att, committees)
		if !ok {
			continue
		}
		for committee, bits := range segments {
			perCommittee[committee] = append(perCommittee[committee], bits)
		}
	}

	for committee, vectors := range perCommittee {
		aggregated, err := bitvector.AggregateOr(vectors)
		if err != nil {
			logger.Warn("Skipping committee %d at slot %d: %v", committee, slot, err)
			continue
		}
		for idx := range bitvector.ApplyMask(committees[committee], aggregated) {
			res.Attested[idx] = struct{}{}
		}
	}
	return res
}

// splitByCommittee decodes the aggregation bits of att and cuts them into one
// segment per covered committee. Segment boundaries come from the committee sizes.
func splitByCommittee(att domain.Attestation, committees domain.SlotCommittees) (map[domain.CommitteeIndex][]bool, bool) {
	if len(att.Committees) == 0 {
		return nil, false
	}
	for _, c := range att.Committees {
		if _, ok := committees[c]; !ok {
			// stale epoch boundary, nothing to map the bits onto
			logger.Debug("Committee %d not found for slot %d, skipping attestation", c, att.Slot)
			return nil, false
		}
	}

	bits, err := bitvector.DecodeAggregationBits(att.AggregationBits)
	if err != nil {
		logger.Warn("Skipping attestation for slot %d: %v", att.Slot, err)
		return nil, false
	}

	if len(att.Committees) == 1 {
		return map[domain.CommitteeIndex][]bool{att.Committees[0]: bits}, true
	}

	out := make(map[domain.CommitteeIndex][]bool, len(att.Committees))
	offset := 0
	for _, c := range att.Committees {
		size := len(committees[c])
		if offset+size > len(bits) {
			logger.Warn("Aggregation bits too short for committees of slot %d (%d bits)", att.Slot, len(bits))
			return nil, false
		}
		out[c] = bits[offset : offset+size]
		offset += size
	}
	if offset != len(bits) {
		logger.Warn("Aggregation bits length %d does not match committee sizes %d at slot %d", len(bits), offset, att.Slot)
		return nil, false
	}
	return out, true
}
