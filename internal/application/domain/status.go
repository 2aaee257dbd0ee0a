package domain

// ValidatorStatus mirrors the beacon API validator status enum.
type ValidatorStatus uint8

const (
	StatusUnknown ValidatorStatus = iota
	StatusPendingInitialized
	StatusPendingQueued
	StatusActiveOngoing
	StatusActiveExiting
	StatusActiveSlashed
	StatusExitedUnslashed
	StatusExitedSlashed
	StatusWithdrawalPossible
	StatusWithdrawalDone

	// NumStatuses sizes per-status counter arrays.
	NumStatuses
)

var statusNames = [NumStatuses]string{
	StatusUnknown:            "unknown",
	StatusPendingInitialized: "pending_initialized",
	StatusPendingQueued:      "pending_queued",
	StatusActiveOngoing:      "active_ongoing",
	StatusActiveExiting:      "active_exiting",
	StatusActiveSlashed:      "active_slashed",
	StatusExitedUnslashed:    "exited_unslashed",
	StatusExitedSlashed:      "exited_slashed",
	StatusWithdrawalPossible: "withdrawal_possible",
	StatusWithdrawalDone:     "withdrawal_done",
}

func (s ValidatorStatus) String() string {
	if s >= NumStatuses {
		return statusNames[StatusUnknown]
	}
	return statusNames[s]
}

// ParseValidatorStatus maps a beacon API status string. Unrecognized values map to StatusUnknown.
func ParseValidatorStatus(s string) ValidatorStatus {
	for i, name := range statusNames {
		if name == s {
			return ValidatorStatus(i)
		}
	}
	return StatusUnknown
}

// IsActive reports whether the validator is expected to perform attestation duties.
func (s ValidatorStatus) IsActive() bool {
	return s == StatusActiveOngoing || s == StatusActiveExiting || s == StatusActiveSlashed
}

// IsExited reports whether the validator has left the active set.
func (s ValidatorStatus) IsExited() bool {
	return s >= StatusExitedUnslashed && s <= StatusWithdrawalDone
}
