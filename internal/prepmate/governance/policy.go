package governance

// FailurePolicy says what a turn does when one of its storage-backed steps
// fails.
type FailurePolicy string

const (
	// FailOpen treats the failed step as if it had succeeded with the
	// permissive answer.
	FailOpen FailurePolicy = "fail_open"
	// FailClosed refuses the turn.
	FailClosed FailurePolicy = "fail_closed"
	// Degrade skips the step and continues without its result.
	Degrade FailurePolicy = "degrade"
)

// Per-step policies. The ledger check is the only one a deployment may
// change (see Config.LedgerCheckPolicy).
const (
	LedgerCheckPolicy  = FailOpen
	LedgerRecordPolicy = Degrade
	SessionPolicy      = Degrade
	TurnLogPolicy      = Degrade
	ContinuityPolicy   = Degrade
	RecallPolicy       = Degrade
	PreferencesPolicy  = Degrade
)

// Steps named in Outcome.Degraded and in anomaly logs.
const (
	StepReap        = "session_reap"
	StepLedgerCheck = "ledger_check"
	StepLedgerCost  = "ledger_record"
	StepSession     = "session"
	StepTurnLog     = "turn_log"
	StepHistory     = "history"
	StepRecall      = "recall"
	StepPreferences = "preferences"
)

// Anomaly kinds attached to degraded-step logs.
const (
	AnomalyStorageUnavailable = "storage_unavailable"
	AnomalyResetContention    = "reset_contention"
	AnomalyInvalidInput       = "invalid_input"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailOpen, FailClosed, Degrade:
		return true
	}
	return false
}
