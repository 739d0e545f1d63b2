package entity

// EligibilityStatus is the outcome of an eligibility check.
type EligibilityStatus string

const (
	EligibilityEligible   EligibilityStatus = "ELIGIBLE"
	EligibilityIneligible EligibilityStatus = "INELIGIBLE"
	EligibilityFailure    EligibilityStatus = "FAILURE"
	EligibilityConflict   EligibilityStatus = "CONFLICT"
)

// EligibilityError classifies a FAILURE outcome
type EligibilityError string

const (
	EligibilityErrorInvalidRequest  EligibilityError = "INVALID_REQUEST"
	EligibilityErrorInternal        EligibilityError = "INTERNAL_ERROR"
	EligibilityErrorDataNotFound    EligibilityError = "DATA_NOT_FOUND"
	EligibilityErrorDatabaseOffline EligibilityError = "DATABASE_OFFLINE"
)

// ActivationStatus is the lifecycle status of a BonusActivation.
type ActivationStatus string

const (
	ActivationProcessing ActivationStatus = "PROCESSING"
	ActivationActive     ActivationStatus = "ACTIVE"
	ActivationFailed     ActivationStatus = "FAILED"
)

// RuntimeStatus is the engine-level status of a workflow instance.
type RuntimeStatus string

const (
	RuntimePending    RuntimeStatus = "PENDING"
	RuntimeRunning    RuntimeStatus = "RUNNING"
	RuntimeCompleted  RuntimeStatus = "COMPLETED"
	RuntimeFailed     RuntimeStatus = "FAILED"
	RuntimeTerminated RuntimeStatus = "TERMINATED"
)

// IsTerminal reports whether the instance will not execute again.
func (s RuntimeStatus) IsTerminal() bool {
	switch s {
	case RuntimeCompleted, RuntimeFailed, RuntimeTerminated:
		return true
	default:
		return false
	}
}

// Custom status markers published by workflow bodies
const (
	CustomStatusRunning   = "RUNNING"
	CustomStatusCompleted = "COMPLETED"
)

// HistoryEventType identifies a replay log record
type HistoryEventType string

const (
	HistoryActivityCompleted HistoryEventType = "ACTIVITY_COMPLETED"
	HistoryActivityFailed    HistoryEventType = "ACTIVITY_FAILED"
	HistoryTimerScheduled    HistoryEventType = "TIMER_SCHEDULED"
	HistoryTimerFired        HistoryEventType = "TIMER_FIRED"
)
