package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	// TriggerGrantConfirmed fires when the authority accepted the bonus
	TriggerGrantConfirmed Trigger = "GRANT_CONFIRMED"
	// TriggerGrantRejected fires on a permanent grant rejection or when
	// the start path has to roll back a half-created activation
	TriggerGrantRejected Trigger = "GRANT_REJECTED"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
