package domain

type CheckoutState string

const (
	StateIdle               CheckoutState = "IDLE"
	StateSnapshotTaken      CheckoutState = "SNAPSHOT_TAKEN"
	StateMethodSelected     CheckoutState = "METHOD_SELECTED"
	StateAwaitingIntent     CheckoutState = "AWAITING_INTENT"
	StateAwaitingSettlement CheckoutState = "AWAITING_SETTLEMENT"
	StateSettled            CheckoutState = "SETTLED"
	StateFinalizing         CheckoutState = "FINALIZING"
	StateCompleted          CheckoutState = "COMPLETED"
	StateFailed             CheckoutState = "FAILED"
	StateCancelled          CheckoutState = "CANCELLED"
)

var allowedTransitions = map[CheckoutState][]CheckoutState{
	StateIdle:           {StateSnapshotTaken},
	StateSnapshotTaken:  {StateMethodSelected, StateCancelled},
	StateMethodSelected: {StateMethodSelected, StateAwaitingIntent, StateCancelled},
	StateAwaitingIntent: {StateAwaitingSettlement, StateFailed, StateCancelled},
	// back to METHOD_SELECTED when the buyer switches rails and the live intent is discarded
	StateAwaitingSettlement: {StateSettled, StateFailed, StateCancelled, StateMethodSelected},
	StateSettled:            {StateFinalizing},
	StateFinalizing:         {StateCompleted, StateFailed},
}

func CanTransitionTo(from, to CheckoutState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s CheckoutState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// IsCancellable reports whether an explicit buyer cancel is accepted.
// Settled money cannot be un-settled, so everything from SETTLED on refuses.
func (s CheckoutState) IsCancellable() bool {
	return CanTransitionTo(s, StateCancelled)
}

func (s CheckoutState) IsValid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := allowedTransitions[s]
	return ok
}

// String representation (for logging)
func (s CheckoutState) String() string {
	return string(s)
}
