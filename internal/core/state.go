package core

// transitions is the authoritative table. An event absent for a state
// is rejected; there is no silent no-op path.
var transitions = map[Status]map[Event]Status{
	StatusAwaitingPayment: {
		EventPaymentVerified: StatusQueued,
		EventPaymentRejected: StatusPaymentRejected,
		EventCancel:          StatusCancelled,
	},
	StatusQueued: {
		EventCallToFront: StatusAwaitingConfirmation,
		EventSkip:        StatusSkipped,
		EventCancel:      StatusCancelled,
	},
	StatusAwaitingConfirmation: {
		EventConfirm:        StatusPrinting,
		EventConfirmTimeout: StatusQueued,
		EventExpire:         StatusExpired,
		EventCancel:         StatusCancelled,
	},
	StatusPrinting: {
		EventPrintSucceeded: StatusCompleted,
		EventPrintFailed:    StatusFailed,
		EventCancel:         StatusCancelled,
	},
}

// Next resolves the target state for an event, or a TransitionError
// when the event is not legal in the current state.
func Next(from Status, ev Event) (Status, error) {
	if m, ok := transitions[from]; ok {
		if to, ok := m[ev]; ok {
			return to, nil
		}
	}
	return "", &TransitionError{From: from, Event: ev}
}

// CanTransition reports whether ev is legal in from.
func CanTransition(from Status, ev Event) bool {
	_, err := Next(from, ev)
	return err == nil
}
