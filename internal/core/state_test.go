package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextLegalTransitions(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		to   Status
	}{
		{StatusAwaitingPayment, EventPaymentVerified, StatusQueued},
		{StatusAwaitingPayment, EventPaymentRejected, StatusPaymentRejected},
		{StatusAwaitingPayment, EventCancel, StatusCancelled},
		{StatusQueued, EventCallToFront, StatusAwaitingConfirmation},
		{StatusQueued, EventSkip, StatusSkipped},
		{StatusQueued, EventCancel, StatusCancelled},
		{StatusAwaitingConfirmation, EventConfirm, StatusPrinting},
		{StatusAwaitingConfirmation, EventConfirmTimeout, StatusQueued},
		{StatusAwaitingConfirmation, EventExpire, StatusExpired},
		{StatusAwaitingConfirmation, EventCancel, StatusCancelled},
		{StatusPrinting, EventPrintSucceeded, StatusCompleted},
		{StatusPrinting, EventPrintFailed, StatusFailed},
		{StatusPrinting, EventCancel, StatusCancelled},
	}

	for _, tc := range cases {
		to, err := Next(tc.from, tc.ev)
		require.NoError(t, err, "%s + %s", tc.from, tc.ev)
		assert.Equal(t, tc.to, to)
		assert.True(t, CanTransition(tc.from, tc.ev))
	}
}

func TestNextRejectsIllegalEvents(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
	}{
		{StatusAwaitingPayment, EventConfirm},
		{StatusAwaitingPayment, EventCallToFront},
		{StatusQueued, EventConfirm},
		{StatusQueued, EventPaymentVerified},
		{StatusQueued, EventPrintSucceeded},
		{StatusAwaitingConfirmation, EventPaymentVerified},
		{StatusAwaitingConfirmation, EventSkip},
		{StatusPrinting, EventConfirm},
		{StatusPrinting, EventConfirmTimeout},
		{StatusPrinting, EventCallToFront},
	}

	for _, tc := range cases {
		_, err := Next(tc.from, tc.ev)
		require.Error(t, err, "%s + %s", tc.from, tc.ev)
		assert.True(t, IsInvalidTransition(err))

		var te *TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, tc.from, te.From)
		assert.Equal(t, tc.ev, te.Event)
	}
}

func TestTerminalStatesHaveNoOutgoingEvents(t *testing.T) {
	terminals := []Status{
		StatusCompleted, StatusFailed, StatusCancelled,
		StatusExpired, StatusSkipped, StatusPaymentRejected,
	}
	events := []Event{
		EventPaymentVerified, EventPaymentRejected, EventCallToFront,
		EventConfirm, EventConfirmTimeout, EventPrintSucceeded,
		EventPrintFailed, EventCancel, EventSkip, EventExpire,
	}

	for _, from := range terminals {
		assert.True(t, from.Terminal(), "%s should be terminal", from)
		for _, ev := range events {
			assert.False(t, CanTransition(from, ev), "%s + %s should be rejected", from, ev)
		}
	}
}

func TestStatusActive(t *testing.T) {
	assert.True(t, StatusQueued.Active())
	assert.True(t, StatusAwaitingConfirmation.Active())
	assert.True(t, StatusPrinting.Active())
	assert.False(t, StatusAwaitingPayment.Active())
	assert.False(t, StatusCompleted.Active())
}

func TestTransitionErrorMessage(t *testing.T) {
	err := &TransitionError{From: StatusQueued, Event: EventConfirm}
	assert.Contains(t, err.Error(), "queued")
	assert.Contains(t, err.Error(), "confirm")
}
