package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{SagaStatePending, SagaStateDebited, true},
		{SagaStatePending, SagaStateFailed, true},
		{SagaStatePending, SagaStateCompleted, false},
		{SagaStateDebited, SagaStateCompleted, true},
		{SagaStateDebited, SagaStateCompensated, true},
		{SagaStateDebited, SagaStateFailed, false},
		{SagaStateCompensated, SagaStateFailed, true},
		{SagaStateCompensated, SagaStateDebited, false},
		{SagaStateCompleted, SagaStateFailed, false},
		{SagaStateFailed, SagaStatePending, false},
		{"UNKNOWN", SagaStateFailed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransitionTo(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestIsTerminalState(t *testing.T) {
	assert.True(t, IsTerminalState(SagaStateCompleted))
	assert.True(t, IsTerminalState(SagaStateFailed))
	assert.False(t, IsTerminalState(SagaStatePending))
	assert.False(t, IsTerminalState(SagaStateDebited))
	assert.False(t, IsTerminalState(SagaStateCompensated))
}

func TestLegRef(t *testing.T) {
	saga := &TransferSaga{ID: "saga-123"}
	assert.Equal(t, "saga-123:debit", saga.LegRef(SagaLegDebit))
	assert.Equal(t, "saga-123:credit", saga.LegRef(SagaLegCredit))
	assert.Equal(t, "saga-123:compensate", saga.LegRef(SagaLegCompensate))
}
