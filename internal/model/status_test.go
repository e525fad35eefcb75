package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentTransitions(t *testing.T) {
	// PENDING 可流向的终态
	assert.True(t, CanPaymentTransitionTo(PaymentStatusPending, PaymentStatusCompleted))
	assert.True(t, CanPaymentTransitionTo(PaymentStatusPending, PaymentStatusFailed))
	assert.True(t, CanPaymentTransitionTo(PaymentStatusPending, PaymentStatusClosed))

	// COMPLETED 仅允许退款
	assert.True(t, CanPaymentTransitionTo(PaymentStatusCompleted, PaymentStatusRefunded))
	assert.False(t, CanPaymentTransitionTo(PaymentStatusCompleted, PaymentStatusPending))
	assert.False(t, CanPaymentTransitionTo(PaymentStatusCompleted, PaymentStatusFailed))

	// FAILED / REFUNDED / CLOSED 是终态
	assert.False(t, CanPaymentTransitionTo(PaymentStatusFailed, PaymentStatusCompleted))
	assert.False(t, CanPaymentTransitionTo(PaymentStatusRefunded, PaymentStatusPending))
	assert.False(t, CanPaymentTransitionTo(PaymentStatusClosed, PaymentStatusCompleted))
}

func TestUsageTransitions(t *testing.T) {
	assert.True(t, CanUsageTransitionTo(UsageStatusSuccess, UsageStatusRefunded))

	assert.False(t, CanUsageTransitionTo(UsageStatusFailed, UsageStatusRefunded))
	assert.False(t, CanUsageTransitionTo(UsageStatusRefunded, UsageStatusSuccess))
	assert.False(t, CanUsageTransitionTo(UsageStatusSuccess, UsageStatusFailed))
}
