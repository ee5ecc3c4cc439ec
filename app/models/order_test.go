package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidOrderState(t *testing.T) {
	assert.True(t, ValidOrderState(OrderStatePendingPayment))
	assert.True(t, ValidOrderState(OrderStatePaid))
	assert.True(t, ValidOrderState(OrderStateCancelled))
	assert.False(t, ValidOrderState("shipped"))
	assert.False(t, ValidOrderState(""))
}

func TestOrderIsFinal(t *testing.T) {
	assert.False(t, (&Order{State: OrderStatePendingPayment}).IsFinal())
	assert.True(t, (&Order{State: OrderStatePaid}).IsFinal())
	assert.True(t, (&Order{State: OrderStateCancelled}).IsFinal())
}
