package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusAdjacency(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusAssembly, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusDelivered, false},
		{StatusAssembly, StatusShipped, true},
		{StatusAssembly, StatusCancelled, false},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusPending, false},
		{StatusDelivered, StatusCompleted, true},
		{StatusDelivered, StatusReturnRequested, true},
		{StatusCompleted, StatusReturnRequested, true},
		{StatusCompleted, StatusCompleted, false},
		{StatusReturnRequested, StatusRefunded, true},
		{StatusCancelled, StatusProcessing, false},
		{StatusRefunded, StatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	// completed still allows the return_requested side branch.
	assert.False(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusRefunded.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func TestReturnStatusAdjacency(t *testing.T) {
	assert.True(t, ReturnRequested.CanTransitionTo(ReturnApproved))
	assert.True(t, ReturnRequested.CanTransitionTo(ReturnRejected))
	assert.False(t, ReturnRequested.CanTransitionTo(ReturnRefunded))
	assert.True(t, ReturnApproved.CanTransitionTo(ReturnReceived))
	assert.True(t, ReturnReceived.CanTransitionTo(ReturnRefunded))
	assert.False(t, ReturnRejected.CanTransitionTo(ReturnReceived))
}

func TestOrderCapabilities(t *testing.T) {
	o := &Order{Status: StatusPending}
	assert.True(t, o.CanCancel())
	assert.True(t, o.CanEdit())
	assert.False(t, o.CanReturn())

	o.Status = StatusProcessing
	assert.True(t, o.CanCancel())

	o.Status = StatusShipped
	assert.False(t, o.CanCancel())
	assert.False(t, o.CanEdit())
	assert.False(t, o.CanReturn())

	o.Status = StatusDelivered
	assert.True(t, o.CanReturn())

	o.Status = StatusCompleted
	assert.True(t, o.CanReturn())
}
