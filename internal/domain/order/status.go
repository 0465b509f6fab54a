package order

import (
	"fmt"
	"time"
)

// Status is an order's position in its lifecycle.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusAssembly        Status = "assembly"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusReturnRequested Status = "return_requested"
	StatusRefunded        Status = "refunded"
)

// transitions is the legal adjacency of the status state machine.
// completed, cancelled, and refunded are terminal.
var transitions = map[Status][]Status{
	StatusPending:         {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusAssembly, StatusCancelled},
	StatusAssembly:        {StatusShipped},
	StatusShipped:         {StatusDelivered},
	StatusDelivered:       {StatusCompleted, StatusReturnRequested},
	StatusCompleted:       {StatusReturnRequested},
	StatusReturnRequested: {StatusRefunded},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusAssembly, StatusShipped,
		StatusDelivered, StatusCompleted, StatusCancelled,
		StatusReturnRequested, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether s -> to is a legal edge.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IllegalTransitionError reports a rejected status transition with both ends,
// so callers can render a precise message.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order transition: %s -> %s", e.From, e.To)
}

// applyTimestamps records the entry timestamp for statuses that carry one.
func (o *Order) applyTimestamps(to Status, now time.Time) {
	switch to {
	case StatusProcessing:
		o.ConfirmedAt = &now
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusCompleted:
		o.CompletedAt = &now
	}
}
