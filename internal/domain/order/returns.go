package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReturnStatus is a return request's position in its own lifecycle:
// requested -> approved|rejected, approved -> received -> refunded.
type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "requested"
	ReturnApproved  ReturnStatus = "approved"
	ReturnRejected  ReturnStatus = "rejected"
	ReturnReceived  ReturnStatus = "received"
	ReturnRefunded  ReturnStatus = "refunded"
)

var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnRequested: {ReturnApproved, ReturnRejected},
	ReturnApproved:  {ReturnReceived},
	ReturnReceived:  {ReturnRefunded},
}

// CanTransitionTo reports whether s -> to is a legal edge.
func (s ReturnStatus) CanTransitionTo(to ReturnStatus) bool {
	for _, next := range returnTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ReturnReasons are the accepted structured reasons for a return.
var ReturnReasons = []string{
	"defective", "wrong_item", "damaged", "not_as_described", "changed_mind", "other",
}

// IllegalReturnTransitionError reports a rejected return-status change.
type IllegalReturnTransitionError struct {
	From ReturnStatus
	To   ReturnStatus
}

func (e *IllegalReturnTransitionError) Error() string {
	return fmt.Sprintf("illegal return transition: %s -> %s", e.From, e.To)
}

// Return is a refund request against one line of one order.
type Return struct {
	ID           string
	OrderID      string
	LineID       string
	Reason       string
	ReasonText   string
	Status       ReturnStatus
	Quantity     int
	RefundAmount decimal.Decimal
	RequestedAt  time.Time
	ProcessedAt  *time.Time
	RefundedAt   *time.Time
}
