// Package notify defines the notification dispatcher collaborator. Dispatch
// is best-effort by contract: callers log failures and never roll back the
// state change that triggered the message.
package notify

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Kind classifies a notification by the order transition that produced it.
type Kind string

const (
	KindOrderCreated    Kind = "order_created"
	KindOrderConfirmed  Kind = "order_confirmed"
	KindOrderAssembly   Kind = "order_assembly"
	KindOrderShipped    Kind = "order_shipped"
	KindOrderDelivered  Kind = "order_delivered"
	KindOrderCompleted  Kind = "order_completed"
	KindOrderCancelled  Kind = "order_cancelled"
	KindReturnRequested Kind = "return_requested"
	KindStatusChanged   Kind = "order_status_changed"
)

// transitionKinds maps (old status, new status) pairs to their notification
// kind. Pairs not listed fall back to KindStatusChanged.
var transitionKinds = map[[2]string]Kind{
	{"pending", "processing"}:         KindOrderConfirmed,
	{"processing", "assembly"}:        KindOrderAssembly,
	{"assembly", "shipped"}:           KindOrderShipped,
	{"shipped", "delivered"}:          KindOrderDelivered,
	{"delivered", "completed"}:        KindOrderCompleted,
	{"pending", "cancelled"}:          KindOrderCancelled,
	{"processing", "cancelled"}:       KindOrderCancelled,
	{"delivered", "return_requested"}: KindReturnRequested,
	{"completed", "return_requested"}: KindReturnRequested,
}

// KindFor returns the notification kind for a status transition.
func KindFor(oldStatus, newStatus string) Kind {
	if k, ok := transitionKinds[[2]string{oldStatus, newStatus}]; ok {
		return k
	}
	return KindStatusChanged
}

// Event carries everything a channel adapter needs to render a message.
type Event struct {
	Kind        Kind
	OrderID     string
	OrderNumber string
	AccountID   string
	OldStatus   string
	NewStatus   string
	TotalAmount decimal.Decimal
}

// Dispatcher sends a channel-appropriate message for an order event.
type Dispatcher interface {
	Notify(ctx context.Context, ev Event) error
}

// LogDispatcher is the default Dispatcher: it writes the event to the log
// instead of an external channel. Used in development and as the fallback
// when no broker is configured.
type LogDispatcher struct {
	lg *zap.Logger
}

// NewLogDispatcher returns a Dispatcher logging to lg.
func NewLogDispatcher(lg *zap.Logger) *LogDispatcher {
	return &LogDispatcher{lg: lg}
}

// Notify logs the event at Info level. Never fails.
func (d *LogDispatcher) Notify(_ context.Context, ev Event) error {
	d.lg.Info("order notification",
		zap.String("kind", string(ev.Kind)),
		zap.String("order_number", ev.OrderNumber),
		zap.String("account_id", ev.AccountID),
		zap.String("old_status", ev.OldStatus),
		zap.String("new_status", ev.NewStatus),
		zap.String("total", ev.TotalAmount.StringFixed(2)),
	)
	return nil
}
