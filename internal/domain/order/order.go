package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order does not exist or belongs to
	// another account.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateNumber is returned when an order number collides with an
	// existing one. Checkout retries with a fresh number.
	ErrDuplicateNumber = errors.New("order number already exists")
	// ErrLineNotFound is returned when a referenced order line is absent.
	ErrLineNotFound = errors.New("order line not found")
	// ErrNotReturnable is returned when filing a return against an order
	// that is not delivered or completed.
	ErrNotReturnable = errors.New("order is not eligible for return")
)

// DeliveryMethods and PaymentMethods are the accepted checkout choices.
var (
	DeliveryMethods = []string{"courier", "pickup", "express", "post"}
	PaymentMethods  = []string{"card", "cash", "online", "installments", "bonus"}
)

// Line is a frozen copy of a cart line. Product name, SKU, and brand are
// copied by value so later catalog edits never rewrite order history.
type Line struct {
	ID           string
	ProductID    string
	ProductName  string
	ProductSKU   string
	ProductBrand string
	Quantity     int
	UnitPrice    decimal.Decimal
	PriorPrice   decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	Returned     bool
	ReturnReason string
}

// Order is the immutable-after-creation snapshot of a checked-out cart.
// The monetary breakdown is frozen at creation; only the status, its
// timestamps, and BonusPointsEarned (set once, on completion) change later.
type Order struct {
	ID        string
	Number    string
	AccountID string
	Status    Status
	Lines     []Line

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	DeliveryCost   decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal

	PromoCode         string
	BonusPointsSpent  int
	BonusPointsEarned int

	BillingAddressID  string
	ShippingAddressID string
	DeliveryMethod    string
	DeliveryDate      *time.Time
	DeliveryTimeSlot  string
	DeliveryComment   string
	PaymentMethod     string
	PaymentStatus     string
	CustomerNote      string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
}

// Line returns the order line with the given id, or nil.
func (o *Order) Line(lineID string) *Line {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return &o.Lines[i]
		}
	}
	return nil
}

// CanCancel reports whether the owner may still cancel the order.
func (o *Order) CanCancel() bool {
	return o.Status == StatusPending || o.Status == StatusProcessing
}

// CanEdit reports whether the order contents may still change.
func (o *Order) CanEdit() bool {
	return o.Status == StatusPending || o.Status == StatusProcessing
}

// CanReturn reports whether a return may be filed.
func (o *Order) CanReturn() bool {
	return o.Status == StatusDelivered || o.Status == StatusCompleted
}

// HistoryRecord is one immutable entry in an order's audit trail.
type HistoryRecord struct {
	ID        string
	OrderID   string
	Actor     string
	Action    string
	OldStatus Status
	NewStatus Status
	Comment   string
	CreatedAt time.Time
}

// Repository defines persistence for orders, their history, and returns.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByNumber(ctx context.Context, number string) (*Order, error)
	ListByAccount(ctx context.Context, accountID string) ([]Order, error)
	// UpdateStatus persists the order's status, status timestamps, payment
	// status, earned points, and line return flags.
	UpdateStatus(ctx context.Context, o *Order) error

	AppendHistory(ctx context.Context, rec *HistoryRecord) error
	History(ctx context.Context, orderID string) ([]HistoryRecord, error)

	CreateReturn(ctx context.Context, r *Return) error
	FindReturn(ctx context.Context, id string) (*Return, error)
	UpdateReturn(ctx context.Context, r *Return) error
}
