// Package checkout turns a mutable cart into an immutable order. Everything
// after validation runs as one atomic unit: a failure anywhere rolls back the
// order row, the promo usage slot, the bonus debit, the stock decrements, and
// the cart completion together.
package checkout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/telshop/storefront/internal/domain/address"
	"github.com/telshop/storefront/internal/domain/bonus"
	"github.com/telshop/storefront/internal/domain/cart"
	"github.com/telshop/storefront/internal/domain/catalog"
	"github.com/telshop/storefront/internal/domain/notify"
	"github.com/telshop/storefront/internal/domain/order"
	"github.com/telshop/storefront/internal/domain/pricing"
	"github.com/telshop/storefront/internal/domain/promo"
)

// numberAttempts bounds order-number collision retries before giving up.
const numberAttempts = 5

var (
	// ErrEmptyCart is returned when checking out a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrBonusExceedsTotal is returned when the requested bonus spend is
	// larger than the payable amount.
	ErrBonusExceedsTotal = errors.New("bonus points exceed order total")
	// ErrUnknownDeliveryMethod and ErrUnknownPaymentMethod reject choices
	// outside the accepted sets.
	ErrUnknownDeliveryMethod = errors.New("unknown delivery method")
	ErrUnknownPaymentMethod  = errors.New("unknown payment method")
	// ErrCheckoutInProgress is returned when a request reuses an idempotency
	// key whose first request has not finished yet.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// TxRunner executes fn atomically; see order.TxRunner.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Request holds the checkout choices collected from the customer.
type Request struct {
	AccountID          string
	DeliveryMethod     string
	DeliveryDate       *time.Time
	DeliveryTimeSlot   string
	DeliveryComment    string
	PaymentMethod      string
	BillingAddressID   string
	ShippingAddressID  string
	BonusPointsToSpend int
	CustomerNote       string
}

// Service is the checkout orchestrator.
type Service struct {
	carts     cart.Repository
	products  catalog.Repository
	promos    promo.Repository
	ledger    bonus.Ledger
	addresses address.Book
	orders    order.Repository
	notifier  notify.Dispatcher
	tx        TxRunner
	now       func() time.Time
}

// NewService creates a checkout Service with the required collaborators.
func NewService(
	carts cart.Repository,
	products catalog.Repository,
	promos promo.Repository,
	ledger bonus.Ledger,
	addresses address.Book,
	orders order.Repository,
	notifier notify.Dispatcher,
	tx TxRunner,
) *Service {
	return &Service{
		carts:     carts,
		products:  products,
		promos:    promos,
		ledger:    ledger,
		addresses: addresses,
		orders:    orders,
		notifier:  notifier,
		tx:        tx,
		now:       time.Now,
	}
}

// CreateOrder snapshots the cart into a pending order. The order pays exactly
// what the cart last displayed: totals are frozen from the cart's cached
// computation, not recomputed here.
func (s *Service) CreateOrder(ctx context.Context, c *cart.Cart, req Request) (*order.Order, error) {
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if err := s.validateChoices(ctx, req); err != nil {
		return nil, err
	}

	// Second stock check at the instant of checkout, narrowing the window
	// between cart mutation and order creation.
	if err := s.revalidateStock(ctx, c); err != nil {
		return nil, err
	}

	totalAmount := c.Totals.FinalPrice
	if req.BonusPointsToSpend > 0 {
		balance, err := s.ledger.Balance(ctx, req.AccountID)
		if err != nil {
			return nil, errors.Wrap(err, "bonus balance")
		}
		if balance < req.BonusPointsToSpend {
			return nil, bonus.ErrInsufficientBalance
		}
		spend := decimal.NewFromInt(int64(req.BonusPointsToSpend))
		if spend.GreaterThan(totalAmount) {
			return nil, ErrBonusExceedsTotal
		}
		totalAmount = totalAmount.Sub(spend)
	}

	var placed *order.Order
	for attempt := 0; attempt < numberAttempts; attempt++ {
		o := s.buildOrder(c, req, totalAmount)
		saved := *c
		saved.Lines = append([]cart.Line(nil), c.Lines...)

		err := s.tx.InTx(ctx, func(ctx context.Context) error {
			return s.commit(ctx, c, req, o)
		})
		if err != nil {
			// The store rolled back; the in-memory cart must match it.
			*c = saved
		}
		if errors.Is(err, order.ErrDuplicateNumber) {
			zctx.From(ctx).Info("order number collision, retrying",
				zap.String("number", o.Number), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		placed = o
		break
	}
	if placed == nil {
		return nil, errors.Errorf("failed to allocate an order number in %d attempts", numberAttempts)
	}

	s.notifyCreated(ctx, placed)
	return placed, nil
}

func (s *Service) validateChoices(ctx context.Context, req Request) error {
	if !contains(order.DeliveryMethods, req.DeliveryMethod) {
		return ErrUnknownDeliveryMethod
	}
	if !contains(order.PaymentMethods, req.PaymentMethod) {
		return ErrUnknownPaymentMethod
	}
	if req.BonusPointsToSpend < 0 {
		return errors.New("bonus points to spend must not be negative")
	}
	if _, err := s.addresses.Get(ctx, req.BillingAddressID, req.AccountID); err != nil {
		return errors.Wrap(err, "billing address")
	}
	if _, err := s.addresses.Get(ctx, req.ShippingAddressID, req.AccountID); err != nil {
		return errors.Wrap(err, "shipping address")
	}
	return nil
}

func (s *Service) revalidateStock(ctx context.Context, c *cart.Cart) error {
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ProductID
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "fetch products")
	}
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, l := range c.Lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return catalog.ErrNotFound
		}
		if p.Stock < l.Quantity {
			return &catalog.InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: p.Stock,
			}
		}
	}
	return nil
}

// buildOrder snapshots the cart into a fresh pending order with a new number.
func (s *Service) buildOrder(c *cart.Cart, req Request, totalAmount decimal.Decimal) *order.Order {
	now := s.now()

	lines := make([]order.Line, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = order.Line{
			ID:           uuid.New().String(),
			ProductID:    l.ProductID,
			ProductName:  l.ProductName,
			ProductSKU:   l.ProductSKU,
			ProductBrand: l.ProductBrand,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			PriorPrice:   l.PriorPrice,
			Discount:     l.Discount,
			Total:        l.Total,
		}
	}

	return &order.Order{
		ID:        uuid.New().String(),
		Number:    s.newOrderNumber(now),
		AccountID: req.AccountID,
		Status:    order.StatusPending,
		Lines:     lines,

		Subtotal:       c.Totals.Subtotal,
		DiscountAmount: c.Totals.LineDiscount.Add(c.Totals.PromoDiscount),
		DeliveryCost:   c.Totals.DeliveryCost,
		TaxAmount:      decimal.Zero,
		TotalAmount:    totalAmount,

		PromoCode:        c.PromoCode,
		BonusPointsSpent: req.BonusPointsToSpend,

		BillingAddressID:  req.BillingAddressID,
		ShippingAddressID: req.ShippingAddressID,
		DeliveryMethod:    req.DeliveryMethod,
		DeliveryDate:      req.DeliveryDate,
		DeliveryTimeSlot:  req.DeliveryTimeSlot,
		DeliveryComment:   req.DeliveryComment,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     "pending",
		CustomerNote:      req.CustomerNote,

		CreatedAt: now,
		UpdatedAt: now,
	}
}

// commit performs the store mutations of one checkout attempt. Runs inside
// the transaction: a failure at any step rolls everything back.
func (s *Service) commit(ctx context.Context, c *cart.Cart, req Request, o *order.Order) error {
	if o.PromoCode != "" {
		if err := s.promos.ConsumeUse(ctx, o.PromoCode); err != nil {
			return err
		}
	}

	if req.BonusPointsToSpend > 0 {
		ok, err := s.ledger.DebitIfSufficient(ctx, req.AccountID, req.BonusPointsToSpend)
		if err != nil {
			return errors.Wrap(err, "debit bonus points")
		}
		if !ok {
			return bonus.ErrInsufficientBalance
		}
	}

	for _, l := range o.Lines {
		if err := s.products.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}

	c.Lines = nil
	c.PromoCode = ""
	c.Totals = pricing.Zero()
	c.Completed = true
	c.Active = false
	if err := s.carts.Save(ctx, c); err != nil {
		return errors.Wrap(err, "complete cart")
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return err
	}

	return s.orders.AppendHistory(ctx, &order.HistoryRecord{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		Actor:     req.AccountID,
		Action:    "order created",
		NewStatus: order.StatusPending,
		CreatedAt: o.CreatedAt,
	})
}

// newOrderNumber builds a date-stamped human-facing number: YYYYMMDD plus an
// 8-char random hex suffix. Collisions are possible and handled by retry.
func (s *Service) newOrderNumber(now time.Time) string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return now.Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(buf[:]))
}

func (s *Service) notifyCreated(ctx context.Context, o *order.Order) {
	ev := notify.Event{
		Kind:        notify.KindOrderCreated,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		AccountID:   o.AccountID,
		NewStatus:   string(o.Status),
		TotalAmount: o.TotalAmount,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		zctx.From(ctx).Warn("order created notification failed",
			zap.String("order_number", o.Number), zap.Error(err))
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
