package checkout

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telshop/storefront/internal/domain/address"
	"github.com/telshop/storefront/internal/domain/bonus"
	"github.com/telshop/storefront/internal/domain/cart"
	"github.com/telshop/storefront/internal/domain/catalog"
	"github.com/telshop/storefront/internal/domain/notify"
	"github.com/telshop/storefront/internal/domain/order"
	"github.com/telshop/storefront/internal/domain/pricing"
	"github.com/telshop/storefront/internal/domain/promo"
)

type fakeCartRepo struct {
	saved *cart.Cart
	saves int
}

func (r *fakeCartRepo) FindActive(context.Context, cart.Owner) (*cart.Cart, error) {
	return nil, cart.ErrNotFound
}

func (r *fakeCartRepo) Create(context.Context, *cart.Cart) error { return nil }

func (r *fakeCartRepo) Save(_ context.Context, c *cart.Cart) error {
	cp := *c
	r.saved = &cp
	r.saves++
	return nil
}

type fakeCatalog struct {
	stock       map[string]int
	decremented map[string]int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{stock: make(map[string]int), decremented: make(map[string]int)}
}

func (f *fakeCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	stock, ok := f.stock[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &catalog.Product{ID: id, Stock: stock, Purchasable: true}, nil
}

func (f *fakeCatalog) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		p, err := f.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeCatalog) DecrementStock(_ context.Context, id string, qty int) error {
	if f.stock[id] < qty {
		return &catalog.InsufficientStockError{ProductID: id, Requested: qty, Available: f.stock[id]}
	}
	f.stock[id] -= qty
	f.decremented[id] += qty
	return nil
}

func (f *fakeCatalog) RestoreStock(_ context.Context, id string, qty int) error {
	f.stock[id] += qty
	return nil
}

type fakePromoRepo struct {
	rules    map[string]*promo.Rule
	consumed int
}

func (f *fakePromoRepo) FindByCode(_ context.Context, code string) (*promo.Rule, error) {
	r, ok := f.rules[code]
	if !ok {
		return nil, promo.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakePromoRepo) ConsumeUse(_ context.Context, code string) error {
	r, ok := f.rules[code]
	if !ok {
		return promo.ErrNotFound
	}
	if r.MaxUses > 0 && r.Uses >= r.MaxUses {
		return promo.ErrExhausted
	}
	r.Uses++
	f.consumed++
	return nil
}

type fakeLedger struct {
	balances map[string]int
	debits   []int
}

func (f *fakeLedger) Balance(_ context.Context, accountID string) (int, error) {
	return f.balances[accountID], nil
}

func (f *fakeLedger) Credit(_ context.Context, accountID string, points int) error {
	f.balances[accountID] += points
	return nil
}

func (f *fakeLedger) DebitIfSufficient(_ context.Context, accountID string, points int) (bool, error) {
	if f.balances[accountID] < points {
		return false, nil
	}
	f.balances[accountID] -= points
	f.debits = append(f.debits, points)
	return true, nil
}

type fakeAddressBook struct {
	owned map[string]string // address ID -> account ID
}

func (f *fakeAddressBook) Get(_ context.Context, id, accountID string) (*address.Address, error) {
	if f.owned[id] != accountID {
		return nil, address.ErrNotFound
	}
	return &address.Address{ID: id, AccountID: accountID}, nil
}

type fakeOrderRepo struct {
	orders  []*order.Order
	history []order.HistoryRecord

	duplicateFirst int // fail this many Creates with ErrDuplicateNumber
}

func (r *fakeOrderRepo) Create(_ context.Context, o *order.Order) error {
	if r.duplicateFirst > 0 {
		r.duplicateFirst--
		return order.ErrDuplicateNumber
	}
	cp := *o
	r.orders = append(r.orders, &cp)
	return nil
}

func (r *fakeOrderRepo) FindByID(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (r *fakeOrderRepo) FindByNumber(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (r *fakeOrderRepo) ListByAccount(context.Context, string) ([]order.Order, error) {
	return nil, nil
}

func (r *fakeOrderRepo) UpdateStatus(context.Context, *order.Order) error { return nil }

func (r *fakeOrderRepo) AppendHistory(_ context.Context, rec *order.HistoryRecord) error {
	r.history = append(r.history, *rec)
	return nil
}

func (r *fakeOrderRepo) History(context.Context, string) ([]order.HistoryRecord, error) {
	return nil, nil
}

func (r *fakeOrderRepo) CreateReturn(context.Context, *order.Return) error  { return nil }
func (r *fakeOrderRepo) FindReturn(context.Context, string) (*order.Return, error) {
	return nil, order.ErrNotFound
}
func (r *fakeOrderRepo) UpdateReturn(context.Context, *order.Return) error { return nil }

type recordingNotifier struct {
	kinds []string
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.kinds = append(n.kinds, string(ev.Kind))
	return nil
}

type noopTx struct{}

func (noopTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc      *Service
	carts    *fakeCartRepo
	cat      *fakeCatalog
	promos   *fakePromoRepo
	ledger   *fakeLedger
	orders   *fakeOrderRepo
	notifier *recordingNotifier
}

func newFixture() *fixture {
	f := &fixture{
		carts:    &fakeCartRepo{},
		cat:      newFakeCatalog(),
		promos:   &fakePromoRepo{rules: make(map[string]*promo.Rule)},
		ledger:   &fakeLedger{balances: make(map[string]int)},
		orders:   &fakeOrderRepo{},
		notifier: &recordingNotifier{},
	}
	book := &fakeAddressBook{owned: map[string]string{"addr-1": "acc-1", "addr-2": "acc-1"}}
	f.svc = NewService(f.carts, f.cat, f.promos, f.ledger, book, f.orders, f.notifier, noopTx{})
	f.svc.now = func() time.Time { return time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC) }
	return f
}

// testCart mirrors what the cart service would have computed for two units at
// 1000 marked down from 1200 under the standard delivery policy.
func testCart() *cart.Cart {
	return &cart.Cart{
		ID:    "cart-1",
		Owner: cart.Owner{AccountID: "acc-1"},
		Lines: []cart.Line{{
			ProductID:   "phone-1",
			ProductName: "Handset X",
			Quantity:    2,
			UnitPrice:   decimal.NewFromInt(1000),
			PriorPrice:  decimal.NewFromInt(1200),
			Discount:    decimal.NewFromInt(400),
			Total:       decimal.NewFromInt(1600),
		}},
		Totals: pricing.Totals{
			Subtotal:     decimal.NewFromInt(2000),
			LineDiscount: decimal.NewFromInt(400),
			DeliveryCost: decimal.NewFromInt(299),
			FinalPrice:   decimal.NewFromInt(1899),
		},
		Active: true,
	}
}

func testRequest() Request {
	return Request{
		AccountID:         "acc-1",
		DeliveryMethod:    "courier",
		PaymentMethod:     "card",
		BillingAddressID:  "addr-1",
		ShippingAddressID: "addr-2",
	}
}

func TestCreateOrderSnapshotsCart(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5

	c := testCart()
	o, err := f.svc.CreateOrder(context.Background(), c, testRequest())
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, decimal.NewFromInt(2000).Equal(o.Subtotal))
	assert.True(t, decimal.NewFromInt(400).Equal(o.DiscountAmount))
	assert.True(t, decimal.NewFromInt(299).Equal(o.DeliveryCost))
	assert.True(t, decimal.NewFromInt(1899).Equal(o.TotalAmount))
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "Handset X", o.Lines[0].ProductName)
	assert.True(t, decimal.NewFromInt(1600).Equal(o.Lines[0].Total))

	// Side effects of the committed attempt.
	assert.Equal(t, 3, f.cat.stock["phone-1"])
	assert.True(t, c.Completed)
	assert.False(t, c.Active)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Totals.Subtotal.IsZero(), "completed cart keeps no stale totals")
	assert.True(t, c.Totals.FinalPrice.IsZero())
	require.NotNil(t, f.carts.saved)
	assert.True(t, f.carts.saved.Completed)
	require.Len(t, f.orders.history, 1)
	assert.Equal(t, order.StatusPending, f.orders.history[0].NewStatus)
	assert.Equal(t, []string{"order_created"}, f.notifier.kinds)
}

func TestCreateOrderEmptyCart(t *testing.T) {
	f := newFixture()
	c := testCart()
	c.Lines = nil

	_, err := f.svc.CreateOrder(context.Background(), c, testRequest())
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestCreateOrderRejectsUnknownChoices(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5

	req := testRequest()
	req.DeliveryMethod = "teleport"
	_, err := f.svc.CreateOrder(context.Background(), testCart(), req)
	require.ErrorIs(t, err, ErrUnknownDeliveryMethod)

	req = testRequest()
	req.PaymentMethod = "barter"
	_, err = f.svc.CreateOrder(context.Background(), testCart(), req)
	require.ErrorIs(t, err, ErrUnknownPaymentMethod)
}

func TestCreateOrderRejectsForeignAddress(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5

	req := testRequest()
	req.ShippingAddressID = "addr-of-someone-else"
	_, err := f.svc.CreateOrder(context.Background(), testCart(), req)
	require.ErrorIs(t, err, address.ErrNotFound)
}

func TestCreateOrderStockRanOut(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 1

	c := testCart()
	_, err := f.svc.CreateOrder(context.Background(), c, testRequest())

	var stockErr *catalog.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, f.cat.stock["phone-1"], "nothing decremented")
	require.Len(t, c.Lines, 1, "cart untouched")
}

func TestCreateOrderSpendsBonusPoints(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5
	f.ledger.balances["acc-1"] = 500

	req := testRequest()
	req.BonusPointsToSpend = 300

	o, err := f.svc.CreateOrder(context.Background(), testCart(), req)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(1599).Equal(o.TotalAmount), "payable reduced by the spend")
	assert.Equal(t, 300, o.BonusPointsSpent)
	assert.Equal(t, 200, f.ledger.balances["acc-1"])
	assert.Equal(t, []int{300}, f.ledger.debits)
}

func TestCreateOrderInsufficientBalance(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5
	f.ledger.balances["acc-1"] = 100

	req := testRequest()
	req.BonusPointsToSpend = 300

	_, err := f.svc.CreateOrder(context.Background(), testCart(), req)
	require.ErrorIs(t, err, bonus.ErrInsufficientBalance)
	assert.Equal(t, 100, f.ledger.balances["acc-1"])
	assert.Equal(t, 5, f.cat.stock["phone-1"])
}

func TestCreateOrderBonusExceedsTotal(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5
	f.ledger.balances["acc-1"] = 5000

	req := testRequest()
	req.BonusPointsToSpend = 2000

	_, err := f.svc.CreateOrder(context.Background(), testCart(), req)
	require.ErrorIs(t, err, ErrBonusExceedsTotal)
	assert.Equal(t, 5000, f.ledger.balances["acc-1"])
}

func TestCreateOrderConsumesPromoSlot(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5
	f.promos.rules["TEN"] = &promo.Rule{Code: "TEN", Active: true, MaxUses: 10, Uses: 3}

	c := testCart()
	c.PromoCode = "TEN"

	_, err := f.svc.CreateOrder(context.Background(), c, testRequest())
	require.NoError(t, err)
	assert.Equal(t, 4, f.promos.rules["TEN"].Uses)
}

func TestCreateOrderPromoExhaustedRollsBack(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5
	f.ledger.balances["acc-1"] = 500
	f.promos.rules["LAST"] = &promo.Rule{Code: "LAST", Active: true, MaxUses: 5, Uses: 5}

	c := testCart()
	c.PromoCode = "LAST"
	req := testRequest()
	req.BonusPointsToSpend = 100

	_, err := f.svc.CreateOrder(context.Background(), c, req)
	require.ErrorIs(t, err, promo.ErrExhausted)

	// The in-memory cart is restored to match the rolled-back store.
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "LAST", c.PromoCode)
	assert.False(t, c.Completed)
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.notifier.kinds)
}

func TestCreateOrderRetriesNumberCollision(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5
	f.orders.duplicateFirst = 2

	c := testCart()
	o, err := f.svc.CreateOrder(context.Background(), c, testRequest())
	require.NoError(t, err)
	require.Len(t, f.orders.orders, 1)
	assert.Equal(t, o.Number, f.orders.orders[0].Number)
	assert.True(t, c.Completed, "cart completed by the winning attempt")
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5
	f.orders.duplicateFirst = numberAttempts

	_, err := f.svc.CreateOrder(context.Background(), testCart(), testRequest())
	require.Error(t, err)
	assert.Empty(t, f.orders.orders)
}

func TestOrderNumberFormat(t *testing.T) {
	f := newFixture()
	f.cat.stock["phone-1"] = 5

	o, err := f.svc.CreateOrder(context.Background(), testCart(), testRequest())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^20250620-[0-9A-F]{8}$`), o.Number)
}
