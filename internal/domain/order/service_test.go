package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telshop/storefront/internal/domain/catalog"
	"github.com/telshop/storefront/internal/domain/notify"
)

type fakeOrderRepo struct {
	orders  map[string]*Order
	history []HistoryRecord
	returns map[string]*Return

	updateErr error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders:  make(map[string]*Order),
		returns: make(map[string]*Return),
	}
}

func (r *fakeOrderRepo) Create(_ context.Context, o *Order) error {
	for _, existing := range r.orders {
		if existing.Number == o.Number {
			return ErrDuplicateNumber
		}
	}
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, id string) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrderRepo) FindByNumber(_ context.Context, number string) (*Order, error) {
	for _, o := range r.orders {
		if o.Number == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeOrderRepo) ListByAccount(_ context.Context, accountID string) ([]Order, error) {
	var out []Order
	for _, o := range r.orders {
		if o.AccountID == accountID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) UpdateStatus(_ context.Context, o *Order) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *fakeOrderRepo) AppendHistory(_ context.Context, rec *HistoryRecord) error {
	r.history = append(r.history, *rec)
	return nil
}

func (r *fakeOrderRepo) History(_ context.Context, orderID string) ([]HistoryRecord, error) {
	var out []HistoryRecord
	for _, h := range r.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) CreateReturn(_ context.Context, ret *Return) error {
	cp := *ret
	r.returns[ret.ID] = &cp
	return nil
}

func (r *fakeOrderRepo) FindReturn(_ context.Context, id string) (*Return, error) {
	ret, ok := r.returns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ret
	return &cp, nil
}

func (r *fakeOrderRepo) UpdateReturn(_ context.Context, ret *Return) error {
	cp := *ret
	r.returns[ret.ID] = &cp
	return nil
}

type fakeCatalog struct {
	stock    map[string]int
	restored map[string]int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{stock: make(map[string]int), restored: make(map[string]int)}
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
	return nil
}

func (f *fakeCatalog) RestoreStock(_ context.Context, id string, qty int) error {
	f.stock[id] += qty
	f.restored[id] += qty
	return nil
}

type fakeLedger struct {
	balances map[string]int
	credits  []int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int)}
}

func (f *fakeLedger) Balance(_ context.Context, accountID string) (int, error) {
	return f.balances[accountID], nil
}

func (f *fakeLedger) Credit(_ context.Context, accountID string, points int) error {
	f.balances[accountID] += points
	f.credits = append(f.credits, points)
	return nil
}

func (f *fakeLedger) DebitIfSufficient(_ context.Context, accountID string, points int) (bool, error) {
	if f.balances[accountID] < points {
		return false, nil
	}
	f.balances[accountID] -= points
	return true, nil
}

type recordingNotifier struct {
	kinds []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	if n.err != nil {
		return n.err
	}
	n.kinds = append(n.kinds, string(ev.Kind))
	return nil
}

type noopTx struct{}

func (noopTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testOrder(status Status) *Order {
	return &Order{
		ID:        "ord-1",
		Number:    "20250615-AB12CD34",
		AccountID: "acc-1",
		Status:    status,
		Lines: []Line{
			{ID: "line-1", ProductID: "p1", Quantity: 2, Total: decimal.NewFromInt(1899)},
		},
		TotalAmount:      decimal.NewFromInt(1899),
		BonusPointsSpent: 50,
	}
}

func newTestService(repo *fakeOrderRepo, cat *fakeCatalog, ledger *fakeLedger, n *recordingNotifier) *Service {
	svc := NewService(repo, cat, ledger, n, noopTx{}, 100)
	svc.now = func() time.Time { return time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC) }
	return svc
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := newTestService(repo, newFakeCatalog(), newFakeLedger(), &recordingNotifier{})

	o := testOrder(StatusPending)
	err := svc.Transition(context.Background(), o, StatusShipped, "admin", "")

	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, StatusPending, illegal.From)
	assert.Equal(t, StatusShipped, illegal.To)
	assert.Equal(t, StatusPending, o.Status, "order must stay in its prior state")
	assert.Empty(t, repo.history)
}

func TestTransitionHappyPath(t *testing.T) {
	repo := newFakeOrderRepo()
	n := &recordingNotifier{}
	svc := newTestService(repo, newFakeCatalog(), newFakeLedger(), n)

	o := testOrder(StatusPending)
	require.NoError(t, repo.Create(context.Background(), o))

	require.NoError(t, svc.Transition(context.Background(), o, StatusProcessing, "admin", "confirmed by phone"))
	assert.Equal(t, StatusProcessing, o.Status)
	assert.NotNil(t, o.ConfirmedAt)

	require.NoError(t, svc.Transition(context.Background(), o, StatusAssembly, "admin", ""))
	require.NoError(t, svc.Transition(context.Background(), o, StatusShipped, "admin", ""))
	assert.NotNil(t, o.ShippedAt)

	require.Len(t, repo.history, 3)
	assert.Equal(t, StatusPending, repo.history[0].OldStatus)
	assert.Equal(t, StatusProcessing, repo.history[0].NewStatus)
	assert.Equal(t, "confirmed by phone", repo.history[0].Comment)

	assert.Equal(t, []string{"order_confirmed", "order_assembly", "order_shipped"}, n.kinds)
}

func TestCompleteAccruesBonusOnce(t *testing.T) {
	repo := newFakeOrderRepo()
	ledger := newFakeLedger()
	svc := newTestService(repo, newFakeCatalog(), ledger, &recordingNotifier{})

	o := testOrder(StatusDelivered)
	require.NoError(t, repo.Create(context.Background(), o))

	require.NoError(t, svc.Transition(context.Background(), o, StatusCompleted, "system", ""))

	// floor(1899 / 100) = 18 points, credited exactly once.
	assert.Equal(t, 18, o.BonusPointsEarned)
	assert.Equal(t, 18, ledger.balances["acc-1"])
	assert.NotNil(t, o.CompletedAt)

	// A caller retry of the same completion is rejected by the adjacency
	// check and must not credit again.
	err := svc.Transition(context.Background(), o, StatusCompleted, "system", "")
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, 18, ledger.balances["acc-1"])
	assert.Len(t, ledger.credits, 1)
}

func TestCancelRestoresStockAndRefundsPoints(t *testing.T) {
	repo := newFakeOrderRepo()
	cat := newFakeCatalog()
	cat.stock["p1"] = 3
	ledger := newFakeLedger()
	svc := newTestService(repo, cat, ledger, &recordingNotifier{})

	o := testOrder(StatusProcessing)
	require.NoError(t, repo.Create(context.Background(), o))

	require.NoError(t, svc.Transition(context.Background(), o, StatusCancelled, "acc-1", "changed my mind"))

	assert.Equal(t, 5, cat.stock["p1"], "line quantity restored to stock")
	assert.Equal(t, 2, cat.restored["p1"])
	assert.Equal(t, 50, ledger.balances["acc-1"], "exactly the spent points refunded")
}

func TestCancelShippedRejected(t *testing.T) {
	repo := newFakeOrderRepo()
	cat := newFakeCatalog()
	cat.stock["p1"] = 3
	ledger := newFakeLedger()
	svc := newTestService(repo, cat, ledger, &recordingNotifier{})

	o := testOrder(StatusShipped)
	err := svc.Transition(context.Background(), o, StatusCancelled, "acc-1", "")

	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, 3, cat.stock["p1"], "stock untouched")
	assert.Equal(t, 0, ledger.balances["acc-1"])
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	repo := newFakeOrderRepo()
	n := &recordingNotifier{err: errors.New("smtp down")}
	svc := newTestService(repo, newFakeCatalog(), newFakeLedger(), n)

	o := testOrder(StatusPending)
	require.NoError(t, repo.Create(context.Background(), o))

	require.NoError(t, svc.Transition(context.Background(), o, StatusProcessing, "admin", ""))
	assert.Equal(t, StatusProcessing, o.Status)
	require.Len(t, repo.history, 1)
}

func TestTransitionStoreFailureKeepsPriorState(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.updateErr = errors.New("db down")
	svc := newTestService(repo, newFakeCatalog(), newFakeLedger(), &recordingNotifier{})

	o := testOrder(StatusPending)
	err := svc.Transition(context.Background(), o, StatusProcessing, "admin", "")

	require.Error(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Nil(t, o.ConfirmedAt)
	assert.True(t, o.UpdatedAt.IsZero())
}

func TestCompletionRetryAfterFailureAccruesBonus(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.updateErr = errors.New("db down")
	ledger := newFakeLedger()
	svc := newTestService(repo, newFakeCatalog(), ledger, &recordingNotifier{})

	o := testOrder(StatusDelivered)
	require.NoError(t, repo.Create(context.Background(), o))

	err := svc.Transition(context.Background(), o, StatusCompleted, "system", "")
	require.Error(t, err)

	// The rolled-back attempt must leave no trace on the order, or the
	// retry below would skip the credit while still reporting 18 earned.
	assert.Equal(t, StatusDelivered, o.Status)
	assert.Equal(t, 0, o.BonusPointsEarned)
	assert.Nil(t, o.CompletedAt)

	repo.updateErr = nil
	// The transaction rollback also undid the ledger credit.
	ledger.balances["acc-1"] = 0
	ledger.credits = nil

	require.NoError(t, svc.Transition(context.Background(), o, StatusCompleted, "system", ""))
	assert.Equal(t, 18, o.BonusPointsEarned)
	assert.Equal(t, 18, ledger.balances["acc-1"])
	assert.Len(t, ledger.credits, 1)
}

func TestRequestReturn(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := newTestService(repo, newFakeCatalog(), newFakeLedger(), &recordingNotifier{})

	o := testOrder(StatusDelivered)
	require.NoError(t, repo.Create(context.Background(), o))

	ret, err := svc.RequestReturn(context.Background(), o, "line-1", "defective", "screen flickers", "acc-1")
	require.NoError(t, err)

	assert.Equal(t, ReturnRequested, ret.Status)
	assert.Equal(t, 2, ret.Quantity)
	assert.True(t, decimal.NewFromInt(1899).Equal(ret.RefundAmount))
	assert.Equal(t, StatusReturnRequested, o.Status)
	assert.True(t, o.Lines[0].Returned)
}

func TestRequestReturnRejectedForPendingOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := newTestService(repo, newFakeCatalog(), newFakeLedger(), &recordingNotifier{})

	o := testOrder(StatusPending)
	_, err := svc.RequestReturn(context.Background(), o, "line-1", "defective", "", "acc-1")
	require.ErrorIs(t, err, ErrNotReturnable)
}

func TestAdvanceReturnToRefundedMovesOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := newTestService(repo, newFakeCatalog(), newFakeLedger(), &recordingNotifier{})

	o := testOrder(StatusDelivered)
	require.NoError(t, repo.Create(context.Background(), o))

	ret, err := svc.RequestReturn(context.Background(), o, "line-1", "damaged", "", "acc-1")
	require.NoError(t, err)

	require.NoError(t, svc.AdvanceReturn(context.Background(), ret, ReturnApproved, "admin"))
	require.NoError(t, svc.AdvanceReturn(context.Background(), ret, ReturnReceived, "admin"))
	require.NoError(t, svc.AdvanceReturn(context.Background(), ret, ReturnRefunded, "admin"))

	stored, err := repo.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, stored.Status)
	assert.NotNil(t, ret.RefundedAt)
}

func TestAdvanceReturnRejectsSkips(t *testing.T) {
	svc := newTestService(newFakeOrderRepo(), newFakeCatalog(), newFakeLedger(), &recordingNotifier{})

	ret := &Return{ID: "ret-1", Status: ReturnRequested}
	err := svc.AdvanceReturn(context.Background(), ret, ReturnRefunded, "admin")

	var illegal *IllegalReturnTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, ReturnRequested, ret.Status)
}
