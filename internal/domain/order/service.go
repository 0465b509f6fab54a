package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telshop/storefront/internal/domain/bonus"
	"github.com/telshop/storefront/internal/domain/catalog"
	"github.com/telshop/storefront/internal/domain/notify"
)

// TxRunner executes fn atomically: every repository call made through the
// fn's context is committed together or not at all.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service drives the order status state machine and the side effects each
// transition carries: timestamping, stock restitution, bonus accrual and
// refund, history, and best-effort notification.
type Service struct {
	orders      Repository
	products    catalog.Repository
	ledger      bonus.Ledger
	notifier    notify.Dispatcher
	tx          TxRunner
	earnDivisor int
	now         func() time.Time
}

// NewService creates an order lifecycle Service.
func NewService(
	orders Repository,
	products catalog.Repository,
	ledger bonus.Ledger,
	notifier notify.Dispatcher,
	tx TxRunner,
	earnDivisor int,
) *Service {
	if earnDivisor <= 0 {
		earnDivisor = bonus.DefaultEarnDivisor
	}
	return &Service{
		orders:      orders,
		products:    products,
		ledger:      ledger,
		notifier:    notifier,
		tx:          tx,
		earnDivisor: earnDivisor,
		now:         time.Now,
	}
}

// Get returns an order by number, scoped to the owning account.
func (s *Service) Get(ctx context.Context, number, accountID string) (*Order, error) {
	o, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if o.AccountID != accountID {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns all orders of an account, newest first.
func (s *Service) List(ctx context.Context, accountID string) ([]Order, error) {
	return s.orders.ListByAccount(ctx, accountID)
}

// History returns the audit trail of an order owned by the account.
func (s *Service) History(ctx context.Context, number, accountID string) ([]HistoryRecord, error) {
	o, err := s.Get(ctx, number, accountID)
	if err != nil {
		return nil, err
	}
	return s.orders.History(ctx, o.ID)
}

// Transition moves the order to a new status, applying the transition's side
// effects atomically with the status change. The history record is part of
// the same unit; the notification is dispatched after commit and its failure
// is logged, never surfaced.
func (s *Service) Transition(ctx context.Context, o *Order, to Status, actor, comment string) error {
	if !to.Valid() {
		return errors.Errorf("unknown order status %q", to)
	}
	if !o.Status.CanTransitionTo(to) {
		return &IllegalTransitionError{From: o.Status, To: to}
	}

	from := o.Status
	now := s.now()
	saved := *o

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o.Status = to
		o.UpdatedAt = now
		o.applyTimestamps(to, now)

		switch to {
		case StatusCompleted:
			if err := s.accrueBonus(ctx, o); err != nil {
				return err
			}
		case StatusCancelled:
			if err := s.unwindCancelled(ctx, o); err != nil {
				return err
			}
		}

		if err := s.orders.UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update status")
		}

		return s.orders.AppendHistory(ctx, &HistoryRecord{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Actor:     actor,
			Action:    "status changed",
			OldStatus: from,
			NewStatus: to,
			Comment:   comment,
			CreatedAt: now,
		})
	})
	if err != nil {
		// The order in memory must match the store on failure. A partial
		// restore would leave the earned points set and starve a retried
		// completion of its accrual.
		*o = saved
		return err
	}

	s.dispatch(ctx, o, from, to)
	return nil
}

// accrueBonus credits floor(total/divisor) points on completion. The credit
// happens at most once: completed is terminal, so a duplicate completion
// attempt fails the adjacency check before reaching here, and the earned
// field guards against replays of the same in-flight transition.
func (s *Service) accrueBonus(ctx context.Context, o *Order) error {
	if o.BonusPointsEarned > 0 {
		return nil
	}
	earned := bonus.EarnedPoints(o.TotalAmount, s.earnDivisor)
	o.BonusPointsEarned = earned
	if earned == 0 {
		return nil
	}
	if err := s.ledger.Credit(ctx, o.AccountID, earned); err != nil {
		return errors.Wrap(err, "credit bonus points")
	}
	return nil
}

// unwindCancelled restores every line's quantity to stock and refunds the
// points spent on the order.
func (s *Service) unwindCancelled(ctx context.Context, o *Order) error {
	for _, line := range o.Lines {
		if err := s.products.RestoreStock(ctx, line.ProductID, line.Quantity); err != nil {
			return errors.Wrapf(err, "restore stock for product %s", line.ProductID)
		}
	}
	if o.BonusPointsSpent > 0 {
		if err := s.ledger.Credit(ctx, o.AccountID, o.BonusPointsSpent); err != nil {
			return errors.Wrap(err, "refund bonus points")
		}
	}
	return nil
}

// RequestReturn files a return for one order line and moves the order to
// return_requested. The refund amount is the line's frozen total.
func (s *Service) RequestReturn(ctx context.Context, o *Order, lineID, reason, reasonText, actor string) (*Return, error) {
	if !o.CanReturn() {
		return nil, ErrNotReturnable
	}

	line := o.Line(lineID)
	if line == nil {
		return nil, ErrLineNotFound
	}
	if !validReturnReason(reason) {
		return nil, errors.Errorf("unknown return reason %q", reason)
	}

	ret := &Return{
		ID:           uuid.New().String(),
		OrderID:      o.ID,
		LineID:       lineID,
		Reason:       reason,
		ReasonText:   reasonText,
		Status:       ReturnRequested,
		Quantity:     line.Quantity,
		RefundAmount: line.Total,
		RequestedAt:  s.now(),
	}

	from := o.Status
	saved := *o
	saved.Lines = append([]Line(nil), o.Lines...)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.CreateReturn(ctx, ret); err != nil {
			return errors.Wrap(err, "create return")
		}

		line.Returned = true
		line.ReturnReason = reason
		o.Status = StatusReturnRequested
		o.UpdatedAt = ret.RequestedAt
		if err := s.orders.UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update status")
		}

		return s.orders.AppendHistory(ctx, &HistoryRecord{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Actor:     actor,
			Action:    "return requested",
			OldStatus: from,
			NewStatus: StatusReturnRequested,
			Comment:   reasonText,
			CreatedAt: ret.RequestedAt,
		})
	})
	if err != nil {
		*o = saved
		return nil, err
	}

	s.dispatch(ctx, o, from, StatusReturnRequested)
	return ret, nil
}

// AdvanceReturn moves a return request along its own lifecycle. Refunding the
// return also moves the order to refunded and credits the refund as the
// return's bookkeeping record; monetary refunds go through the payment
// collaborator, which is out of scope here.
func (s *Service) AdvanceReturn(ctx context.Context, ret *Return, to ReturnStatus, actor string) error {
	if !ret.Status.CanTransitionTo(to) {
		return &IllegalReturnTransitionError{From: ret.Status, To: to}
	}

	now := s.now()
	saved := *ret

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ret.Status = to
		switch to {
		case ReturnApproved, ReturnRejected, ReturnReceived:
			ret.ProcessedAt = &now
		case ReturnRefunded:
			ret.RefundedAt = &now
		}
		if err := s.orders.UpdateReturn(ctx, ret); err != nil {
			return errors.Wrap(err, "update return")
		}

		if to != ReturnRefunded {
			return nil
		}

		o, err := s.orders.FindByID(ctx, ret.OrderID)
		if err != nil {
			return errors.Wrap(err, "find order")
		}
		if !o.Status.CanTransitionTo(StatusRefunded) {
			return &IllegalTransitionError{From: o.Status, To: StatusRefunded}
		}
		oldStatus := o.Status
		o.Status = StatusRefunded
		o.UpdatedAt = now
		if err := s.orders.UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update status")
		}
		return s.orders.AppendHistory(ctx, &HistoryRecord{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Actor:     actor,
			Action:    "return refunded",
			OldStatus: oldStatus,
			NewStatus: StatusRefunded,
			CreatedAt: now,
		})
	})
	if err != nil {
		*ret = saved
		return err
	}
	return nil
}

func validReturnReason(reason string) bool {
	for _, r := range ReturnReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// dispatch sends the transition notification. Failures are logged and
// swallowed: notification is best-effort, never transactional with the
// status change.
func (s *Service) dispatch(ctx context.Context, o *Order, from, to Status) {
	ev := notify.Event{
		Kind:        notify.KindFor(string(from), string(to)),
		OrderID:     o.ID,
		OrderNumber: o.Number,
		AccountID:   o.AccountID,
		OldStatus:   string(from),
		NewStatus:   string(to),
		TotalAmount: o.TotalAmount,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		zctx.From(ctx).Warn("order notification failed",
			zap.String("order_number", o.Number),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
}
