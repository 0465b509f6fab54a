package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/telshop/storefront/internal/domain/order"
)

const (
	orderColumns = `id, number, account_id, status,
		subtotal, discount_amount, delivery_cost, tax_amount, total_amount,
		promo_code, bonus_points_spent, bonus_points_earned,
		billing_address_id, shipping_address_id,
		delivery_method, delivery_date, delivery_time_slot, delivery_comment,
		payment_method, payment_status, customer_note,
		created_at, updated_at, confirmed_at, shipped_at, delivered_at, completed_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`

	listOrdersByAccountSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE account_id = $1 ORDER BY created_at DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, payment_status = $3,
		bonus_points_earned = $4, updated_at = $5,
		confirmed_at = $6, shipped_at = $7, delivered_at = $8, completed_at = $9
		WHERE id = $1`

	insertOrderLineSQL = `INSERT INTO order_lines (id, order_id, product_id,
		product_name, product_sku, product_brand, quantity,
		unit_price, prior_price, discount, total, returned, return_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getOrderLinesSQL = `SELECT id, product_id, product_name, product_sku, product_brand,
		quantity, unit_price, prior_price, discount, total, returned, return_reason
		FROM order_lines WHERE order_id = $1 ORDER BY id`

	getOrderLinesByOrderIDsSQL = `SELECT order_id, id, product_id, product_name,
		product_sku, product_brand, quantity, unit_price, prior_price, discount, total,
		returned, return_reason
		FROM order_lines WHERE order_id = ANY($1) ORDER BY id`

	updateOrderLineReturnSQL = `UPDATE order_lines SET returned = $2, return_reason = $3
		WHERE id = $1`

	insertHistorySQL = `INSERT INTO order_history (id, order_id, actor, action,
		old_status, new_status, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getHistorySQL = `SELECT id, order_id, actor, action, old_status, new_status, comment, created_at
		FROM order_history WHERE order_id = $1 ORDER BY created_at`

	insertReturnSQL = `INSERT INTO order_returns (id, order_id, line_id, reason,
		reason_text, status, quantity, refund_amount, requested_at, processed_at, refunded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getReturnSQL = `SELECT id, order_id, line_id, reason, reason_text, status,
		quantity, refund_amount, requested_at, processed_at, refunded_at
		FROM order_returns WHERE id = $1`

	updateReturnSQL = `UPDATE order_returns SET status = $2, processed_at = $3, refunded_at = $4
		WHERE id = $1`
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository that uses the given DB.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order with its lines. A collision on the order
// number surfaces as order.ErrDuplicateNumber so checkout can retry.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		_, err := q.Exec(ctx, createOrderSQL,
			o.ID, o.Number, o.AccountID, string(o.Status),
			o.Subtotal, o.DiscountAmount, o.DeliveryCost, o.TaxAmount, o.TotalAmount,
			o.PromoCode, o.BonusPointsSpent, o.BonusPointsEarned,
			o.BillingAddressID, o.ShippingAddressID,
			o.DeliveryMethod, o.DeliveryDate, o.DeliveryTimeSlot, o.DeliveryComment,
			o.PaymentMethod, o.PaymentStatus, o.CustomerNote,
			o.CreatedAt, o.UpdatedAt, o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CompletedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return order.ErrDuplicateNumber
			}
			return fmt.Errorf("creating order %q: %w", o.Number, err)
		}

		for _, l := range o.Lines {
			_, err := q.Exec(ctx, insertOrderLineSQL,
				l.ID, o.ID, l.ProductID, l.ProductName, l.ProductSKU, l.ProductBrand,
				l.Quantity, l.UnitPrice, l.PriorPrice, l.Discount, l.Total,
				l.Returned, l.ReturnReason,
			)
			if err != nil {
				return fmt.Errorf("inserting line for order %q: %w", o.Number, err)
			}
		}
		return nil
	})
}

// FindByID returns an order with its lines.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByIDSQL, id)
}

// FindByNumber returns an order with its lines by its human-facing number.
func (r *OrderRepository) FindByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByNumberSQL, number)
}

func (r *OrderRepository) findOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order: %w", err)
	}

	lineRows, err := r.db.q(ctx).Query(ctx, getOrderLinesSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("loading lines for order %q: %w", o.Number, err)
	}
	o.Lines, err = pgx.CollectRows(lineRows, scanOrderLine)
	if err != nil {
		return nil, fmt.Errorf("loading lines for order %q: %w", o.Number, err)
	}
	return &o, nil
}

// ListByAccount returns the account's orders, newest first, with lines.
func (r *OrderRepository) ListByAccount(ctx context.Context, accountID string) ([]order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, listOrdersByAccountSQL, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for account %q: %w", accountID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for account %q: %w", accountID, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = &orders[i]
	}

	lineRows, err := r.db.q(ctx).Query(ctx, getOrderLinesByOrderIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("loading lines for account %q orders: %w", accountID, err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var (
			orderID string
			l       order.Line
		)
		err := lineRows.Scan(
			&orderID, &l.ID, &l.ProductID, &l.ProductName, &l.ProductSKU, &l.ProductBrand,
			&l.Quantity, &l.UnitPrice, &l.PriorPrice, &l.Discount, &l.Total,
			&l.Returned, &l.ReturnReason,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning order line: %w", err)
		}
		if o, ok := index[orderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, fmt.Errorf("loading lines for account %q orders: %w", accountID, err)
	}
	return orders, nil
}

// UpdateStatus persists the order's status, status timestamps, payment
// status, earned points, and line return flags.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		tag, err := q.Exec(ctx, updateOrderStatusSQL,
			o.ID, string(o.Status), o.PaymentStatus, o.BonusPointsEarned, o.UpdatedAt,
			o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("updating status of order %q: %w", o.Number, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}

		for _, l := range o.Lines {
			_, err := q.Exec(ctx, updateOrderLineReturnSQL, l.ID, l.Returned, l.ReturnReason)
			if err != nil {
				return fmt.Errorf("updating line of order %q: %w", o.Number, err)
			}
		}
		return nil
	})
}

// AppendHistory inserts one audit trail record.
func (r *OrderRepository) AppendHistory(ctx context.Context, rec *order.HistoryRecord) error {
	_, err := r.db.q(ctx).Exec(ctx, insertHistorySQL,
		rec.ID, rec.OrderID, rec.Actor, rec.Action,
		string(rec.OldStatus), string(rec.NewStatus), rec.Comment, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending history for order %q: %w", rec.OrderID, err)
	}
	return nil
}

// History returns the order's audit trail in chronological order.
func (r *OrderRepository) History(ctx context.Context, orderID string) ([]order.HistoryRecord, error) {
	rows, err := r.db.q(ctx).Query(ctx, getHistorySQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading history for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanHistoryRecord)
}

// CreateReturn inserts a new return request.
func (r *OrderRepository) CreateReturn(ctx context.Context, ret *order.Return) error {
	_, err := r.db.q(ctx).Exec(ctx, insertReturnSQL,
		ret.ID, ret.OrderID, ret.LineID, ret.Reason, ret.ReasonText,
		string(ret.Status), ret.Quantity, ret.RefundAmount,
		ret.RequestedAt, ret.ProcessedAt, ret.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("creating return %q: %w", ret.ID, err)
	}
	return nil
}

// FindReturn returns a return request by ID.
func (r *OrderRepository) FindReturn(ctx context.Context, id string) (*order.Return, error) {
	rows, err := r.db.q(ctx).Query(ctx, getReturnSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding return %q: %w", id, err)
	}

	ret, err := pgx.CollectExactlyOneRow(rows, scanReturn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding return %q: %w", id, err)
	}
	return &ret, nil
}

// UpdateReturn persists a return's status and processing timestamps.
func (r *OrderRepository) UpdateReturn(ctx context.Context, ret *order.Return) error {
	tag, err := r.db.q(ctx).Exec(ctx, updateReturnSQL,
		ret.ID, string(ret.Status), ret.ProcessedAt, ret.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("updating return %q: %w", ret.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.AccountID, &status,
		&o.Subtotal, &o.DiscountAmount, &o.DeliveryCost, &o.TaxAmount, &o.TotalAmount,
		&o.PromoCode, &o.BonusPointsSpent, &o.BonusPointsEarned,
		&o.BillingAddressID, &o.ShippingAddressID,
		&o.DeliveryMethod, &o.DeliveryDate, &o.DeliveryTimeSlot, &o.DeliveryComment,
		&o.PaymentMethod, &o.PaymentStatus, &o.CustomerNote,
		&o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CompletedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderLine(row pgx.CollectableRow) (order.Line, error) {
	var l order.Line
	err := row.Scan(
		&l.ID, &l.ProductID, &l.ProductName, &l.ProductSKU, &l.ProductBrand,
		&l.Quantity, &l.UnitPrice, &l.PriorPrice, &l.Discount, &l.Total,
		&l.Returned, &l.ReturnReason,
	)
	return l, err
}

func scanHistoryRecord(row pgx.CollectableRow) (order.HistoryRecord, error) {
	var (
		rec       order.HistoryRecord
		oldStatus string
		newStatus string
	)
	err := row.Scan(
		&rec.ID, &rec.OrderID, &rec.Actor, &rec.Action,
		&oldStatus, &newStatus, &rec.Comment, &rec.CreatedAt,
	)
	rec.OldStatus = order.Status(oldStatus)
	rec.NewStatus = order.Status(newStatus)
	return rec, err
}

func scanReturn(row pgx.CollectableRow) (order.Return, error) {
	var (
		ret    order.Return
		status string
	)
	err := row.Scan(
		&ret.ID, &ret.OrderID, &ret.LineID, &ret.Reason, &ret.ReasonText, &status,
		&ret.Quantity, &ret.RefundAmount, &ret.RequestedAt, &ret.ProcessedAt, &ret.RefundedAt,
	)
	ret.Status = order.ReturnStatus(status)
	return ret, err
}
