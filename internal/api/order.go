package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/telshop/storefront/internal/domain/cart"
	"github.com/telshop/storefront/internal/domain/checkout"
	"github.com/telshop/storefront/internal/domain/order"
)

// checkoutScope namespaces idempotency keys for the checkout endpoint.
const checkoutScope = "checkout"

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := checkout.Request{AccountID: accountID}
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "delivery_method":
			req.DeliveryMethod, err = d.Str()
		case "delivery_date":
			var s string
			if s, err = d.Str(); err == nil {
				var t time.Time
				if t, err = time.Parse("2006-01-02", s); err == nil {
					req.DeliveryDate = &t
				}
			}
		case "delivery_time_slot":
			req.DeliveryTimeSlot, err = d.Str()
		case "delivery_comment":
			req.DeliveryComment, err = d.Str()
		case "payment_method":
			req.PaymentMethod, err = d.Str()
		case "billing_address_id":
			req.BillingAddressID, err = d.Str()
		case "shipping_address_id":
			req.ShippingAddressID, err = d.Str()
		case "bonus_points":
			req.BonusPointsToSpend, err = d.Int()
		case "comment":
			req.CustomerNote, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		logDecodeFailure(r.Context(), err)
		badRequest(w, "malformed request body")
		return
	}

	// An Idempotency-Key makes client retries safe: the first request wins
	// and later ones are answered with the order it created.
	idemKey := r.Header.Get("Idempotency-Key")
	locked := false
	if idemKey != "" && h.idempotency != nil {
		ok, err := h.idempotency.TryLock(r.Context(), checkoutScope, idemKey)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			number, found, err := h.idempotency.Recall(r.Context(), checkoutScope, idemKey)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if found {
				o, err := h.orders.Get(r.Context(), number, accountID)
				if err != nil {
					writeError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, encodeOrder(o))
				return
			}
			writeError(w, r, checkout.ErrCheckoutInProgress)
			return
		}
		locked = true
	}

	c, err := h.carts.Get(r.Context(), cart.Owner{AccountID: accountID})
	if err != nil {
		if locked {
			h.releaseIdempotencyLock(r.Context(), idemKey)
		}
		writeError(w, r, err)
		return
	}

	o, err := h.checkout.CreateOrder(r.Context(), c, req)
	if err != nil {
		// Nothing was created, so the key must not pin the failure for the
		// rest of its TTL.
		if locked {
			h.releaseIdempotencyLock(r.Context(), idemKey)
		}
		writeError(w, r, err)
		return
	}

	if idemKey != "" && h.idempotency != nil {
		if err := h.idempotency.Remember(r.Context(), checkoutScope, idemKey, o.Number); err != nil {
			zctx.From(r.Context()).Warn("remembering idempotency result failed",
				zap.String("order_number", o.Number), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, encodeOrder(o))
}

func (h *Handler) releaseIdempotencyLock(ctx context.Context, key string) {
	if err := h.idempotency.Release(ctx, checkoutScope, key); err != nil {
		zctx.From(ctx).Warn("releasing idempotency key failed", zap.Error(err))
	}
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orders, err := h.orders.List(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(&orders[i])(e)
			}
		})
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Get(r.Context(), r.PathValue("number"), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	records, err := h.orders.History(r.Context(), r.PathValue("number"), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, rec := range records {
				encodeHistoryRecord(e, rec)
			}
		})
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	comment := ""
	if r.ContentLength > 0 {
		if err := decodeBody(r, func(d *jx.Decoder, key string) error {
			if key == "comment" {
				comment, err = d.Str()
				return err
			}
			return d.Skip()
		}); err != nil {
			logDecodeFailure(r.Context(), err)
			badRequest(w, "malformed request body")
			return
		}
	}

	o, err := h.orders.Get(r.Context(), r.PathValue("number"), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.orders.Transition(r.Context(), o, order.StatusCancelled, accountID, comment); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var lineID, reason, reasonText string
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "line_id":
			lineID, err = d.Str()
		case "reason":
			reason, err = d.Str()
		case "reason_text":
			reasonText, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		logDecodeFailure(r.Context(), err)
		badRequest(w, "malformed request body")
		return
	}
	if lineID == "" {
		badRequest(w, "line_id required")
		return
	}

	o, err := h.orders.Get(r.Context(), r.PathValue("number"), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ret, err := h.orders.RequestReturn(r.Context(), o, lineID, reason, reasonText, accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeReturn(e, ret)
	})
}

func encodeOrder(o *order.Order) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("number", func(e *jx.Encoder) { e.Str(o.Number) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, l := range o.Lines {
						encodeOrderLine(e, l)
					}
				})
			})
			e.Field("subtotal", func(e *jx.Encoder) { e.Float64(o.Subtotal.InexactFloat64()) })
			e.Field("discount_amount", func(e *jx.Encoder) { e.Float64(o.DiscountAmount.InexactFloat64()) })
			e.Field("delivery_cost", func(e *jx.Encoder) { e.Float64(o.DeliveryCost.InexactFloat64()) })
			e.Field("total_amount", func(e *jx.Encoder) { e.Float64(o.TotalAmount.InexactFloat64()) })
			if o.PromoCode != "" {
				e.Field("promo_code", func(e *jx.Encoder) { e.Str(o.PromoCode) })
			}
			e.Field("bonus_points_spent", func(e *jx.Encoder) { e.Int(o.BonusPointsSpent) })
			e.Field("bonus_points_earned", func(e *jx.Encoder) { e.Int(o.BonusPointsEarned) })
			e.Field("delivery_method", func(e *jx.Encoder) { e.Str(o.DeliveryMethod) })
			if o.DeliveryDate != nil {
				e.Field("delivery_date", func(e *jx.Encoder) { e.Str(o.DeliveryDate.Format("2006-01-02")) })
			}
			if o.DeliveryTimeSlot != "" {
				e.Field("delivery_time_slot", func(e *jx.Encoder) { e.Str(o.DeliveryTimeSlot) })
			}
			e.Field("payment_method", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
			e.Field("payment_status", func(e *jx.Encoder) { e.Str(o.PaymentStatus) })
			e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.Format(time.RFC3339)) })
			e.Field("can_cancel", func(e *jx.Encoder) { e.Bool(o.CanCancel()) })
			e.Field("can_return", func(e *jx.Encoder) { e.Bool(o.CanReturn()) })
		})
	}
}

func encodeOrderLine(e *jx.Encoder, l order.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(l.ID) })
		e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(l.ProductName) })
		e.Field("sku", func(e *jx.Encoder) { e.Str(l.ProductSKU) })
		e.Field("brand", func(e *jx.Encoder) { e.Str(l.ProductBrand) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("unit_price", func(e *jx.Encoder) { e.Float64(l.UnitPrice.InexactFloat64()) })
		e.Field("discount", func(e *jx.Encoder) { e.Float64(l.Discount.InexactFloat64()) })
		e.Field("total", func(e *jx.Encoder) { e.Float64(l.Total.InexactFloat64()) })
		e.Field("returned", func(e *jx.Encoder) { e.Bool(l.Returned) })
	})
}

func encodeHistoryRecord(e *jx.Encoder, rec order.HistoryRecord) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("actor", func(e *jx.Encoder) { e.Str(rec.Actor) })
		e.Field("action", func(e *jx.Encoder) { e.Str(rec.Action) })
		e.Field("old_status", func(e *jx.Encoder) { e.Str(string(rec.OldStatus)) })
		e.Field("new_status", func(e *jx.Encoder) { e.Str(string(rec.NewStatus)) })
		if rec.Comment != "" {
			e.Field("comment", func(e *jx.Encoder) { e.Str(rec.Comment) })
		}
		e.Field("created_at", func(e *jx.Encoder) { e.Str(rec.CreatedAt.Format(time.RFC3339)) })
	})
}

func encodeReturn(e *jx.Encoder, ret *order.Return) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(ret.ID) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(ret.OrderID) })
		e.Field("line_id", func(e *jx.Encoder) { e.Str(ret.LineID) })
		e.Field("reason", func(e *jx.Encoder) { e.Str(ret.Reason) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(ret.Status)) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(ret.Quantity) })
		e.Field("refund_amount", func(e *jx.Encoder) { e.Float64(ret.RefundAmount.InexactFloat64()) })
	})
}
