package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/telshop/storefront/internal/domain/address"
	"github.com/telshop/storefront/internal/domain/bonus"
	"github.com/telshop/storefront/internal/domain/cart"
	"github.com/telshop/storefront/internal/domain/catalog"
	"github.com/telshop/storefront/internal/domain/checkout"
	"github.com/telshop/storefront/internal/domain/order"
	"github.com/telshop/storefront/internal/domain/promo"
)

// writeJSON encodes the object built by fn and writes it with the status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError maps a domain error to an HTTP status and a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		err = errors.New("internal error")
	}
	msg := err.Error()
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// statusFor buckets errors into the API's taxonomy: validation 400,
// not-found 404, conflict 409, state 422.
func statusFor(err error) int {
	var (
		stockErr      *catalog.InsufficientStockError
		minOrderErr   *promo.MinimumOrderError
		transitionErr *order.IllegalTransitionError
		returnErr     *order.IllegalReturnTransitionError
	)

	switch {
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrNoOwner),
		errors.Is(err, cart.ErrAmbiguousOwner),
		errors.Is(err, promo.ErrInvalid),
		errors.As(err, &minOrderErr),
		errors.Is(err, checkout.ErrUnknownDeliveryMethod),
		errors.Is(err, checkout.ErrUnknownPaymentMethod),
		errors.Is(err, checkout.ErrBonusExceedsTotal):
		return http.StatusBadRequest

	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, cart.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrLineNotFound),
		errors.Is(err, address.ErrNotFound),
		errors.Is(err, promo.ErrNotFound):
		return http.StatusNotFound

	case errors.As(err, &stockErr),
		errors.Is(err, promo.ErrExhausted),
		errors.As(err, &transitionErr),
		errors.Is(err, bonus.ErrInsufficientBalance),
		errors.Is(err, cart.ErrVersionConflict),
		errors.Is(err, checkout.ErrCheckoutInProgress):
		return http.StatusConflict

	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, order.ErrNotReturnable),
		errors.Is(err, catalog.ErrUnavailable),
		errors.As(err, &returnErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// badRequest writes a 400 with the given message.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusBadRequest) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}
