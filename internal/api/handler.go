// Package api exposes the storefront over HTTP. Identity arrives on trusted
// headers set by the edge proxy: X-Account-ID for logged-in customers,
// X-Session-Key for anonymous carts. Exactly one of the two must be present.
package api

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/telshop/storefront/internal/cache"
	"github.com/telshop/storefront/internal/domain/bonus"
	"github.com/telshop/storefront/internal/domain/cart"
	"github.com/telshop/storefront/internal/domain/catalog"
	"github.com/telshop/storefront/internal/domain/checkout"
	"github.com/telshop/storefront/internal/domain/order"
	"github.com/telshop/storefront/internal/domain/pricing"
)

// Catalog is the product lookup surface the API needs.
type Catalog interface {
	List(ctx context.Context) ([]catalog.Product, error)
	GetByID(ctx context.Context, id string) (*catalog.Product, error)
}

// Handler serves the storefront API, delegating all business logic to the
// injected domain services.
type Handler struct {
	products Catalog
	carts    *cart.Service
	checkout *checkout.Service
	orders   *order.Service
	ledger   bonus.Ledger
	policy   pricing.Policy

	// idempotency is optional; when nil, checkout retries are not deduplicated.
	idempotency cache.IdempotencyStore
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	products Catalog,
	carts *cart.Service,
	checkoutSvc *checkout.Service,
	orders *order.Service,
	ledger bonus.Ledger,
	policy pricing.Policy,
	idempotency cache.IdempotencyStore,
) *Handler {
	return &Handler{
		products:    products,
		carts:       carts,
		checkout:    checkoutSvc,
		orders:      orders,
		ledger:      ledger,
		policy:      policy,
		idempotency: idempotency,
	}
}

// Routes returns the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.HandleFunc("GET /api/cart", h.getCart)
	mux.HandleFunc("DELETE /api/cart", h.clearCart)
	mux.HandleFunc("POST /api/cart/items", h.addCartItem)
	mux.HandleFunc("PUT /api/cart/items/{productID}", h.updateCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{productID}", h.removeCartItem)
	mux.HandleFunc("POST /api/cart/promo", h.applyPromo)
	mux.HandleFunc("DELETE /api/cart/promo", h.removePromo)
	mux.HandleFunc("GET /api/cart/delivery", h.deliveryInfo)

	mux.HandleFunc("POST /api/checkout", h.createOrder)

	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{number}", h.getOrder)
	mux.HandleFunc("GET /api/orders/{number}/history", h.orderHistory)
	mux.HandleFunc("POST /api/orders/{number}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /api/orders/{number}/returns", h.requestReturn)

	mux.HandleFunc("GET /api/bonus", h.bonusBalance)

	return mux
}

// ownerFrom resolves the cart owner from the identity headers.
func ownerFrom(r *http.Request) (cart.Owner, error) {
	owner := cart.Owner{
		AccountID:  r.Header.Get("X-Account-ID"),
		SessionKey: r.Header.Get("X-Session-Key"),
	}
	switch {
	case owner.AccountID == "" && owner.SessionKey == "":
		return cart.Owner{}, cart.ErrNoOwner
	case owner.AccountID != "" && owner.SessionKey != "":
		return cart.Owner{}, cart.ErrAmbiguousOwner
	}
	return owner, nil
}

// accountFrom resolves the account for endpoints that require a logged-in
// customer (orders, checkout, bonus balance).
func accountFrom(r *http.Request) (string, error) {
	id := r.Header.Get("X-Account-ID")
	if id == "" {
		return "", cart.ErrNoOwner
	}
	return id, nil
}

func (h *Handler) bonusBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	balance, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("balance", func(e *jx.Encoder) { e.Int(balance) })
		})
	})
}

// logDecodeFailure records malformed request bodies at debug level; the
// client already gets a 400 with the reason.
func logDecodeFailure(ctx context.Context, err error) {
	zctx.From(ctx).Debug("malformed request body", zap.Error(err))
}
