package api

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/telshop/storefront/internal/domain/cart"
	"github.com/telshop/storefront/internal/domain/pricing"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.Get(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCart(c, h.policy))
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var (
		productID string
		quantity  int
	)
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id":
			productID, err = d.Str()
			return err
		case "quantity":
			quantity, err = d.Int()
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		logDecodeFailure(r.Context(), err)
		badRequest(w, "malformed request body")
		return
	}
	if productID == "" {
		badRequest(w, "product_id required")
		return
	}

	c, err := h.carts.AddItem(r.Context(), owner, productID, quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCart(c, h.policy))
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	quantity := 0
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key == "quantity" {
			quantity, err = d.Int()
			return err
		}
		return d.Skip()
	}); err != nil {
		logDecodeFailure(r.Context(), err)
		badRequest(w, "malformed request body")
		return
	}

	c, err := h.carts.UpdateQuantity(r.Context(), owner, r.PathValue("productID"), quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCart(c, h.policy))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.RemoveItem(r.Context(), owner, r.PathValue("productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCart(c, h.policy))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.Clear(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCart(c, h.policy))
}

func (h *Handler) applyPromo(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := ""
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			code, err = d.Str()
			return err
		}
		return d.Skip()
	}); err != nil {
		logDecodeFailure(r.Context(), err)
		badRequest(w, "malformed request body")
		return
	}

	c, err := h.carts.ApplyPromoCode(r.Context(), owner, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCart(c, h.policy))
}

func (h *Handler) removePromo(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.RemovePromoCode(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCart(c, h.policy))
}

func (h *Handler) deliveryInfo(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.Get(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	missing := pricing.AmountToFreeDelivery(c.Totals, h.policy)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("delivery_cost", func(e *jx.Encoder) { e.Float64(c.Totals.DeliveryCost.InexactFloat64()) })
			e.Field("free_delivery", func(e *jx.Encoder) { e.Bool(c.Totals.FreeDelivery) })
			e.Field("free_delivery_threshold", func(e *jx.Encoder) { e.Float64(h.policy.FreeDeliveryThreshold.InexactFloat64()) })
			e.Field("amount_to_free_delivery", func(e *jx.Encoder) { e.Float64(missing.InexactFloat64()) })
		})
	})
}

// decodeBody reads the request body and walks the top-level object with fn.
func decodeBody(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return err
	}
	d := jx.DecodeBytes(body)
	return d.Obj(fn)
}

func encodeCart(c *cart.Cart, policy pricing.Policy) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, l := range c.Lines {
						encodeCartLine(e, l)
					}
				})
			})
			if c.PromoCode != "" {
				e.Field("promo_code", func(e *jx.Encoder) { e.Str(c.PromoCode) })
			}
			e.Field("total_quantity", func(e *jx.Encoder) { e.Int(c.TotalQuantity()) })
			e.Field("totals", encodeTotals(c.Totals))
			e.Field("amount_to_free_delivery", func(e *jx.Encoder) {
				e.Float64(pricing.AmountToFreeDelivery(c.Totals, policy).InexactFloat64())
			})
		})
	}
}

func encodeCartLine(e *jx.Encoder, l cart.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(l.ProductName) })
		e.Field("sku", func(e *jx.Encoder) { e.Str(l.ProductSKU) })
		e.Field("brand", func(e *jx.Encoder) { e.Str(l.ProductBrand) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("unit_price", func(e *jx.Encoder) { e.Float64(l.UnitPrice.InexactFloat64()) })
		e.Field("prior_price", func(e *jx.Encoder) { e.Float64(l.PriorPrice.InexactFloat64()) })
		e.Field("discount", func(e *jx.Encoder) { e.Float64(l.Discount.InexactFloat64()) })
		e.Field("total", func(e *jx.Encoder) { e.Float64(l.Total.InexactFloat64()) })
	})
}

func encodeTotals(t pricing.Totals) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("subtotal", func(e *jx.Encoder) { e.Float64(t.Subtotal.InexactFloat64()) })
			e.Field("line_discount", func(e *jx.Encoder) { e.Float64(t.LineDiscount.InexactFloat64()) })
			e.Field("promo_discount", func(e *jx.Encoder) { e.Float64(t.PromoDiscount.InexactFloat64()) })
			e.Field("delivery_cost", func(e *jx.Encoder) { e.Float64(t.DeliveryCost.InexactFloat64()) })
			e.Field("final_price", func(e *jx.Encoder) { e.Float64(t.FinalPrice.InexactFloat64()) })
			e.Field("free_delivery", func(e *jx.Encoder) { e.Bool(t.FreeDelivery) })
		})
	}
}
