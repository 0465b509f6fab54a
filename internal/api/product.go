package api

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/telshop/storefront/internal/domain/catalog"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range products {
				encodeProduct(e, &products[i])
			}
		})
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeProduct(e, p)
	})
}

func encodeProduct(e *jx.Encoder, p *catalog.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("sku", func(e *jx.Encoder) { e.Str(p.SKU) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("brand", func(e *jx.Encoder) { e.Str(p.Brand) })
		e.Field("price", func(e *jx.Encoder) { e.Float64(p.Price.InexactFloat64()) })
		if p.Discounted() {
			e.Field("old_price", func(e *jx.Encoder) { e.Float64(p.OldPrice.InexactFloat64()) })
		}
		e.Field("in_stock", func(e *jx.Encoder) { e.Bool(p.Stock > 0) })
		e.Field("purchasable", func(e *jx.Encoder) { e.Bool(p.Purchasable) })
	})
}
