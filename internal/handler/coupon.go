package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// previewCoupon evaluates a code against a subtotal. Nothing is redeemed.
func (h *Handler) previewCoupon(w http.ResponseWriter, r *http.Request) {
	body, err := decodePreview(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.fail(w, r, validationError(err))
		return
	}

	res, err := h.coupons.Evaluate(r.Context(), body.Code, body.Subtotal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("coupon")
		encodeCoupon(e, res.Coupon)
		encodeMoney(e, "discount", res.Amount)
		e.ObjEnd()
	})
}

func (h *Handler) availableCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.Available(r.Context(), h.usage, principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("coupons")
		e.ArrStart()
		for i := range coupons {
			encodeCoupon(e, &coupons[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}
