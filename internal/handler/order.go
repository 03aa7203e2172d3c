package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/payment"
	"github.com/xenking/shopfront/pkg/httpmiddleware"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := decodeCreateOrder(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.fail(w, r, validationError(err))
		return
	}

	items := make([]order.ItemRequest, len(body.Items))
	for i, it := range body.Items {
		items[i] = order.ItemRequest{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity}
	}
	a := body.ShippingAddress
	res, err := h.orders.CreateOrder(r.Context(), principal(r).UserID, order.CreateRequest{
		Items: items,
		ShippingAddress: order.Address{
			FullName: a.FullName,
			Phone:    a.Phone,
			Street:   a.Street,
			Ward:     a.Ward,
			District: a.District,
			City:     a.City,
		},
		PaymentMethod:  payment.Method(body.PaymentMethod),
		AppliedCoupons: body.AppliedCoupons,
		ClientIP:       httpmiddleware.ClientIP(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, res.Order)
		encodeOptionalString(e, "paymentUrl", res.PaymentURL)
		encodeOptionalString(e, "paymentInit", string(res.PaymentInit))
		encodeStrings(e, "warnings", res.Warnings)
		e.FieldStart("skippedCoupons")
		e.ArrStart()
		for _, s := range res.SkippedCoupons {
			e.ObjStart()
			encodeStringField(e, "code", s.Code)
			encodeStringField(e, "reason", s.Reason)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByUser(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orders")
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetForUser(r.Context(), principal(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	body, err := decodeCancel(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.fail(w, r, validationError(err))
		return
	}

	o, outcome, err := h.orders.RequestCancel(r.Context(),
		principal(r).UserID, chi.URLParam(r, "id"), body.Reason, body.Description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, o)
		encodeStringField(e, "outcome", string(outcome))
		e.ObjEnd()
	})
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	url, err := h.orders.InitiatePayment(r.Context(),
		principal(r).UserID, chi.URLParam(r, "id"), httpmiddleware.ClientIP(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		encodeStringField(e, "paymentUrl", url)
		e.ObjEnd()
	})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	body, err := decodeStatus(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.fail(w, r, validationError(err))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), order.StatusUpdate{
		Status:      order.Status(body.OrderStatus),
		Reason:      body.Reason,
		Description: body.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, o)
		e.ObjEnd()
	})
}
