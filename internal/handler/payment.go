package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/payment"
	"github.com/xenking/shopfront/internal/payment/momo"
	"github.com/xenking/shopfront/pkg/apperr"
)

// VNPay IPN response codes.
const (
	vnpayConfirmed        = "00"
	vnpayOrderNotFound    = "01"
	vnpayAlreadyConfirmed = "02"
	vnpayInvalidAmount    = "04"
	vnpayInvalidSignature = "97"
	vnpayUnknownError     = "99"
)

// vnpayCallback acknowledges a VNPay IPN. VNPay reads the RspCode from the
// body and retries on anything but a 200.
func (h *Handler) vnpayCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := make(map[string]string, len(query))
	for k := range query {
		params[k] = query.Get(k)
	}

	code, message := vnpayConfirmed, "Confirm Success"
	out, err := h.orders.HandlePaymentCallback(r.Context(), payment.MethodVNPay, params)
	switch {
	case err == nil && out.AlreadyProcessed:
		code, message = vnpayAlreadyConfirmed, "Order already confirmed"
	case err == nil:
	case errors.Is(err, payment.ErrInvalidSignature):
		code, message = vnpayInvalidSignature, "Invalid signature"
	case errors.Is(err, order.ErrNotFound):
		code, message = vnpayOrderNotFound, "Order not found"
	case errors.Is(err, order.ErrAmountMismatch):
		code, message = vnpayInvalidAmount, "Invalid amount"
	default:
		zctx.From(r.Context()).Error("VNPay callback failed", zap.Error(err))
		code, message = vnpayUnknownError, "Unknown error"
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		encodeStringField(e, "RspCode", code)
		encodeStringField(e, "Message", message)
		e.ObjEnd()
	})
}

// momoIPN handles a Momo instant payment notification. Momo expects 204 once
// the notification is accepted.
func (h *Handler) momoIPN(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, apperr.Wrap(apperr.KindValidation, err, "read request body"))
		return
	}
	params, err := momo.ParseIPN(body)
	if err != nil {
		h.fail(w, r, apperr.Wrap(apperr.KindValidation, err, errMalformedBody.Message()))
		return
	}
	if _, err := h.orders.HandlePaymentCallback(r.Context(), payment.MethodMomo, params); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
