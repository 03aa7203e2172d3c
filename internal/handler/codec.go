package handler

import (
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/pkg/apperr"
)

const maxBodyBytes = 1 << 20

var errMalformedBody = apperr.New(apperr.KindValidation, "malformed request body")

// Request bodies. The json tags only name fields in validation errors;
// decoding is done with jx.

type itemBody struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	SKU       string `json:"sku" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=1000"`
}

type addressBody struct {
	FullName string `json:"fullName" validate:"required,max=128"`
	Phone    string `json:"phone" validate:"required,max=32"`
	Street   string `json:"street" validate:"required,max=256"`
	Ward     string `json:"ward" validate:"max=128"`
	District string `json:"district" validate:"required,max=128"`
	City     string `json:"city" validate:"required,max=128"`
}

type createOrderBody struct {
	Items           []itemBody  `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress addressBody `json:"shippingAddress"`
	PaymentMethod   string      `json:"paymentMethod" validate:"required,oneof=COD VNPAY MOMO"`
	AppliedCoupons  []string    `json:"appliedCoupons" validate:"max=5,dive,required,max=64"`
}

type cancelBody struct {
	Reason      string `json:"reason" validate:"required,max=128"`
	Description string `json:"description" validate:"max=1000"`
}

type statusBody struct {
	OrderStatus string `json:"orderStatus" validate:"required"`
	Reason      string `json:"reason" validate:"max=128"`
	Description string `json:"description" validate:"max=1000"`
}

type previewBody struct {
	Code     string          `json:"code" validate:"required,max=64"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError converts validator errors to one Validation error whose
// details map each offending field path to the failed rule.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindValidation, err, "validation failed")
	}
	out := apperr.New(apperr.KindValidation, "validation failed")
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out = out.With(field, rule)
	}
	return out
}

// decodeBody reads the request body and runs fn over its top-level object.
// Unknown fields are skipped.
func decodeBody(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "read request body")
	}
	if len(body) > maxBodyBytes {
		return apperr.New(apperr.KindValidation, "request body too large")
	}
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		if _, ok := apperr.As(err); ok {
			return err
		}
		return apperr.Wrap(apperr.KindValidation, err, errMalformedBody.Message())
	}
	return nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		return decimal.Decimal{}, errors.New("expected number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "parse decimal")
	}
	return v, nil
}

func decodeAddress(d *jx.Decoder, a *addressBody) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "fullName":
			a.FullName, err = d.Str()
		case "phone":
			a.Phone, err = d.Str()
		case "street":
			a.Street, err = d.Str()
		case "ward":
			a.Ward, err = d.Str()
		case "district":
			a.District, err = d.Str()
		case "city":
			a.City, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeItem(d *jx.Decoder) (itemBody, error) {
	var it itemBody
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			it.ProductID, err = d.Str()
		case "sku":
			it.SKU, err = d.Str()
		case "quantity":
			it.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return it, err
}

func decodeCreateOrder(r *http.Request) (createOrderBody, error) {
	var b createOrderBody
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				if err != nil {
					return err
				}
				b.Items = append(b.Items, it)
				return nil
			})
		case "shippingAddress":
			return decodeAddress(d, &b.ShippingAddress)
		case "paymentMethod":
			v, err := d.Str()
			b.PaymentMethod = strings.ToUpper(strings.TrimSpace(v))
			return err
		case "appliedCoupons":
			v, err := decodeStrings(d)
			b.AppliedCoupons = v
			return err
		default:
			return d.Skip()
		}
	})
	return b, err
}

func decodeCancel(r *http.Request) (cancelBody, error) {
	var b cancelBody
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "reason":
			b.Reason, err = d.Str()
		case "description":
			b.Description, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return b, err
}

func decodeStatus(r *http.Request) (statusBody, error) {
	var b statusBody
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderStatus":
			b.OrderStatus, err = d.Str()
		case "reason":
			b.Reason, err = d.Str()
		case "description":
			b.Description, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return b, err
}

func decodePreview(r *http.Request) (previewBody, error) {
	var b previewBody
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			b.Code, err = d.Str()
		case "subtotal":
			b.Subtotal, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return b, err
}

// Responses.

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeMoney(e *jx.Encoder, name string, v decimal.Decimal) {
	e.FieldStart(name)
	e.Num(jx.Num(v.String()))
}

func encodeStringField(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func encodeOptionalString(e *jx.Encoder, name, v string) {
	if v != "" {
		encodeStringField(e, name, v)
	}
}

func encodeTime(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeStrings(e *jx.Encoder, name string, values []string) {
	e.FieldStart(name)
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	encodeStringField(e, "id", o.ID)
	encodeStringField(e, "code", o.Code)
	encodeStringField(e, "userId", o.UserID)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		encodeStringField(e, "productId", it.ProductID)
		encodeStringField(e, "sku", it.SKU)
		encodeStringField(e, "name", it.Name)
		encodeOptionalString(e, "image", it.Image)
		encodeOptionalString(e, "color", it.Color)
		encodeOptionalString(e, "storage", it.Storage)
		encodeOptionalString(e, "ram", it.RAM)
		encodeMoney(e, "price", it.Price)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()

	a := o.ShippingAddress
	e.FieldStart("shippingAddress")
	e.ObjStart()
	encodeStringField(e, "fullName", a.FullName)
	encodeStringField(e, "phone", a.Phone)
	encodeStringField(e, "street", a.Street)
	encodeOptionalString(e, "ward", a.Ward)
	encodeStringField(e, "district", a.District)
	encodeStringField(e, "city", a.City)
	e.ObjEnd()

	encodeMoney(e, "subtotal", o.Subtotal)
	encodeMoney(e, "shippingCharge", o.ShippingCharge)
	encodeMoney(e, "shippingDiscount", o.ShippingDiscount)
	encodeMoney(e, "discount", o.Discount)
	encodeMoney(e, "total", o.Total)

	encodeStringField(e, "paymentMethod", string(o.PaymentMethod))
	encodeStringField(e, "paymentStatus", string(o.PaymentStatus))
	encodeStringField(e, "orderStatus", string(o.Status))
	encodeOptionalString(e, "previousStatus", string(o.PreviousStatus))
	encodeStrings(e, "couponIds", o.CouponIDs)

	if c := o.Cancellation; c != nil {
		e.FieldStart("cancellation")
		e.ObjStart()
		encodeStringField(e, "reason", c.Reason)
		encodeOptionalString(e, "description", c.Description)
		encodeTime(e, "requestedAt", c.RequestedAt)
		e.ObjEnd()
	}

	encodeTime(e, "createdAt", o.CreatedAt)
	encodeTime(e, "updatedAt", o.UpdatedAt)
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	encodeStringField(e, "id", c.ID)
	encodeStringField(e, "code", c.Code)
	encodeStringField(e, "type", string(c.Type))
	encodeStringField(e, "kind", string(c.Kind))
	encodeMoney(e, "discount", c.Discount)
	encodeMoney(e, "minimumOrder", c.MinimumOrder)
	if c.MaximumDiscount.IsPositive() {
		encodeMoney(e, "maximumDiscount", c.MaximumDiscount)
	}
	encodeTime(e, "startDate", c.StartDate)
	encodeTime(e, "endDate", c.EndDate)
	e.FieldStart("remaining")
	e.Int(max(c.Quantity-c.UsedCount, 0))
	e.ObjEnd()
}
