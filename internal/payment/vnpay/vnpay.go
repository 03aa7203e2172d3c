// Package vnpay implements the VNPay redirect payment gateway.
package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/payment"
)

const (
	version    = "2.1.0"
	command    = "pay"
	currency   = "VND"
	orderType  = "other"
	dateLayout = "20060102150405"

	// successCode is used by both vnp_ResponseCode and vnp_TransactionStatus.
	successCode = "00"

	secureHashKey     = "vnp_SecureHash"
	secureHashTypeKey = "vnp_SecureHashType"
)

// Config holds merchant credentials and endpoints.
type Config struct {
	TmnCode    string        `usage:"VNPay terminal (merchant) code"`
	HashSecret string        `usage:"VNPay HMAC-SHA512 secret"`
	PayURL     string        `default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html" usage:"VNPay payment page"`
	ReturnURL  string        `usage:"URL VNPay redirects the customer back to"`
	Locale     string        `default:"vn" usage:"Payment page locale"`
	Expire     time.Duration `default:"15m" usage:"Payment link lifetime"`
}

// Gateway signs payment URLs and verifies VNPay callbacks.
type Gateway struct {
	cfg Config
	loc *time.Location
	now func() time.Time
}

var _ payment.Gateway = (*Gateway)(nil)

// New creates a Gateway. Timestamps are rendered in Vietnam time as VNPay
// expects.
func New(cfg Config) (*Gateway, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" {
		return nil, errors.New("vnpay: tmn code and hash secret required")
	}
	if _, err := url.Parse(cfg.PayURL); err != nil {
		return nil, errors.Wrap(err, "vnpay: parse pay url")
	}
	if cfg.Expire <= 0 {
		cfg.Expire = 15 * time.Minute
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	return &Gateway{cfg: cfg, loc: loc, now: time.Now}, nil
}

// CreatePaymentURL builds the signed redirect URL. VNPay takes whole dong
// multiplied by 100.
func (g *Gateway) CreatePaymentURL(_ context.Context, req payment.Request) (string, error) {
	amount := payment.GatewayAmount(req.Amount)
	if !amount.IsPositive() {
		return "", errors.Errorf("vnpay: invalid amount %s", req.Amount)
	}
	now := g.now().In(g.loc)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    command,
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Amount":     amount.Mul(decimal.NewFromInt(100)).String(),
		"vnp_CurrCode":   currency,
		"vnp_TxnRef":     req.OrderCode,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  orderType,
		"vnp_Locale":     g.cfg.Locale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": now.Format(dateLayout),
		"vnp_ExpireDate": now.Add(g.cfg.Expire).Format(dateLayout),
	}

	query := canonicalQuery(params)
	return g.cfg.PayURL + "?" + query + "&" + secureHashKey + "=" + g.sign(query), nil
}

// CheckStatus verifies the signature of a return or IPN request and
// extracts the payment result.
func (g *Gateway) CheckStatus(_ context.Context, params map[string]string) (*payment.CallbackResult, error) {
	got := params[secureHashKey]
	if got == "" {
		return nil, payment.ErrInvalidSignature
	}

	signed := make(map[string]string, len(params))
	for k, v := range params {
		if !strings.HasPrefix(k, "vnp_") || k == secureHashKey || k == secureHashTypeKey {
			continue
		}
		signed[k] = v
	}
	want := g.sign(canonicalQuery(signed))
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return nil, payment.ErrInvalidSignature
	}

	amount, err := decimal.NewFromString(params["vnp_Amount"])
	if err != nil {
		return nil, payment.ErrInvalidSignature.With("vnp_Amount", params["vnp_Amount"])
	}

	return &payment.CallbackResult{
		Success:       params["vnp_ResponseCode"] == successCode && params["vnp_TransactionStatus"] == successCode,
		OrderCode:     params["vnp_TxnRef"],
		Amount:        amount.Div(decimal.NewFromInt(100)),
		TransactionID: params["vnp_TransactionNo"],
	}, nil
}

func (g *Gateway) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery renders params sorted by key with query-escaped values,
// skipping empty ones. It is the exact byte string VNPay signs.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
