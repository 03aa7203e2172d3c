// Package momo implements the Momo wallet payment gateway (captureWallet flow).
package momo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/shopfront/internal/domain/payment"
)

const (
	requestType = "captureWallet"
	lang        = "vi"

	resultSuccess = "0"
)

// Signed field order of the create request and of the IPN body. Momo signs
// the raw "key=value" pairs joined by '&' in exactly this order.
var (
	createFields = []string{
		"accessKey", "amount", "extraData", "ipnUrl", "orderId", "orderInfo",
		"partnerCode", "redirectUrl", "requestId", "requestType",
	}
	ipnFields = []string{
		"accessKey", "amount", "extraData", "message", "orderId", "orderInfo", "orderType",
		"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
	}
)

// Config holds partner credentials and endpoints.
type Config struct {
	PartnerCode string        `usage:"Momo partner code"`
	AccessKey   string        `usage:"Momo access key"`
	SecretKey   string        `usage:"Momo HMAC-SHA256 secret"`
	Endpoint    string        `default:"https://test-payment.momo.vn/v2/gateway/api/create" usage:"Momo create payment endpoint"`
	RedirectURL string        `usage:"URL Momo redirects the customer back to"`
	IPNURL      string        `usage:"URL Momo posts payment results to"`
	Timeout     time.Duration `default:"10s" usage:"Momo API request timeout"`
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithTracerProvider sets the tracer provider for outgoing requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) { g.tracerProvider = tp }
}

// Gateway calls the Momo create API and verifies IPN callbacks.
type Gateway struct {
	cfg            Config
	client         *http.Client
	tracerProvider trace.TracerProvider
	newRequestID   func() string
}

var _ payment.Gateway = (*Gateway)(nil)

func New(cfg Config, opts ...Option) (*Gateway, error) {
	if cfg.PartnerCode == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("momo: partner code, access key and secret key required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("momo: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	g := &Gateway{cfg: cfg, newRequestID: uuid.NewString}
	for _, o := range opts {
		o(g)
	}
	if g.client == nil {
		var topts []otelhttp.Option
		if g.tracerProvider != nil {
			topts = append(topts, otelhttp.WithTracerProvider(g.tracerProvider))
		}
		g.client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, topts...),
			Timeout:   cfg.Timeout,
		}
	}
	return g, nil
}

// CreatePaymentURL registers the payment with Momo and returns the payUrl the
// customer is redirected to.
func (g *Gateway) CreatePaymentURL(ctx context.Context, req payment.Request) (string, error) {
	amount := payment.GatewayAmount(req.Amount)
	if !amount.IsPositive() {
		return "", errors.Errorf("momo: invalid amount %s", req.Amount)
	}
	params := map[string]string{
		"accessKey":   g.cfg.AccessKey,
		"amount":      amount.String(),
		"extraData":   "",
		"ipnUrl":      g.cfg.IPNURL,
		"orderId":     req.OrderCode,
		"orderInfo":   req.OrderInfo,
		"partnerCode": g.cfg.PartnerCode,
		"redirectUrl": g.cfg.RedirectURL,
		"requestId":   g.newRequestID(),
		"requestType": requestType,
	}
	signature := g.sign(rawSignature(createFields, params))

	var e jx.Encoder
	e.ObjStart()
	for _, k := range []string{"partnerCode", "requestId", "orderId", "orderInfo", "redirectUrl", "ipnUrl", "requestType", "extraData"} {
		e.FieldStart(k)
		e.Str(params[k])
	}
	e.FieldStart("amount")
	e.Int64(amount.IntPart())
	e.FieldStart("lang")
	e.Str(lang)
	e.FieldStart("signature")
	e.Str(signature)
	e.ObjEnd()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return "", errors.Wrap(err, "momo: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "momo: create payment")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "momo: read response")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", errors.Errorf("momo: create payment: http %d", resp.StatusCode)
	}

	res, err := decodeCreateResponse(body)
	if err != nil {
		return "", err
	}
	if res.resultCode != 0 || res.payURL == "" {
		return "", errors.Errorf("momo: create payment rejected: %d %s", res.resultCode, res.message)
	}
	return res.payURL, nil
}

type createResponse struct {
	resultCode int
	message    string
	payURL     string
}

func decodeCreateResponse(body []byte) (createResponse, error) {
	var res createResponse
	res.resultCode = -1
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "resultCode":
			res.resultCode, err = d.Int()
		case "message":
			res.message, err = d.Str()
		case "payUrl":
			res.payURL, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return res, errors.Wrap(err, "momo: decode response")
	}
	return res, nil
}

// CheckStatus verifies an IPN payload flattened by ParseIPN.
func (g *Gateway) CheckStatus(_ context.Context, params map[string]string) (*payment.CallbackResult, error) {
	got := params["signature"]
	if got == "" || params["partnerCode"] != g.cfg.PartnerCode {
		return nil, payment.ErrInvalidSignature
	}

	signed := make(map[string]string, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	signed["accessKey"] = g.cfg.AccessKey
	want := g.sign(rawSignature(ipnFields, signed))
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return nil, payment.ErrInvalidSignature
	}

	amount, err := decimal.NewFromString(params["amount"])
	if err != nil {
		return nil, payment.ErrInvalidSignature.With("amount", params["amount"])
	}

	return &payment.CallbackResult{
		Success:       params["resultCode"] == resultSuccess,
		OrderCode:     params["orderId"],
		Amount:        amount,
		TransactionID: params["transId"],
	}, nil
}

// ParseIPN flattens a Momo IPN JSON body into string values. Numbers keep
// their literal text so the signature can be recomputed byte for byte.
func ParseIPN(body []byte) (map[string]string, error) {
	params := make(map[string]string)
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			if err != nil {
				return err
			}
			params[string(key)] = v
		case jx.Number:
			v, err := d.Num()
			if err != nil {
				return err
			}
			params[string(key)] = v.String()
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "momo: decode ipn")
	}
	return params, nil
}

func (g *Gateway) sign(data string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.SecretKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func rawSignature(fields []string, params map[string]string) string {
	var b strings.Builder
	for i, k := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
