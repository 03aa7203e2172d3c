package momo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopfront/internal/domain/payment"
)

func testConfig(endpoint string) Config {
	return Config{
		PartnerCode: "MOMOTEST",
		AccessKey:   "access",
		SecretKey:   "secret",
		Endpoint:    endpoint,
		RedirectURL: "https://shop.test/payment/return",
		IPNURL:      "https://shop.test/api/payments/momo/ipn",
	}
}

func TestCreatePaymentURL(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		received, err = ParseIPN(body)
		assert.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"partnerCode":"MOMOTEST","resultCode":0,"message":"ok","payUrl":"https://test-payment.momo.vn/pay/abc"}`))
	}))
	defer srv.Close()

	g, err := New(testConfig(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	g.newRequestID = func() string { return "req-1" }

	got, err := g.CreatePaymentURL(context.Background(), payment.Request{
		OrderCode: "ORD1",
		Amount:    decimal.NewFromInt(1025000),
		OrderInfo: "Payment for order ORD1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://test-payment.momo.vn/pay/abc", got)

	assert.Equal(t, "1025000", received["amount"])
	assert.Equal(t, "ORD1", received["orderId"])
	assert.Equal(t, "req-1", received["requestId"])
	assert.Equal(t, "captureWallet", received["requestType"])

	signed := map[string]string{}
	for k, v := range received {
		signed[k] = v
	}
	signed["accessKey"] = "access"
	assert.Equal(t, g.sign(rawSignature(createFields, signed)), received["signature"])
}

func TestCreatePaymentURL_RoundsToWholeDong(t *testing.T) {
	tests := []struct {
		total string
		want  string
	}{
		{total: "308333.05", want: "308333"},
		{total: "308333.50", want: "308334"},
		{total: "1025000", want: "1025000"},
	}
	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			var received map[string]string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				assert.NoError(t, err)
				received, err = ParseIPN(body)
				assert.NoError(t, err)
				_, _ = w.Write([]byte(`{"resultCode":0,"payUrl":"https://test-payment.momo.vn/pay/abc"}`))
			}))
			defer srv.Close()

			g, err := New(testConfig(srv.URL), WithHTTPClient(srv.Client()))
			require.NoError(t, err)

			_, err = g.CreatePaymentURL(context.Background(), payment.Request{
				OrderCode: "ORD1",
				Amount:    decimal.RequireFromString(tt.total),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, received["amount"])
		})
	}
}

func TestCreatePaymentURL_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"resultCode":1001,"message":"insufficient balance"}`))
	}))
	defer srv.Close()

	g, err := New(testConfig(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = g.CreatePaymentURL(context.Background(), payment.Request{OrderCode: "ORD1", Amount: decimal.NewFromInt(1000)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1001")
}

func TestCreatePaymentURL_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g, err := New(testConfig(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = g.CreatePaymentURL(context.Background(), payment.Request{OrderCode: "ORD1", Amount: decimal.NewFromInt(1000)})
	require.Error(t, err)
}

func TestCheckStatus(t *testing.T) {
	g, err := New(testConfig("http://unused"))
	require.NoError(t, err)

	ipn := func(resultCode string) map[string]string {
		p := map[string]string{
			"partnerCode":  "MOMOTEST",
			"orderId":      "ORD1",
			"requestId":    "req-1",
			"amount":       "1025000",
			"orderInfo":    "Payment for order ORD1",
			"orderType":    "momo_wallet",
			"transId":      "4088878653",
			"resultCode":   resultCode,
			"message":      "Successful.",
			"payType":      "qr",
			"responseTime": "1721720663942",
			"extraData":    "",
		}
		signed := map[string]string{"accessKey": "access"}
		for k, v := range p {
			signed[k] = v
		}
		p["signature"] = g.sign(rawSignature(ipnFields, signed))
		return p
	}

	t.Run("success", func(t *testing.T) {
		res, err := g.CheckStatus(context.Background(), ipn("0"))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "ORD1", res.OrderCode)
		assert.Equal(t, "4088878653", res.TransactionID)
		assert.True(t, decimal.NewFromInt(1025000).Equal(res.Amount))
	})

	t.Run("failed payment", func(t *testing.T) {
		res, err := g.CheckStatus(context.Background(), ipn("1006"))
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("tampered", func(t *testing.T) {
		p := ipn("0")
		p["amount"] = "1"
		_, err := g.CheckStatus(context.Background(), p)
		require.ErrorIs(t, err, payment.ErrInvalidSignature)
	})

	t.Run("foreign partner", func(t *testing.T) {
		p := ipn("0")
		p["partnerCode"] = "OTHER"
		_, err := g.CheckStatus(context.Background(), p)
		require.ErrorIs(t, err, payment.ErrInvalidSignature)
	})
}

func TestParseIPN(t *testing.T) {
	params, err := ParseIPN([]byte(`{"orderId":"ORD1","amount":1025000,"resultCode":0,"transId":4088878653,"nested":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"orderId":    "ORD1",
		"amount":     "1025000",
		"resultCode": "0",
		"transId":    "4088878653",
	}, params)

	_, err = ParseIPN([]byte(`not json`))
	require.Error(t, err)
}
