package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newTestGateway(t *testing.T, apiURL string) Gateway {
	t.Helper()
	g, err := NewStripeGateway(StripeConfig{
		SecretKey:      "sk_test_123",
		PublishableKey: "pk_test_123",
		WebhookSecret:  testWebhookSecret,
		SuccessURL:     "https://example.com/ok",
		CancelURL:      "https://example.com/cancel",
		APIURL:         apiURL,
	}, zap.NewNop())
	require.NoError(t, err)
	return g
}

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestVerifyWebhook(t *testing.T) {
	g := newTestGateway(t, "")

	completed := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "sess_abc",
			"object": "checkout.session",
			"payment_status": "paid",
			"client_reference_id": "u1",
			"metadata": {"user_id": "u1", "package_id": "pack_100", "coins": "100", "package_name": "Pacote Iniciante"}
		}}
	}`)

	t.Run("Оплаченная сессия", func(t *testing.T) {
		event, err := g.VerifyWebhook(completed, sign(completed, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, EventCheckoutCompleted, event.Type)
		assert.Equal(t, "sess_abc", event.SessionID)
		assert.True(t, event.Paid)
		assert.Equal(t, "u1", event.UserID)
		assert.Equal(t, int64(100), event.Coins)
		assert.Equal(t, "pack_100", event.PackageID)
		assert.Equal(t, "Pacote Iniciante", event.PackageName)
	})

	t.Run("Неверная подпись", func(t *testing.T) {
		_, err := g.VerifyWebhook(completed, sign(completed, "whsec_other", time.Now()))
		assert.ErrorIs(t, err, models.ErrWebhookInvalid)
	})

	t.Run("Нет подписи", func(t *testing.T) {
		_, err := g.VerifyWebhook(completed, "")
		assert.ErrorIs(t, err, models.ErrWebhookInvalid)
	})

	t.Run("Просроченная подпись", func(t *testing.T) {
		_, err := g.VerifyWebhook(completed, sign(completed, testWebhookSecret, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, err, models.ErrWebhookInvalid)
	})

	t.Run("Другой тип события", func(t *testing.T) {
		other := []byte(`{"id": "evt_2", "object": "event", "type": "charge.refunded", "data": {"object": {"id": "ch_1"}}}`)
		event, err := g.VerifyWebhook(other, sign(other, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "charge.refunded", event.Type)
		assert.Empty(t, event.SessionID)
	})

	t.Run("Некорректные монеты", func(t *testing.T) {
		bad := []byte(`{"id": "evt_3", "object": "event", "type": "checkout.session.completed",
			"data": {"object": {"id": "sess_x", "payment_status": "paid", "metadata": {"user_id": "u1", "coins": "many"}}}}`)
		_, err := g.VerifyWebhook(bad, sign(bad, testWebhookSecret, time.Now()))
		assert.ErrorIs(t, err, models.ErrWebhookInvalid)
	})
}

func TestCreateCheckout(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cs_test_1", "object": "checkout.session", "url": "https://checkout.stripe.com/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL)
	pkg := models.CoinPackage{ID: "pack_500", Name: "Pacote Popular", Coins: 500, PriceCents: 1500, Currency: "brl", IsActive: true}

	session, err := g.CreateCheckout(context.Background(), pkg, "u1", "player@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test_1", session.URL)

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "u1", form.Get("client_reference_id"))
	assert.Equal(t, "player@example.com", form.Get("customer_email"))
	assert.Equal(t, "1500", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "brl", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "500", form.Get("metadata[coins]"))
	assert.Equal(t, "pack_500", form.Get("metadata[package_id]"))
}

func TestCreateCheckout_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "bad currency"}}`))
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL)
	_, err := g.CreateCheckout(context.Background(), models.CoinPackage{ID: "p", Name: "P", Coins: 1, PriceCents: 1}, "u1", "")
	assert.ErrorIs(t, err, models.ErrUpstreamError)
}

func TestPix(t *testing.T) {
	t.Run("Без суммы", func(t *testing.T) {
		p := NewPix(PixConfig{Key: "player@example.com"})
		payload, err := p.StaticPayload(0)
		require.NoError(t, err)
		assert.Equal(t, "00020126400014BR.GOV.BCB.PIX0118player@example.com5204000053039865802BR5906Doacao6007GOIANIA62070503***63043687", payload)
	})

	t.Run("С суммой и диакритикой", func(t *testing.T) {
		p := NewPix(PixConfig{Key: "player@example.com", Merchant: "João Mestre", City: "São Paulo"})
		payload, err := p.StaticPayload(1050)
		require.NoError(t, err)
		assert.Equal(t, "00020126400014BR.GOV.BCB.PIX0118player@example.com520400005303986540510.505802BR5911Joao Mestre6009SAO PAULO62070503***63046F33", payload)
	})

	t.Run("Ключ не настроен", func(t *testing.T) {
		p := NewPix(PixConfig{})
		assert.False(t, p.Enabled())
		_, err := p.StaticPayload(0)
		assert.Error(t, err)
	})

	t.Run("Длинное имя обрезается", func(t *testing.T) {
		assert.Equal(t, "ABCDEFGHIJKLMNOPQRSTUVWXY", sanitizeEMV("ABCDEFGHIJKLMNOPQRSTUVWXYZ", maxMerchantNameLength))
	})
}

func TestCRC16CCITT(t *testing.T) {
	assert.Equal(t, uint16(0x29B1), crc16CCITT([]byte("123456789")))
}
