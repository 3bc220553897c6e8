package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/config"
	"github.com/vistream/vistream/internal/dto"
	"github.com/vistream/vistream/internal/gateway"
	"github.com/vistream/vistream/internal/models"
	"github.com/vistream/vistream/internal/services"
)

type fakeGateway struct {
	provider      string
	checkoutCalls int
	result        *gateway.CheckoutResult
	err           error
}

func (f *fakeGateway) Provider() string { return f.provider }

func (f *fakeGateway) CreateCheckout(ctx context.Context, params gateway.CheckoutParams) (*gateway.CheckoutResult, error) {
	f.checkoutCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGateway) FetchPayment(ctx context.Context, externalID string) (*gateway.ProviderPayment, error) {
	return nil, gateway.ErrNoGatewayConfig
}

func (f *fakeGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	return nil
}

// asUser injects the JWT locals the way the auth middleware would.
func asUser(userID uuid.UUID) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user", &jwt.Token{Claims: jwt.MapClaims{
			"sub":  userID.String(),
			"role": models.RoleCustomer,
		}})
		return c.Next()
	}
}

func newPaymentApp(t *testing.T, db *gorm.DB, userID uuid.UUID, gw *fakeGateway, reconciler completer) *fiber.App {
	t.Helper()
	cfg := &config.Config{PublicBaseURL: "https://vistream.example"}
	registry := gateway.NewRegistry(gw)
	h := NewPaymentHandler(cfg, services.NewLedgerService(db), registry, reconciler)

	app := fiber.New()
	app.Post("/api/payments/create", asUser(userID), h.Create)
	app.Post("/api/payments/complete", asUser(userID), h.Complete)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestCreatePayment_ReturnsCheckout(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "a@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	gw := &fakeGateway{provider: models.ProviderMollie, result: &gateway.CheckoutResult{
		ExternalID:  "tr_new1",
		CheckoutURL: "https://www.mollie.com/checkout/tr_new1",
		Status:      "open",
	}}
	app := newPaymentApp(t, db, user.ID, gw, &fakeCompleter{})

	resp := postJSON(t, app, "/api/payments/create", dto.CreatePaymentRequest{
		Amount:      "19.90",
		Currency:    "EUR",
		Description: "Abonnement Standard",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body dto.CreatePaymentResponse
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "tr_new1", body.Payment.ID)
	assert.Equal(t, "https://www.mollie.com/checkout/tr_new1", body.Payment.CheckoutURL)
	assert.Equal(t, "19.90", body.Payment.Amount)
	assert.Equal(t, 1, gw.checkoutCalls)
}

func TestCreatePayment_ReusesRecentCheckout(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "b@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	gw := &fakeGateway{provider: models.ProviderMollie, result: &gateway.CheckoutResult{
		ExternalID:  "tr_reuse1",
		CheckoutURL: "https://www.mollie.com/checkout/tr_reuse1",
	}}
	app := newPaymentApp(t, db, user.ID, gw, &fakeCompleter{})

	payload := dto.CreatePaymentRequest{Amount: "19.90", Description: "Abonnement Standard"}

	first := postJSON(t, app, "/api/payments/create", payload)
	require.Equal(t, fiber.StatusOK, first.StatusCode)

	second := postJSON(t, app, "/api/payments/create", payload)
	require.Equal(t, fiber.StatusOK, second.StatusCode)

	var firstBody, secondBody dto.CreatePaymentResponse
	decodeBody(t, first, &firstBody)
	decodeBody(t, second, &secondBody)
	assert.Equal(t, firstBody.Payment.DatabaseID, secondBody.Payment.DatabaseID)
	// The second request never reached the provider.
	assert.Equal(t, 1, gw.checkoutCalls)
}

func TestCreatePayment_InvalidAmount(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "c@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	app := newPaymentApp(t, db, user.ID, &fakeGateway{provider: models.ProviderMollie}, &fakeCompleter{})

	for _, amount := range []string{"", "abc", "-5.00", "0"} {
		resp := postJSON(t, app, "/api/payments/create", dto.CreatePaymentRequest{Amount: amount})
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "amount %q", amount)
	}
}

func TestCreatePayment_UnknownProvider(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "d@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	app := newPaymentApp(t, db, user.ID, &fakeGateway{provider: models.ProviderMollie}, &fakeCompleter{})

	resp := postJSON(t, app, "/api/payments/create", dto.CreatePaymentRequest{
		Amount:   "19.90",
		Provider: "paypal",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreatePayment_ProviderRejection(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "e@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	gw := &fakeGateway{provider: models.ProviderMollie, err: gateway.ErrNoGatewayConfig}
	app := newPaymentApp(t, db, user.ID, gw, &fakeCompleter{})

	resp := postJSON(t, app, "/api/payments/create", dto.CreatePaymentRequest{Amount: "19.90"})
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}

func TestCreatePayment_RequiresAuth(t *testing.T) {
	db := setupTestDB(t)
	cfg := &config.Config{PublicBaseURL: "https://vistream.example"}
	registry := gateway.NewRegistry(&fakeGateway{provider: models.ProviderMollie})
	h := NewPaymentHandler(cfg, services.NewLedgerService(db), registry, &fakeCompleter{})

	app := fiber.New()
	app.Post("/api/payments/create", h.Create)

	resp := postJSON(t, app, "/api/payments/create", dto.CreatePaymentRequest{Amount: "19.90"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestCompletePayment_Success(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "f@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	sub := &models.Subscription{ID: uuid.New(), UserID: user.ID, Status: models.SubscriptionActive}
	completer := &fakeCompleter{sub: sub}
	app := newPaymentApp(t, db, user.ID, &fakeGateway{provider: models.ProviderMollie}, completer)

	resp := postJSON(t, app, "/api/payments/complete", dto.CompletePaymentRequest{PaymentID: "tr_done"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body dto.CompletePaymentResponse
	decodeBody(t, resp, &body)
	assert.True(t, body.Success)
	require.Len(t, completer.calls, 1)
	assert.Equal(t, "tr_done", completer.calls[0])
}

func TestCompletePayment_FallsBackToLatestPayment(t *testing.T) {
	db := setupTestDB(t)
	ledger := services.NewLedgerService(db)
	user := models.User{ID: uuid.New(), Email: "g@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	ctx := context.Background()
	payment, _, err := ledger.CreateOrReuse(ctx, user.ID, models.ProviderMollie, decimal.RequireFromString("19.90"), "EUR", "Abonnement", nil)
	require.NoError(t, err)
	require.NoError(t, ledger.AttachCheckout(ctx, payment, &gateway.CheckoutResult{ExternalID: "tr_latest"}))

	completer := &fakeCompleter{sub: &models.Subscription{ID: uuid.New()}}
	app := newPaymentApp(t, db, user.ID, &fakeGateway{provider: models.ProviderMollie}, completer)

	resp := postJSON(t, app, "/api/payments/complete", dto.CompletePaymentRequest{})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, completer.calls, 1)
	assert.Equal(t, "tr_latest", completer.calls[0])
}

func TestCompletePayment_TerminalFailure(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "h@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	completer := &fakeCompleter{err: services.ErrPaymentNotCompleted}
	app := newPaymentApp(t, db, user.ID, &fakeGateway{provider: models.ProviderMollie}, completer)

	resp := postJSON(t, app, "/api/payments/complete", dto.CompletePaymentRequest{PaymentID: "tr_failed"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var body dto.ErrorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "Le paiement n'a pas abouti", body.Message)
}

func TestCompletePayment_UnknownPayment(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "i@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	completer := &fakeCompleter{err: services.ErrPaymentNotFound}
	app := newPaymentApp(t, db, user.ID, &fakeGateway{provider: models.ProviderMollie}, completer)

	resp := postJSON(t, app, "/api/payments/complete", dto.CompletePaymentRequest{PaymentID: "tr_ghost"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCompletePayment_NoPaymentAtAll(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: uuid.New(), Email: "j@example.com", Password: "h"}
	require.NoError(t, db.Create(&user).Error)

	app := newPaymentApp(t, db, user.ID, &fakeGateway{provider: models.ProviderMollie}, &fakeCompleter{})

	resp := postJSON(t, app, "/api/payments/complete", dto.CompletePaymentRequest{})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
