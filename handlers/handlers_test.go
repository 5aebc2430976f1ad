package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pnpbots/pnptv-app-sub006/handlers"
	"github.com/pnpbots/pnptv-app-sub006/jobs"
	"github.com/pnpbots/pnptv-app-sub006/ledger"
	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/provider"
	"github.com/pnpbots/pnptv-app-sub006/service"
)

const adminToken = "s3cret"

var (
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier = provider.SignatureVerifier{CustomerID: "12345", PKey: "test-p-key"}
)

type countingActivator struct {
	mu    sync.Mutex
	count int
}

func (a *countingActivator) Activate(context.Context, models.EntitlementGrant) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	return nil
}

type stubScanner struct{ sum jobs.Summary }

func (s stubScanner) Run(context.Context) (jobs.Summary, error) { return s.sum, nil }

type stubSweeper struct{}

func (stubSweeper) Run(context.Context) (jobs.SweepSummary, error) {
	return jobs.SweepSummary{RunID: "run-1", Abandoned: 3}, nil
}

type testServer struct {
	router    *gin.Engine
	store     *ledger.Store
	activator *countingActivator
	logs      *observer.ObservedLogs
}

func newTestServer(t *testing.T, scan jobs.Summary) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zap.InfoLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(nil) })

	db, err := ledger.Open("sqlite", ":memory:", 0)
	require.NoError(t, err)
	store := ledger.NewStore(db)

	clock := func() time.Time { return t0.Add(2 * time.Minute) }
	resolvers := provider.Registry{
		models.ProviderEpayco: provider.ResolverFunc(func(_ context.Context, ref string) models.Resolution {
			if ref == "ref-approved" {
				return models.Resolution{OK: true, State: models.ProviderApproved}
			}
			return models.Unavailable("unreachable")
		}),
	}
	activator := &countingActivator{}
	dispatcher := service.NewEntitlementDispatcher(store, activator, time.Minute, clock)
	engine := service.NewEngine(noop.NewTracerProvider().Tracer("test"), store, resolvers, dispatcher, nil, service.EngineConfig{Now: clock})

	r := gin.New()
	handlers.RegisterRoutes(r,
		handlers.NewPaymentHandler(engine, store, verifier, clock),
		handlers.NewAdminHandler(engine, stubScanner{sum: scan}, stubSweeper{}),
		adminToken,
	)
	return &testServer{router: r, store: store, activator: activator, logs: logs}
}

func (s *testServer) seed(t *testing.T, id, ref string) {
	t.Helper()
	require.NoError(t, s.store.Create(context.Background(), &models.Payment{
		ID:                id,
		UserID:            "user-" + id,
		PlanID:            "monthly",
		Provider:          models.ProviderEpayco,
		Amount:            decimal.RequireFromString("24.99"),
		Currency:          "USD",
		ProviderReference: ref,
		CreatedAt:         t0,
	}))
}

func (s *testServer) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) payment(t *testing.T, id string) *models.Payment {
	t.Helper()
	p, err := s.store.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func webhookForm(ref, txID, amount, state string) url.Values {
	form := url.Values{}
	form.Set("x_ref_payco", ref)
	form.Set("x_transaction_id", txID)
	form.Set("x_amount", amount)
	form.Set("x_currency_code", "USD")
	form.Set("x_transaction_state", state)
	form.Set("x_cust_id_cliente", verifier.CustomerID)
	form.Set("x_signature", verifier.Sign(ref, txID, amount, "USD"))
	return form
}

var formHeaders = map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

func TestEpaycoWebhook_CompletesOnce(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "ref-1")

	form := webhookForm("ref-1", "tx-1", "24.99", "Aceptada")
	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPost, "/api/webhooks/epayco", form.Encode(), formHeaders)
		require.Equal(t, http.StatusOK, w.Code)
	}

	p := s.payment(t, "pay-1")
	assert.Equal(t, models.StatusCompleted, p.Status)
	assert.Equal(t, "tx-1", p.Metadata[models.MetaWebhookTransactionID])
	assert.NotEmpty(t, p.Metadata[models.MetaWebhookReceivedAt])
	assert.Equal(t, 1, s.activator.count, "redelivered webhooks never re-activate")
}

func TestEpaycoWebhook_RejectsForgedSignature(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "ref-1")

	form := webhookForm("ref-1", "tx-1", "24.99", "Aceptada")
	form.Set("x_amount", "0.01")
	w := s.do(http.MethodPost, "/api/webhooks/epayco", form.Encode(), formHeaders)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.StatusPending, s.payment(t, "pay-1").Status)
	assert.Equal(t, 1, s.logs.FilterMessage("Webhook signature rejected").Len())
}

func TestEpaycoWebhook_AcknowledgesWhatItCannotProcess(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "ref-1")

	w := s.do(http.MethodPost, "/api/webhooks/epayco", webhookForm("ref-unknown", "tx-9", "5", "Aceptada").Encode(), formHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.logs.FilterMessage("Webhook matched no payment").Len())

	w = s.do(http.MethodPost, "/api/webhooks/epayco", webhookForm("ref-1", "tx-1", "24.99", "Misterioso").Encode(), formHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusPending, s.payment(t, "pay-1").Status)
}

func TestEpaycoWebhook_LocatesByExtraField(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "")

	form := webhookForm("ref-late", "tx-1", "24.99", "Rechazada")
	form.Set("x_extra1", "pay-1")
	w := s.do(http.MethodPost, "/api/webhooks/epayco", form.Encode(), formHeaders)
	require.Equal(t, http.StatusOK, w.Code)

	p := s.payment(t, "pay-1")
	assert.Equal(t, "ref-late", p.ProviderReference)
	assert.Equal(t, models.StatusFailed, p.Status)
}

func TestEpaycoWebhook_AcceptsJSON(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "ref-1")

	form := webhookForm("ref-1", "tx-1", "24.99", "Reversada")
	body := map[string]string{}
	for k := range form {
		body[k] = form.Get(k)
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/api/webhooks/epayco", string(raw), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusRefunded, s.payment(t, "pay-1").Status)
}

func TestPollStatus(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "no-ref", "")
	s.seed(t, "pay-1", "ref-approved")

	w := s.do(http.MethodGet, "/api/payments/missing/status", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/payments/no-ref/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.PollResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.True(t, resp.Stuck)
	assert.Equal(t, models.PollReasonNoReference, resp.Reason)

	w = s.do(http.MethodGet, "/api/payments/pay-1/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusCompleted, resp.Status)
}

func TestThreeDSReturn(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "ref-1")

	w := s.do(http.MethodPost, "/api/payments/pay-1/3ds", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	at, ok := s.payment(t, "pay-1").Metadata.Time(models.MetaThreeDSAuthenticatedAt)
	require.True(t, ok)
	assert.True(t, at.Equal(t0.Add(2*time.Minute)))

	w = s.do(http.MethodPost, "/api/payments/missing/3ds", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/payments/pay-1/3ds", "{not json", map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttachReference(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "")
	headers := map[string]string{"Content-Type": "application/json"}

	w := s.do(http.MethodPut, "/api/payments/pay-1/reference", `{}`, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/payments/pay-1/reference", `{"provider_reference":"ref-1"}`, headers)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPut, "/api/payments/pay-1/reference", `{"provider_reference":"ref-2"}`, headers)
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, "ref-1", s.payment(t, "pay-1").ProviderReference)
}

func TestAdmin_RequiresToken(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "ref-approved")

	w := s.do(http.MethodPost, "/api/admin/payments/pay-1/recover", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/admin/payments/pay-1/recover", "", map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.StatusPending, s.payment(t, "pay-1").Status)
}

func TestAdmin_Recover(t *testing.T) {
	s := newTestServer(t, jobs.Summary{})
	s.seed(t, "pay-1", "ref-approved")
	s.seed(t, "no-ref", "")
	headers := map[string]string{"X-Admin-Token": adminToken, "X-Operator": "maria"}

	w := s.do(http.MethodPost, "/api/admin/payments/pay-1/recover", "", headers)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.RecoveryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Applied)
	assert.True(t, resp.RequiresManualAttention)
	assert.Equal(t, models.StatusCompleted, resp.To)

	p := s.payment(t, "pay-1")
	assert.Equal(t, "maria", p.Metadata[models.MetaRecoveredBy])
	assert.Equal(t, "true", p.Metadata[models.MetaRecoveredWithoutHook])

	w = s.do(http.MethodPost, "/api/admin/payments/pay-1/recover", "", headers)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Applied)
	assert.Equal(t, 1, s.activator.count)

	w = s.do(http.MethodPost, "/api/admin/payments/no-ref/recover", "", headers)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAdmin_Jobs(t *testing.T) {
	s := newTestServer(t, jobs.Summary{LockContended: true})
	headers := map[string]string{"X-Admin-Token": adminToken}

	w := s.do(http.MethodPost, "/api/admin/jobs/scan", "", headers)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/admin/jobs/sweep", "", headers)
	require.Equal(t, http.StatusOK, w.Code)
	var sum jobs.SweepSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, int64(3), sum.Abandoned)
}
