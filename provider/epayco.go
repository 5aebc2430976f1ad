package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/monitoring"
)

// EpaycoResolver resolves transaction state through the ePayco reference
// validation API.
type EpaycoResolver struct {
	tracer  trace.Tracer
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewEpaycoResolver creates a resolver. Every query is bounded by timeout.
func NewEpaycoResolver(tracer trace.Tracer, baseURL string, timeout time.Duration) *EpaycoResolver {
	return &EpaycoResolver{
		tracer:  tracer,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

type epaycoReferenceResponse struct {
	Success bool   `json:"success"`
	Title   string `json:"title_response"`
	Text    string `json:"text_response"`
	Data    struct {
		RefPayco         flexString `json:"x_ref_payco"`
		TransactionID    flexString `json:"x_transaction_id"`
		Amount           flexString `json:"x_amount"`
		CurrencyCode     flexString `json:"x_currency_code"`
		TransactionState flexString `json:"x_transaction_state"`
		StateCode        flexString `json:"x_cod_transaction_state"`
		ReasonText       flexString `json:"x_response_reason_text"`
	} `json:"data"`
}

// Resolve queries the provider for reference.
func (r *EpaycoResolver) Resolve(ctx context.Context, reference string) models.Resolution {
	ctx, span := r.tracer.Start(ctx, "epayco.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("external.service", "epayco"),
		attribute.String("payment.provider_reference", reference),
	)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	logger := logging.WithTraceContext(span)

	start := time.Now()
	res, outcome := r.query(ctx, reference)
	duration := time.Since(start).Seconds()

	monitoring.ProviderQueryDuration.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("provider", string(models.ProviderEpayco)),
			attribute.String("outcome", outcome),
		),
	)
	span.SetAttributes(
		attribute.String("external.status", outcome),
		attribute.String("provider.state", string(res.State)),
	)

	if !res.OK {
		logger.Warn("Provider status query failed",
			zap.String("provider_reference", reference),
			zap.String("outcome", outcome),
			zap.String("message", res.Message),
		)
	}
	return res
}

func (r *EpaycoResolver) query(ctx context.Context, reference string) (models.Resolution, string) {
	endpoint := fmt.Sprintf("%s/validation/v1/reference/%s", r.baseURL, url.PathEscape(reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Unavailable(err.Error()), "error"
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.Unavailable("provider query timed out"), "timeout"
		}
		return models.Unavailable(fmt.Sprintf("failed to call provider: %v", err)), "error"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Unavailable(fmt.Sprintf("provider returned status %d", resp.StatusCode)), "failed"
	}

	var body epaycoReferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Unavailable(fmt.Sprintf("decode provider response: %v", err)), "error"
	}
	if !body.Success {
		return models.Unavailable(firstNonEmpty(body.Text, body.Title, "provider reported an error")), "failed"
	}

	state, ok := NormalizeEpaycoState(string(body.Data.TransactionState), string(body.Data.StateCode))
	if !ok {
		return models.Unavailable(fmt.Sprintf("unrecognized transaction state %q", body.Data.TransactionState)), "unknown_state"
	}

	res := models.Resolution{
		OK:            true,
		State:         state,
		Message:       firstNonEmpty(string(body.Data.ReasonText), string(body.Data.TransactionState)),
		TransactionID: string(body.Data.TransactionID),
		Currency:      strings.ToUpper(string(body.Data.CurrencyCode)),
	}
	if amt, err := decimal.NewFromString(string(body.Data.Amount)); err == nil {
		res.Amount = &amt
	}
	return res, "success"
}

// flexString accepts JSON strings and numbers; ePayco uses both for the
// same fields depending on the endpoint.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
