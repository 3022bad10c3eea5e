// Package mpesa initiates C2B single-stage payments on the Vodacom
// Mozambique M-Pesa API.
package mpesa

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/circuitbreaker"
	"github.com/mariomelembe98/necrologia-tempo/internal/metrics"
)

const (
	// MinTimeout is the floor applied to the configured request timeout.
	MinTimeout = 60 * time.Second

	// EnvSandbox disables TLS verification; any other value enforces it.
	EnvSandbox = "sandbox"

	singleStagePath = "/ipg/v1x/c2bPayment/singleStage/"
	defaultOrigin   = "developer.mpesa.vm.co.mz"

	// maxBodyLog bounds how much of a provider response ends up in logs.
	maxBodyLog = 2048
)

// User-facing result messages.
const (
	MsgNotConfigured = "O M-Pesa não está configurado."
	MsgFailed        = "Não foi possível iniciar o pagamento via M-Pesa."
	MsgUnavailable   = "Ocorreu um erro ao comunicar com o M-Pesa."
	msgSentFormat    = "Pedido de pagamento enviado para o número %s."
)

// Config holds gateway settings.
type Config struct {
	Host                string
	Origin              string
	APIKey              string
	ServiceProviderCode string
	Env                 string
	Timeout             time.Duration
	CountryCode         string
}

// PaymentRequest identifies the announcement being charged.
type PaymentRequest struct {
	AnnouncementID int64
	Slug           string
	// Amount is the plan price in meticais; zero when there is no plan.
	Amount int64
}

// Result is the interpreted outcome of an initiation call. It is never
// accompanied by an error: every failure mode is a Result with Success false.
type Result struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type requestBody struct {
	TransactionReference string `json:"input_TransactionReference"`
	CustomerMSISDN       string `json:"input_CustomerMSISDN"`
	Amount               string `json:"input_Amount"`
	ThirdPartyReference  string `json:"input_ThirdPartyReference"`
	ServiceProviderCode  string `json:"input_ServiceProviderCode"`
}

type responseBody struct {
	TransactionID       string `json:"transactionId"`
	OutputTransactionID string `json:"output_TransactionID"`
	ResponseCode        string `json:"output_ResponseCode"`
	ResponseDesc        string `json:"output_ResponseDesc"`
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewClient builds a client. breaker may be nil.
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if cfg.Timeout < MinTimeout {
		cfg.Timeout = MinTimeout
	}
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "258"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Env == EnvSandbox {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // sandbox certificates are self-signed
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		breaker: breaker,
		tracer:  otel.Tracer("necrologia/mpesa"),
		logger:  logger,
	}
}

// Configured reports whether host, API key and service provider code are set.
func (c *Client) Configured() bool {
	return c.cfg.Host != "" && c.cfg.APIKey != "" && c.cfg.ServiceProviderCode != ""
}

// Timeout returns the effective request timeout.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// InitiatePayment asks the provider to charge phone for req. The call blocks
// for at most the configured timeout or until ctx is done.
func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest, phone string) Result {
	if !c.Configured() {
		c.logger.Warn("mpesa payment requested but gateway is not configured",
			zap.Int64("announcement_id", req.AnnouncementID),
		)
		metrics.RecordGatewayCall("not_configured", 0)
		return Result{Message: MsgNotConfigured}
	}

	ctx, span := c.tracer.Start(ctx, "mpesa.InitiatePayment",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("announcement.id", req.AnnouncementID)),
	)
	defer span.End()

	body := requestBody{
		TransactionReference: TransactionReference(req.AnnouncementID),
		CustomerMSISDN:       NormalizeMSISDN(phone, c.cfg.CountryCode),
		Amount:               strconv.FormatInt(req.Amount, 10),
		ThirdPartyReference:  ThirdPartyReference(req.Slug, req.AnnouncementID),
		ServiceProviderCode:  c.cfg.ServiceProviderCode,
	}

	start := time.Now()
	var result Result
	err := c.execute(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.post(ctx, body, phone)
		return callErr
	})
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		c.logger.Warn("mpesa circuit open, failing fast",
			zap.Int64("announcement_id", req.AnnouncementID),
		)
		result = Result{Message: MsgUnavailable}
		metrics.RecordGatewayCall("circuit_open", elapsed)
	case err != nil:
		c.logger.Error("mpesa request failed",
			zap.Error(err),
			zap.Int64("announcement_id", req.AnnouncementID),
			zap.String("transaction_reference", body.TransactionReference),
			zap.String("msisdn", body.CustomerMSISDN),
			zap.String("amount", body.Amount),
		)
		if result.Message == "" {
			result = Result{Message: MsgUnavailable}
		}
		metrics.RecordGatewayCall("error", elapsed)
	case result.Success:
		metrics.RecordGatewayCall("success", elapsed)
	default:
		metrics.RecordGatewayCall("declined", elapsed)
	}

	span.SetAttributes(attribute.Bool("mpesa.success", result.Success))
	if !result.Success {
		span.SetStatus(codes.Error, result.Message)
	}
	return result
}

func (c *Client) execute(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// errDeclined marks non-2xx responses so they count against the breaker
// only when the provider is failing (5xx), not when it rejects a payment.
var errDeclined = errors.New("mpesa declined request")

// post performs the HTTP exchange. A returned error means the dependency is
// unhealthy; a declined payment is a Result with a nil error.
func (c *Client) post(ctx context.Context, body requestBody, phone string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Message: MsgUnavailable}
			err = fmt.Errorf("mpesa request panicked: %v", r)
		}
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{Message: MsgUnavailable}, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.Host, "/") + singleStagePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Message: MsgUnavailable}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.cfg.Origin)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Message: MsgUnavailable}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Message: MsgUnavailable}, fmt.Errorf("read response: %w", err)
	}

	var parsed responseBody
	parseErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("mpesa payment declined",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), maxBodyLog)),
			zap.String("transaction_reference", body.TransactionReference),
		)
		msg := MsgFailed
		if parseErr == nil && parsed.ResponseDesc != "" {
			msg = parsed.ResponseDesc
		}
		res = Result{Message: msg}
		if resp.StatusCode >= http.StatusInternalServerError {
			return res, fmt.Errorf("%w: status %d", errDeclined, resp.StatusCode)
		}
		return res, nil
	}

	if parseErr != nil {
		c.logger.Warn("mpesa response body is not JSON",
			zap.Error(parseErr),
			zap.String("body", truncate(string(raw), maxBodyLog)),
		)
	}

	txID := parsed.TransactionID
	if txID == "" {
		txID = parsed.OutputTransactionID
	}

	c.logger.Info("mpesa payment request accepted",
		zap.String("transaction_reference", body.TransactionReference),
		zap.String("transaction_id", txID),
	)

	return Result{
		Success:       true,
		Message:       fmt.Sprintf(msgSentFormat, phone),
		TransactionID: txID,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
