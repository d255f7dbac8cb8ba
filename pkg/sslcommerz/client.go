// Package sslcommerz wraps the SSLCommerz hosted checkout API: session
// initiation, validation lookups, transaction queries, and IPN signatures.
package sslcommerz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pharmacy-backend/pkg/config"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/metrics"
)

const (
	initiatePath   = "/gwprocess/v4/api.php"
	validatePath   = "/validator/api/validationserverAPI.php"
	tranQueryPath  = "/validator/api/merchantTransIDvalidationAPI.php"
	maxBodyBytes   = 1 << 20
	statusSuccess  = "SUCCESS"
	apiConnectDone = "DONE"
)

var (
	errStoreIDRequired       = errors.New("sslcommerz store id is required")
	errStorePasswordRequired = errors.New("sslcommerz store password is required")
	errLoggerRequired        = errors.New("sslcommerz logger is required")
)

// Validation statuses reported by the gateway.
const (
	StatusValid     = "VALID"
	StatusValidated = "VALIDATED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
	StatusInvalid   = "INVALID_TRANSACTION"
	StatusPending   = "PENDING"
)

// IsValidStatus reports whether the gateway considers the payment captured.
func IsValidStatus(status string) bool {
	s := strings.ToUpper(strings.TrimSpace(status))
	return s == StatusValid || s == StatusValidated
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to one merchant store.
type Client struct {
	http          HTTPDoer
	baseURL       string
	storeID       string
	storePassword string
	currency      string
	logger        *logger.Logger
	metrics       *metrics.PaymentMetrics
}

// Option customizes the client.
type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient validates the merchant credentials and builds a client.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	storeID := strings.TrimSpace(cfg.StoreID)
	if storeID == "" {
		return nil, errStoreIDRequired
	}
	storePassword := strings.TrimSpace(cfg.StorePassword)
	if storePassword == "" {
		return nil, errStorePasswordRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	currency := enums.CurrencyBDT.String()
	if parsed, err := enums.ParseCurrency(cfg.Currency); err == nil {
		currency = parsed.String()
	}

	c := &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       cfg.Endpoint(),
		storeID:       storeID,
		storePassword: storePassword,
		currency:      currency,
		logger:        logg,
	}
	for _, opt := range opts {
		opt(c)
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"gateway_base_url": c.baseURL,
		"sandbox":          cfg.Sandbox,
	}), "sslcommerz client initialized")
	return c, nil
}

// Currency returns the merchant settlement currency.
func (c *Client) Currency() string {
	return c.currency
}

// InitiateSession opens a hosted checkout session.
func (c *Client) InitiateSession(ctx context.Context, params SessionParams) (*Session, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	form := params.form(c.currency)
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.storePassword)

	c.log(ctx, "request", "initiate_session", map[string]any{
		"tran_id": params.TransactionID,
		"amount":  FormatAmount(params.AmountCents),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+initiatePath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp sessionResponse
	if err := c.do(ctx, "initiate", req, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, statusSuccess) || resp.GatewayPageURL == "" {
		reason := strings.TrimSpace(resp.FailedReason)
		if reason == "" {
			reason = "gateway did not return a checkout url"
		}
		c.log(ctx, "error", "initiate_session", map[string]any{"error": reason})
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment gateway rejected session: "+reason)
	}

	c.log(ctx, "response", "initiate_session", map[string]any{"tran_id": params.TransactionID})
	return &Session{
		SessionKey:     resp.SessionKey,
		GatewayPageURL: resp.GatewayPageURL,
	}, nil
}

// Validate looks up a validation id issued on a success redirect or IPN.
func (c *Client) Validate(ctx context.Context, valID string) (*Validation, error) {
	valID = strings.TrimSpace(valID)
	if valID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "val_id is required")
	}
	query := c.credentials()
	query.Set("val_id", valID)
	query.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+validatePath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}

	var resp validationResponse
	if err := c.do(ctx, "validate", req, &resp); err != nil {
		return nil, err
	}
	validation, err := resp.toValidation()
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "validate", map[string]any{
		"tran_id": validation.TransactionID,
		"status":  validation.Status,
	})
	return validation, nil
}

// QueryTransaction asks the gateway for every validation recorded against a
// merchant transaction id. A transaction with no attempts returns an empty slice.
func (c *Client) QueryTransaction(ctx context.Context, tranID string) ([]Validation, error) {
	tranID = strings.TrimSpace(tranID)
	if tranID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tran_id is required")
	}
	query := c.credentials()
	query.Set("tran_id", tranID)
	query.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tranQueryPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}

	var resp transactionQueryResponse
	if err := c.do(ctx, "query_transaction", req, &resp); err != nil {
		return nil, err
	}
	if resp.APIConnect != "" && !strings.EqualFold(resp.APIConnect, apiConnectDone) {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway transaction query failed: "+resp.APIConnect)
	}
	out := make([]Validation, 0, len(resp.Elements))
	for _, element := range resp.Elements {
		v, err := element.toValidation()
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (c *Client) credentials() url.Values {
	values := url.Values{}
	values.Set("store_id", c.storeID)
	values.Set("store_passwd", c.storePassword)
	return values
}

func (c *Client) do(ctx context.Context, op string, req *http.Request, out any) error {
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveGateway(op, "error", time.Since(start))
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("payment gateway %s failed", op))
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		c.metrics.ObserveGateway(op, "error", time.Since(start))
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("read gateway %s response", op))
	}
	if res.StatusCode >= http.StatusBadRequest {
		c.metrics.ObserveGateway(op, "error", time.Since(start))
		c.log(ctx, "error", op, map[string]any{"error": fmt.Sprintf("status %d", res.StatusCode)})
		return pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("payment gateway %s returned status %d", op, res.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.ObserveGateway(op, "error", time.Since(start))
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("decode gateway %s response", op))
	}
	c.metrics.ObserveGateway(op, "ok", time.Since(start))
	return nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("sslcommerz %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("sslcommerz %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"passwd", "password", "card", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// FormatAmount renders integer cents as the gateway's two decimal string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseAmount converts a gateway amount string back to cents.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
