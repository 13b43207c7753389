package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/PortNumber53/blockr/backend/internal/models"
)

const (
	DefaultBaseURL = "https://api.paystack.co"

	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 1 << 20

	statusSuccess = "success"
)

// Client wraps the Paystack transaction API using the REST API directly.
// It holds no state beyond its configuration and is safe for concurrent use.
type Client struct {
	secretKey   string
	baseURL     string
	callbackURL string
	prices      models.PriceTable
	httpClient  *http.Client
	limiter     *rate.Limiter
	log         logrus.FieldLogger
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host (used by tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCallbackURL sets the URL Paystack redirects to after checkout.
func WithCallbackURL(callbackURL string) Option {
	return func(c *Client) {
		c.callbackURL = callbackURL
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit caps outbound requests per second. A non-positive value disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new Paystack API client
func NewClient(secretKey string, prices models.PriceTable, opts ...Option) *Client {
	c := &Client{
		secretKey:  secretKey,
		baseURL:    DefaultBaseURL,
		prices:     prices,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "paystack")
	return c
}

// Authorization is the checkout handle returned by transaction/initialize.
type Authorization struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// Verification is the final outcome of a transaction as reported by the gateway.
// Success is false when the gateway reports any payment status other than "success".
type Verification struct {
	Success   bool
	Status    string
	Reference string
	Amount    int64
	Currency  string
	PaidAt    *time.Time
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
}

// CalculateAmount returns the price of a paid tier in minor currency units (kobo).
func (c *Client) CalculateAmount(tier models.Tier) (int64, error) {
	amount, ok := c.prices.AmountFor(tier)
	if !ok {
		return 0, fmt.Errorf("calculate amount for %q: %w", tier, models.ErrInvalidTier)
	}
	return amount, nil
}

// InitializeTransaction stages a payment with the gateway. Repeating the call
// with the same reference does not create a second transaction.
func (c *Client) InitializeTransaction(ctx context.Context, email string, amount int64, reference string) (*Authorization, error) {
	const op = "initialize transaction"

	body, err := json.Marshal(initializeRequest{
		Email:       email,
		Amount:      amount,
		Reference:   reference,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return nil, models.NewGatewayError(op, 0, "encode request", err)
	}

	env, err := c.do(ctx, op, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var data initializeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, models.NewGatewayError(op, 0, "decode data", err)
	}
	if data.AuthorizationURL == "" {
		return nil, models.NewGatewayError(op, 0, "missing authorization_url in response", nil)
	}

	c.log.WithFields(logrus.Fields{"reference": reference, "amount": amount}).Info("transaction initialized")

	ref := data.Reference
	if ref == "" {
		ref = reference
	}
	return &Authorization{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        ref,
	}, nil
}

// VerifyTransaction asks the gateway for the final status of a transaction.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	const op = "verify transaction"

	if strings.TrimSpace(reference) == "" {
		return nil, models.ErrInvalidReference
	}

	env, err := c.do(ctx, op, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, models.NewGatewayError(op, 0, "decode data", err)
	}

	v := &Verification{
		Success:   data.Status == statusSuccess,
		Status:    data.Status,
		Reference: data.Reference,
		Amount:    data.Amount,
		Currency:  strings.ToUpper(data.Currency),
	}
	if paidAt, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
		v.PaidAt = &paidAt
	}
	if v.Reference == "" {
		v.Reference = reference
	}

	c.log.WithFields(logrus.Fields{
		"reference": reference,
		"status":    data.Status,
		"amount":    data.Amount,
		"currency":  v.Currency,
	}).Info("transaction verified")

	return v, nil
}

// HTTP helpers

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, models.NewGatewayError(op, 0, "rate limiter", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, models.NewGatewayError(op, 0, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("op", op).Warn("paystack request failed")
		return nil, models.NewGatewayError(op, 0, "request failed", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		return nil, models.NewGatewayError(op, resp.StatusCode, "read response", err)
	}

	var env envelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		return nil, models.NewGatewayError(op, resp.StatusCode, "parse response", err)
	}

	if resp.StatusCode >= 400 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = "unknown error"
		}
		c.log.WithFields(logrus.Fields{"op": op, "status_code": resp.StatusCode}).Warnf("paystack API error: %s", msg)
		return nil, models.NewGatewayError(op, resp.StatusCode, msg, nil)
	}

	return &env, nil
}
