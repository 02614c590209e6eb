// Package paypal talks to the PayPal REST API and authenticates its webhooks.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/logctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	SandboxURL    = "https://api-m.sandbox.paypal.com"
	tokenLeeway   = 30 * time.Second
	stateApproved = "approved"
	minorExponent = -2
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client executes client-approved payments. It implements payment.Gateway.
type Client struct {
	cfg  Config
	http *http.Client
	log  observability.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewClient(cfg Config, logger observability.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.With(observability.F("component", "paypal")),
		now:  time.Now,
	}
}

type amount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type executeResponse struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Transactions []struct {
		Amount amount `json:"amount"`
	} `json:"transactions"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Verify executes the payment and checks that PayPal captured the order's exact amount.
// Transport failures and 5xx answers are returned as errors; business rejections come back
// as a Verification that is not approved.
func (c *Client) Verify(ctx context.Context, req domain.VerifyRequest) (domain.Verification, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return domain.Verification{}, err
	}

	body, _ := json.Marshal(map[string]string{"payer_id": req.PayerID})
	endpoint := c.cfg.BaseURL + "/v1/payments/payment/" + url.PathEscape(req.PaymentID) + "/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Verification{}, fmt.Errorf("paypal: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("PayPal-Request-Id", req.PaymentID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("paypal: execute: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Verification{}, fmt.Errorf("paypal: read response: %w", err)
	}

	logger := logctx.FromOr(ctx, c.log).With(observability.F("payment_id", req.PaymentID))
	switch {
	case resp.StatusCode >= 500:
		return domain.Verification{}, fmt.Errorf("paypal: execute returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		var e apiError
		_ = json.Unmarshal(raw, &e)
		logger.Warn("paypal_execute_rejected",
			observability.F("status", resp.StatusCode),
			observability.F("name", e.Name),
		)
		state := strings.ToLower(e.Name)
		if state == "" {
			state = "rejected"
		}
		return domain.Verification{State: state}, nil
	}

	var out executeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Verification{}, fmt.Errorf("paypal: decode execute response: %w", err)
	}
	v := domain.Verification{TransactionID: out.ID, State: out.State}
	if out.State != stateApproved {
		return v, nil
	}
	if !amountMatches(out, req) {
		logger.Error("paypal_amount_mismatch", observability.F("expected", decimal.New(req.Amount, minorExponent).StringFixed(2)))
		v.State = "amount_mismatch"
		return v, nil
	}
	v.Approved = true
	return v, nil
}

func amountMatches(out executeResponse, req domain.VerifyRequest) bool {
	if len(out.Transactions) == 0 {
		return false
	}
	want := decimal.New(req.Amount, minorExponent)
	var got decimal.Decimal
	for _, t := range out.Transactions {
		if !strings.EqualFold(t.Amount.Currency, req.Currency) {
			return false
		}
		d, err := decimal.NewFromString(t.Amount.Total)
		if err != nil {
			return false
		}
		got = got.Add(d)
	}
	return got.Equal(want)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: token returned %d", resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("paypal: decode token: %w", err)
	}
	c.token = tok.AccessToken
	c.expires = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenLeeway)
	return c.token, nil
}
