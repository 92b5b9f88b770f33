package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrIntentNotFound     = errors.New("payment intent not found at gateway")
)

// APIError is a non-2xx gateway answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment gateway returned %d: %s", e.StatusCode, e.Message)
}

type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Breaker circuitbreaker.Settings
}

// Client talks to a Bitnob-style payment gateway over HTTP. It implements
// the payment collaborator of the checkout service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger

	createBreaker *gobreaker.CircuitBreaker[*d.PaymentIntent]
	statusBreaker *gobreaker.CircuitBreaker[d.IntentStatus]
	polls         singleflight.Group
}

func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "payment_client")
	if cfg.Breaker.Name == "" {
		cfg.Breaker = circuitbreaker.DefaultSettings("payment-gateway")
	}
	// rejections come from a healthy gateway and must not trip the breaker
	cfg.Breaker.Ignore = func(err error) bool { return errors.Is(err, d.ErrIntentRejected) || errors.Is(err, ErrIntentNotFound) }

	createSettings := cfg.Breaker
	createSettings.Name += "-create"
	statusSettings := cfg.Breaker
	statusSettings.Name += "-status"

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log:           log,
		createBreaker: circuitbreaker.New[*d.PaymentIntent](createSettings, log),
		statusBreaker: circuitbreaker.New[d.IntentStatus](statusSettings, log),
	}
}

func (c *Client) CreateIntent(ctx context.Context, req d.IntentRequest) (*d.PaymentIntent, error) {
	method, err := wireMethod(req.Method)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", d.ErrIntentRejected, err)
	}
	body := CreateInvoiceRequest{
		Satoshis:    req.AmountSats,
		Method:      method,
		Description: req.Description,
		CustomerID:  req.BuyerID,
	}
	if req.Method == d.PaymentMethodMobileMoney {
		fiat := req.AmountFiat
		body.PhoneNumber = req.PhoneNumber
		body.FiatAmount = &fiat
		body.FiatCurrency = req.FiatCurrency
	}

	intent, err := c.createBreaker.Execute(func() (*d.PaymentIntent, error) {
		var inv Invoice
		headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}
		if err := c.do(ctx, http.MethodPost, "/invoices/create", headers, body, &inv); err != nil {
			return nil, err
		}
		return inv.toIntent()
	})
	if err != nil {
		return nil, c.breakerErr(err)
	}
	return intent, nil
}

// GetIntentStatus coalesces concurrent polls for the same intent.
func (c *Client) GetIntentStatus(ctx context.Context, intentID string) (d.IntentStatus, error) {
	v, err, _ := c.polls.Do(intentID, func() (interface{}, error) {
		return c.statusBreaker.Execute(func() (d.IntentStatus, error) {
			var resp StatusResponse
			if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(intentID)+"/status", nil, nil, &resp); err != nil {
				return "", err
			}
			return ParseStatus(resp.Status)
		})
	})
	if err != nil {
		return "", c.breakerErr(err)
	}
	return v.(d.IntentStatus), nil
}

// CancelIntent is best-effort. An intent the gateway no longer knows is
// already gone.
func (c *Client) CancelIntent(ctx context.Context, intentID string) error {
	err := c.do(ctx, http.MethodDelete, "/payments/"+url.PathEscape(intentID), nil, nil, nil)
	if err != nil && !errors.Is(err, ErrIntentNotFound) {
		return err
	}
	return nil
}

func (c *Client) breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= 300 {
			return c.statusErr(resp.StatusCode, resp.Status)
		}
		return fmt.Errorf("decode gateway response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return c.statusErr(resp.StatusCode, env.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode gateway data: %w", err)
	}
	return nil
}

func (c *Client) statusErr(code int, message string) error {
	apiErr := &APIError{StatusCode: code, Message: message}
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrIntentNotFound, apiErr)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, apiErr)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: %w", d.ErrIntentRejected, apiErr)
	default:
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, apiErr)
	}
}
