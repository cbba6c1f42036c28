// Package gateway предоставляет клиент внешнего платёжного процессора
// и проверку подписи его вебхуков.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Статусы объектов процессора.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

const (
	// DefaultCurrency: валюта всех платежей.
	DefaultCurrency = "usd"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10
)

// Config описывает подключение к процессору.
type Config struct {
	BaseURL  string
	APIKey   string
	RetryMax int
	Timeout  time.Duration
}

// Client инкапсулирует HTTP-взаимодействие с платёжным процессором.
// Сетевые ошибки, 429 и 5xx повторяются с экспоненциальной задержкой.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
	logger     *zap.Logger
}

// PaymentIntentRequest: запрос на создание намерения оплаты.
type PaymentIntentRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Reference      string            `json:"reference"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// PaymentIntent: ответ процессора на создание намерения оплаты.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// TransferRequest: запрос на перевод исполнителю.
type TransferRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Destination    string            `json:"destination"`
	Reference      string            `json:"reference"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// Transfer: ответ процессора на перевод.
type Transfer struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RefundRequest: запрос на возврат оплаты.
type RefundRequest struct {
	PaymentIntentID string            `json:"payment_intent"`
	Amount          decimal.Decimal   `json:"amount"`
	Reference       string            `json:"reference"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	IdempotencyKey  string            `json:"-"`
}

// Refund: ответ процессора на возврат.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// NewClient создаёт клиент процессора. Пустой BaseURL оставляет клиент
// ненастроенным: все вызовы возвращают ErrNotConfigured.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = newLeveledLogger(logger)
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: rc,
		logger:     logger,
	}
}

// CreatePaymentIntent создаёт намерение оплаты.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	var res PaymentIntent
	if err := c.post(ctx, "create payment intent", "/v1/payment_intents", req.IdempotencyKey, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateTransfer переводит средства на счёт исполнителя.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	var res Transfer
	if err := c.post(ctx, "create transfer", "/v1/transfers", req.IdempotencyKey, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateRefund возвращает оплату по намерению.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	var res Refund
	if err := c.post(ctx, "create refund", "/v1/refunds", req.IdempotencyKey, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, op, path, idempotencyKey string, in, out any) error {
	if c == nil || c.baseURL == "" {
		return &Error{Op: op, Err: ErrNotConfigured}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Transient: true, Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Transient:  isTransientStatus(resp.StatusCode),
			Message:    readErrorMessage(resp.Body),
		}
		c.logger.Warn("payment gateway rejected request",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Bool("transient", apiErr.Transient),
			zap.String("idempotency_key", idempotencyKey),
			zap.String("message", apiErr.Message),
		)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// Запрос мог быть выполнен: повтор с тем же ключом идемпотентен.
		return &Error{Op: op, StatusCode: resp.StatusCode, Transient: true, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}

	return string(bytes.TrimSpace(raw))
}
