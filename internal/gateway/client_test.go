package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestCreateTransfer_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/transfers" {
			t.Fatalf("path = %s, want /v1/transfers", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Fatalf("authorization = %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Fatalf("idempotency key = %q, want key-1", got)
		}

		var req TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !req.Amount.Equal(decimal.RequireFromString("90.00")) {
			t.Fatalf("amount = %s, want 90.00", req.Amount)
		}
		if req.Destination != "worker-2" {
			t.Fatalf("destination = %s", req.Destination)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Transfer{ID: "tr_1", Status: "succeeded"})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "sk_test"}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.CreateTransfer(ctx, TransferRequest{
		Amount:         decimal.RequireFromString("90.00"),
		Currency:       DefaultCurrency,
		Destination:    "worker-2",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("CreateTransfer error: %v", err)
	}
	if res.ID != "tr_1" || res.Status != "succeeded" {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestCreatePaymentIntent_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Fatalf("path = %s, want /v1/payment_intents", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: "requires_payment_method"})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL}, nil)

	res, err := client.CreatePaymentIntent(context.Background(), PaymentIntentRequest{Amount: decimal.NewFromInt(100), Currency: DefaultCurrency})
	if err != nil {
		t.Fatalf("CreatePaymentIntent error: %v", err)
	}
	if res.ID != "pi_1" || res.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestCreateRefund_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") != "refund-key" {
			t.Fatalf("idempotency key lost on retry")
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(Refund{ID: "re_1", Status: "succeeded"})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, RetryMax: 3}, zap.NewNop())
	client.httpClient.RetryWaitMin = time.Millisecond
	client.httpClient.RetryWaitMax = time.Millisecond

	res, err := client.CreateRefund(context.Background(), RefundRequest{
		PaymentIntentID: "pi_1",
		Amount:          decimal.NewFromInt(100),
		IdempotencyKey:  "refund-key",
	})
	if err != nil {
		t.Fatalf("CreateRefund error: %v", err)
	}
	if res.ID != "re_1" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestCreateTransfer_TransientAfterRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, RetryMax: 2}, zap.NewNop())
	client.httpClient.RetryWaitMin = time.Millisecond
	client.httpClient.RetryWaitMax = time.Millisecond

	_, err := client.CreateTransfer(context.Background(), TransferRequest{Amount: decimal.NewFromInt(1)})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestCreateTransfer_TerminalClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient platform funds"}}`))
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, RetryMax: 3}, zap.NewNop())

	_, err := client.CreateTransfer(context.Background(), TransferRequest{Amount: decimal.NewFromInt(1)})
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsTransient(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if got := Reason(err); got != "insufficient platform funds" {
		t.Fatalf("reason = %q", got)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestClientNotConfigured(t *testing.T) {
	client := NewClient(Config{}, zap.NewNop())

	_, err := client.CreateTransfer(context.Background(), TransferRequest{Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if IsTransient(err) {
		t.Fatalf("not configured must be terminal")
	}
}

func TestClientAddsScheme(t *testing.T) {
	client := NewClient(Config{BaseURL: "localhost:9090/"}, zap.NewNop())
	if client.baseURL != "http://localhost:9090" {
		t.Fatalf("baseURL = %s", client.baseURL)
	}
}
