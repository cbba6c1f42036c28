package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType: тип события процессора.
type EventType string

const (
	EventPaymentIntentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed    EventType = "payment_intent.payment_failed"
	EventTransferSucceeded      EventType = "transfer.succeeded"
	EventTransferFailed         EventType = "transfer.failed"
	EventRefundSucceeded        EventType = "refund.succeeded"
	EventRefundFailed           EventType = "refund.failed"
)

// ErrMalformedEvent возвращается, если тело вебхука не удалось разобрать.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Event: уведомление процессора о смене статуса платежа.
//
// Reference: идентификатор перевода или возврата у процессора,
// TransactionID: ключ идемпотентности, переданный в запросе.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Reference       string    `json:"reference,omitempty"`
	TransactionID   string    `json:"transaction_id,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	Created         int64     `json:"created,omitempty"`
}

// ParseEvent разбирает тело вебхука.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: id and type are required", ErrMalformedEvent)
	}
	return &ev, nil
}
