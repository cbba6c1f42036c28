package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured возвращается, если адрес процессора не задан.
	ErrNotConfigured = errors.New("payment gateway not configured")
	// ErrInvalidSignature возвращается, если подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Error описывает неудачный вызов процессора. Transient-ошибки можно повторить
// с тем же ключом идемпотентности, остальные окончательны.
type Error struct {
	Op         string
	StatusCode int
	Transient  bool
	Message    string
	Err        error
}

func (e *Error) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}

	msg := fmt.Sprintf("gateway %s: %s failure", e.Op, kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient сообщает, является ли ошибка временной ошибкой процессора.
func IsTransient(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Transient
}

// IsGatewayError сообщает, пришла ли ошибка от процессора.
func IsGatewayError(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr)
}

// Reason возвращает человекочитаемую причину отказа для записи в журнал.
func Reason(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
