package gateway

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1","type":"transfer.succeeded"}`)

	v := NewVerifier("whsec", DefaultTolerance)
	v.now = func() time.Time { return now }

	_, current, _ := strings.Cut(Sign("whsec", payload, now), ",v1=")
	rotated := Sign("old", payload, now) + ",v1=" + current

	tests := []struct {
		name    string
		payload []byte
		header  string
		wantErr bool
	}{
		{name: "valid", payload: payload, header: Sign("whsec", payload, now)},
		{name: "valid within tolerance", payload: payload, header: Sign("whsec", payload, now.Add(-4*time.Minute))},
		{name: "rotated secret", payload: payload, header: rotated},
		{name: "wrong secret", payload: payload, header: Sign("other", payload, now), wantErr: true},
		{name: "tampered payload", payload: []byte(`{"id":"evt_2"}`), header: Sign("whsec", payload, now), wantErr: true},
		{name: "expired", payload: payload, header: Sign("whsec", payload, now.Add(-10*time.Minute)), wantErr: true},
		{name: "missing timestamp", payload: payload, header: "v1=abcd", wantErr: true},
		{name: "missing signature", payload: payload, header: fmt.Sprintf("t=%d", now.Unix()), wantErr: true},
		{name: "garbage", payload: payload, header: "nonsense", wantErr: true},
		{name: "empty", payload: payload, header: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.payload, tt.header)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidSignature), "err = %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVerifierWithoutSecret(t *testing.T) {
	payload := []byte(`{}`)
	v := NewVerifier("", 0)

	err := v.Verify(payload, Sign("", payload, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_1","type":"refund.failed","reference":"re_1","failure_reason":"expired card"}`))
	require.NoError(t, err)
	assert.Equal(t, EventRefundFailed, ev.Type)
	assert.Equal(t, "re_1", ev.Reference)
	assert.Equal(t, "expired card", ev.FailureReason)

	_, err = ParseEvent([]byte(`{"type":"refund.failed"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
