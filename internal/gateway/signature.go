package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader: заголовок с подписью вебхука.
	SignatureHeader = "Gig-Signature"
	// DefaultTolerance: допустимое расхождение времени подписи.
	DefaultTolerance = 5 * time.Minute
)

// Sign возвращает значение SignatureHeader для payload в формате
// "t=<unix>,v1=<hex hmac-sha256(secret, "<unix>.<payload>")>".
func Sign(secret string, payload []byte, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(computeMAC([]byte(secret), unix, payload)))
}

func computeMAC(secret []byte, unix int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(unix, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// Verifier проверяет подписи вебхуков процессора.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier создаёт Verifier. С пустым секретом любая подпись отклоняется.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify проверяет header для payload. Заголовок может содержать несколько
// значений v1 (смена секрета), достаточно совпадения одного.
func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	unix, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	age := v.now().Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := computeMAC(v.secret, unix, payload)
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}

	return fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		unix  int64
		hasTS bool
		sigs  [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			unix, hasTS = ts, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}

	if !hasTS {
		return 0, nil, fmt.Errorf("%w: missing timestamp", ErrInvalidSignature)
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	return unix, sigs, nil
}
