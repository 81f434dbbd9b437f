package kite

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	totpDigits = 6
	totpPeriod = 30
)

// GenerateTwofaValue derives the current 6-digit two-factor code from the
// shared secret. The broker provisions standard TOTP secrets (HMAC-SHA1,
// 30-second step).
func GenerateTwofaValue(secret string) (string, error) {
	return totpCode(secret, time.Now())
}

// totpCode is the pure form: same secret and 30-second window, same code.
func totpCode(secret string, at time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", &TotpError{Message: "totp secret is empty"}
	}

	normalized := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return "", &TotpError{Message: "totp secret is not valid base32", cause: err}
	}

	counter := uint64(at.Unix() / totpPeriod)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226.
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%0*d", totpDigits, binCode%1000000), nil
}
