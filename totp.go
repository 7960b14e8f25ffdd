package fleetauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// otpEngine implements RFC 6238 time-based one-time codes over the
// principal's shared secret.
type otpEngine struct {
	config TOTPConfig
}

func newOTPEngine(cfg TOTPConfig) *otpEngine {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &otpEngine{config: cfg}
}

// GenerateSecret produces a fresh shared secret and its Base32 encoding.
// Entropy failure is fatal and propagates; it never degrades to a weaker
// secret.
func (o *otpEngine) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("totp secret generation: %w", err)
	}
	return raw, b32.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth://totp URI that authenticator apps consume.
func (o *otpEngine) ProvisionURI(secretBase32, account string) string {
	issuer := o.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(o.config.Period))
	v.Set("digits", strconv.Itoa(o.config.Digits))
	v.Set("algorithm", strings.ToUpper(o.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks code against the current time step and the configured
// skew window. Malformed input fails closed: the result is false, not an
// error. Errors are reserved for broken configuration or a missing secret.
func (o *otpEngine) VerifyCode(secret []byte, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != o.config.Digits || !allDigits(trimmed) {
		return false, nil
	}
	if len(secret) == 0 {
		return false, ErrMFANotConfigured
	}

	base := now.Unix() / int64(o.config.Period)
	for step := -o.config.Skew; step <= o.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		want, err := hotpCode(secret, counter, o.config.Digits, o.config.Algorithm)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(trimmed)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
