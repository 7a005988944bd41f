// Package signature verifies provider webhook signatures of the form
// "ts=<unix-seconds>;h1=<hex-hmac-sha256>".
//
// The signed message is the timestamp and the raw request body joined by a colon.
// The body must be the exact transport bytes; re-encoded JSON will not verify.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const HeaderName = "Paddle-Signature"

var (
	ErrMalformedHeader = errors.New("malformed signature header")
	ErrMismatch        = errors.New("signature mismatch")
	ErrStale           = errors.New("signature timestamp outside tolerance")
)

// Header is a parsed signature header. A provider may send several h1 values while
// rotating secrets.
type Header struct {
	Timestamp string
	Hashes    []string
}

// Time returns the signing time carried by the header.
func (h Header) Time() (time.Time, error) {
	secs, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(ErrMalformedHeader, "timestamp is not an integer")
	}
	return time.Unix(secs, 0), nil
}

func ParseHeader(raw string) (Header, error) {
	var h Header
	for _, fragment := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(fragment), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			h.Timestamp = value
		case "h1":
			if value != "" {
				h.Hashes = append(h.Hashes, value)
			}
		}
	}
	if h.Timestamp == "" || len(h.Hashes) == 0 {
		return Header{}, ErrMalformedHeader
	}
	return h, nil
}

// Verifier checks webhook bodies against a shared secret. It holds no mutable state
// and is safe for concurrent use.
type Verifier struct {
	secret []byte
	// Tolerance bounds the age of the signed timestamp. Zero disables the check.
	tolerance time.Duration
	now       func() time.Time
}

type Option func(*Verifier)

func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) { v.tolerance = d }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Valid reports whether body carries a genuine signature.
func (v *Verifier) Valid(body []byte, header string) bool {
	return v.Verify(body, header) == nil
}

// Verify returns nil when the header signs body under the shared secret. Every failure,
// malformed input included, is reported as an error and never panics.
func (v *Verifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return errors.New("webhook secret is not configured")
	}
	h, err := ParseHeader(header)
	if err != nil {
		return err
	}
	if v.tolerance > 0 {
		signedAt, err := h.Time()
		if err != nil {
			return err
		}
		age := v.now().Sub(signedAt)
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return ErrStale
		}
	}

	expected := []byte(compute(v.secret, h.Timestamp, body))
	for _, candidate := range h.Hashes {
		if hmac.Equal(expected, []byte(strings.ToLower(candidate))) {
			return nil
		}
	}
	return ErrMismatch
}

// Sign builds a header for body at the given time. Used by replay tooling and tests.
func (v *Verifier) Sign(body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "ts=" + ts + ";h1=" + compute(v.secret, ts, body)
}

func compute(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{':'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
