package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/robertarktes/event-ticket-fulfillment/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "pdl_ntfset_test_secret"

func manualHeader(ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":" + string(body)))
	return "ts=" + ts + ";h1=" + hex.EncodeToString(mac.Sum(nil))
}

func tamper(header string) string {
	last := header[len(header)-1]
	replacement := byte('a')
	if last == 'a' {
		replacement = 'b'
	}
	return header[:len(header)-1] + string(replacement)
}

func TestVerify_ValidSignature(t *testing.T) {
	body := []byte(`{"event_type":"transaction.completed","data":{"id":"txn_1"}}`)
	v := signature.NewVerifier(secret)

	assert.NoError(t, v.Verify(body, manualHeader("1700000000", body)))
	assert.True(t, v.Valid(body, v.Sign(body, time.Unix(1700000000, 0))))
}

func TestVerify_RawBytesMatter(t *testing.T) {
	body := []byte(`{"event_type":"transaction.completed", "data":{"id":"txn_1"}}`)
	reencoded := []byte(`{"data":{"id":"txn_1"},"event_type":"transaction.completed"}`)
	v := signature.NewVerifier(secret)

	header := manualHeader("1700000000", body)
	assert.ErrorIs(t, v.Verify(reencoded, header), signature.ErrMismatch)
}

func TestVerify_Invalid(t *testing.T) {
	body := []byte(`{"event_type":"transaction.completed"}`)
	good := manualHeader("1700000000", body)

	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"garbage", "not a header"},
		{"missing ts", "h1=abcdef"},
		{"missing h1", "ts=1700000000"},
		{"empty h1", "ts=1700000000;h1="},
		{"tampered h1", tamper(good)},
		{"short h1", "ts=1700000000;h1=ab"},
		{"other timestamp", "ts=1700000001;" + good[len("ts=1700000000;"):]},
	}
	v := signature.NewVerifier(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, v.Valid(body, tt.header))
		})
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	body := []byte(`{}`)
	header := manualHeader("1700000000", body)
	assert.False(t, signature.NewVerifier("other").Valid(body, header))
	assert.False(t, signature.NewVerifier("").Valid(body, header))
}

func TestVerify_AnyRotatedHashMatches(t *testing.T) {
	body := []byte(`{"a":1}`)
	good := manualHeader("1700000000", body)
	h1 := good[len("ts=1700000000;h1="):]
	header := "ts=1700000000;h1=" + tamper(h1) + ";h1=" + h1

	assert.True(t, signature.NewVerifier(secret).Valid(body, header))
}

func TestVerify_Tolerance(t *testing.T) {
	body := []byte(`{"a":1}`)
	signedAt := time.Unix(1700000000, 0)
	header := manualHeader("1700000000", body)

	fresh := signature.NewVerifier(secret,
		signature.WithTolerance(5*time.Second),
		signature.WithClock(func() time.Time { return signedAt.Add(3 * time.Second) }))
	assert.NoError(t, fresh.Verify(body, header))

	stale := signature.NewVerifier(secret,
		signature.WithTolerance(5*time.Second),
		signature.WithClock(func() time.Time { return signedAt.Add(time.Minute) }))
	assert.ErrorIs(t, stale.Verify(body, header), signature.ErrStale)
}

func TestParseHeader(t *testing.T) {
	h, err := signature.ParseHeader("ts=1700000000; h1=abc")
	require.NoError(t, err)
	assert.Equal(t, "1700000000", h.Timestamp)
	assert.Equal(t, []string{"abc"}, h.Hashes)

	at, err := h.Time()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), at.Unix())

	_, err = signature.ParseHeader("ts=;h1=abc")
	assert.ErrorIs(t, err, signature.ErrMalformedHeader)
}
