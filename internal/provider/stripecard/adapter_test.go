package stripecard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"fundcore/internal/provider"
)

const testSecret = "whsec_test"

func newTestAdapter(now time.Time) *Adapter {
	a := NewAdapter(Config{WebhookSecret: testSecret}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return now }
	return a
}

func sign(t *testing.T, payload []byte, at time.Time) string {
	t.Helper()
	h := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(h, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(h.Sum(nil)))
}

func TestParseWebhookPaymentIntentSucceeded(t *testing.T) {
	now := time.Now()
	a := newTestAdapter(now)

	payload := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","status":"succeeded"}}}`)

	event, err := a.ParseWebhook(payload, sign(t, payload, now), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ProviderTransactionID != "pi_123" {
		t.Fatalf("expected pi_123, got %q", event.ProviderTransactionID)
	}
	if event.TransactionStatus != provider.TxnStatusCompleted {
		t.Fatalf("expected completed, got %s", event.TransactionStatus)
	}
}

func TestParseWebhookPaymentFailedCarriesReason(t *testing.T) {
	now := time.Now()
	a := newTestAdapter(now)

	payload := []byte(`{"type":"payment_intent.payment_failed","data":{"object":{"id":"pi_123","status":"requires_payment_method","last_payment_error":{"message":"card declined"}}}}`)

	event, err := a.ParseWebhook(payload, sign(t, payload, now), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.TransactionStatus != provider.TxnStatusFailed {
		t.Fatalf("expected failed, got %s", event.TransactionStatus)
	}
	if event.Metadata["failure_reason"] != "card declined" {
		t.Fatalf("expected failure reason, got %v", event.Metadata)
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	now := time.Now()
	a := newTestAdapter(now)

	payload := []byte(`{"type":"payment_intent.succeeded"}`)

	if _, err := a.ParseWebhook(payload, fmt.Sprintf("t=%d,v1=deadbeef", now.Unix()), nil); err == nil {
		t.Fatal("expected signature mismatch error")
	}
}

func TestParseWebhookRejectsTamperedPayload(t *testing.T) {
	now := time.Now()
	a := newTestAdapter(now)

	payload := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_123"}}}`)
	sig := sign(t, payload, now)

	tampered := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_999"}}}`)
	if _, err := a.ParseWebhook(tampered, sig, nil); err == nil {
		t.Fatal("expected signature mismatch on tampered payload")
	}
}

func TestParseWebhookRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	a := newTestAdapter(now)

	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	stale := now.Add(-10 * time.Minute)

	if _, err := a.ParseWebhook(payload, sign(t, payload, stale), nil); err == nil {
		t.Fatal("expected stale timestamp rejection")
	}
}

func TestParseWebhookRejectsMalformedHeader(t *testing.T) {
	a := newTestAdapter(time.Now())

	for _, sig := range []string{"", "t=abc,v1=00", "v1=00", "t=123"} {
		if _, err := a.ParseWebhook([]byte("{}"), sig, nil); err == nil {
			t.Fatalf("expected error for signature %q", sig)
		}
	}
}

func TestIntentStatusMapping(t *testing.T) {
	tests := []struct {
		in   string
		want provider.TransactionStatus
	}{
		{in: "succeeded", want: provider.TxnStatusCompleted},
		{in: "processing", want: provider.TxnStatusProcessing},
		{in: "canceled", want: provider.TxnStatusCancelled},
		{in: "requires_payment_method", want: provider.TxnStatusFailed},
		{in: "requires_action", want: provider.TxnStatusPending},
	}

	for _, tt := range tests {
		if got := intentStatus(tt.in); got != tt.want {
			t.Errorf("intentStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
