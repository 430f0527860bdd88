package fx

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"fundcore/internal/common/money"
)

func newTestEngine(rates map[string]float64) *Engine {
	return NewEngine(rates, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRateResolution(t *testing.T) {
	engine := newTestEngine(map[string]float64{
		"BRL:USD": 0.2,
		"EUR:GBP": 0.85,
	})

	tests := []struct {
		name string
		from money.Currency
		to   money.Currency
		want string
	}{
		{name: "identity", from: money.USD, to: money.USD, want: "1"},
		{name: "direct", from: money.BRL, to: money.USD, want: "0.2"},
		{name: "stablecoin bridge", from: money.BRL, to: money.USDC, want: "0.2"},
		{name: "inverse", from: money.GBP, to: money.EUR, want: "1.1764705882352941"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := engine.Rate(tt.from, tt.to)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rate.String() != tt.want {
				t.Fatalf("expected rate %s, got %s", tt.want, rate.String())
			}
		})
	}
}

func TestRateUnavailable(t *testing.T) {
	engine := newTestEngine(map[string]float64{"BRL:USD": 0.2})

	_, err := engine.Rate(money.JPY, money.GBP)
	if !errors.Is(err, ErrConversionUnavailable) {
		t.Fatalf("expected ErrConversionUnavailable, got %v", err)
	}
}

func TestGetQuote(t *testing.T) {
	engine := newTestEngine(map[string]float64{"BRL:USD": 0.2})

	quote, err := engine.GetQuote(money.BRL, money.USDC, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if quote.ToAmount != 20000 {
		t.Fatalf("expected converted 20000, got %d", quote.ToAmount)
	}
	// 0.1% of 100000 = 100 BRL minor, worth 20 in USD minor.
	if quote.ConversionFee != 100 {
		t.Fatalf("expected fee 100, got %d", quote.ConversionFee)
	}
	if quote.NetAmount != 19980 {
		t.Fatalf("expected net 19980, got %d", quote.NetAmount)
	}
	if quote.ID == "" {
		t.Fatal("expected quote ID")
	}
	if !quote.ExpiresAt.Equal(quote.CreatedAt.Add(DefaultQuoteTTL)) {
		t.Fatalf("expected %s TTL, got %s", DefaultQuoteTTL, quote.ExpiresAt.Sub(quote.CreatedAt))
	}
}

func TestQuoteRoundsHalfAwayFromZero(t *testing.T) {
	engine := newTestEngine(map[string]float64{"MXN:USD": 0.25})

	// 10 at 0.25 converts to 2.5 minor units; the half rounds up, never to
	// even.
	quote, err := engine.GetQuote(money.MXN, money.USD, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.ToAmount != 3 {
		t.Fatalf("expected converted 3, got %d", quote.ToAmount)
	}

	// 0.1% of 2500 is 2.5 minor units of fee.
	quote, err = engine.GetQuote(money.MXN, money.USD, 2500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.ConversionFee != 3 {
		t.Fatalf("expected fee 3, got %d", quote.ConversionFee)
	}
}

func TestQuoteExpired(t *testing.T) {
	engine := newTestEngine(map[string]float64{"BRL:USD": 0.2})

	quote, err := engine.GetQuote(money.BRL, money.USD, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if quote.Expired(quote.CreatedAt.Add(10 * time.Second)) {
		t.Fatal("quote should be valid inside the TTL")
	}
	if !quote.Expired(quote.CreatedAt.Add(31 * time.Second)) {
		t.Fatal("quote should be expired past the TTL")
	}
}

func TestReverseQuoteRoundTrip(t *testing.T) {
	engine := newTestEngine(map[string]float64{"BRL:USD": 0.185})

	const want = 50000
	quote, err := engine.GetReverseQuote(money.BRL, money.USD, want)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	diff := quote.ToAmount - want
	if diff < -1 || diff > 1 {
		t.Fatalf("round trip drifted beyond one minor unit: want %d, got %d", want, quote.ToAmount)
	}
}

func TestExecuteStablecoinSubtractsFeeDirectly(t *testing.T) {
	engine := newTestEngine(nil)

	result, err := engine.Execute(money.USD, money.USDC, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ResultCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.ConversionFee != 100 {
		t.Fatalf("expected fee 100, got %d", result.ConversionFee)
	}
	if result.ToAmount != 99900 {
		t.Fatalf("expected 99900 after direct fee subtraction, got %d", result.ToAmount)
	}
}

func TestExecuteCrossCurrency(t *testing.T) {
	engine := newTestEngine(map[string]float64{"BRL:USD": 0.2})

	result, err := engine.Execute(money.BRL, money.USD, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ToAmount != 19980 {
		t.Fatalf("expected 19980, got %d", result.ToAmount)
	}
	if result.Rate.String() != "0.2" {
		t.Fatalf("expected rate 0.2, got %s", result.Rate.String())
	}
}

func TestExecuteUnavailableReturnsFailedResult(t *testing.T) {
	engine := newTestEngine(nil)

	result, err := engine.Execute(money.JPY, money.GBP, 1000)
	if !errors.Is(err, ErrConversionUnavailable) {
		t.Fatalf("expected ErrConversionUnavailable, got %v", err)
	}
	if result == nil || result.Status != ResultFailed {
		t.Fatalf("expected failed result alongside error, got %+v", result)
	}
}

func TestSupportedPairs(t *testing.T) {
	engine := newTestEngine(map[string]float64{
		"EUR:USD": 1.08,
		"BRL:USD": 0.185,
	})

	pairs := engine.SupportedPairs()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	// Sorted by key: BRL before EUR.
	if pairs[0].From != money.BRL || pairs[0].To != money.USD {
		t.Fatalf("unexpected first pair %+v", pairs[0])
	}
	if pairs[1].From != money.EUR {
		t.Fatalf("unexpected second pair %+v", pairs[1])
	}
}
