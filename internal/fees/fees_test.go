package fees

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"fundcore/internal/common/money"
	"fundcore/internal/provider"
)

type stubConfigStore struct {
	configs []*Config
	err     error
}

func (s *stubConfigStore) FindActive(ctx context.Context, tenantID, providerName string, sourceType provider.SourceType, currency money.Currency) ([]*Config, error) {
	return s.configs, s.err
}

func newTestEngine(store ConfigStore) *Engine {
	return NewEngine(store, StandardDefaults(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ptr(v int64) *int64 { return &v }

func TestComputeDefaultCardFee(t *testing.T) {
	engine := newTestEngine(&stubConfigStore{})

	// 2.9% of 10000 = 290, plus 30 fixed.
	b, err := engine.Compute(context.Background(), "tenant-1", "stripe", provider.SourceTypeCard, money.USD, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ProviderFee != 320 {
		t.Fatalf("expected provider fee 320, got %d", b.ProviderFee)
	}
	if b.PlatformFee != 0 {
		t.Fatalf("expected no platform fee from defaults, got %d", b.PlatformFee)
	}
	if b.TotalFee != 320 {
		t.Fatalf("expected total fee 320, got %d", b.TotalFee)
	}
}

func TestComputeDefaultBankFeeClampedToMax(t *testing.T) {
	engine := newTestEngine(&stubConfigStore{})

	b, err := engine.Compute(context.Background(), "tenant-1", "plaid", provider.SourceTypeBankAccount, money.USD, 5_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ProviderFee != 50 {
		t.Fatalf("expected flat fee 50, got %d", b.ProviderFee)
	}
}

func TestComputeUnknownDefaultKeyIsZero(t *testing.T) {
	engine := newTestEngine(&stubConfigStore{})

	b, err := engine.Compute(context.Background(), "tenant-1", "unknown", provider.SourceTypeCard, money.JPY, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.TotalFee != 0 || b.ProviderFee != 0 || b.PlatformFee != 0 {
		t.Fatalf("expected zero breakdown for unknown key, got %+v", b)
	}
}

func TestComputeConfigRow(t *testing.T) {
	store := &stubConfigStore{configs: []*Config{{
		Provider:              "stripe",
		SourceType:            provider.SourceTypeCard,
		Currency:              money.USD,
		PercentageFee:         2.5,
		FixedFeeCents:         25,
		PlatformPercentageFee: 0.5,
		PlatformFixedFeeCents: 10,
		Active:                true,
	}}}
	engine := newTestEngine(store)

	b, err := engine.Compute(context.Background(), "tenant-1", "stripe", provider.SourceTypeCard, money.USD, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ProviderFee != 275 {
		t.Fatalf("expected provider fee 275, got %d", b.ProviderFee)
	}
	if b.PlatformFee != 60 {
		t.Fatalf("expected platform fee 60, got %d", b.PlatformFee)
	}
	if b.TotalFee != 335 {
		t.Fatalf("expected total 335, got %d", b.TotalFee)
	}
}

func TestComputeRoundsHalfAwayFromZero(t *testing.T) {
	store := &stubConfigStore{configs: []*Config{{
		Provider:      "stripe",
		SourceType:    provider.SourceTypeCard,
		Currency:      money.USD,
		PercentageFee: 1.0,
		Active:        true,
	}}}
	engine := newTestEngine(store)

	// 1% of 250 is 2.5 cents; half a minor unit rounds up, never to even.
	b, err := engine.Compute(context.Background(), "tenant-1", "stripe", provider.SourceTypeCard, money.USD, 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ProviderFee != 3 {
		t.Fatalf("expected provider fee 3, got %d", b.ProviderFee)
	}
}

func TestComputeClampsMinThenMax(t *testing.T) {
	tests := []struct {
		name   string
		min    *int64
		max    *int64
		amount int64
		want   int64
	}{
		{name: "below min", min: ptr(100), amount: 100, want: 100},
		{name: "above max", max: ptr(500), amount: 1_000_000, want: 500},
		{name: "within band", min: ptr(10), max: ptr(500), amount: 10000, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubConfigStore{configs: []*Config{{
				PercentageFee: 1.0,
				MinFeeCents:   tt.min,
				MaxFeeCents:   tt.max,
				Active:        true,
			}}}
			engine := newTestEngine(store)

			b, err := engine.Compute(context.Background(), "t", "stripe", provider.SourceTypeCard, money.USD, tt.amount)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.ProviderFee != tt.want {
				t.Fatalf("expected provider fee %d, got %d", tt.want, b.ProviderFee)
			}
		})
	}
}

func TestComputePlatformFeeNotClamped(t *testing.T) {
	store := &stubConfigStore{configs: []*Config{{
		PercentageFee:         1.0,
		MaxFeeCents:           ptr(100),
		PlatformPercentageFee: 1.0,
		Active:                true,
	}}}
	engine := newTestEngine(store)

	b, err := engine.Compute(context.Background(), "t", "stripe", provider.SourceTypeCard, money.USD, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ProviderFee != 100 {
		t.Fatalf("expected clamped provider fee 100, got %d", b.ProviderFee)
	}
	if b.PlatformFee != 1000 {
		t.Fatalf("expected unclamped platform fee 1000, got %d", b.PlatformFee)
	}
}

func TestComputeWaiver(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		waived    bool
	}{
		{name: "open-ended waiver", expiresAt: nil, waived: true},
		{name: "future expiry", expiresAt: &future, waived: true},
		{name: "expired waiver", expiresAt: &past, waived: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubConfigStore{configs: []*Config{{
				PercentageFee:   2.9,
				FixedFeeCents:   30,
				WaiverActive:    true,
				WaiverExpiresAt: tt.expiresAt,
				Active:          true,
			}}}
			engine := newTestEngine(store)

			b, err := engine.Compute(context.Background(), "t", "stripe", provider.SourceTypeCard, money.USD, 10000)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Waived != tt.waived {
				t.Fatalf("expected waived=%v, got %+v", tt.waived, b)
			}
			if tt.waived && b.TotalFee != 0 {
				t.Fatalf("waived breakdown must be zero, got %+v", b)
			}
		})
	}
}

func TestTenantRowOutranksGlobal(t *testing.T) {
	tenant := "tenant-1"
	// Store contract: tenant-scoped rows sort first.
	store := &stubConfigStore{configs: []*Config{
		{TenantID: &tenant, PercentageFee: 1.0, Active: true},
		{TenantID: nil, PercentageFee: 2.9, FixedFeeCents: 30, Active: true},
	}}
	engine := newTestEngine(store)

	b, err := engine.Compute(context.Background(), tenant, "stripe", provider.SourceTypeCard, money.USD, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ProviderFee != 100 {
		t.Fatalf("expected tenant override fee 100, got %d", b.ProviderFee)
	}
}

func TestEstimateNetAmount(t *testing.T) {
	engine := newTestEngine(&stubConfigStore{})

	est, err := engine.Estimate(context.Background(), "t", "stripe", provider.SourceTypeCard, money.USD, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.NetAmount != 9680 {
		t.Fatalf("expected net 9680, got %d", est.NetAmount)
	}
	if est.FeeRateLabel != "2.9% + $0.30" {
		t.Fatalf("unexpected rate label %q", est.FeeRateLabel)
	}
}

func TestRateDisplay(t *testing.T) {
	maxFee := int64(500)
	tests := []struct {
		name string
		b    *Breakdown
		want string
	}{
		{name: "waived", b: &Breakdown{Waived: true}, want: "Waived"},
		{name: "percent plus fixed", b: &Breakdown{Percentage: 2.9, FixedCents: 30}, want: "2.9% + $0.30"},
		{name: "percent only", b: &Breakdown{Percentage: 1}, want: "1%"},
		{name: "flat", b: &Breakdown{FixedCents: 50}, want: "$0.50 flat"},
		{name: "flat with max", b: &Breakdown{FixedCents: 50, MaxCents: &maxFee}, want: "$0.50 flat (max $5.00)"},
		{name: "no fee", b: &Breakdown{}, want: "No fee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RateDisplay(tt.b, money.USD)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
