// Package fees computes deterministic fee breakdowns for funding
// transactions, resolving tenant overrides, waivers and default tables.
package fees

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fundcore/internal/common/money"
	"fundcore/internal/provider"
)

// Config is one fee policy row. A nil TenantID marks a global default that
// any tenant-scoped row for the same (provider, source type, currency)
// outranks.
type Config struct {
	ID                    string              `json:"id"`
	TenantID              *string             `json:"tenant_id,omitempty"`
	Provider              string              `json:"provider"`
	SourceType            provider.SourceType `json:"source_type"`
	Currency              money.Currency      `json:"currency"`
	PercentageFee         float64             `json:"percentage_fee"`
	FixedFeeCents         int64               `json:"fixed_fee_cents"`
	MinFeeCents           *int64              `json:"min_fee_cents,omitempty"`
	MaxFeeCents           *int64              `json:"max_fee_cents,omitempty"`
	PlatformPercentageFee float64             `json:"platform_percentage_fee"`
	PlatformFixedFeeCents int64               `json:"platform_fixed_fee_cents"`
	WaiverActive          bool                `json:"fee_waiver_active"`
	WaiverExpiresAt       *time.Time          `json:"fee_waiver_expires_at,omitempty"`
	Active                bool                `json:"active"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// waiverInEffect reports whether the waiver applies at the given instant.
func (c *Config) waiverInEffect(now time.Time) bool {
	if !c.WaiverActive {
		return false
	}
	return c.WaiverExpiresAt == nil || c.WaiverExpiresAt.After(now)
}

// Breakdown is the computed fee split for one amount, in minor units.
type Breakdown struct {
	ProviderFee int64 `json:"provider_fee"`
	PlatformFee int64 `json:"platform_fee"`
	TotalFee    int64 `json:"total_fee"`
	Waived      bool  `json:"waived"`

	// Rate description inputs.
	Percentage float64 `json:"percentage"`
	FixedCents int64   `json:"fixed_cents"`
	MaxCents   *int64  `json:"max_cents,omitempty"`
}

// DefaultFee is one entry of the fallback table applied when no config row
// matches.
type DefaultFee struct {
	Percentage float64
	FixedCents int64
	MaxCents   *int64
}

// Defaults is the fallback fee table keyed "{provider}:{sourceType}:{currency}".
// It is injected at construction so deployments and tests can override it.
type Defaults map[string]DefaultFee

// DefaultKey builds the lookup key for the fallback table.
func DefaultKey(providerName string, sourceType provider.SourceType, currency money.Currency) string {
	return fmt.Sprintf("%s:%s:%s", providerName, sourceType, currency)
}

// StandardDefaults returns the built-in fallback table.
func StandardDefaults() Defaults {
	maxBank := int64(500)
	return Defaults{
		"stripe:card:USD":               {Percentage: 2.9, FixedCents: 30},
		"stripe:card:EUR":               {Percentage: 2.9, FixedCents: 30},
		"stripe:card:BRL":               {Percentage: 3.9, FixedCents: 39},
		"plaid:bank_account:USD":        {Percentage: 0, FixedCents: 50, MaxCents: &maxBank},
		"cryptoramp:crypto_wallet:USD":  {Percentage: 1.0, FixedCents: 0},
		"cryptoramp:crypto_wallet:USDC": {Percentage: 0, FixedCents: 0},
	}
}

// ConfigStore loads fee configuration rows.
type ConfigStore interface {
	// FindActive returns active rows matching (provider, source type,
	// currency) whose tenant is either the given tenant or null, ordered so
	// tenant-scoped rows sort before global ones. An empty result is a valid
	// outcome.
	FindActive(ctx context.Context, tenantID, providerName string, sourceType provider.SourceType, currency money.Currency) ([]*Config, error)
}

// Engine resolves fee configuration and computes breakdowns.
type Engine struct {
	store    ConfigStore
	defaults Defaults
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a fee engine with an injected fallback table.
func NewEngine(store ConfigStore, defaults Defaults, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// percentOf computes round(amount × pct/100) with half-away-from-zero
// rounding to the minor unit.
func percentOf(amount int64, pct float64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// Compute resolves the applicable configuration for (tenant, provider,
// source type, currency) and computes the fee breakdown for the amount.
func (e *Engine) Compute(ctx context.Context, tenantID, providerName string, sourceType provider.SourceType, currency money.Currency, amount int64) (*Breakdown, error) {
	configs, err := e.store.FindActive(ctx, tenantID, providerName, sourceType, currency)
	if err != nil {
		return nil, fmt.Errorf("loading fee configs: %w", err)
	}

	if len(configs) == 0 {
		return e.computeDefault(providerName, sourceType, currency, amount), nil
	}

	cfg := configs[0]

	if cfg.waiverInEffect(e.now()) {
		e.logger.Debug("fee waiver applied",
			"tenant_id", tenantID,
			"provider", providerName,
			"source_type", sourceType,
		)
		return &Breakdown{Waived: true}, nil
	}

	providerFee := percentOf(amount, cfg.PercentageFee) + cfg.FixedFeeCents
	if cfg.MinFeeCents != nil && providerFee < *cfg.MinFeeCents {
		providerFee = *cfg.MinFeeCents
	}
	if cfg.MaxFeeCents != nil && providerFee > *cfg.MaxFeeCents {
		providerFee = *cfg.MaxFeeCents
	}

	platformFee := percentOf(amount, cfg.PlatformPercentageFee) + cfg.PlatformFixedFeeCents

	return &Breakdown{
		ProviderFee: providerFee,
		PlatformFee: platformFee,
		TotalFee:    providerFee + platformFee,
		Percentage:  cfg.PercentageFee,
		FixedCents:  cfg.FixedFeeCents,
		MaxCents:    cfg.MaxFeeCents,
	}, nil
}

// computeDefault applies the fallback table. An absent key yields an
// all-zero breakdown, not an error.
func (e *Engine) computeDefault(providerName string, sourceType provider.SourceType, currency money.Currency, amount int64) *Breakdown {
	def, ok := e.defaults[DefaultKey(providerName, sourceType, currency)]
	if !ok {
		return &Breakdown{}
	}

	providerFee := percentOf(amount, def.Percentage) + def.FixedCents
	if def.MaxCents != nil && providerFee > *def.MaxCents {
		providerFee = *def.MaxCents
	}

	return &Breakdown{
		ProviderFee: providerFee,
		TotalFee:    providerFee,
		Percentage:  def.Percentage,
		FixedCents:  def.FixedCents,
		MaxCents:    def.MaxCents,
	}
}

// Estimate is a read-only fee projection for pre-transaction quoting.
type Estimate struct {
	Fees         *Breakdown `json:"fees"`
	NetAmount    int64      `json:"net_amount"`
	FeeRateLabel string     `json:"fee_rate_display"`
	WaiverActive bool       `json:"waiver_active"`
}

// Estimate computes a breakdown plus net amount and display label without
// side effects.
func (e *Engine) Estimate(ctx context.Context, tenantID, providerName string, sourceType provider.SourceType, currency money.Currency, amount int64) (*Estimate, error) {
	breakdown, err := e.Compute(ctx, tenantID, providerName, sourceType, currency, amount)
	if err != nil {
		return nil, err
	}

	return &Estimate{
		Fees:         breakdown,
		NetAmount:    amount - breakdown.TotalFee,
		FeeRateLabel: RateDisplay(breakdown, currency),
		WaiverActive: breakdown.Waived,
	}, nil
}

// RateDisplay renders a human-readable description of the applied rate,
// e.g. "2.9% + $0.30", "$0.50 flat", "No fee" or "Waived".
func RateDisplay(b *Breakdown, currency money.Currency) string {
	if b.Waived {
		return "Waived"
	}

	var label string
	switch {
	case b.Percentage > 0 && b.FixedCents > 0:
		label = fmt.Sprintf("%s%% + %s", trimPct(b.Percentage), money.New(b.FixedCents, currency))
	case b.Percentage > 0:
		label = fmt.Sprintf("%s%%", trimPct(b.Percentage))
	case b.FixedCents > 0:
		label = fmt.Sprintf("%s flat", money.New(b.FixedCents, currency))
	default:
		return "No fee"
	}

	if b.MaxCents != nil {
		label += fmt.Sprintf(" (max %s)", money.New(*b.MaxCents, currency))
	}
	return label
}

// trimPct renders a percentage without trailing zeros.
func trimPct(pct float64) string {
	return decimal.NewFromFloat(pct).String()
}
