// Package fx produces exchange-rate quotes and executed conversions between
// currency pairs, settling into a configured stablecoin.
package fx

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"fundcore/internal/common/money"
)

// ErrConversionUnavailable is returned when no rate path exists between the
// requested pair.
var ErrConversionUnavailable = errors.New("no conversion path available")

// DefaultQuoteTTL is how long an issued quote stays valid.
const DefaultQuoteTTL = 30 * time.Second

// DefaultConversionFeeRate is the flat conversion fee applied to the source
// amount (0.1%).
const DefaultConversionFeeRate = 0.001

// Options tune the engine; zero values fall back to defaults.
type Options struct {
	// Stablecoin is the settlement currency assumed 1:1 with USD.
	Stablecoin money.Currency
	// ConversionFeeRate is the flat fee rate applied to the source amount.
	ConversionFeeRate float64
	// QuoteTTL bounds quote validity.
	QuoteTTL time.Duration
}

// Engine resolves rates from a configured direct-rate table.
type Engine struct {
	rates      map[string]decimal.Decimal
	stablecoin money.Currency
	feeRate    decimal.Decimal
	quoteTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates a conversion engine from a direct rate table keyed
// "FROM:TO".
func NewEngine(rates map[string]float64, opts Options, logger *slog.Logger) *Engine {
	if opts.Stablecoin == "" {
		opts.Stablecoin = money.USDC
	}
	if opts.ConversionFeeRate == 0 {
		opts.ConversionFeeRate = DefaultConversionFeeRate
	}
	if opts.QuoteTTL == 0 {
		opts.QuoteTTL = DefaultQuoteTTL
	}

	table := make(map[string]decimal.Decimal, len(rates))
	for pair, rate := range rates {
		table[pair] = decimal.NewFromFloat(rate)
	}

	return &Engine{
		rates:      table,
		stablecoin: opts.Stablecoin,
		feeRate:    decimal.NewFromFloat(opts.ConversionFeeRate),
		quoteTTL:   opts.QuoteTTL,
		logger:     logger,
		now:        time.Now,
	}
}

func rateKey(from, to money.Currency) string {
	return fmt.Sprintf("%s:%s", from, to)
}

// Rate resolves the exchange rate for a pair: identity, direct lookup,
// stablecoin bridge via "{from}:USD", then inverse lookup.
func (e *Engine) Rate(from, to money.Currency) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	if rate, ok := e.rates[rateKey(from, to)]; ok {
		return rate, nil
	}

	// USD and the settlement stablecoin are assumed 1:1, and any pair with a
	// USD rate reaches the stablecoin through that peg.
	if (from == money.USD && to == e.stablecoin) || (from == e.stablecoin && to == money.USD) {
		return decimal.NewFromInt(1), nil
	}
	if to == e.stablecoin {
		if rate, ok := e.rates[rateKey(from, money.USD)]; ok {
			return rate, nil
		}
	}

	if inverse, ok := e.rates[rateKey(to, from)]; ok {
		return decimal.NewFromInt(1).Div(inverse), nil
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %s to %s", ErrConversionUnavailable, from, to)
}

// Quote is a time-bounded, non-binding conversion computation. Amounts are
// minor units; the fee is charged in the source currency.
type Quote struct {
	ID            string          `json:"id"`
	FromCurrency  money.Currency  `json:"from_currency"`
	ToCurrency    money.Currency  `json:"to_currency"`
	FromAmount    int64           `json:"from_amount"`
	ToAmount      int64           `json:"to_amount"`
	Rate          decimal.Decimal `json:"rate"`
	ConversionFee int64           `json:"conversion_fee"`
	NetAmount     int64           `json:"net_amount"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Expired reports whether the quote is past its validity window.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// GetQuote computes a forward quote for a source amount.
func (e *Engine) GetQuote(from, to money.Currency, fromAmount int64) (*Quote, error) {
	rate, err := e.Rate(from, to)
	if err != nil {
		return nil, err
	}
	return e.buildQuote(from, to, fromAmount, rate), nil
}

// GetReverseQuote solves for the source amount required to deliver the given
// destination amount, then applies the forward formula so round trips stay
// within rounding tolerance.
func (e *Engine) GetReverseQuote(from, to money.Currency, toAmount int64) (*Quote, error) {
	rate, err := e.Rate(from, to)
	if err != nil {
		return nil, err
	}

	fromAmount := decimal.NewFromInt(toAmount).Div(rate).Round(0).IntPart()
	return e.buildQuote(from, to, fromAmount, rate), nil
}

func (e *Engine) buildQuote(from, to money.Currency, fromAmount int64, rate decimal.Decimal) *Quote {
	src := decimal.NewFromInt(fromAmount)
	converted := src.Mul(rate).Round(0).IntPart()
	fee := src.Mul(e.feeRate).Round(0).IntPart()
	net := converted - decimal.NewFromInt(fee).Mul(rate).Round(0).IntPart()

	now := e.now()
	return &Quote{
		ID:            ulid.Make().String(),
		FromCurrency:  from,
		ToCurrency:    to,
		FromAmount:    fromAmount,
		ToAmount:      converted,
		Rate:          rate,
		ConversionFee: fee,
		NetAmount:     net,
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.quoteTTL),
	}
}

// ResultStatus is the outcome of an executed conversion.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// Result records an executed conversion.
type Result struct {
	ID            string          `json:"id"`
	Status        ResultStatus    `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	FromCurrency  money.Currency  `json:"from_currency"`
	ToCurrency    money.Currency  `json:"to_currency"`
	FromAmount    int64           `json:"from_amount"`
	ToAmount      int64           `json:"to_amount"`
	Rate          decimal.Decimal `json:"rate"`
	ConversionFee int64           `json:"conversion_fee"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// Execute performs a conversion, re-resolving the rate rather than replaying
// a quote. A 1:1 path into the stablecoin subtracts the fee directly from the
// amount to avoid rounding drift on the dominant no-FX case.
func (e *Engine) Execute(from, to money.Currency, fromAmount int64) (*Result, error) {
	rate, err := e.Rate(from, to)
	if err != nil {
		result := &Result{
			ID:            ulid.Make().String(),
			Status:        ResultFailed,
			FailureReason: err.Error(),
			FromCurrency:  from,
			ToCurrency:    to,
			FromAmount:    fromAmount,
		}
		return result, err
	}

	src := decimal.NewFromInt(fromAmount)
	fee := src.Mul(e.feeRate).Round(0).IntPart()

	var toAmount int64
	if rate.Equal(decimal.NewFromInt(1)) && (from == to || to == e.stablecoin) {
		toAmount = fromAmount - fee
	} else {
		converted := src.Mul(rate).Round(0).IntPart()
		toAmount = converted - decimal.NewFromInt(fee).Mul(rate).Round(0).IntPart()
	}

	result := &Result{
		ID:            ulid.Make().String(),
		Status:        ResultCompleted,
		FromCurrency:  from,
		ToCurrency:    to,
		FromAmount:    fromAmount,
		ToAmount:      toAmount,
		Rate:          rate,
		ConversionFee: fee,
		CompletedAt:   e.now(),
	}

	e.logger.Info("conversion executed",
		"from", from,
		"to", to,
		"from_amount", fromAmount,
		"to_amount", toAmount,
		"rate", rate.String(),
	)

	return result, nil
}

// Pair is one directly configured rate-table entry.
type Pair struct {
	From money.Currency  `json:"from"`
	To   money.Currency  `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

// SupportedPairs enumerates the directly configured entries only; inverse
// and bridged pairs are not listed.
func (e *Engine) SupportedPairs() []Pair {
	keys := make([]string, 0, len(e.rates))
	for k := range e.rates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]Pair, 0, len(keys))
	for _, k := range keys {
		from, to, ok := strings.Cut(k, ":")
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{
			From: money.Currency(from),
			To:   money.Currency(to),
			Rate: e.rates[k],
		})
	}
	return pairs
}
