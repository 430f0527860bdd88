package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"fundcore/internal/common/money"
)

type fakeAdapter struct {
	name        string
	displayName string
	available   bool
	caps        []Capability
}

func (a *fakeAdapter) Name() string            { return a.name }
func (a *fakeAdapter) DisplayName() string     { return a.displayName }
func (a *fakeAdapter) Available() bool         { return a.available }
func (a *fakeAdapter) Capabilities() []Capability { return a.caps }

func (a *fakeAdapter) CreateSource(ctx context.Context, tenantID string, params CreateSourceParams) (*SourceResult, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) VerifySource(ctx context.Context, tenantID string, source *SourceRef, params VerifySourceParams) (*VerificationResult, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) RemoveSource(ctx context.Context, tenantID string, source *SourceRef) error {
	return errors.New("not implemented")
}

func (a *fakeAdapter) InitiateFunding(ctx context.Context, tenantID string, source *SourceRef, params FundingParams) (*FundingResult, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) ParseWebhook(payload []byte, signature string, headers map[string]string) (*WebhookEvent, error) {
	return nil, errors.New("not implemented")
}

func cardAdapter(name string, currencies ...money.Currency) *fakeAdapter {
	return &fakeAdapter{
		name:        name,
		displayName: name,
		available:   true,
		caps: []Capability{
			{SourceType: SourceTypeCard, Currencies: currencies},
		},
	}
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolve(t *testing.T) {
	r := newTestRegistry()
	adapter := cardAdapter("stripe", money.USD)
	r.Register(adapter)

	got, err := r.Resolve("stripe", SourceTypeCard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != adapter {
		t.Fatal("resolved the wrong adapter")
	}
}

func TestResolveUnregistered(t *testing.T) {
	r := newTestRegistry()
	r.Register(cardAdapter("stripe", money.USD))

	_, err := r.Resolve("stripe", SourceTypeBankAccount)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}

	_, err = r.Resolve("plaid", SourceTypeCard)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegisterLastWins(t *testing.T) {
	r := newTestRegistry()
	first := cardAdapter("stripe", money.USD)
	second := cardAdapter("stripe", money.USD, money.EUR)
	r.Register(first)
	r.Register(second)

	got, err := r.Resolve("stripe", SourceTypeCard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != second {
		t.Fatal("expected the later registration to win")
	}
}

func TestFindAnyRegistrationOrder(t *testing.T) {
	r := newTestRegistry()
	first := cardAdapter("alpha", money.USD)
	second := cardAdapter("beta", money.USD)
	r.Register(first)
	r.Register(second)

	got, ok := r.FindAny(SourceTypeCard, money.USD)
	if !ok {
		t.Fatal("expected a match")
	}
	if got != first {
		t.Fatal("expected the first registered adapter")
	}
}

func TestFindAnyFiltersCurrency(t *testing.T) {
	r := newTestRegistry()
	r.Register(cardAdapter("usd-only", money.USD))
	eur := cardAdapter("eur", money.EUR)
	r.Register(eur)

	got, ok := r.FindAny(SourceTypeCard, money.EUR)
	if !ok {
		t.Fatal("expected a match")
	}
	if got != eur {
		t.Fatal("expected the EUR-capable adapter")
	}

	if _, ok := r.FindAny(SourceTypeCard, money.JPY); ok {
		t.Fatal("expected no match for JPY")
	}
}

func TestListProvidersDedup(t *testing.T) {
	r := newTestRegistry()
	multi := &fakeAdapter{
		name:        "stripe",
		displayName: "Stripe",
		available:   true,
		caps: []Capability{
			{SourceType: SourceTypeCard, Currencies: []money.Currency{money.USD}},
			{SourceType: SourceTypeBankAccount, Currencies: []money.Currency{money.USD}},
		},
	}
	r.Register(multi)
	r.Register(cardAdapter("plaid", money.USD))

	summaries := r.ListProviders()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Name != "stripe" || summaries[1].Name != "plaid" {
		t.Fatalf("unexpected order: %+v", summaries)
	}
	if len(summaries[0].Capabilities) != 2 {
		t.Fatalf("expected both capabilities on the stripe summary, got %d", len(summaries[0].Capabilities))
	}
}

func TestCapabilitySupports(t *testing.T) {
	cap := Capability{SourceType: SourceTypeCard, Currencies: []money.Currency{money.USD, money.EUR}}

	if !cap.Supports(money.USD) {
		t.Fatal("expected USD support")
	}
	if cap.Supports(money.JPY) {
		t.Fatal("did not expect JPY support")
	}
}
