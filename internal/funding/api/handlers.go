package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fundcore/internal/common/api"
	"fundcore/internal/common/middleware"
	"fundcore/internal/common/money"
	"fundcore/internal/funding"
	"fundcore/internal/fx"
	"fundcore/internal/provider"
)

// Handler handles funding HTTP requests
type Handler struct {
	service *funding.Service
}

// NewHandler creates a new funding handler
func NewHandler(service *funding.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the funding routes. Webhook routes carry no tenant header;
// everything else requires one.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireTenant)

		r.Post("/sources", h.CreateSource)
		r.Get("/sources", h.ListSources)
		r.Get("/sources/{id}", h.GetSource)
		r.Post("/sources/{id}/verify", h.VerifySource)
		r.Post("/sources/{id}/suspend", h.SuspendSource)
		r.Post("/sources/{id}/resume", h.ResumeSource)
		r.Delete("/sources/{id}", h.RemoveSource)

		r.Post("/transactions", h.InitiateFunding)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{id}", h.GetTransaction)

		r.Post("/fees/estimate", h.EstimateFees)
	})

	r.Get("/providers", h.ListProviders)
	r.Get("/fx/quote", h.GetQuote)
	r.Get("/fx/pairs", h.ListPairs)

	r.Post("/webhooks/{provider}/{source_type}", h.HandleWebhook)

	return r
}

// CreateSource handles POST /sources
func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req funding.CreateSourceRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	source, err := h.service.CreateSource(r.Context(), tenantID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, source)
}

// ListSources handles GET /sources
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	accountID := r.URL.Query().Get("account_id")

	sources, err := h.service.ListSources(r.Context(), tenantID, accountID)
	if err != nil {
		api.InternalError(w, "failed to list sources")
		return
	}

	api.WriteData(w, http.StatusOK, sources)
}

// GetSource handles GET /sources/{id}
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	source, err := h.service.GetSource(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, source)
}

// VerifySourceRequest carries verification input.
type VerifySourceRequest struct {
	Amounts []int64 `json:"amounts"`
	Code    string  `json:"code"`
}

// VerifySource handles POST /sources/{id}/verify
func (h *Handler) VerifySource(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	var req VerifySourceRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	source, err := h.service.VerifySource(r.Context(), tenantID, id, provider.VerifySourceParams{
		Amounts: req.Amounts,
		Code:    req.Code,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, source)
}

// SuspendSourceRequest carries an optional operator reason.
type SuspendSourceRequest struct {
	Reason string `json:"reason"`
}

// SuspendSource handles POST /sources/{id}/suspend
func (h *Handler) SuspendSource(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	var req SuspendSourceRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := api.DecodeAndValidate(r, &req); err != nil {
			api.ValidationError(w, err)
			return
		}
	}

	source, err := h.service.SuspendSource(r.Context(), tenantID, id, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, source)
}

// ResumeSource handles POST /sources/{id}/resume
func (h *Handler) ResumeSource(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	source, err := h.service.ResumeSource(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, source)
}

// RemoveSource handles DELETE /sources/{id}
func (h *Handler) RemoveSource(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	source, err := h.service.RemoveSource(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, source)
}

// InitiateFunding handles POST /transactions
func (h *Handler) InitiateFunding(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req funding.FundingRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	txn, err := h.service.InitiateFunding(r.Context(), tenantID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, txn)
}

// ListTransactions handles GET /transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	sourceID := r.URL.Query().Get("source_id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	txns, err := h.service.ListTransactions(r.Context(), tenantID, sourceID, limit)
	if err != nil {
		api.InternalError(w, "failed to list transactions")
		return
	}

	api.WriteData(w, http.StatusOK, txns)
}

// GetTransaction handles GET /transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	id := chi.URLParam(r, "id")

	txn, err := h.service.GetTransaction(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, txn)
}

// EstimateFeesRequest is the API request for a fee estimate.
type EstimateFeesRequest struct {
	Provider    string `json:"provider" validate:"required"`
	SourceType  string `json:"source_type" validate:"required,oneof=card bank_account crypto_wallet"`
	Currency    string `json:"currency" validate:"required,min=3,max=4"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
}

// EstimateFees handles POST /fees/estimate
func (h *Handler) EstimateFees(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req EstimateFeesRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	estimate, err := h.service.EstimateFees(r.Context(), tenantID, req.Provider,
		provider.SourceType(req.SourceType), money.Currency(req.Currency), req.AmountCents)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, estimate)
}

// ListProviders handles GET /providers
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, h.service.ListProviders())
}

// GetQuote handles GET /fx/quote?from=BRL&to=USDC&amount=100000
// Passing to_amount instead of amount solves for the source amount.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	from := money.Currency(r.URL.Query().Get("from"))
	to := money.Currency(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		api.BadRequest(w, "from and to currencies required")
		return
	}

	var quote *fx.Quote
	var err error
	if v := r.URL.Query().Get("to_amount"); v != "" {
		toAmount, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || toAmount <= 0 {
			api.BadRequest(w, "to_amount must be a positive integer")
			return
		}
		quote, err = h.service.GetReverseQuote(from, to, toAmount)
	} else {
		amount, perr := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
		if perr != nil || amount <= 0 {
			api.BadRequest(w, "amount must be a positive integer")
			return
		}
		quote, err = h.service.GetQuote(from, to, amount)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, quote)
}

// ListPairs handles GET /fx/pairs
func (h *Handler) ListPairs(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, h.service.SupportedPairs())
}

// HandleWebhook handles POST /webhooks/{provider}/{source_type}
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	sourceType := provider.SourceType(chi.URLParam(r, "source_type"))

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		api.BadRequest(w, "failed to read webhook body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Webhook-Signature")
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	outcome, err := h.service.ProcessWebhook(r.Context(), providerName, sourceType, payload, signature, headers)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, outcome)
}

// writeServiceError maps service errors to API responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, funding.ErrNotFound):
		api.NotFound(w, err.Error())
	case errors.Is(err, fx.ErrConversionUnavailable):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeUnavailable, err.Error())
	case funding.IsValidationError(err):
		api.BadRequest(w, err.Error())
	case funding.IsProviderError(err):
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeProviderError, err.Error())
	default:
		api.InternalError(w, "internal error")
	}
}
