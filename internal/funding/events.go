package funding

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"fundcore/internal/common/money"
	"fundcore/internal/provider"
)

// NATS subjects for funding events
const (
	SubjectSourceCreated     = "funding.source.created"
	SubjectSourceStatus      = "funding.source.status"
	SubjectTransactionCreate = "funding.transaction.created"
	SubjectTransactionStatus = "funding.transaction.status"
)

// EventType identifies the type of funding event.
type EventType string

const (
	EventSourceCreated      EventType = "funding.source.created"
	EventSourceStatusMoved  EventType = "funding.source.status"
	EventTransactionCreated EventType = "funding.transaction.created"
	EventTransactionUpdated EventType = "funding.transaction.status"
)

// Envelope wraps all events with common metadata.
type Envelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	TenantID      string          `json:"tenant_id"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope.
func NewEnvelope(eventType EventType, tenantID, correlationID string, data any) (*Envelope, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          jsonData,
	}, nil
}

// SourceCreatedEvent is published when a funding source is created.
type SourceCreatedEvent struct {
	SourceID   string              `json:"source_id"`
	AccountID  string              `json:"account_id"`
	Provider   string              `json:"provider"`
	SourceType provider.SourceType `json:"source_type"`
	Status     SourceStatus        `json:"status"`
}

// SourceStatusEvent is published on a source status move.
type SourceStatusEvent struct {
	SourceID string       `json:"source_id"`
	From     SourceStatus `json:"from"`
	To       SourceStatus `json:"to"`
	Reason   string       `json:"reason,omitempty"`
}

// TransactionCreatedEvent is published when a funding transaction is created.
type TransactionCreatedEvent struct {
	TransactionID string            `json:"transaction_id"`
	SourceID      string            `json:"source_id"`
	AccountID     string            `json:"account_id"`
	Amount        money.Money       `json:"amount"`
	TotalFeeCents int64             `json:"total_fee_cents"`
	Status        TransactionStatus `json:"status"`
}

// TransactionStatusEvent is the normalized status update from any provider.
type TransactionStatusEvent struct {
	TransactionID string            `json:"transaction_id"`
	SourceID      string            `json:"source_id"`
	Status        TransactionStatus `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Amount        money.Money       `json:"amount"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}
