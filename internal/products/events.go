package products

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventProductCreated       = "ProductCreated"
	EventProductStatusChanged = "ProductStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // product id or tx hash
	Payload       json.RawMessage `json:"payload"`
}

type ProductCreatedPayload struct {
	TxHash string `json:"tx_hash"`
	Name   string `json:"name"`
	Origin string `json:"origin"`
	Signer string `json:"signer"`
}

type StatusChangedPayload struct {
	ProductID  uint64 `json:"product_id"`
	Status     Status `json:"status"`
	ObservedAt int64  `json:"observed_at"`
	TxHash     string `json:"tx_hash"`
	Signer     string `json:"signer"`
}

// NewEnvelope wraps payload in a version 1 envelope with a fresh event id.
func NewEnvelope(eventType, producer, correlationID, traceID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}
