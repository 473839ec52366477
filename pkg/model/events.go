package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical event wrapper published on NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Venue         string          `json:"venue"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// InstrumentsLoadedEvent announces a completed instrument load.
type InstrumentsLoadedEvent struct {
	Venue      string    `json:"venue"`
	Count      int       `json:"count"`
	Trigger    string    `json:"trigger"` // "initialize" | "refresh" | "api"
	LoadedAt   time.Time `json:"loaded_at"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}
