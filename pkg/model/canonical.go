package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every event published to the message bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	ChainID       uint64          `json:"chain_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope around payload for the given topic.
func NewEnvelope(topic, eventType string, chainID uint64, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		ChainID:       chainID,
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}
