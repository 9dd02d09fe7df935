package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ActorRoleClient = "client"
	ActorRoleAdmin  = "admin"
	ActorRoleSystem = "system"
)

// ActorRef names the caller behind an event. System events carry no client.
type ActorRef struct {
	ClientID uuid.UUID `json:"clientId"`
	Role     string    `json:"role,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what gets
// published as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored or published payload and rejects
// envelopes newer than this build understands.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version > CurrentVersion {
		return PayloadEnvelope{}, fmt.Errorf("envelope version %d not supported", envelope.Version)
	}
	if _, err := uuid.Parse(envelope.EventID); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("envelope event id: %w", err)
	}
	return envelope, nil
}
