package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	// EventTicketCreated starts triage for a ticket. It is also re-emitted on
	// manual re-triage.
	EventTicketCreated EventType = "ticket/created"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type   domain.ActorType `json:"type"`
	UserID *string          `json:"user_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketID    string `json:"ticketId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}

// NewTicketCreated builds the event that triggers triage for ticket.
func NewTicketCreated(ticket *domain.Ticket, actor Actor) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventTicketCreated,
		TicketID:  ticket.ID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload: TicketCreatedPayload{
			TicketID:    ticket.ID,
			Title:       ticket.Title,
			Description: ticket.Description,
			CreatedBy:   ticket.CreatedBy,
		},
	}
}

// Marshal encodes the event for transport.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes an event and types its payload by event type.
func UnmarshalEvent(data []byte) (Event, error) {
	var wire struct {
		Event
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	event := wire.Event

	switch event.Type {
	case EventTicketCreated:
		var payload TicketCreatedPayload
		if len(wire.Payload) > 0 && string(wire.Payload) != "null" {
			if err := json.Unmarshal(wire.Payload, &payload); err != nil {
				return Event{}, fmt.Errorf("decode %s payload: %w", event.Type, err)
			}
		}
		if event.TicketID == "" {
			event.TicketID = payload.TicketID
		}
		event.Payload = payload
	default:
		return Event{}, fmt.Errorf("unknown event type %q", event.Type)
	}

	if event.TicketID == "" {
		return Event{}, fmt.Errorf("%s event without ticket id", event.Type)
	}
	return event, nil
}
