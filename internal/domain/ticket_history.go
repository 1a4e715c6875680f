package domain

import "time"

// ActorType indicates who made a change.
type ActorType string

const (
	ActorTypeUser   ActorType = "USER"
	ActorTypeSystem ActorType = "SYSTEM"
)

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeStatus         TicketChangeType = "STATUS_CHANGE"
	ChangeTypeAssignee       TicketChangeType = "ASSIGNEE_CHANGE"
	ChangeTypePriority       TicketChangeType = "PRIORITY_CHANGE"
	ChangeTypeNotes          TicketChangeType = "NOTES_CHANGE"
	ChangeTypeClassification TicketChangeType = "CLASSIFICATION"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByType ActorType
	ChangedByID   *string
	ChangeType    TicketChangeType
	OldValue      map[string]any
	NewValue      map[string]any
	CreatedAt     time.Time
}
