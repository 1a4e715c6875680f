package dto

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdateTicketRequest payload for staff edits. AssignedTo stays raw so an
// explicit null can be told apart from an absent field.
type UpdateTicketRequest struct {
	Status       *string         `json:"status"`
	Priority     *string         `json:"priority"`
	HelpfulNotes *string         `json:"helpfulNotes"`
	AssignedTo   json.RawMessage `json:"assignedTo"`
}

// Assignee decodes AssignedTo. set is false when the field was omitted; a
// JSON null yields set with a nil id.
func (r UpdateTicketRequest) Assignee() (set bool, id *string, err error) {
	raw := bytes.TrimSpace(r.AssignedTo)
	if len(raw) == 0 {
		return false, nil, nil
	}
	if bytes.Equal(raw, []byte("null")) {
		return true, nil, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, nil, err
	}
	if value == "" {
		return true, nil, nil
	}
	return true, &value, nil
}

// BulkDeleteRequest lists tickets to remove.
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// TicketSummary is the limited view shown to the ticket's creator.
type TicketSummary struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Status      domain.TicketStatus `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// TicketDetail is the full view shown to staff.
type TicketDetail struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	HelpfulNotes  string                `json:"helpfulNotes"`
	RelatedSkills []string              `json:"relatedSkills"`
	AssignedTo    *string               `json:"assignedTo"`
	CreatedBy     string                `json:"createdBy"`
	TriageState   domain.TriageState    `json:"triageState"`
	TriageError   string                `json:"triageError,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// NewTicketSummary maps a ticket to its limited view.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
	}
}

// NewTicketDetail maps a ticket to its full view.
func NewTicketDetail(t *domain.Ticket) TicketDetail {
	skills := t.RelatedSkills
	if skills == nil {
		skills = []string{}
	}
	return TicketDetail{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		HelpfulNotes:  t.HelpfulNotes,
		RelatedSkills: skills,
		AssignedTo:    t.AssignedTo,
		CreatedBy:     t.CreatedBy,
		TriageState:   t.TriageState,
		TriageError:   t.TriageError,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID            string                  `json:"id"`
	ChangedByType domain.ActorType        `json:"changedByType"`
	ChangedByID   *string                 `json:"changedById"`
	ChangeType    domain.TicketChangeType `json:"changeType"`
	OldValue      map[string]any          `json:"oldValue"`
	NewValue      map[string]any          `json:"newValue"`
	CreatedAt     time.Time               `json:"createdAt"`
}

// NewTicketHistoryResponse maps an audit entry.
func NewTicketHistoryResponse(h *domain.TicketHistory) TicketHistoryResponse {
	return TicketHistoryResponse{
		ID:            h.ID,
		ChangedByType: h.ChangedByType,
		ChangedByID:   h.ChangedByID,
		ChangeType:    h.ChangeType,
		OldValue:      h.OldValue,
		NewValue:      h.NewValue,
		CreatedAt:     h.CreatedAt,
	}
}
