package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets. The empty value marks a
// ticket that has not entered triage yet.
type TicketStatus string

const (
	TicketStatusTodo       TicketStatus = "TODO"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusDone       TicketStatus = "DONE"
)

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusTodo, TicketStatusInProgress, TicketStatusDone:
		return true
	}
	return false
}

// TicketPriority enumerates urgency. Empty until classified.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// ParsePriority maps free text onto a priority, defaulting to medium.
func ParsePriority(raw string) TicketPriority {
	p := TicketPriority(strings.ToLower(strings.TrimSpace(raw)))
	if p.Valid() {
		return p
	}
	return TicketPriorityMedium
}

// TriageState tracks how far automated triage progressed for a ticket.
type TriageState string

const (
	TriageStateCreated     TriageState = "CREATED"
	TriageStateClassifying TriageState = "CLASSIFYING"
	TriageStateAssigning   TriageState = "ASSIGNING"
	TriageStateAssigned    TriageState = "ASSIGNED"
	TriageStateUnassigned  TriageState = "UNASSIGNED"
)

// Terminal reports whether triage has finished for this state.
func (s TriageState) Terminal() bool {
	return s == TriageStateAssigned || s == TriageStateUnassigned
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string
	Title         string
	Description   string
	Status        TicketStatus
	Priority      TicketPriority
	HelpfulNotes  string
	RelatedSkills []string
	AssignedTo    *string
	CreatedBy     string
	TriageState   TriageState
	TriageError   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TicketPatch is a partial update. Nil fields are left untouched; SetAssignee
// distinguishes clearing the assignee from leaving it alone.
type TicketPatch struct {
	Status        *TicketStatus
	Priority      *TicketPriority
	HelpfulNotes  *string
	RelatedSkills *[]string
	SetAssignee   bool
	AssignedTo    *string
	TriageState   *TriageState
	TriageError   *string
}

// Empty reports whether the patch changes nothing.
func (p TicketPatch) Empty() bool {
	return p.Status == nil && p.Priority == nil && p.HelpfulNotes == nil &&
		p.RelatedSkills == nil && !p.SetAssignee && p.TriageState == nil && p.TriageError == nil
}

// Apply copies the patched fields onto t.
func (p TicketPatch) Apply(t *Ticket) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.HelpfulNotes != nil {
		t.HelpfulNotes = *p.HelpfulNotes
	}
	if p.RelatedSkills != nil {
		t.RelatedSkills = append([]string{}, (*p.RelatedSkills)...)
	}
	if p.SetAssignee {
		if p.AssignedTo == nil {
			t.AssignedTo = nil
		} else {
			id := *p.AssignedTo
			t.AssignedTo = &id
		}
	}
	if p.TriageState != nil {
		t.TriageState = *p.TriageState
	}
	if p.TriageError != nil {
		t.TriageError = *p.TriageError
	}
}

// Classification is the outcome of triaging a ticket's text.
type Classification struct {
	Summary       string         `json:"summary"`
	Priority      TicketPriority `json:"priority"`
	HelpfulNotes  string         `json:"helpfulNotes"`
	RelatedSkills []string       `json:"relatedSkills"`
}
