package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/repository"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// TicketService exposes ticket workflows for end users and staff.
type TicketService struct {
	tickets   repository.TicketRepository
	users     repository.UserRepository
	history   repository.TicketHistoryRepository
	publisher events.Publisher
	logger    *zap.Logger
}

// TicketDependencies bundles repositories and the event publisher.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.TicketHistoryRepository
	Publisher   events.Publisher
	Logger      *zap.Logger
}

// NewTicketService wires a ticket service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:   deps.TicketRepo,
		users:     deps.UserRepo,
		history:   deps.HistoryRepo,
		publisher: deps.Publisher,
		logger:    logger,
	}
}

// TicketCreateInput describes a new ticket.
type TicketCreateInput struct {
	Title       string
	Description string
}

// TicketListInput carries raw list query values.
type TicketListInput struct {
	Page   int
	Limit  int
	Status string
	Search string
}

// TicketPage is one page of a ticket listing.
type TicketPage struct {
	Tickets    []domain.Ticket
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// TicketUpdateInput holds optional staff edits. SetAssignee with a nil
// AssignedTo clears the assignee.
type TicketUpdateInput struct {
	Status       *string
	Priority     *string
	HelpfulNotes *string
	SetAssignee  bool
	AssignedTo   *string
}

// CreateTicket persists a new ticket and hands it to triage. The ticket is
// returned even when dispatch fails; it can be re-triaged later.
func (s *TicketService) CreateTicket(ctx context.Context, actor *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	details := map[string]any{}
	if title == "" {
		details["title"] = "required"
	}
	if description == "" {
		details["description"] = "required"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("title and description are required", details)
	}

	ticket := &domain.Ticket{
		Title:         title,
		Description:   description,
		RelatedSkills: []string{},
		CreatedBy:     actor.ID,
		TriageState:   domain.TriageStateCreated,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	if err := s.publish(ctx, events.NewTicketCreated(ticket, userActor(actor.ID))); err != nil {
		s.logger.Error("failed to dispatch ticket for triage",
			zap.String("ticket_id", ticket.ID),
			zap.Error(err),
		)
	}
	return ticket, nil
}

// ListTickets returns a page of tickets. Plain users only see their own.
func (s *TicketService) ListTickets(ctx context.Context, actor *domain.User, input TicketListInput) (*TicketPage, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}

	filter := repository.TicketFilter{Search: strings.TrimSpace(input.Search)}
	if status := strings.ToUpper(strings.TrimSpace(input.Status)); status != "" && status != "ALL" {
		st := domain.TicketStatus(status)
		if !st.Valid() {
			return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": input.Status})
		}
		filter.Status = &st
	}
	if actor.Role == domain.RoleUser {
		filter.CreatedBy = &actor.ID
	}

	page, limit := clampPaging(input.Page, input.Limit)
	filter.Page = repository.Page{Limit: limit, Offset: (page - 1) * limit}
	tickets, total, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	totalPages := totalPagesFor(total, limit)
	if page > totalPages {
		page = totalPages
		filter.Page.Offset = (page - 1) * limit
		if tickets, total, err = s.tickets.List(ctx, filter); err != nil {
			return nil, apperrors.MapError(err)
		}
	}

	return &TicketPage{
		Tickets:    tickets,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// GetTicket loads a ticket. Users asking for someone else's ticket get not found.
func (s *TicketService) GetTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleUser && ticket.CreatedBy != actor.ID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// UpdateTicket applies staff edits and records an audit entry per changed field.
func (s *TicketService) UpdateTicket(ctx context.Context, actor *domain.User, ticketID string, input TicketUpdateInput) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	if !actor.Role.Staff() {
		return nil, apperrors.NewForbidden("staff role required")
	}

	patch, err := s.buildPatch(ctx, input)
	if err != nil {
		return nil, err
	}

	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.tickets.Patch(ctx, ticketID, patch); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.recordChanges(ctx, actor, ticket, patch)

	updated, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTicket removes one ticket.
func (s *TicketService) DeleteTicket(ctx context.Context, ticketID string) error {
	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}
	return nil
}

// DeleteTickets removes every listed ticket and reports how many existed.
func (s *TicketService) DeleteTickets(ctx context.Context, ids []string) (int, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return 0, apperrors.NewValidationError("ids must contain at least one ticket id", nil)
	}

	deleted, err := s.tickets.DeleteMany(ctx, unique)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	return deleted, nil
}

// RetriageTicket dispatches the ticket to triage again. Closed tickets are
// refused.
func (s *TicketService) RetriageTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusDone {
		return nil, apperrors.NewConflict("ticket is already done", map[string]any{"ticket_id": ticketID})
	}
	if err := s.publish(ctx, events.NewTicketCreated(ticket, userActor(actor.ID))); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return ticket, nil
}

// TicketHistory lists a ticket's audit trail, oldest first.
func (s *TicketService) TicketHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.load(ctx, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func (s *TicketService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *TicketService) buildPatch(ctx context.Context, input TicketUpdateInput) (domain.TicketPatch, error) {
	var patch domain.TicketPatch

	if input.Status != nil {
		status := domain.TicketStatus(strings.ToUpper(strings.TrimSpace(*input.Status)))
		if !status.Valid() {
			return patch, apperrors.NewValidationError("invalid status", map[string]any{"status": *input.Status})
		}
		patch.Status = &status
	}
	if input.Priority != nil {
		priority := domain.TicketPriority(strings.ToLower(strings.TrimSpace(*input.Priority)))
		if !priority.Valid() {
			return patch, apperrors.NewValidationError("invalid priority", map[string]any{"priority": *input.Priority})
		}
		patch.Priority = &priority
	}
	if input.HelpfulNotes != nil {
		notes := *input.HelpfulNotes
		patch.HelpfulNotes = &notes
	}
	if input.SetAssignee {
		patch.SetAssignee = true
		if input.AssignedTo != nil {
			assignee, err := s.staffMember(ctx, *input.AssignedTo)
			if err != nil {
				return patch, err
			}
			patch.AssignedTo = &assignee.ID
		}
	}

	if patch.Empty() {
		return patch, apperrors.NewValidationError("no updatable fields supplied", nil)
	}
	return patch, nil
}

func (s *TicketService) staffMember(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, strings.TrimSpace(userID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewValidationError("assignee not found", map[string]any{"assignedTo": userID})
		}
		return nil, apperrors.MapError(err)
	}
	if !user.Role.Staff() {
		return nil, apperrors.NewValidationError("assignee must be a moderator or admin", map[string]any{"assignedTo": userID})
	}
	return user, nil
}

func (s *TicketService) recordChanges(ctx context.Context, actor *domain.User, before *domain.Ticket, patch domain.TicketPatch) {
	if patch.Status != nil && *patch.Status != before.Status {
		s.recordChange(ctx, actor, before.ID, domain.ChangeTypeStatus,
			map[string]any{"status": before.Status}, map[string]any{"status": *patch.Status})
	}
	if patch.Priority != nil && *patch.Priority != before.Priority {
		s.recordChange(ctx, actor, before.ID, domain.ChangeTypePriority,
			map[string]any{"priority": before.Priority}, map[string]any{"priority": *patch.Priority})
	}
	if patch.HelpfulNotes != nil && *patch.HelpfulNotes != before.HelpfulNotes {
		s.recordChange(ctx, actor, before.ID, domain.ChangeTypeNotes,
			map[string]any{"helpful_notes": before.HelpfulNotes}, map[string]any{"helpful_notes": *patch.HelpfulNotes})
	}
	if patch.SetAssignee && !sameAssignee(before.AssignedTo, patch.AssignedTo) {
		s.recordChange(ctx, actor, before.ID, domain.ChangeTypeAssignee,
			map[string]any{"assigned_to": optional(before.AssignedTo)}, map[string]any{"assigned_to": optional(patch.AssignedTo)})
	}
}

func (s *TicketService) recordChange(ctx context.Context, actor *domain.User, ticketID string, change domain.TicketChangeType, oldValue, newValue map[string]any) {
	entry := &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: domain.ActorTypeUser,
		ChangedByID:   &actor.ID,
		ChangeType:    change,
		OldValue:      oldValue,
		NewValue:      newValue,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record ticket history",
			zap.String("ticket_id", ticketID),
			zap.String("change_type", string(change)),
			zap.Error(err),
		)
	}
}

// publish hands the event to the dispatcher. Inline dispatch runs triage
// within this call, so it must outlive a disconnecting client.
func (s *TicketService) publish(ctx context.Context, event events.Event) error {
	if s.publisher == nil {
		return errors.New("no event publisher configured")
	}
	return s.publisher.Publish(context.WithoutCancel(ctx), event)
}

func userActor(userID string) events.Actor {
	id := userID
	return events.Actor{Type: domain.ActorTypeUser, UserID: &id}
}

func clampPaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	return page, limit
}

func totalPagesFor(total, limit int) int {
	pages := int(math.Ceil(float64(total) / float64(limit)))
	if pages < 1 {
		return 1
	}
	return pages
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
