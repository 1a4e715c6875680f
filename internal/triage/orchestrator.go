package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/notify"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/repository"
)

// notifyTimeout bounds the assignee notification so a stalled transport
// cannot pin a triage run.
const notifyTimeout = 30 * time.Second

// Run outcomes, used as the triage_runs_total label.
const (
	OutcomeAssigned   = "assigned"
	OutcomeUnassigned = "unassigned"
	OutcomeSkipped    = "skipped"
	OutcomeMissing    = "missing"
	OutcomeError      = "error"
)

// TicketStore is the slice of ticket persistence triage needs.
type TicketStore interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Patch(ctx context.Context, id string, patch domain.TicketPatch) error
}

// HistoryRecorder appends audit entries.
type HistoryRecorder interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
}

// TicketClassifier produces a classification for ticket text.
type TicketClassifier interface {
	Classify(ctx context.Context, t TicketText) (domain.Classification, error)
}

// AssigneeResolver picks an assignee for a set of skills.
type AssigneeResolver interface {
	Resolve(ctx context.Context, skills []string) (*domain.User, error)
}

// OrchestratorDependencies wires an Orchestrator.
type OrchestratorDependencies struct {
	Tickets    TicketStore
	History    HistoryRecorder
	Classifier TicketClassifier
	Resolver   AssigneeResolver
	Notifier   notify.Sender
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Orchestrator runs the triage state machine for one ticket at a time. It
// holds no per-ticket state, so concurrent runs for different tickets are safe.
type Orchestrator struct {
	tickets    TicketStore
	history    HistoryRecorder
	classifier TicketClassifier
	resolver   AssigneeResolver
	notifier   notify.Sender
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(deps OrchestratorDependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogSender(logger)
	}
	return &Orchestrator{
		tickets:    deps.Tickets,
		history:    deps.History,
		classifier: deps.Classifier,
		resolver:   deps.Resolver,
		notifier:   notifier,
		logger:     logger,
		metrics:    deps.Metrics,
	}
}

// Run triages the ticket. Classification and notification failures are
// recorded and contained; only ticket store and user directory failures are
// returned, so the caller can redeliver. Running twice for the same ticket
// converges on the same fields.
func (o *Orchestrator) Run(ctx context.Context, ticketID string) error {
	start := time.Now()
	outcome, err := o.run(ctx, ticketID)
	if err != nil {
		outcome = OutcomeError
	}
	o.metrics.RecordTriage(outcome, time.Since(start))
	return err
}

func (o *Orchestrator) run(ctx context.Context, ticketID string) (string, error) {
	log := o.logger.With(zap.String("ticket_id", ticketID))

	ticket, err := o.tickets.GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("ticket vanished before triage")
		return OutcomeMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("load ticket: %w", err)
	}
	if ticket.Status == domain.TicketStatusDone {
		log.Info("ticket already closed, skipping triage")
		return OutcomeSkipped, nil
	}

	if err := o.tickets.Patch(ctx, ticketID, domain.TicketPatch{
		Status:      ptr(domain.TicketStatusTodo),
		TriageState: ptr(domain.TriageStateClassifying),
	}); err != nil {
		return "", fmt.Errorf("mark classifying: %w", err)
	}

	skills := []string{}
	cls, classifyErr := o.classifier.Classify(ctx, TicketText{Title: ticket.Title, Description: ticket.Description})
	if classifyErr == nil {
		skills = cls.RelatedSkills
		if err := o.tickets.Patch(ctx, ticketID, domain.TicketPatch{
			Status:        ptr(domain.TicketStatusInProgress),
			Priority:      ptr(cls.Priority),
			HelpfulNotes:  ptr(cls.HelpfulNotes),
			RelatedSkills: ptr(append([]string{}, cls.RelatedSkills...)),
			TriageState:   ptr(domain.TriageStateAssigning),
			TriageError:   ptr(""),
		}); err != nil {
			return "", fmt.Errorf("store classification: %w", err)
		}
		o.record(ctx, log, ticketID, domain.ChangeTypeClassification,
			map[string]any{"priority": string(ticket.Priority), "relatedSkills": ticket.RelatedSkills},
			map[string]any{"priority": string(cls.Priority), "relatedSkills": cls.RelatedSkills},
		)
		log.Info("ticket classified",
			zap.String("priority", string(cls.Priority)),
			zap.Strings("related_skills", cls.RelatedSkills),
			zap.String("summary", cls.Summary),
		)
	} else {
		log.Warn("classification failed, ticket needs manual triage", zap.Error(classifyErr))
		if err := o.tickets.Patch(ctx, ticketID, domain.TicketPatch{
			TriageState: ptr(domain.TriageStateAssigning),
			TriageError: ptr(classifyErr.Error()),
		}); err != nil {
			return "", fmt.Errorf("store classification error: %w", err)
		}
	}

	assignee, err := o.resolver.Resolve(ctx, skills)
	if err != nil {
		return "", fmt.Errorf("resolve assignee: %w", err)
	}

	state, outcome := domain.TriageStateUnassigned, OutcomeUnassigned
	var assigneeID *string
	if assignee != nil {
		assigneeID = ptr(assignee.ID)
		state, outcome = domain.TriageStateAssigned, OutcomeAssigned
	}
	if err := o.tickets.Patch(ctx, ticketID, domain.TicketPatch{
		SetAssignee: true,
		AssignedTo:  assigneeID,
		TriageState: ptr(state),
	}); err != nil {
		return "", fmt.Errorf("store assignee: %w", err)
	}
	changed := !sameAssignee(ticket.AssignedTo, assigneeID)
	if changed {
		o.record(ctx, log, ticketID, domain.ChangeTypeAssignee,
			map[string]any{"assignedTo": deref(ticket.AssignedTo)},
			map[string]any{"assignedTo": deref(assigneeID)},
		)
	}
	if assignee == nil {
		log.Warn("no moderator or admin available, ticket left unassigned")
		return outcome, nil
	}
	if !changed {
		log.Info("assignee unchanged, skipping notification", zap.String("assignee_id", assignee.ID))
		return outcome, nil
	}
	log.Info("ticket assigned", zap.String("assignee_id", assignee.ID))

	subject, body := assignmentMessage(ticket, cls, classifyErr == nil)
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := o.notifier.Send(notifyCtx, assignee.Email, subject, body); err != nil {
		o.metrics.RecordNotificationFailure()
		log.Warn("assignee notification failed", zap.String("assignee_id", assignee.ID), zap.Error(err))
	}
	return outcome, nil
}

// record appends a system history entry. Audit failures are logged only; the
// ticket itself is already updated.
func (o *Orchestrator) record(ctx context.Context, log *zap.Logger, ticketID string, change domain.TicketChangeType, oldValue, newValue map[string]any) {
	if o.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: domain.ActorTypeSystem,
		ChangeType:    change,
		OldValue:      oldValue,
		NewValue:      newValue,
	}
	if err := o.history.Create(ctx, entry); err != nil {
		log.Warn("failed to record ticket history", zap.String("change_type", string(change)), zap.Error(err))
	}
}

func assignmentMessage(t *domain.Ticket, cls domain.Classification, classified bool) (string, string) {
	subject := "Ticket assigned: " + strings.Join(strings.Fields(t.Title), " ")
	var b strings.Builder
	fmt.Fprintf(&b, "A ticket has been assigned to you.\n\nTitle: %s\nTicket ID: %s\n", t.Title, t.ID)
	if classified {
		fmt.Fprintf(&b, "Priority: %s\n", cls.Priority)
		if len(cls.RelatedSkills) > 0 {
			fmt.Fprintf(&b, "Skills: %s\n", strings.Join(cls.RelatedSkills, ", "))
		}
		if cls.HelpfulNotes != "" {
			fmt.Fprintf(&b, "\nNotes:\n%s\n", cls.HelpfulNotes)
		}
	} else {
		b.WriteString("Automatic classification failed; please triage this ticket manually.\n")
	}
	return subject, b.String()
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func ptr[T any](v T) *T { return &v }

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
