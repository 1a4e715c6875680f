package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/notify"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/repository/memory"
)

type harness struct {
	tickets  *memory.Tickets
	users    *memory.Users
	history  *memory.History
	notifier *recordingSender
	orch     *Orchestrator
}

func newHarness(t *testing.T, classifier TicketClassifier, users ...domain.User) *harness {
	t.Helper()
	h := &harness{
		tickets:  memory.NewTickets(),
		users:    seedUsers(t, users...),
		history:  memory.NewHistory(),
		notifier: &recordingSender{},
	}
	if classifier == nil {
		classifier = NewClassifier(ClassifierDependencies{})
	}
	h.orch = NewOrchestrator(OrchestratorDependencies{
		Tickets:    h.tickets,
		History:    h.history,
		Classifier: classifier,
		Resolver:   NewResolver(h.users),
		Notifier:   h.notifier,
		Metrics:    observability.NewMetrics(),
	})
	return h
}

func (h *harness) createTicket(t *testing.T, title, description string) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{Title: title, Description: description, CreatedBy: "creator"}
	require.NoError(t, h.tickets.Create(context.Background(), ticket))
	return ticket
}

func (h *harness) get(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	got, err := h.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestRun_HeuristicClassificationAssignsMatchingModerator(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil,
		domain.User{Email: "admin@x.io", Role: domain.RoleAdmin},
		domain.User{Email: "ops@x.io", Role: domain.RoleModerator, Skills: []string{"docker"}},
	)
	ticket := h.createTicket(t, "Site down", "production crash, urgent: docker containers exit on boot")

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))

	got := h.get(t, ticket.ID)
	moderator, err := h.users.GetByEmail(context.Background(), "ops@x.io")
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusInProgress, got.Status)
	assert.Equal(t, domain.TicketPriorityHigh, got.Priority)
	assert.Equal(t, HeuristicNotes, got.HelpfulNotes)
	assert.Equal(t, []string{"docker"}, got.RelatedSkills)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, moderator.ID, *got.AssignedTo)
	assert.Equal(t, domain.TriageStateAssigned, got.TriageState)
	assert.Empty(t, got.TriageError)

	sent := h.notifier.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ops@x.io", sent[0].To)
	assert.Contains(t, sent[0].Subject, "Site down")
}

func TestRun_IsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, domain.User{Email: "ops@x.io", Role: domain.RoleModerator, Skills: []string{"React"}})
	ticket := h.createTicket(t, "React error", "hooks crash in production")

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))
	first := h.get(t, ticket.ID)
	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))
	second := h.get(t, ticket.ID)

	assert.Equal(t, domain.TicketStatusInProgress, second.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Priority, second.Priority)
	assert.Equal(t, first.RelatedSkills, second.RelatedSkills)
	assert.Equal(t, first.AssignedTo, second.AssignedTo)
	assert.Equal(t, first.TriageState, second.TriageState)

	assert.Len(t, h.notifier.messages(), 1)
	entries, err := h.history.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assignments := 0
	for _, e := range entries {
		if e.ChangeType == domain.ChangeTypeAssignee {
			assignments++
		}
	}
	assert.Equal(t, 1, assignments)
}

func TestRun_MultiLineTitleYieldsSingleLineSubject(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, domain.User{Email: "admin@x.io", Role: domain.RoleAdmin})
	ticket := h.createTicket(t, "Login broken\r\nafter   deploy", "users cannot sign in")

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))

	sent := h.notifier.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Ticket assigned: Login broken after deploy", sent[0].Subject)
	assert.NotContains(t, sent[0].Subject, "\n")
}

func TestRun_NotificationIsBoundedByTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, domain.User{Email: "admin@x.io", Role: domain.RoleAdmin})
	var hasDeadline bool
	h.orch.notifier = notify.SenderFunc(func(ctx context.Context, _, _, _ string) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	ticket := h.createTicket(t, "Broken", "nothing works")

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))
	assert.True(t, hasDeadline)
}

func TestRun_ClassificationFailureStillAssignsAdmin(t *testing.T) {
	t.Parallel()

	broken := NewClassifier(ClassifierDependencies{
		Primary: &fakeProvider{name: "gemini", err: &ProviderError{Status: 500, Message: "boom"}},
		Policy:  config.FallbackStrict,
	})
	h := newHarness(t, broken,
		domain.User{Email: "ops@x.io", Role: domain.RoleModerator, Skills: []string{"react"}},
		domain.User{Email: "admin@x.io", Role: domain.RoleAdmin},
	)
	ticket := h.createTicket(t, "React crash", "blank page")

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))

	got := h.get(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusTodo, got.Status)
	assert.Empty(t, got.Priority)
	assert.Empty(t, got.HelpfulNotes)
	assert.Empty(t, got.RelatedSkills)
	assert.Contains(t, got.TriageError, "gemini: status 500: boom")
	assert.Equal(t, domain.TriageStateAssigned, got.TriageState)

	sent := h.notifier.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "admin@x.io", sent[0].To)
	assert.Contains(t, sent[0].Body, "triage this ticket manually")
}

func TestRun_NobodyToAssign(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ticket := h.createTicket(t, "Question", "how do I reset my password")

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))

	got := h.get(t, ticket.ID)
	assert.Nil(t, got.AssignedTo)
	assert.Equal(t, domain.TriageStateUnassigned, got.TriageState)
	assert.Equal(t, domain.TicketStatusInProgress, got.Status)
	assert.Empty(t, h.notifier.messages())
}

func TestRun_SkipsClosedTicket(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, domain.User{Email: "admin@x.io", Role: domain.RoleAdmin})
	ticket := h.createTicket(t, "Done", "already handled")
	done := domain.TicketStatusDone
	require.NoError(t, h.tickets.Patch(context.Background(), ticket.ID, domain.TicketPatch{Status: &done}))

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))

	got := h.get(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusDone, got.Status)
	assert.Equal(t, domain.TriageStateCreated, got.TriageState)
	assert.Empty(t, h.notifier.messages())
}

func TestRun_MissingTicketIsNotAnError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	assert.NoError(t, h.orch.Run(context.Background(), "does-not-exist"))
}

func TestRun_NotificationFailureIsContained(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, domain.User{Email: "admin@x.io", Role: domain.RoleAdmin})
	h.notifier.err = errors.New("smtp down")
	ticket := h.createTicket(t, "Broken", "nothing works")

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))
	assert.Equal(t, domain.TriageStateAssigned, h.get(t, ticket.ID).TriageState)
}

func TestRun_RecordsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, domain.User{Email: "admin@x.io", Role: domain.RoleAdmin})
	ticket := h.createTicket(t, "Email bounce", "email api rejects sender")

	require.NoError(t, h.orch.Run(context.Background(), ticket.ID))

	entries, err := h.history.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ChangeTypeClassification, entries[0].ChangeType)
	assert.Equal(t, domain.ChangeTypeAssignee, entries[1].ChangeType)
	assert.Equal(t, domain.ActorTypeSystem, entries[1].ChangedByType)
	assert.Nil(t, entries[1].OldValue["assignedTo"])
	assert.NotNil(t, entries[1].NewValue["assignedTo"])
}

// failingStore loads tickets but rejects every write.
type failingStore struct {
	*memory.Tickets
}

func (failingStore) Patch(context.Context, string, domain.TicketPatch) error {
	return errors.New("connection refused")
}

func TestRun_StoreFailureIsReturned(t *testing.T) {
	t.Parallel()

	tickets := memory.NewTickets()
	ticket := &domain.Ticket{Title: "t", Description: "d", CreatedBy: "u"}
	require.NoError(t, tickets.Create(context.Background(), ticket))

	orch := NewOrchestrator(OrchestratorDependencies{
		Tickets:    failingStore{tickets},
		Classifier: NewClassifier(ClassifierDependencies{}),
		Resolver:   NewResolver(memory.NewUsers()),
	})

	err := orch.Run(context.Background(), ticket.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRun_DirectoryFailureIsReturned(t *testing.T) {
	t.Parallel()

	tickets := memory.NewTickets()
	ticket := &domain.Ticket{Title: "React", Description: "react bug", CreatedBy: "u"}
	require.NoError(t, tickets.Create(context.Background(), ticket))

	orch := NewOrchestrator(OrchestratorDependencies{
		Tickets:    tickets,
		Classifier: NewClassifier(ClassifierDependencies{}),
		Resolver:   NewResolver(failingDirectory{}),
	})

	require.Error(t, orch.Run(context.Background(), ticket.ID))
	got, err := tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TriageStateAssigning, got.TriageState)
	assert.Equal(t, domain.TicketPriorityMedium, got.Priority)
}
