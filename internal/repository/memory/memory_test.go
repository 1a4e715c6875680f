package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository"
)

func fixedClock() func() time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func TestTickets_CreateAndGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewTickets()
	ctx := context.Background()
	ticket := &domain.Ticket{Title: "Login broken", Description: "500 on submit", CreatedBy: "u-1"}
	require.NoError(t, s.Create(ctx, ticket))
	require.NotEmpty(t, ticket.ID)
	assert.Equal(t, domain.TriageStateCreated, ticket.TriageState)

	got, err := s.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	got.Title = "mutated"
	got.RelatedSkills = append(got.RelatedSkills, "leak")

	again, err := s.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login broken", again.Title)
	assert.Empty(t, again.RelatedSkills)
}

func TestTickets_GetMissing(t *testing.T) {
	t.Parallel()

	_, err := NewTickets().GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTickets_PatchAppliesOnlySetFields(t *testing.T) {
	t.Parallel()

	s := NewTickets()
	ctx := context.Background()
	ticket := &domain.Ticket{Title: "t", Description: "d", CreatedBy: "u-1", HelpfulNotes: "keep"}
	require.NoError(t, s.Create(ctx, ticket))

	status := domain.TicketStatusInProgress
	assignee := "mod-1"
	require.NoError(t, s.Patch(ctx, ticket.ID, domain.TicketPatch{
		Status:      &status,
		SetAssignee: true,
		AssignedTo:  &assignee,
	}))

	got, err := s.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, status, got.Status)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "mod-1", *got.AssignedTo)
	assert.Equal(t, "keep", got.HelpfulNotes)

	require.NoError(t, s.Patch(ctx, ticket.ID, domain.TicketPatch{SetAssignee: true}))
	got, err = s.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedTo)

	assert.ErrorIs(t, s.Patch(ctx, "missing", domain.TicketPatch{Status: &status}), repository.ErrNotFound)
}

func TestTickets_ListFiltersAndOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewTickets()
	s.now = fixedClock()
	ctx := context.Background()

	for i, owner := range []string{"a", "b", "a", "a"} {
		require.NoError(t, s.Create(ctx, &domain.Ticket{
			Title:       fmt.Sprintf("ticket %d", i),
			Description: "Docker build fails",
			CreatedBy:   owner,
		}))
	}

	owner := "a"
	got, total, err := s.List(ctx, repository.TicketFilter{CreatedBy: &owner, Page: repository.Page{Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 2)
	assert.Equal(t, "ticket 3", got[0].Title)
	assert.Equal(t, "ticket 2", got[1].Title)

	got, total, err = s.List(ctx, repository.TicketFilter{Search: "DOCKER", Page: repository.Page{Limit: 10, Offset: 3}})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, got, 1)
	assert.Equal(t, "ticket 0", got[0].Title)

	status := domain.TicketStatusDone
	got, total, err = s.List(ctx, repository.TicketFilter{Status: &status})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, got)
}

func TestTickets_DeleteMany(t *testing.T) {
	t.Parallel()

	s := NewTickets()
	ctx := context.Background()
	a := &domain.Ticket{Title: "a", CreatedBy: "u"}
	b := &domain.Ticket{Title: "b", CreatedBy: "u"}
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))

	n, err := s.DeleteMany(ctx, []string{a.ID, "ghost", b.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, s.Delete(ctx, a.ID), repository.ErrNotFound)
}

func TestUsers_DuplicateEmail(t *testing.T) {
	t.Parallel()

	s := NewUsers()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &domain.User{Email: "a@x.io", Role: domain.RoleUser}))
	err := s.Create(ctx, &domain.User{Email: "a@x.io", Role: domain.RoleUser})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestUsers_UpdateMovesEmailIndex(t *testing.T) {
	t.Parallel()

	s := NewUsers()
	ctx := context.Background()
	u := &domain.User{Email: "old@x.io", Role: domain.RoleUser}
	require.NoError(t, s.Create(ctx, u))

	u.Email = "new@x.io"
	u.Role = domain.RoleModerator
	u.Skills = []string{"react"}
	require.NoError(t, s.Update(ctx, u))

	_, err := s.GetByEmail(ctx, "old@x.io")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := s.GetByEmail(ctx, "new@x.io")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, got.Role)
	assert.Equal(t, []string{"react"}, got.Skills)
}

func TestUsers_ListByRoleOldestFirst(t *testing.T) {
	t.Parallel()

	s := NewUsers()
	s.now = fixedClock()
	ctx := context.Background()
	for _, email := range []string{"m1@x.io", "admin@x.io", "m2@x.io"} {
		role := domain.RoleModerator
		if email == "admin@x.io" {
			role = domain.RoleAdmin
		}
		require.NoError(t, s.Create(ctx, &domain.User{Email: email, Role: role}))
	}

	mods, err := s.ListByRole(ctx, domain.RoleModerator)
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "m1@x.io", mods[0].Email)
	assert.Equal(t, "m2@x.io", mods[1].Email)

	all, total, err := s.List(ctx, repository.UserFilter{Search: "M", Page: repository.Page{Limit: 10}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "m2@x.io", all[0].Email)
}

func TestHistory_ListByTicketKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s := NewHistory()
	ctx := context.Background()
	for _, ct := range []domain.TicketChangeType{domain.ChangeTypeClassification, domain.ChangeTypeAssignee} {
		require.NoError(t, s.Create(ctx, &domain.TicketHistory{TicketID: "t-1", ChangeType: ct, ChangedByType: domain.ActorTypeSystem}))
	}
	require.NoError(t, s.Create(ctx, &domain.TicketHistory{TicketID: "t-2", ChangeType: domain.ChangeTypeStatus}))

	got, err := s.ListByTicket(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ChangeTypeClassification, got[0].ChangeType)
	assert.Equal(t, domain.ChangeTypeAssignee, got[1].ChangeType)
}

func TestTickets_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewTickets()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket := &domain.Ticket{Title: "c", CreatedBy: "u"}
			_ = s.Create(ctx, ticket)
			_, _ = s.GetByID(ctx, ticket.ID)
		}()
	}
	wg.Wait()

	_, total, err := s.List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Equal(t, 50, total)
}
