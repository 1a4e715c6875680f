package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository/memory"
)

func seedUsers(t *testing.T, users ...domain.User) *memory.Users {
	t.Helper()
	dir := memory.NewUsers()
	for i := range users {
		require.NoError(t, dir.Create(context.Background(), &users[i]))
	}
	return dir
}

func TestResolve_CaseInsensitiveSkillMatch(t *testing.T) {
	t.Parallel()

	dir := seedUsers(t,
		domain.User{Email: "react@x.io", Role: domain.RoleModerator, Skills: []string{"React"}},
		domain.User{Email: "db@x.io", Role: domain.RoleModerator, Skills: []string{"MongoDB"}},
	)
	got, err := NewResolver(dir).Resolve(context.Background(), []string{"mongodb"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "db@x.io", got.Email)
}

func TestResolve_ModeratorSkillContainsRelatedSkill(t *testing.T) {
	t.Parallel()

	dir := seedUsers(t, domain.User{Email: "node@x.io", Role: domain.RoleModerator, Skills: []string{"Node.js"}})
	got, err := NewResolver(dir).Resolve(context.Background(), []string{"node"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "node@x.io", got.Email)
}

func TestResolve_ShortModeratorSkillDoesNotClaimLongerSkill(t *testing.T) {
	t.Parallel()

	dir := seedUsers(t,
		domain.User{Email: "gopher@x.io", Role: domain.RoleModerator, Skills: []string{"Go"}},
		domain.User{Email: "mongo@x.io", Role: domain.RoleModerator, Skills: []string{"MongoDB"}},
	)
	got, err := NewResolver(dir).Resolve(context.Background(), []string{"mongodb"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "mongo@x.io", got.Email)
}

func TestResolve_SingleLetterSkillFallsBackToAdmin(t *testing.T) {
	t.Parallel()

	dir := seedUsers(t,
		domain.User{Email: "c@x.io", Role: domain.RoleModerator, Skills: []string{"C"}},
		domain.User{Email: "admin@x.io", Role: domain.RoleAdmin},
	)
	got, err := NewResolver(dir).Resolve(context.Background(), []string{"docker"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "admin@x.io", got.Email)
}

func TestResolve_MostOverlapWinsTiesKeepOrder(t *testing.T) {
	t.Parallel()

	dir := seedUsers(t,
		domain.User{Email: "first@x.io", Role: domain.RoleModerator, Skills: []string{"react"}},
		domain.User{Email: "second@x.io", Role: domain.RoleModerator, Skills: []string{"react"}},
		domain.User{Email: "both@x.io", Role: domain.RoleModerator, Skills: []string{"react", "docker"}},
	)
	r := NewResolver(dir)

	got, err := r.Resolve(context.Background(), []string{"react", "docker"})
	require.NoError(t, err)
	assert.Equal(t, "both@x.io", got.Email)

	got, err = r.Resolve(context.Background(), []string{"react"})
	require.NoError(t, err)
	assert.Equal(t, "first@x.io", got.Email)
}

func TestResolve_BlankSkillsNeverMatch(t *testing.T) {
	t.Parallel()

	dir := seedUsers(t,
		domain.User{Email: "blank@x.io", Role: domain.RoleModerator, Skills: []string{" "}},
		domain.User{Email: "admin@x.io", Role: domain.RoleAdmin},
	)
	got, err := NewResolver(dir).Resolve(context.Background(), []string{"", "react"})
	require.NoError(t, err)
	assert.Equal(t, "admin@x.io", got.Email)
}

func TestResolve_FallsBackToAdmin(t *testing.T) {
	t.Parallel()

	dir := seedUsers(t,
		domain.User{Email: "mod@x.io", Role: domain.RoleModerator, Skills: []string{"css"}},
		domain.User{Email: "admin@x.io", Role: domain.RoleAdmin},
	)
	r := NewResolver(dir)

	got, err := r.Resolve(context.Background(), []string{"mongodb"})
	require.NoError(t, err)
	assert.Equal(t, "admin@x.io", got.Email)

	got, err = r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "admin@x.io", got.Email)
}

func TestResolve_NobodyAvailable(t *testing.T) {
	t.Parallel()

	got, err := NewResolver(memory.NewUsers()).Resolve(context.Background(), []string{"react"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

type failingDirectory struct{}

func (failingDirectory) ListByRole(context.Context, domain.Role) ([]domain.User, error) {
	return nil, errors.New("connection reset")
}

func TestResolve_DirectoryErrorPropagates(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(failingDirectory{}).Resolve(context.Background(), []string{"react"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
