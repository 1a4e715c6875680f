package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// UserDirectory lists accounts by role in a stable order.
type UserDirectory interface {
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
}

// Resolver picks the user a classified ticket is assigned to.
type Resolver struct {
	users UserDirectory
}

// NewResolver builds a Resolver over the given directory.
func NewResolver(users UserDirectory) *Resolver {
	return &Resolver{users: users}
}

// Resolve returns the moderator whose skills overlap most with skills, the
// first admin when no moderator overlaps, or nil when there is neither. Ties
// keep directory order.
func (r *Resolver) Resolve(ctx context.Context, skills []string) (*domain.User, error) {
	wanted := normalizeSkills(skills)
	if len(wanted) > 0 {
		moderators, err := r.users.ListByRole(ctx, domain.RoleModerator)
		if err != nil {
			return nil, fmt.Errorf("list moderators: %w", err)
		}
		var best *domain.User
		bestScore := 0
		for i := range moderators {
			score := overlap(wanted, normalizeSkills(moderators[i].Skills))
			if score > bestScore {
				best, bestScore = &moderators[i], score
			}
		}
		if best != nil {
			return best, nil
		}
	}

	admins, err := r.users.ListByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	if len(admins) == 0 {
		return nil, nil
	}
	return &admins[0], nil
}

// overlap counts the wanted skills found inside at least one of have. Only the
// moderator's skill is searched, so a short skill like "go" never claims
// "mongodb".
func overlap(wanted, have []string) int {
	n := 0
	for _, w := range wanted {
		for _, h := range have {
			if strings.Contains(h, w) {
				n++
				break
			}
		}
	}
	return n
}

func normalizeSkills(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
