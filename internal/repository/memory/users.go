package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository"
)

type userRow struct {
	seq  int64
	user domain.User
}

// Users holds accounts in memory. Emails are unique.
type Users struct {
	mu      sync.RWMutex
	seq     int64
	rows    map[string]*userRow
	byEmail map[string]string
	now     func() time.Time
}

// NewUsers initializes an empty user store.
func NewUsers() *Users {
	return &Users{
		rows:    make(map[string]*userRow),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

var _ repository.UserRepository = (*Users)(nil)

func (s *Users) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[user.Email]; taken {
		return repository.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Skills == nil {
		user.Skills = []string{}
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now

	s.seq++
	s.rows[user.ID] = &userRow{seq: s.seq, user: cloneUser(*user)}
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *Users) Update(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if owner, taken := s.byEmail[user.Email]; taken && owner != user.ID {
		return repository.ErrDuplicate
	}
	if user.Skills == nil {
		user.Skills = []string{}
	}
	delete(s.byEmail, row.user.Email)
	user.CreatedAt = row.user.CreatedAt
	user.UpdatedAt = s.now()
	row.user = cloneUser(*user)
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *Users) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := cloneUser(row.user)
	return &cp, nil
}

func (s *Users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := cloneUser(s.rows[id].user)
	return &cp, nil
}

func (s *Users) List(_ context.Context, filter repository.UserFilter) ([]domain.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]*userRow, 0, len(s.rows))
	for _, row := range s.rows {
		if search != "" && !strings.Contains(strings.ToLower(row.user.Email), search) {
			continue
		}
		matched = append(matched, row)
	}
	sortRows(matched, true)

	total := len(matched)
	start, end := window(filter.Page, total)
	result := make([]domain.User, 0, end-start)
	for _, row := range matched[start:end] {
		result = append(result, cloneUser(row.user))
	}
	return result, total, nil
}

func (s *Users) ListByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*userRow, 0)
	for _, row := range s.rows {
		if row.user.Role == role {
			matched = append(matched, row)
		}
	}
	sortRows(matched, false)

	result := make([]domain.User, 0, len(matched))
	for _, row := range matched {
		result = append(result, cloneUser(row.user))
	}
	return result, nil
}

func sortRows(rows []*userRow, newestFirst bool) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.user.CreatedAt.Equal(b.user.CreatedAt) {
			return a.user.CreatedAt.After(b.user.CreatedAt) == newestFirst
		}
		return (a.seq > b.seq) == newestFirst
	})
}

func cloneUser(u domain.User) domain.User {
	u.Skills = append([]string{}, u.Skills...)
	return u
}
