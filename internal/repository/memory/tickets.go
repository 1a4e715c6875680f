// Package memory provides in-process implementations of the repository
// interfaces. Suitable for dev mode and tests.
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

type ticketRow struct {
	seq    int64
	ticket domain.Ticket
}

// Tickets holds tickets in memory. Reads and writes copy.
type Tickets struct {
	mu   sync.RWMutex
	seq  int64
	rows map[string]*ticketRow
	now  func() time.Time
}

// NewTickets initializes an empty ticket store.
func NewTickets() *Tickets {
	return &Tickets{rows: make(map[string]*ticketRow), now: time.Now}
}

var _ repository.TicketRepository = (*Tickets)(nil)

func (s *Tickets) Create(_ context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	if ticket.TriageState == "" {
		ticket.TriageState = domain.TriageStateCreated
	}
	now := s.now()
	ticket.CreatedAt, ticket.UpdatedAt = now, now

	s.seq++
	s.rows[ticket.ID] = &ticketRow{seq: s.seq, ticket: cloneTicket(*ticket)}
	return nil
}

func (s *Tickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := cloneTicket(row.ticket)
	return &cp, nil
}

func (s *Tickets) Patch(_ context.Context, id string, patch domain.TicketPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if patch.Empty() {
		return nil
	}
	patch.Apply(&row.ticket)
	row.ticket.UpdatedAt = s.now()
	return nil
}

func (s *Tickets) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]*ticketRow, 0, len(s.rows))
	for _, row := range s.rows {
		t := row.ticket
		if filter.CreatedBy != nil && t.CreatedBy != *filter.CreatedBy {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		matched = append(matched, row)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.ticket.CreatedAt.Equal(b.ticket.CreatedAt) {
			return a.ticket.CreatedAt.After(b.ticket.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := len(matched)
	start, end := window(filter.Page, total)
	result := make([]domain.Ticket, 0, end-start)
	for _, row := range matched[start:end] {
		result = append(result, cloneTicket(row.ticket))
	}
	return result, total, nil
}

func (s *Tickets) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *Tickets) DeleteMany(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := s.rows[id]; ok {
			delete(s.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	t.RelatedSkills = append([]string{}, t.RelatedSkills...)
	if t.AssignedTo != nil {
		id := *t.AssignedTo
		t.AssignedTo = &id
	}
	return t
}

func window(page repository.Page, total int) (int, int) {
	limit := page.Limit
	if limit <= 0 {
		limit = 10
	}
	start := page.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return start, end
}
