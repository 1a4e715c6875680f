package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository"
)

// History keeps audit entries in insertion order.
type History struct {
	mu      sync.RWMutex
	entries []domain.TicketHistory
	now     func() time.Time
}

// NewHistory initializes an empty history store.
func NewHistory() *History {
	return &History{now: time.Now}
}

var _ repository.TicketHistoryRepository = (*History)(nil)

func (s *History) Create(_ context.Context, history *domain.TicketHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history.ID = uuid.NewString()
	history.CreatedAt = s.now()
	s.entries = append(s.entries, *history)
	return nil
}

func (s *History) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.TicketHistory
	for _, entry := range s.entries {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}
