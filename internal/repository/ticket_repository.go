package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// TicketFilter captures list parameters.
type TicketFilter struct {
	CreatedBy *string
	Status    *domain.TicketStatus
	Search    string
	Page      Page
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Patch(ctx context.Context, id string, patch domain.TicketPatch) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, title, description, COALESCE(status, ''), COALESCE(priority, ''),
               COALESCE(helpful_notes, ''), related_skills, assigned_to, created_by,
               triage_state, COALESCE(triage_error, ''), created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, helpful_notes, related_skills, assigned_to, created_by, triage_state)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
        RETURNING id, created_at, updated_at`
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	if ticket.TriageState == "" {
		ticket.TriageState = domain.TriageStateCreated
	}
	return r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		string(ticket.Status),
		string(ticket.Priority),
		ticket.HelpfulNotes,
		ticket.RelatedSkills,
		ticket.AssignedTo,
		ticket.CreatedBy,
		ticket.TriageState,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return ticket, nil
}

func (r *ticketRepository) Patch(ctx context.Context, id string, patch domain.TicketPatch) error {
	if !validID(id) {
		return ErrNotFound
	}
	sets, args := buildTicketPatch(patch)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tickets SET %s, updated_at=NOW() WHERE id=$%d`, strings.Join(sets, ", "), len(args))

	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildTicketPatch turns the set fields of a patch into SET fragments.
func buildTicketPatch(patch domain.TicketPatch) ([]string, []any) {
	var sets []string
	var args []any
	add := func(fragment string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(fragment, len(args)))
	}

	if patch.Status != nil {
		add("status=NULLIF($%d, '')", string(*patch.Status))
	}
	if patch.Priority != nil {
		add("priority=NULLIF($%d, '')", string(*patch.Priority))
	}
	if patch.HelpfulNotes != nil {
		add("helpful_notes=NULLIF($%d, '')", *patch.HelpfulNotes)
	}
	if patch.RelatedSkills != nil {
		skills := *patch.RelatedSkills
		if skills == nil {
			skills = []string{}
		}
		add("related_skills=$%d", skills)
	}
	if patch.SetAssignee {
		add("assigned_to=$%d", patch.AssignedTo)
	}
	if patch.TriageState != nil {
		add("triage_state=$%d", string(*patch.TriageState))
	}
	if patch.TriageError != nil {
		add("triage_error=NULLIF($%d, '')", *patch.TriageError)
	}
	return sets, args
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	where, args := buildTicketWhere(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page.normalized()
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		ticketColumns, where, page.Limit, page.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *ticket)
	}
	return result, total, rows.Err()
}

// buildTicketWhere renders the WHERE clause and its positional arguments.
func buildTicketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", placeholder, placeholder))
	}
	return strings.Join(clauses, " AND "), args
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) DeleteMany(ctx context.Context, ids []string) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id = ANY($1::uuid[])`, valid)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.HelpfulNotes,
		&ticket.RelatedSkills,
		&ticket.AssignedTo,
		&ticket.CreatedBy,
		&ticket.TriageState,
		&ticket.TriageError,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	return &ticket, nil
}
