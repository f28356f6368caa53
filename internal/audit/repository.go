package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs.
type Repository interface {
	Window(ctx context.Context, params WindowParams) ([]TimelineRow, error)
}

// PGRepository queries audit_logs with pgx.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Window returns rows newest first. Limit <= 0 reads every matching row.
func (r *PGRepository) Window(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	where, args := filterClause(params.Filters)
	query := `SELECT id, occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta FROM audit_logs` +
		where + ` ORDER BY occurred_at DESC, id DESC`
	if params.Limit > 0 {
		args = append(args, params.Limit, params.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func filterClause(f TimelineFilters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		// To is a calendar day; include all of it.
		add("occurred_at < $%d", f.To.Add(24*time.Hour))
	}
	if f.ActorID > 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRow(rows pgx.Rows) (TimelineRow, error) {
	var (
		row  TimelineRow
		meta []byte
	)
	if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
		return TimelineRow{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &row.Meta); err != nil {
			return TimelineRow{}, fmt.Errorf("audit: decode meta of %d: %w", row.ID, err)
		}
	}
	return row, nil
}
