package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/dinetrack/internal/domain"
)

type OrderRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *OrderRepo) With(db DB) *OrderRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *OrderRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const orderCols = `id, table_id, items, total_cost, raw_status, canonical_status, created_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var items []byte
	var canonical string

	err := row.Scan(&o.ID, &o.TableID, &items, &o.TotalCost, &o.RawStatus, &canonical, &o.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, err
	}

	o.CanonicalStatus = domain.Stage(canonical)
	return &o, nil
}

// Create stores a new order in its initial stage.
//
// Returns:
//   - *domain.Order: the stored order.
//   - error: repository.ErrNotFound if the referenced table does not exist.
//   - error: repository.ErrConflict on an id collision.
func (r *OrderRepo) Create(
	ctx context.Context,
	tableID int64,
	items []domain.OrderItem,
	totalCost int64,
	rawStatus string,
	canonical domain.Stage,
) (*domain.Order, error) {
	const op = "postgres.OrderRepo.Create"

	db := r.handle()

	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	o, err := scanOrder(db.QueryRow(ctx,
		`INSERT INTO orders (id, table_id, items, total_cost, raw_status, canonical_status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+orderCols,
		uuid.New(), tableID, b, totalCost, rawStatus, string(canonical),
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateFKErr(err))
	}

	return o, nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	const op = "postgres.OrderRepo.Get"

	db := r.handle()

	o, err := scanOrder(db.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return o, nil
}

// List returns all orders, newest first.
func (r *OrderRepo) List(ctx context.Context) ([]domain.Order, error) {
	const op = "postgres.OrderRepo.List"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+orderCols+` FROM orders ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// UpdateStatus records a new raw label and advances the canonical stage
// in one atomic statement. The stage only moves forward: the CASE ranks
// the incoming stage against the stored one inside the UPDATE itself,
// so two racing advances always leave a self-consistent row.
//
// Returns:
//   - *domain.Order: the order as persisted after the update.
//   - error: repository.ErrNotFound if the order does not exist.
func (r *OrderRepo) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	rawStatus string,
	canonical domain.Stage,
) (*domain.Order, error) {
	const op = "postgres.OrderRepo.UpdateStatus"

	db := r.handle()

	o, err := scanOrder(db.QueryRow(ctx,
		`UPDATE orders
		 SET raw_status = $2,
		     canonical_status = CASE
		         WHEN array_position($3::text[], $4) > array_position($3::text[], canonical_status)
		         THEN $4
		         ELSE canonical_status
		     END
		 WHERE id = $1
		 RETURNING `+orderCols,
		id, rawStatus, domain.StageOrder(), string(canonical),
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return o, nil
}
