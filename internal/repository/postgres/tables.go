package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/kirinyoku/dinetrack/internal/repository"
)

type TableRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TableRepo) With(db DB) *TableRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TableRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const tableCols = `id, number, seat_count, status, held_by, hold_expires_at`

func scanTable(row pgx.Row) (*domain.Table, error) {
	var t domain.Table
	var status string

	err := row.Scan(&t.ID, &t.Number, &t.SeatCount, &status, &t.HeldBy, &t.HoldExpiresAt)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TableStatus(status)
	return &t, nil
}

// List returns all tables ordered by display number.
func (r *TableRepo) List(ctx context.Context) ([]domain.Table, error) {
	const op = "postgres.TableRepo.List"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+tableCols+` FROM tables ORDER BY number`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *TableRepo) Get(ctx context.Context, id int64) (*domain.Table, error) {
	const op = "postgres.TableRepo.Get"

	db := r.handle()

	t, err := scanTable(db.QueryRow(ctx,
		`SELECT `+tableCols+` FROM tables WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return t, nil
}

// ListOccupied returns the display numbers of occupied tables.
func (r *TableRepo) ListOccupied(ctx context.Context) ([]int, error) {
	const op = "postgres.TableRepo.ListOccupied"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT number FROM tables WHERE status = 'occupied' ORDER BY number`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Hold places a time-limited exclusive hold on a table. The write is a
// single conditional update, so of two racing holds exactly one sees
// the 'available' row and wins.
//
// Returns:
//   - *domain.Table: the held table when successful.
//   - error: repository.ErrNotAvailable if the table is held or occupied.
//   - error: repository.ErrNotFound if the table does not exist.
func (r *TableRepo) Hold(
	ctx context.Context,
	id int64,
	holderID string,
	expiresAt time.Time,
) (*domain.Table, error) {
	const op = "postgres.TableRepo.Hold"

	db := r.handle()

	t, err := scanTable(db.QueryRow(ctx,
		`UPDATE tables
		 SET status = 'held', held_by = $2, hold_expires_at = $3
		 WHERE id = $1 AND status = 'available'
		 RETURNING `+tableCols,
		id, holderID, expiresAt,
	))
	if err == nil {
		return t, nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s:%w", op, r.classifyMiss(ctx, id, repository.ErrNotAvailable))
	}

	return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
}

// Occupy marks a table as occupied, either directly or by confirming an
// existing hold, clearing the hold fields in the same write.
//
// Returns:
//   - *domain.Table: the occupied table when successful.
//   - error: repository.ErrCannotOccupy if the table is already occupied.
//   - error: repository.ErrNotFound if the table does not exist.
func (r *TableRepo) Occupy(ctx context.Context, id int64) (*domain.Table, error) {
	const op = "postgres.TableRepo.Occupy"

	db := r.handle()

	t, err := scanTable(db.QueryRow(ctx,
		`UPDATE tables
		 SET status = 'occupied', held_by = NULL, hold_expires_at = NULL
		 WHERE id = $1 AND status IN ('available', 'held')
		 RETURNING `+tableCols,
		id,
	))
	if err == nil {
		return t, nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s:%w", op, r.classifyMiss(ctx, id, repository.ErrCannotOccupy))
	}

	return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
}

// Release resets a held table to available.
//
// Returns:
//   - *domain.Table: the released table when successful.
//   - error: repository.ErrNotHeld if the table is not currently held.
//   - error: repository.ErrNotFound if the table does not exist.
func (r *TableRepo) Release(ctx context.Context, id int64) (*domain.Table, error) {
	const op = "postgres.TableRepo.Release"

	db := r.handle()

	t, err := scanTable(db.QueryRow(ctx,
		`UPDATE tables
		 SET status = 'available', held_by = NULL, hold_expires_at = NULL
		 WHERE id = $1 AND status = 'held'
		 RETURNING `+tableCols,
		id,
	))
	if err == nil {
		return t, nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s:%w", op, r.classifyMiss(ctx, id, repository.ErrNotHeld))
	}

	return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
}

// ListExpired returns ids of tables whose hold expired at or before now.
func (r *TableRepo) ListExpired(ctx context.Context, now time.Time) ([]int64, error) {
	const op = "postgres.TableRepo.ListExpired"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id FROM tables
		 WHERE status = 'held' AND hold_expires_at <= $1
		 ORDER BY number`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// ReleaseExpired releases one table only if it is still held and its
// hold has expired, so a sweep that raced a concurrent occupy is a
// no-op for that table. The condition is re-checked at write time.
//
// Returns:
//   - *domain.Table: the released table when the condition still held.
//   - error: repository.ErrNotHeld if the hold was confirmed or already
//     released since the sweep scan.
func (r *TableRepo) ReleaseExpired(ctx context.Context, id int64, now time.Time) (*domain.Table, error) {
	const op = "postgres.TableRepo.ReleaseExpired"

	db := r.handle()

	t, err := scanTable(db.QueryRow(ctx,
		`UPDATE tables
		 SET status = 'available', held_by = NULL, hold_expires_at = NULL
		 WHERE id = $1 AND status = 'held' AND hold_expires_at <= $2
		 RETURNING `+tableCols,
		id, now,
	))
	if err == nil {
		return t, nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotHeld)
	}

	return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
}

// classifyMiss distinguishes a conditional update that matched no rows
// because the table is in the wrong state (cond) from one that matched
// no rows because the id is unknown.
func (r *TableRepo) classifyMiss(ctx context.Context, id int64, cond error) error {
	var exists bool
	err := r.handle().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tables WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return translateDBErr(err)
	}

	if !exists {
		return repository.ErrNotFound
	}

	return cond
}
