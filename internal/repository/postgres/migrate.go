package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS tables (
	id              BIGSERIAL PRIMARY KEY,
	number          INT NOT NULL UNIQUE,
	seat_count      INT NOT NULL DEFAULT 4,
	status          TEXT NOT NULL DEFAULT 'available',
	held_by         TEXT,
	hold_expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS orders (
	id               UUID PRIMARY KEY,
	table_id         BIGINT NOT NULL REFERENCES tables(id),
	items            JSONB NOT NULL,
	total_cost       BIGINT NOT NULL CHECK (total_cost >= 0),
	raw_status       TEXT NOT NULL,
	canonical_status TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tables_hold_expiry
	ON tables (hold_expires_at) WHERE status = 'held';

CREATE INDEX IF NOT EXISTS idx_orders_created_at
	ON orders (created_at DESC);
`

// Migrate creates the schema and, on a fresh database, seeds the
// initial floor plan (tables 1-9, four seats each). Safe to run on
// every startup.
func (s *Store) Migrate(ctx context.Context) error {
	const op = "postgres.Store.Migrate"

	err := s.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		if _, err := tx.Exec(ctx, schema); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO tables (number, seat_count)
			 SELECT n, 4 FROM generate_series(1, 9) AS n
			 WHERE NOT EXISTS (SELECT 1 FROM tables)`,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}
