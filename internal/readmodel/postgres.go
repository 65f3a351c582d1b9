package readmodel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id             BIGINT PRIMARY KEY,
	name           TEXT NOT NULL,
	origin         TEXT NOT NULL,
	created_at     BIGINT NOT NULL,
	current_status SMALLINT NOT NULL
);
CREATE TABLE IF NOT EXISTS status_events (
	product_id  BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	seq         INT NOT NULL,
	status      SMALLINT NOT NULL,
	recorded_at BIGINT NOT NULL,
	PRIMARY KEY (product_id, seq)
);
CREATE TABLE IF NOT EXISTS projection_state (
	id         SMALLINT PRIMARY KEY,
	generation BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

type Postgres struct{ DB *pgxpool.Pool }

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{DB: db} }

func (s *Postgres) Init(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("readmodel postgres: init schema: %w", err)
	}
	return nil
}

// Replace swaps the stored catalog for items in one transaction.
func (s *Postgres) Replace(ctx context.Context, generation uint64, items []products.Product) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("readmodel postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM status_events`); err != nil {
		return fmt.Errorf("readmodel postgres: clear events: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("readmodel postgres: clear products: %w", err)
	}

	prows, erows := toRows(items)
	pdata := make([][]any, len(prows))
	for i, r := range prows {
		pdata[i] = []any{r.id, r.name, r.origin, r.createdAt, r.status}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"products"},
		[]string{"id", "name", "origin", "created_at", "current_status"},
		pgx.CopyFromRows(pdata)); err != nil {
		return fmt.Errorf("readmodel postgres: copy products: %w", err)
	}
	edata := make([][]any, len(erows))
	for i, r := range erows {
		edata[i] = []any{r.productID, r.seq, r.status, r.at}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"status_events"},
		[]string{"product_id", "seq", "status", "recorded_at"},
		pgx.CopyFromRows(edata)); err != nil {
		return fmt.Errorf("readmodel postgres: copy events: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO projection_state(id, generation, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET generation = EXCLUDED.generation, updated_at = EXCLUDED.updated_at`,
		int64(generation), time.Now().UTC()); err != nil {
		return fmt.Errorf("readmodel postgres: state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("readmodel postgres: commit: %w", err)
	}
	return nil
}

func (s *Postgres) Load(ctx context.Context) (State, error) {
	var st State
	var gen int64
	err := s.DB.QueryRow(ctx, `SELECT generation, updated_at FROM projection_state WHERE id = 1`).Scan(&gen, &st.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return State{}, fmt.Errorf("readmodel postgres: load state: %w", err)
	}
	st.Generation = uint64(gen)

	rows, err := s.DB.Query(ctx, `SELECT id, name, origin, created_at, current_status FROM products ORDER BY id`)
	if err != nil {
		return State{}, fmt.Errorf("readmodel postgres: load products: %w", err)
	}
	var prows []productRow
	for rows.Next() {
		var r productRow
		if err := rows.Scan(&r.id, &r.name, &r.origin, &r.createdAt, &r.status); err != nil {
			rows.Close()
			return State{}, fmt.Errorf("readmodel postgres: scan product: %w", err)
		}
		prows = append(prows, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("readmodel postgres: load products: %w", err)
	}

	rows, err = s.DB.Query(ctx, `SELECT product_id, seq, status, recorded_at FROM status_events ORDER BY product_id, seq`)
	if err != nil {
		return State{}, fmt.Errorf("readmodel postgres: load events: %w", err)
	}
	defer rows.Close()
	var erows []eventRow
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(&r.productID, &r.seq, &r.status, &r.at); err != nil {
			return State{}, fmt.Errorf("readmodel postgres: scan event: %w", err)
		}
		erows = append(erows, r)
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("readmodel postgres: load events: %w", err)
	}

	st.Products, err = assemble(prows, erows)
	return st, err
}
