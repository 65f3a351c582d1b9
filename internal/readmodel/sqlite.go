package readmodel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id             INTEGER PRIMARY KEY,
	name           TEXT NOT NULL,
	origin         TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	current_status INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS status_events (
	product_id  INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	status      INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL,
	PRIMARY KEY (product_id, seq)
);
CREATE TABLE IF NOT EXISTS projection_state (
	id         INTEGER PRIMARY KEY,
	generation INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLite is the embedded read model for single-node deployments.
type SQLite struct{ db *sql.DB }

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("readmodel sqlite: open %q: %w", path, err)
	}
	// one connection keeps writes serialized and :memory: databases shared
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("readmodel sqlite: ping %q: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Init(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("readmodel sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("readmodel sqlite: init schema: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) Replace(ctx context.Context, generation uint64, items []products.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("readmodel sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{`DELETE FROM status_events`, `DELETE FROM products`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("readmodel sqlite: clear: %w", err)
		}
	}

	prows, erows := toRows(items)
	pstmt, err := tx.PrepareContext(ctx,
		`INSERT INTO products(id, name, origin, created_at, current_status) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("readmodel sqlite: prepare products: %w", err)
	}
	defer pstmt.Close()
	for _, r := range prows {
		if _, err := pstmt.ExecContext(ctx, r.id, r.name, r.origin, r.createdAt, r.status); err != nil {
			return fmt.Errorf("readmodel sqlite: insert product %d: %w", r.id, err)
		}
	}

	estmt, err := tx.PrepareContext(ctx,
		`INSERT INTO status_events(product_id, seq, status, recorded_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("readmodel sqlite: prepare events: %w", err)
	}
	defer estmt.Close()
	for _, r := range erows {
		if _, err := estmt.ExecContext(ctx, r.productID, r.seq, r.status, r.at); err != nil {
			return fmt.Errorf("readmodel sqlite: insert event %d/%d: %w", r.productID, r.seq, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projection_state(id, generation, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET generation = excluded.generation, updated_at = excluded.updated_at`,
		int64(generation), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("readmodel sqlite: state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("readmodel sqlite: commit: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context) (State, error) {
	var st State
	var gen int64
	var updated string
	err := s.db.QueryRowContext(ctx, `SELECT generation, updated_at FROM projection_state WHERE id = 1`).Scan(&gen, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return State{}, fmt.Errorf("readmodel sqlite: load state: %w", err)
	default:
		st.Generation = uint64(gen)
		if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return State{}, fmt.Errorf("readmodel sqlite: parse updated_at: %w", err)
		}
	}

	prows, err := s.queryProducts(ctx)
	if err != nil {
		return State{}, err
	}
	erows, err := s.queryEvents(ctx)
	if err != nil {
		return State{}, err
	}
	st.Products, err = assemble(prows, erows)
	return st, err
}

func (s *SQLite) queryProducts(ctx context.Context) ([]productRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, origin, created_at, current_status FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("readmodel sqlite: load products: %w", err)
	}
	defer rows.Close()
	var out []productRow
	for rows.Next() {
		var r productRow
		if err := rows.Scan(&r.id, &r.name, &r.origin, &r.createdAt, &r.status); err != nil {
			return nil, fmt.Errorf("readmodel sqlite: scan product: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) queryEvents(ctx context.Context) ([]eventRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id, seq, status, recorded_at FROM status_events ORDER BY product_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("readmodel sqlite: load events: %w", err)
	}
	defer rows.Close()
	var out []eventRow
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(&r.productID, &r.seq, &r.status, &r.at); err != nil {
			return nil, fmt.Errorf("readmodel sqlite: scan event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
