package model

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQL stores records as JSON documents in a two column table:
//
//	CREATE TABLE widgets (id SERIAL PRIMARY KEY, data JSONB NOT NULL);
//
// Queries are written with ? placeholders and rebound for the driver.
type SQL struct {
	db    *sqlx.DB
	table string
}

type documentRow struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

// NewSQL creates a SQL backed model over table.
func NewSQL(db *sqlx.DB, table string) (*SQL, error) {
	if db == nil {
		return nil, errors.New("model: database handle is required")
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("model: invalid table name %q", table)
	}
	return &SQL{db: db, table: table}, nil
}

// Table returns the backing table name.
func (s *SQL) Table() string { return s.table }

func (s *SQL) q(query string) string {
	return s.db.Rebind(fmt.Sprintf(query, s.table))
}

// ReadAll returns every record ordered by id.
func (s *SQL) ReadAll(ctx context.Context) ([]Record, error) {
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, data FROM %s ORDER BY id`)); err != nil {
		return nil, fmt.Errorf("read all %s: %w", s.table, err)
	}
	return decodeRows(rows)
}

// Read returns the addressed records.
func (s *SQL) Read(ctx context.Context, key Key) ([]Record, error) {
	if len(key.IDs) == 0 {
		return []Record{}, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(`SELECT id, data FROM %s WHERE id IN (?) ORDER BY id`, s.table), key.IDs)
	if err != nil {
		return nil, fmt.Errorf("build read %s: %w", s.table, err)
	}
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.table, err)
	}
	if key.Single() && len(rows) == 0 {
		return nil, notFound(s.table, key.IDs[0])
	}
	return decodeRows(rows)
}

// Find loads the table and filters by field equality.
func (s *SQL) Find(ctx context.Context, query Record) ([]Record, error) {
	all, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if matches(r, query) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Create inserts body and returns it with its new id.
func (s *SQL) Create(ctx context.Context, body Record) (Record, error) {
	doc := clone(body)
	delete(doc, "id")
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.table, err)
	}
	var id string
	if err := s.db.QueryRowxContext(ctx, s.q(`INSERT INTO %s (data) VALUES (?) RETURNING id`), data).Scan(&id); err != nil {
		return nil, fmt.Errorf("create %s: %w", s.table, err)
	}
	doc["id"] = id
	return doc, nil
}

// Update replaces the document stored under id.
func (s *SQL) Update(ctx context.Context, body Record, id string) (Record, error) {
	return s.update(ctx, s.db, body, id)
}

// UpdateAll updates every body inside one transaction.
func (s *SQL) UpdateAll(ctx context.Context, bodies []Record) ([]Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin %s: %w", s.table, err)
	}
	out := make([]Record, 0, len(bodies))
	for _, body := range bodies {
		r, err := s.update(ctx, tx, body, body.ID())
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		out = append(out, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s: %w", s.table, err)
	}
	return out, nil
}

// Del removes the record stored under id.
func (s *SQL) Del(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM %s WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.table, err)
	}
	return requireAffected(res, s.table, id)
}

func (s *SQL) update(ctx context.Context, exec sqlx.ExecerContext, body Record, id string) (Record, error) {
	if id == "" {
		return nil, notFound(s.table, "without id")
	}
	doc := clone(body)
	delete(doc, "id")
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.table, err)
	}
	res, err := exec.ExecContext(ctx, s.q(`UPDATE %s SET data = ? WHERE id = ?`), data, id)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", s.table, err)
	}
	if err := requireAffected(res, s.table, id); err != nil {
		return nil, err
	}
	doc["id"] = id
	return doc, nil
}

func requireAffected(res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected %s: %w", table, err)
	}
	if n == 0 {
		return notFound(table, id)
	}
	return nil
}

func decodeRows(rows []documentRow) ([]Record, error) {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		r := Record{}
		if len(row.Data) > 0 {
			if err := json.Unmarshal(row.Data, &r); err != nil {
				return nil, fmt.Errorf("decode record %s: %w", row.ID, err)
			}
		}
		r["id"] = row.ID
		out = append(out, r)
	}
	return out, nil
}
