package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

var ErrInvalidIdentifier = errors.New("invalid identifier")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column types understood by EnsureModel.
const (
	TypeText   = "VARCHAR"
	TypeDouble = "DOUBLE"
)

// Column is one user column of a record table.
type Column struct {
	Name string
	Type string
}

// Model describes a record table. Every table also gets an auto-increment
// "id" key and a "created_at" timestamp.
type Model struct {
	Table   string
	Columns []Column
}

// ModelFor derives the table of a widget's marker model: the form fields,
// the coordinate columns (or one JSON text column) and the popup fields.
func ModelFor(m *widget.MarkerModel) Model {
	mapping := m.Mapping()
	cols := []Column{
		{Name: mapping.TitleColumn, Type: TypeText},
		{Name: mapping.ColorColumn, Type: TypeText},
		{Name: m.DescriptionColumnName(), Type: TypeText},
	}
	if m.JSONColumn != "" {
		cols = append(cols, Column{Name: m.JSONColumn, Type: TypeText})
	} else {
		cols = append(cols,
			Column{Name: m.LatColumnName(), Type: TypeDouble},
			Column{Name: m.LngColumnName(), Type: TypeDouble},
		)
	}
	for _, f := range m.PopupFields {
		cols = append(cols, Column{Name: f, Type: TypeText})
	}

	seen := map[string]bool{"id": true, "created_at": true}
	out := Model{Table: m.Table}
	for _, c := range cols {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out.Columns = append(out.Columns, c)
	}
	return out
}

// Store persists marker records in DuckDB.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func quote(ident string) (string, error) {
	if !identPattern.MatchString(ident) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, ident)
	}
	return `"` + ident + `"`, nil
}

// EnsureModel creates the table of m when missing and adds any column it
// lacks.
func (s *Store) EnsureModel(ctx context.Context, m Model) error {
	table, err := quote(m.Table)
	if err != nil {
		return err
	}
	seq, _ := quote(m.Table + "_id_seq")

	stmts := []string{
		"CREATE SEQUENCE IF NOT EXISTS " + seq,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY DEFAULT nextval('%s'),
			created_at TIMESTAMP DEFAULT current_timestamp
		)`, table, m.Table+"_id_seq"),
	}
	for _, c := range m.Columns {
		col, err := quote(c.Name)
		if err != nil {
			return err
		}
		if c.Type != TypeText && c.Type != TypeDouble {
			return fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, col, c.Type))
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure %s: %w", m.Table, err)
		}
	}
	return nil
}

// Insert stores one record inside a transaction and returns its id. Nothing
// is committed on error.
func (s *Store) Insert(ctx context.Context, table string, data map[string]any) (int64, error) {
	t, err := quote(table)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.New("insert: no values")
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		if cols[i], err = quote(k); err != nil {
			return 0, err
		}
		args[i] = data[k]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		t, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

// List returns every record of table ordered by id.
func (s *Store) List(ctx context.Context, table string) ([]layer.Record, error) {
	t, err := quote(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+t+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}

	var out []layer.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("list %s: %w", table, err)
		}
		r := layer.Record{Columns: cols, Values: make(map[string]any, len(cols))}
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			r.Values[c] = vals[i]
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return out, nil
}

// Density runs a two-column query of (region key, value). Rows with a NULL
// or non-numeric value are skipped.
func (s *Store) Density(ctx context.Context, query string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("density: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var key, value any
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("density: %w", err)
		}
		if key == nil {
			continue
		}
		v, ok := toFloat(value)
		if !ok {
			continue
		}
		if b, isBytes := key.([]byte); isBytes {
			key = string(b)
		}
		out[fmt.Sprint(key)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("density: %w", err)
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case interface{ Float64() float64 }:
		return n.Float64(), true
	}
	return 0, false
}
