package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prtgalert/internal/logger"
	"prtgalert/internal/models"
)

// Row is one stored record keyed by column name, as read from an arbitrary
// (possibly outdated) schema.
type Row map[string]any

// Migration is one versioned schema step expressed as a pure row transform.
type Migration struct {
	Version int
	Name    string
	// Obsolete lists retired columns; their presence means the step is pending.
	Obsolete []string
}

// migrations are applied in order. Versions only ever grow.
var migrations = []Migration{
	{Version: 1, Name: "drop first_seen", Obsolete: []string{"first_seen"}},
}

// LatestVersion is the schema version written after a successful migration.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// Needed reports whether any obsolete column is present in columns.
func (m Migration) Needed(columns []string) bool {
	for _, col := range columns {
		for _, old := range m.Obsolete {
			if strings.EqualFold(col, old) {
				return true
			}
		}
	}
	return false
}

// Apply returns copies of rows without the obsolete columns.
func (m Migration) Apply(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		next := make(Row, len(row))
		for col, v := range row {
			if m.isObsolete(col) {
				continue
			}
			next[col] = v
		}
		out = append(out, next)
	}
	return out
}

func (m Migration) isObsolete(col string) bool {
	for _, old := range m.Obsolete {
		if strings.EqualFold(col, old) {
			return true
		}
	}
	return false
}

// Project keeps only the given columns of each row. Columns missing from a
// row stay missing so the table default applies on insert.
func Project(rows []Row, keep []string) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		next := make(Row, len(keep))
		for _, col := range keep {
			if v, ok := row[col]; ok {
				next[col] = v
			}
		}
		out = append(out, next)
	}
	return out
}

// Plan returns the migrations pending for a table with the given columns.
func Plan(columns []string) []Migration {
	var pending []Migration
	for _, m := range migrations {
		if m.Needed(columns) {
			pending = append(pending, m)
		}
	}
	return pending
}

// MigrationResult describes what Migrate did.
type MigrationResult struct {
	Applied []string
	Rows    int
	Rebuilt bool
	Version int
}

// Migrate brings the table to the current schema. It is idempotent: with
// nothing pending and force unset it only records the schema version. With
// force the table is rebuilt even if no column is obsolete.
func (s *Store) Migrate(ctx context.Context, force bool) (MigrationResult, error) {
	log := logger.WithComponent("storage")
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result := MigrationResult{Version: LatestVersion()}

	current, err := tableColumns(ctx, s.db, tableName)
	if err != nil {
		return result, err
	}
	pending := Plan(current)
	if len(pending) == 0 && !force {
		if err := setUserVersion(ctx, s.db, result.Version); err != nil {
			return result, err
		}
		return result, nil
	}

	for _, m := range pending {
		log.Info().Int("version", m.Version).Str("migration", m.Name).Msg("migrating sensor store schema")
		result.Applied = append(result.Applied, m.Name)
	}

	rows, err := s.rebuild(ctx, current, pending)
	if err != nil {
		log.Error().Err(err).Strs("migrations", result.Applied).Msg("store migration failed")
		return result, err
	}
	result.Rows = rows
	result.Rebuilt = true

	log.Info().
		Int("rows", rows).
		Int("version", result.Version).
		Strs("migrations", result.Applied).
		Msg("store migration completed, rows preserved")
	return result, nil
}

// rebuild copies every row through the pending transforms into a fresh table
// and swaps it in, all in one transaction.
func (s *Store) rebuild(ctx context.Context, current []string, pending []Migration) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin migration: %v", ErrStore, err)
	}
	defer tx.Rollback()

	rows, err := readRows(ctx, tx, tableName, current)
	if err != nil {
		return 0, err
	}
	for _, m := range pending {
		rows = m.Apply(rows)
	}
	rows = Project(rows, columns)

	staging := tableName + "_migrating"
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
		return 0, fmt.Errorf("%w: drop staging table: %v", ErrStore, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(staging)); err != nil {
		return 0, fmt.Errorf("%w: create staging table: %v", ErrStore, err)
	}
	for _, row := range rows {
		if err := insertRow(ctx, tx, staging, row); err != nil {
			return 0, err
		}
	}

	var copied int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+staging).Scan(&copied); err != nil {
		return 0, fmt.Errorf("%w: count staging rows: %v", ErrStore, err)
	}
	if copied != len(rows) {
		return 0, fmt.Errorf("%w: migration copied %d of %d rows", ErrStore, copied, len(rows))
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+tableName); err != nil {
		return 0, fmt.Errorf("%w: drop old table: %v", ErrStore, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", staging, tableName)); err != nil {
		return 0, fmt.Errorf("%w: rename staging table: %v", ErrStore, err)
	}
	if err := setUserVersion(ctx, tx, LatestVersion()); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit migration: %v", ErrStore, err)
	}
	return copied, nil
}

func tableColumns(ctx context.Context, q querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("%w: table_info: %v", ErrStore, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("%w: table_info scan: %v", ErrStore, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func readRows(ctx context.Context, q querier, table string, cols []string) ([]Row, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table))
	if err != nil {
		return nil, fmt.Errorf("%w: read rows: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: read rows: %v", ErrStore, err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read rows: %v", ErrStore, err)
	}
	return out, nil
}

// normalizeValue keeps driver-decoded timestamps in the canonical text form.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return models.FormatTimestamp(t)
	case []byte:
		return string(t)
	default:
		return v
	}
}

func insertRow(ctx context.Context, q querier, table string, row Row) error {
	cols := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for _, col := range columns {
		if v, ok := row[col]; ok {
			cols = append(cols, col)
			args = append(args, v)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: copy row %v: %v", ErrStore, row["sensor_id"], err)
	}
	return nil
}

func setUserVersion(ctx context.Context, q querier, version int) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("%w: set user_version: %v", ErrStore, err)
	}
	return nil
}

// UserVersion returns the schema version recorded in the database.
func (s *Store) UserVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("%w: user_version: %v", ErrStore, err)
	}
	return v, nil
}
