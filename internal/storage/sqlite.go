package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"prtgalert/internal/logger"
	"prtgalert/internal/metrics"
	"prtgalert/internal/models"
)

const tableName = "sensor_history"

// columns is the current schema, in insert order.
var columns = []string{
	"sensor_id",
	"sensor_name",
	"device_name",
	"current_status",
	"previous_status",
	"last_change",
	"down_time",
	"up_time",
	"total_downtime_minutes",
	"created_at",
}

func createTableSQL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		sensor_id TEXT PRIMARY KEY,
		sensor_name TEXT,
		device_name TEXT,
		current_status INTEGER,
		previous_status INTEGER,
		last_change TEXT,
		down_time TEXT,
		up_time TEXT,
		total_downtime_minutes INTEGER DEFAULT 0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`, name)
}

// Options configures Open.
type Options struct {
	Path string
	// SkipMigrations leaves an outdated schema untouched (used by tests that
	// build legacy tables on purpose).
	SkipMigrations bool
}

// Store is the SQLite-backed sensor state store.
type Store struct {
	db   *sql.DB
	path string
	// writeMu serializes writers; readers go straight to the WAL-mode database.
	writeMu sync.Mutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the database file, ensures the schema and runs
// pending migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	log := logger.WithComponent("storage")
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrStore)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", opts.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStore, opts.Path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStore, opts.Path, err)
	}

	s := &Store{db: db, path: opts.Path}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if !opts.SkipMigrations {
		if _, err := s.Migrate(ctx, false); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.Info().Str("path", opts.Path).Msg("sensor store ready")
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL(tableName)); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrStore, err)
	}
	return nil
}

// Get returns the record for sensorID, or nil, nil when there is none.
func (s *Store) Get(ctx context.Context, sensorID string) (*models.SensorRecord, error) {
	rec, err := getRecord(ctx, s.db, sensorID)
	observe("get", err)
	return rec, err
}

// Upsert writes rec, inserting or replacing the row for its sensor.
func (s *Store) Upsert(ctx context.Context, rec *models.SensorRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := upsertRecord(ctx, s.db, rec)
	observe("upsert", err)
	return err
}

// Update runs fn against the current record and persists its result in the
// same transaction. Nothing is committed if fn or the write fails.
func (s *Store) Update(ctx context.Context, sensorID string, fn UpdateFunc) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer func() { observe("update", err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStore, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := getRecord(ctx, tx, sensorID)
	if err != nil {
		return err
	}

	next, err := fn(existing)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Rollback()
	}
	if next.SensorID != sensorID {
		return fmt.Errorf("%w: update of %q returned record for %q", ErrStore, sensorID, next.SensorID)
	}

	if err = upsertRecord(ctx, tx, next); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %s: %v", ErrStore, sensorID, err)
	}
	return nil
}

// Stats counts all sensors and the UP/DOWN subsets.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st, err := queryStats(ctx, s.db)
	observe("stats", err)
	return st, err
}

// ListByStatus returns every sensor with the given status, most recently
// changed first.
func (s *Store) ListByStatus(ctx context.Context, status models.Status) ([]models.SensorRecord, error) {
	out, err := listByStatus(ctx, s.db, status)
	observe("list", err)
	return out, err
}

// Summary runs Stats and ListByStatus inside one transaction so a concurrent
// poll cycle cannot change the data between the two reads.
func (s *Store) Summary(ctx context.Context, status models.Status) (sum Summary, err error) {
	defer func() { observe("summary", err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: begin summary: %v", ErrStore, err)
	}
	defer tx.Rollback()

	if sum.Stats, err = queryStats(ctx, tx); err != nil {
		return Summary{}, err
	}
	if sum.Records, err = listByStatus(ctx, tx, status); err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("%w: commit summary: %v", ErrStore, err)
	}
	return sum, nil
}

func queryStats(ctx context.Context, q querier) (Stats, error) {
	var st Stats
	row := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN current_status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN current_status = ? THEN 1 ELSE 0 END), 0)
		FROM %s`, tableName), int(models.StatusUp), int(models.StatusDown))
	if err := row.Scan(&st.Total, &st.Up, &st.Down); err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %v", ErrStore, err)
	}
	return st, nil
}

func listByStatus(ctx context.Context, q querier, status models.Status) ([]models.SensorRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE current_status = ? ORDER BY last_change DESC`,
		strings.Join(columns, ", "), tableName)
	rows, err := q.QueryContext(ctx, query, int(status))
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []models.SensorRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStore, err)
	}
	return out, nil
}

// ---- Row mapping ----

type rowScanner interface {
	Scan(dest ...any) error
}

func getRecord(ctx context.Context, q querier, sensorID string) (*models.SensorRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE sensor_id = ?`, strings.Join(columns, ", "), tableName)
	rec, err := scanRecord(q.QueryRowContext(ctx, query, sensorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanRecord(row rowScanner) (*models.SensorRecord, error) {
	var (
		id, name, device                    sql.NullString
		current, previous, totalMinutes     sql.NullInt64
		lastChange, down, up, createdAtText sql.NullString
	)
	err := row.Scan(&id, &name, &device, &current, &previous, &lastChange, &down, &up, &totalMinutes, &createdAtText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrStore, err)
	}

	rec := &models.SensorRecord{
		SensorID:             id.String,
		SensorName:           name.String,
		DeviceName:           device.String,
		CurrentStatus:        models.Status(current.Int64),
		PreviousStatus:       models.Status(previous.Int64),
		TotalDowntimeMinutes: int(totalMinutes.Int64),
	}
	if t, ok := parseTime(rec.SensorID, "last_change", lastChange); ok {
		rec.LastChange = t
	}
	if t, ok := parseTime(rec.SensorID, "down_time", down); ok {
		rec.DownTime = &t
	}
	if t, ok := parseTime(rec.SensorID, "up_time", up); ok {
		rec.UpTime = &t
	}
	if t, ok := parseTime(rec.SensorID, "created_at", createdAtText); ok {
		rec.CreatedAt = t
	}
	return rec, nil
}

func parseTime(sensorID, column string, v sql.NullString) (time.Time, bool) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return time.Time{}, false
	}
	t, err := models.ParseTimestamp(v.String)
	if err != nil {
		log := logger.WithSensor("storage", sensorID)
		log.Warn().Str("column", column).Str("value", v.String).Msg("unparseable timestamp ignored")
		return time.Time{}, false
	}
	return t, true
}

func upsertRecord(ctx context.Context, q querier, rec *models.SensorRecord) error {
	if rec == nil || rec.SensorID == "" {
		return fmt.Errorf("%w: record without sensor id", ErrStore)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == "sensor_id" || col == "created_at" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT(sensor_id) DO UPDATE SET %s`,
		tableName,
		strings.Join(columns, ", "),
		placeholders(len(columns)),
		strings.Join(updates, ", "),
	)

	_, err := q.ExecContext(ctx, query,
		rec.SensorID,
		rec.SensorName,
		rec.DeviceName,
		int(rec.CurrentStatus),
		int(rec.PreviousStatus),
		models.FormatTimestamp(rec.LastChange),
		nullTime(rec.DownTime),
		nullTime(rec.UpTime),
		rec.TotalDowntimeMinutes,
		models.FormatTimestamp(createdAt),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrStore, rec.SensorID, err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return models.FormatTimestamp(*t)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func observe(op string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.StoreOperationsTotal.WithLabelValues(op, status).Inc()
}
