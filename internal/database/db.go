package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	sqliteTimeLayout = "2006-01-02 15:04:05"
)

// ErrConnectivity marks failures caused by an unreachable store
var ErrConnectivity = errors.New("storage unreachable")

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

var placeholderRe = regexp.MustCompile(`\$\d+`)

// DB wraps the database connection
type DB struct {
	*sql.DB
	driver string
}

// Connect establishes a connection to the database
func Connect(driverName, connectionString string) (*DB, error) {
	if driverName != DriverPostgres && driverName != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := sql.Open(driverName, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", classify(err))
	}

	if driverName == DriverSQLite {
		// single writer; WAL lets readers proceed
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	return &DB{DB: db, driver: driverName}, nil
}

// Driver returns the dialect name
func (db *DB) Driver() string {
	return db.driver
}

// RunMigrations executes the embedded SQL migrations for the dialect in order
func (db *DB) RunMigrations(ctx context.Context) error {
	dir := path.Join("migrations", db.driver)
	files, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		content, err := fs.ReadFile(migrationFS, path.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, classify(err))
		}
	}

	return nil
}

// ListClientLocationPairs returns every distinct (client, location) with cameras
func (db *DB) ListClientLocationPairs(ctx context.Context) ([]Pair, error) {
	query := `
		SELECT DISTINCT client, location
		FROM cameras
		WHERE client <> '' AND location <> ''
		ORDER BY client, location
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Client, &p.Location); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}

	return pairs, classify(rows.Err())
}

// ListCameras retrieves the cameras of a client location ordered by id
func (db *DB) ListCameras(ctx context.Context, client, location string) ([]Camera, error) {
	columns := []string{"id", "client", "location", "pong_ts", "pong_ts_last_fail"}
	for _, day := range WeekdayNames {
		columns = append(columns, day+"_start", day+"_end")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM cameras
		WHERE client = $1 AND location = $2
		ORDER BY id
	`, strings.Join(columns, ", "))

	rows, err := db.QueryContext(ctx, db.rebind(query), client, location)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var cameras []Camera
	for rows.Next() {
		var (
			cam       Camera
			heartbeat nullTime
			failure   nullTime
			bounds    [14]sql.NullInt64
		)
		dest := []any{&cam.ID, &cam.Client, &cam.Location, &heartbeat, &failure}
		for i := range bounds {
			dest = append(dest, &bounds[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		cam.LastHeartbeat = heartbeat.ptr()
		cam.LastFailure = failure.ptr()
		for day := 0; day < 7; day++ {
			cam.Schedule[day] = ScheduleEntry{
				Start: intPtr(bounds[2*day]),
				End:   intPtr(bounds[2*day+1]),
			}
		}
		cameras = append(cameras, cam)
	}

	return cameras, classify(rows.Err())
}

// UpsertCamera inserts or updates a camera registration
func (db *DB) UpsertCamera(ctx context.Context, cam *Camera) error {
	columns := []string{"id", "client", "location", "pong_ts", "pong_ts_last_fail"}
	args := []any{cam.ID, cam.Client, cam.Location, db.nullableTime(cam.LastHeartbeat), db.nullableTime(cam.LastFailure)}
	for day, name := range WeekdayNames {
		columns = append(columns, name+"_start", name+"_end")
		args = append(args, nullableInt(cam.Schedule[day].Start), nullableInt(cam.Schedule[day].End))
	}

	updates := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}

	query := fmt.Sprintf(`
		INSERT INTO cameras (%s)
		VALUES (%s)
		ON CONFLICT (id) DO UPDATE
		SET %s
	`, strings.Join(columns, ", "), placeholders(1, len(columns)), strings.Join(updates, ", "))

	_, err := db.ExecContext(ctx, db.rebind(query), args...)
	return classify(err)
}

// LoadFlowRecords retrieves the records of the given cameras at or after
// since with the given validity, ordered by timestamp
func (db *DB) LoadFlowRecords(ctx context.Context, cameraIDs []int64, since time.Time, validity Validity) ([]FlowRecord, error) {
	if len(cameraIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, camera_id, created_at, total_inside, total_outside, validity, estimated
		FROM flow_records
		WHERE camera_id IN (%s)
		  AND created_at >= $%d
		  AND validity = $%d
		ORDER BY created_at, camera_id
	`, placeholders(1, len(cameraIDs)), len(cameraIDs)+1, len(cameraIDs)+2)

	args := make([]any, 0, len(cameraIDs)+2)
	for _, id := range cameraIDs {
		args = append(args, id)
	}
	args = append(args, db.timeArg(since), string(validity))

	rows, err := db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []FlowRecord
	for rows.Next() {
		var (
			rec      FlowRecord
			ts       nullTime
			validity string
		)
		if err := rows.Scan(&rec.ID, &rec.CameraID, &ts, &rec.Inside, &rec.Outside, &validity, &rec.Estimated); err != nil {
			return nil, err
		}
		rec.Timestamp = ts.Time
		rec.Validity = Validity(validity)
		records = append(records, rec)
	}

	return records, classify(rows.Err())
}

// GetFlowRecord retrieves the record for a camera-hour, or nil
func (db *DB) GetFlowRecord(ctx context.Context, cameraID int64, timestamp time.Time) (*FlowRecord, error) {
	query := `
		SELECT id, camera_id, created_at, total_inside, total_outside, validity, estimated
		FROM flow_records
		WHERE camera_id = $1 AND created_at = $2
	`

	var (
		rec      FlowRecord
		ts       nullTime
		validity string
	)
	err := db.QueryRowContext(ctx, db.rebind(query), cameraID, db.timeArg(HourStart(timestamp))).Scan(
		&rec.ID,
		&rec.CameraID,
		&ts,
		&rec.Inside,
		&rec.Outside,
		&validity,
		&rec.Estimated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}

	rec.Timestamp = ts.Time
	rec.Validity = Validity(validity)
	return &rec, nil
}

// CountFlowRecords returns the number of stored rows for a camera
func (db *DB) CountFlowRecords(ctx context.Context, cameraID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM flow_records WHERE camera_id = $1`), cameraID).Scan(&n)
	return n, classify(err)
}

// UpsertFlowRecord writes a record keyed by (camera, hour). An existing row
// for the key is overwritten in place, never duplicated.
func (db *DB) UpsertFlowRecord(ctx context.Context, rec *FlowRecord) (UpsertResult, error) {
	ts := HourStart(rec.Timestamp)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback()

	var exists bool
	existsQuery := `SELECT EXISTS (SELECT 1 FROM flow_records WHERE camera_id = $1 AND created_at = $2)`
	if err := tx.QueryRowContext(ctx, db.rebind(existsQuery), rec.CameraID, db.timeArg(ts)).Scan(&exists); err != nil {
		return 0, classify(err)
	}

	upsert := `
		INSERT INTO flow_records (
			camera_id, created_at, total_inside, total_outside, validity, estimated, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (camera_id, created_at) DO UPDATE
		SET total_inside = EXCLUDED.total_inside,
		    total_outside = EXCLUDED.total_outside,
		    validity = EXCLUDED.validity,
		    estimated = EXCLUDED.estimated,
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, db.rebind(upsert),
		rec.CameraID,
		db.timeArg(ts),
		rec.Inside,
		rec.Outside,
		string(rec.Validity),
		rec.Estimated,
		db.timeArg(time.Now()),
	); err != nil {
		return 0, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}

	if exists {
		return Updated, nil
	}
	return Inserted, nil
}

// AppendRunLog inserts an imputation run audit row
func (db *DB) AppendRunLog(ctx context.Context, run *ImputationRun) error {
	query := `
		INSERT INTO imputation_runs (
			run_id, client, location, target_date,
			cameras_loaded, cameras_failing, hours_estimated,
			records_inserted, records_updated, status, error_message,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	var errMsg any
	if run.Error != "" {
		errMsg = run.Error
	}

	err := db.QueryRowContext(ctx, db.rebind(query),
		run.RunID,
		run.Client,
		run.Location,
		db.nullableDate(run.TargetDate),
		run.CamerasLoaded,
		run.CamerasFailing,
		run.HoursEstimated,
		run.RecordsInserted,
		run.RecordsUpdated,
		run.Status,
		errMsg,
		db.timeArg(run.StartedAt),
		db.timeArg(run.FinishedAt),
	).Scan(&run.ID)

	return classify(err)
}

// ListRunLog returns the audit rows of one run in insertion order
func (db *DB) ListRunLog(ctx context.Context, runID string) ([]ImputationRun, error) {
	query := `
		SELECT id, run_id, client, location, cameras_loaded, cameras_failing,
		       hours_estimated, records_inserted, records_updated, status,
		       COALESCE(error_message, '')
		FROM imputation_runs
		WHERE run_id = $1
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, db.rebind(query), runID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var runs []ImputationRun
	for rows.Next() {
		var r ImputationRun
		if err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Client,
			&r.Location,
			&r.CamerasLoaded,
			&r.CamerasFailing,
			&r.HoursEstimated,
			&r.RecordsInserted,
			&r.RecordsUpdated,
			&r.Status,
			&r.Error,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, classify(rows.Err())
}

// rebind converts $N placeholders for drivers that only take '?'.
// Queries bind each parameter once, in order.
func (db *DB) rebind(query string) string {
	if db.driver != DriverSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

// timeArg encodes a timestamp for the dialect. SQLite stores fixed-width
// UTC text so that string comparison orders correctly.
func (db *DB) timeArg(t time.Time) any {
	if db.driver == DriverSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func (db *DB) nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return db.timeArg(*t)
}

func (db *DB) nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	if db.driver == DriverSQLite {
		return t.Format("2006-01-02")
	}
	return *t
}

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// classify wraps transport-level failures in ErrConnectivity
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return err
}

// nullTime scans timestamps from either dialect
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", value)
	}
}

func (n *nullTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
