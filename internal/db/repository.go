package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

const recordColumns = `id, kind, name, bundle_identifier, version, date_added, icon_path, status, status_reason`

// Repository provides record, source and setting operations.
type Repository struct {
	db *sql.DB

	// Prepared statements keyed by query text
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Another goroutine may have prepared the same query
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value any) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// =====================================================
// Record Operations
// =====================================================

// Insert stores a new record. It fails with CONFLICT if the id exists.
func (r *Repository) Insert(ctx context.Context, rec *types.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	query := `INSERT INTO apps (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, string(rec.Kind), rec.Name, rec.BundleIdentifier, rec.Version,
		rec.DateAdded.UnixNano(), nullString(rec.IconRelativePath),
		string(rec.SigningStatus.State), rec.SigningStatus.Reason)
	if err != nil {
		if isConstraint(err) {
			return apperrors.Conflict(rec.ID)
		}
		return dbError("insert record", err)
	}
	return nil
}

// Get returns the record for id.
func (r *Repository) Get(ctx context.Context, id string) (*types.Record, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+recordColumns+` FROM apps WHERE id = ?`)
	if err != nil {
		return nil, dbError("get record", err)
	}
	rec, err := scanRecord(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(id)
	}
	if err != nil {
		return nil, dbError("get record", err)
	}
	return rec, nil
}

// ListByKind returns the records of one kind, newest first. Records added at
// the same instant are ordered by insertion, latest first.
func (r *Repository) ListByKind(ctx context.Context, kind types.Kind) ([]*types.Record, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+recordColumns+` FROM apps WHERE kind = ? ORDER BY date_added DESC, seq DESC`)
	if err != nil {
		return nil, dbError("list records", err)
	}
	rows, err := stmt.QueryContext(ctx, string(kind))
	if err != nil {
		return nil, dbError("list records", err)
	}
	defer rows.Close()

	records := []*types.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, dbError("scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list records", err)
	}
	return records, nil
}

// ListIDs returns every record id.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM apps ORDER BY seq`)
	if err != nil {
		return nil, dbError("list ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbError("scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByKind returns the number of records per kind.
func (r *Repository) CountByKind(ctx context.Context) (map[types.Kind]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM apps GROUP BY kind`)
	if err != nil {
		return nil, dbError("count records", err)
	}
	defer rows.Close()

	counts := map[types.Kind]int{types.KindDownloaded: 0, types.KindSigned: 0}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, dbError("scan count", err)
		}
		counts[types.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// UpdateStatus moves the record to status. It fails with NOT_FOUND if the id
// is absent and INVALID_TRANSITION if the signing lifecycle forbids the move.
// The updated record is returned.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status types.SigningStatus) (*types.Record, error) {
	if err := status.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid signing status", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbError("begin transaction", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM apps WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(id)
	}
	if err != nil {
		return nil, dbError("load record", err)
	}

	if !types.CanTransition(rec.SigningStatus.State, status.State) {
		return nil, apperrors.Newf(apperrors.CodeInvalidTransition,
			"cannot move %s from %s to %s", id, rec.SigningStatus.State, status.State)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE apps SET status = ?, status_reason = ? WHERE id = ?`,
		string(status.State), status.Reason, id); err != nil {
		return nil, dbError("update status", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, dbError("commit status", err)
	}

	rec.SigningStatus = status
	return rec, nil
}

// Delete removes the record for id. It fails with NOT_FOUND if absent.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM apps WHERE id = ?`, id)
	if err != nil {
		return dbError("delete record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("delete record", err)
	}
	if n == 0 {
		return apperrors.NotFound(id)
	}
	return nil
}

// =====================================================
// Source Operations
// =====================================================

// UpsertSource inserts or updates a source by id.
func (r *Repository) UpsertSource(ctx context.Context, src *types.Source) error {
	if src.ID == "" || src.URL == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "source id and url are required")
	}
	if src.DateAdded.IsZero() {
		src.DateAdded = time.Now().UTC()
	}
	query := `
	INSERT INTO sources (id, name, url, icon_url, date_added) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url, icon_url = excluded.icon_url`
	if _, err := r.db.ExecContext(ctx, query, src.ID, src.Name, src.URL, src.IconURL, src.DateAdded.UnixNano()); err != nil {
		return dbError("upsert source", err)
	}
	return nil
}

// ListSources returns all sources, newest first.
func (r *Repository) ListSources(ctx context.Context) ([]*types.Source, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, url, icon_url, date_added FROM sources ORDER BY date_added DESC, id`)
	if err != nil {
		return nil, dbError("list sources", err)
	}
	defer rows.Close()

	sources := []*types.Source{}
	for rows.Next() {
		var src types.Source
		var added int64
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.IconURL, &added); err != nil {
			return nil, dbError("scan source", err)
		}
		src.DateAdded = time.Unix(0, added).UTC()
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

// =====================================================
// Setting Operations
// =====================================================

// GetSetting returns the value stored under key and whether it was set.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbError("get setting", err)
	}
	return value, true, nil
}

// SetSetting stores value under key.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return dbError("set setting", err)
	}
	return nil
}

// =====================================================
// Helpers
// =====================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var (
		rec         types.Record
		kind, state string
		added       int64
		iconPath    sql.NullString
	)
	err := row.Scan(&rec.ID, &kind, &rec.Name, &rec.BundleIdentifier, &rec.Version,
		&added, &iconPath, &state, &rec.SigningStatus.Reason)
	if err != nil {
		return nil, err
	}
	rec.Kind = types.Kind(kind)
	rec.DateAdded = time.Unix(0, added).UTC()
	rec.SigningStatus.State = types.SigningState(state)
	if iconPath.Valid {
		p := iconPath.String
		rec.IconRelativePath = &p
	}
	return &rec, nil
}

func validateRecord(rec *types.Record) error {
	switch {
	case rec == nil:
		return apperrors.New(apperrors.CodeInvalidInput, "record is nil")
	case rec.ID == "":
		return apperrors.New(apperrors.CodeInvalidInput, "record id is required")
	case !rec.Kind.Valid():
		return apperrors.Newf(apperrors.CodeInvalidInput, "unknown kind %q", rec.Kind)
	}
	if err := rec.SigningStatus.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid signing status", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func dbError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeCancelled, op, err)
	}
	return apperrors.IO(op, err)
}
