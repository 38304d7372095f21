package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contactbook/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite with an FTS5 index.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_id   TEXT,
	first_name  TEXT,
	last_name   TEXT,
	email       TEXT,
	description TEXT
);

CREATE INDEX IF NOT EXISTS idx_contacts_remote_id ON contacts(remote_id);
CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);

CREATE VIRTUAL TABLE IF NOT EXISTS contacts_fts USING fts5(
	first_name, last_name, email, description,
	content='contacts', content_rowid='id',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS contacts_ai AFTER INSERT ON contacts BEGIN
	INSERT INTO contacts_fts(rowid, first_name, last_name, email, description)
	VALUES (new.id, new.first_name, new.last_name, new.email, new.description);
END;

CREATE TRIGGER IF NOT EXISTS contacts_ad AFTER DELETE ON contacts BEGIN
	INSERT INTO contacts_fts(contacts_fts, rowid, first_name, last_name, email, description)
	VALUES ('delete', old.id, old.first_name, old.last_name, old.email, old.description);
END;

CREATE TRIGGER IF NOT EXISTS contacts_au AFTER UPDATE ON contacts BEGIN
	INSERT INTO contacts_fts(contacts_fts, rowid, first_name, last_name, email, description)
	VALUES ('delete', old.id, old.first_name, old.last_name, old.email, old.description);
	INSERT INTO contacts_fts(rowid, first_name, last_name, email, description)
	VALUES (new.id, new.first_name, new.last_name, new.email, new.description);
END;

CREATE TABLE IF NOT EXISTS reconcile_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	report      TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_reconcile_runs_started_at ON reconcile_runs(started_at);

CREATE TABLE IF NOT EXISTS reconcile_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	holder      TEXT NOT NULL,
	acquired_at INTEGER NOT NULL
);
`

// staleRunLock is how long a run lock row is honored. A process that dies
// mid-run leaves its row behind; the next run past this age takes it over.
const staleRunLock = 3 * time.Hour

const sqliteContactColumns = `contacts.id, contacts.remote_id, contacts.first_name, contacts.last_name, contacts.email, contacts.description`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (remote_id, first_name, last_name, email, description) VALUES (?, ?, ?, ?, ?)`,
		nullable(c.RemoteID), nullable(c.FirstName), nullable(c.LastName), nullable(c.Email), nullable(c.Description),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert contact")
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return nil, eris.Wrap(err, "sqlite: contact id")
	}
	return &c, nil
}

func (s *SQLiteStore) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteContactColumns+` FROM contacts WHERE id = ?`, id)
	c, err := scanSQLiteContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contact %d", id)
	}
	return c, nil
}

func (s *SQLiteStore) FindContact(ctx context.Context, email, remoteID string) (*model.Contact, error) {
	query := `SELECT ` + sqliteContactColumns + ` FROM contacts WHERE email = ?`
	args := []any{email}
	if remoteID != "" {
		query += ` AND remote_id = ?`
		args = append(args, remoteID)
	}
	query += ` ORDER BY id LIMIT 1`

	c, err := scanSQLiteContact(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find contact")
	}
	return c, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.Contact, error) {
	query := `SELECT ` + sqliteContactColumns + ` FROM contacts ORDER BY id`
	var args []any
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	return collectSQLiteContacts(rows, "sqlite: list contacts")
}

func (s *SQLiteStore) UpdateContacts(ctx context.Context, contacts []model.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: update contacts begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE contacts SET remote_id = ?, first_name = ?, last_name = ?, email = ?, description = ? WHERE id = ?`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare update")
	}
	defer stmt.Close() //nolint:errcheck

	var updated int
	for _, c := range contacts {
		res, err := stmt.ExecContext(ctx,
			nullable(c.RemoteID), nullable(c.FirstName), nullable(c.LastName), nullable(c.Email), nullable(c.Description), c.ID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: update contact %d", c.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "rows affected")
		}
		updated += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: update contacts commit")
	}
	return updated, nil
}

func (s *SQLiteStore) ImportContacts(ctx context.Context, contacts []model.Contact) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO contacts (remote_id, first_name, last_name, email, description) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare import")
	}
	defer stmt.Close() //nolint:errcheck

	for _, c := range contacts {
		if _, err := stmt.ExecContext(ctx,
			nullable(c.RemoteID), nullable(c.FirstName), nullable(c.LastName), nullable(c.Email), nullable(c.Description)); err != nil {
			return 0, eris.Wrap(err, "sqlite: import contact")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import commit")
	}
	return int64(len(contacts)), nil
}

// SearchContacts matches every whitespace-separated term of text. Terms are
// quoted so FTS5 operators in user input are treated as plain words.
func (s *SQLiteStore) SearchContacts(ctx context.Context, text string, limit int) ([]model.Contact, error) {
	match := ftsQuery(text)
	if match == "" {
		return []model.Contact{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteContactColumns+` FROM contacts_fts
		 JOIN contacts ON contacts.id = contacts_fts.rowid
		 WHERE contacts_fts MATCH ?
		 ORDER BY rank, contacts.id
		 LIMIT ?`,
		match, searchLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search contacts")
	}
	return collectSQLiteContacts(rows, "sqlite: search contacts")
}

func ftsQuery(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// TryLockRun claims the single reconcile_lock row, taking over a stale one.
func (s *SQLiteStore) TryLockRun(ctx context.Context) (func(), bool, error) {
	holder := uuid.New().String()
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reconcile_lock (id, holder, acquired_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, acquired_at = excluded.acquired_at
		WHERE reconcile_lock.acquired_at < ?`,
		holder, now.Unix(), now.Add(-staleRunLock).Unix(),
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: try run lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: try run lock")
	}
	if n == 0 {
		return nil, false, nil
	}
	return func() {
		_, _ = s.db.ExecContext(context.WithoutCancel(ctx),
			`DELETE FROM reconcile_lock WHERE id = 1 AND holder = ?`, holder)
	}, true, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.ReconcileRun, error) {
	run := &model.ReconcileRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconcile_runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, report *model.ReconcileReport, runErr error) error {
	var reportJSON *string
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal report")
		}
		reportJSON = nullable(string(b))
	}
	var errText *string
	if runErr != nil {
		errText = nullable(runErr.Error())
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reconcile_runs SET status = ?, report = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(runStatus(runErr)), reportJSON, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ReconcileRun, error) {
	query := `SELECT id, status, report, error, started_at, finished_at FROM reconcile_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.ReconcileRun
	for rows.Next() {
		var (
			r                   model.ReconcileRun
			status              string
			reportJSON, errText sql.NullString
			finishedAt          sql.NullTime
		)
		if err := rows.Scan(&r.ID, &status, &reportJSON, &errText, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		r.Error = errText.String
		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		if reportJSON.Valid {
			r.Report = &model.ReconcileReport{}
			if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal report")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteContact(row scannable) (*model.Contact, error) {
	var (
		c                                   model.Contact
		remoteID, first, last, email, descr sql.NullString
	)
	if err := row.Scan(&c.ID, &remoteID, &first, &last, &email, &descr); err != nil {
		return nil, err
	}
	c.RemoteID = remoteID.String
	c.FirstName = first.String
	c.LastName = last.String
	c.Email = email.String
	c.Description = descr.String
	return &c, nil
}

func collectSQLiteContacts(rows *sql.Rows, op string) ([]model.Contact, error) {
	defer rows.Close() //nolint:errcheck

	out := []model.Contact{}
	for rows.Next() {
		c, err := scanSQLiteContact(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), op+": iterate")
}
