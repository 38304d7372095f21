package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contactbook/internal/db"
	"github.com/sells-group/contactbook/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgContactColumns = `id, remote_id, first_name, last_name, email, description`

	pgInsertContact = `INSERT INTO contacts (remote_id, first_name, last_name, email, description) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	pgGetContact    = `SELECT ` + pgContactColumns + ` FROM contacts WHERE id = $1`
	pgSearch        = `SELECT ` + pgContactColumns + ` FROM contacts, plainto_tsquery('english', $1) AS q
		WHERE search_vector @@ q
		ORDER BY ts_rank(search_vector, q) DESC, id
		LIMIT $2`
	pgInsertRun   = `INSERT INTO reconcile_runs (id, status, started_at) VALUES ($1, $2, $3)`
	pgCompleteRun = `UPDATE reconcile_runs SET status = $1, report = $2, error = $3, finished_at = $4 WHERE id = $5`
)

// preparedStatements are prepared on each new connection under their own SQL
// text, so Exec and Query calls with the same text reuse them.
var preparedStatements = []string{
	pgInsertContact,
	pgGetContact,
	pgSearch,
	pgInsertRun,
	pgCompleteRun,
}

const undefinedTable = "42P01"

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 7243001

// runLockID guards reconcile runs across processes.
const runLockID = 7243002

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.AfterConnect = prepareStatements

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// prepareStatements prepares the hot queries on a new connection. A fresh
// database has no tables until Migrate runs; preparing is skipped then and
// pgx falls back to its statement cache.
func prepareStatements(ctx context.Context, conn *pgx.Conn) error {
	for _, sql := range preparedStatements {
		if _, err := conn.Prepare(ctx, sql, sql); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
				return nil
			}
			return eris.Wrap(err, "postgres: prepare statement")
		}
	}
	return nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	id            BIGSERIAL PRIMARY KEY,
	remote_id     TEXT,
	first_name    TEXT,
	last_name     TEXT,
	email         TEXT,
	description   TEXT,
	search_vector TSVECTOR
);

CREATE INDEX IF NOT EXISTS idx_contacts_remote_id ON contacts(remote_id);
CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_contacts_search_vector ON contacts USING GIN(search_vector);

CREATE OR REPLACE FUNCTION contacts_search_vector_update() RETURNS trigger AS $$
BEGIN
	NEW.search_vector := to_tsvector('english',
		concat_ws(' ', NEW.first_name, NEW.last_name, NEW.email, NEW.description));
	RETURN NEW;
END
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS contacts_search_vector_trg ON contacts;
CREATE TRIGGER contacts_search_vector_trg
	BEFORE INSERT OR UPDATE ON contacts
	FOR EACH ROW EXECUTE FUNCTION contacts_search_vector_update();

CREATE TABLE IF NOT EXISTS reconcile_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	report      JSONB,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_reconcile_runs_started_at ON reconcile_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies the idempotent schema under a transaction-scoped advisory
// lock so overlapping deploys do not race on the trigger definitions.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: migrate begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	if _, err := tx.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: migrate commit")
}

// TryLockRun takes a transaction-scoped advisory lock and holds its
// transaction open until release. The lock dies with its connection, so a
// crashed holder frees it.
func (s *PostgresStore) TryLockRun(ctx context.Context) (func(), bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: run lock begin")
	}

	var ok bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", runLockID).Scan(&ok); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, eris.Wrap(err, "postgres: try run lock")
	}
	if !ok {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}
	return func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}, true, nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	err := s.pool.QueryRow(ctx, pgInsertContact,
		nullable(c.RemoteID), nullable(c.FirstName), nullable(c.LastName), nullable(c.Email), nullable(c.Description),
	).Scan(&c.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert contact")
	}
	return &c, nil
}

func (s *PostgresStore) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, pgGetContact, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get contact %d", id)
	}
	return c, nil
}

func (s *PostgresStore) FindContact(ctx context.Context, email, remoteID string) (*model.Contact, error) {
	query := `SELECT ` + pgContactColumns + ` FROM contacts WHERE email = $1`
	args := []any{email}
	if remoteID != "" {
		query += ` AND remote_id = $2`
		args = append(args, remoteID)
	}
	query += ` ORDER BY id LIMIT 1`

	c, err := scanContact(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find contact")
	}
	return c, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.Contact, error) {
	query := `SELECT ` + pgContactColumns + ` FROM contacts ORDER BY id`
	args := []any{}
	argIdx := 1

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	return collectContacts(rows, "postgres: list contacts")
}

var updateConfig = db.UpdateConfig{
	Table:   "contacts",
	Key:     "id",
	Columns: []string{"remote_id", "first_name", "last_name", "email", "description"},
}

// UpdateContacts writes every contact in one transaction. The search
// vector is recomputed by the row trigger.
func (s *PostgresStore) UpdateContacts(ctx context.Context, contacts []model.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(contacts))
	for i, c := range contacts {
		rows[i] = []any{c.ID, nullable(c.RemoteID), nullable(c.FirstName), nullable(c.LastName), nullable(c.Email), nullable(c.Description)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: update contacts begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.BulkUpdate(ctx, tx, updateConfig, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: update contacts")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: update contacts commit")
	}
	return int(n), nil
}

// ImportContacts bulk-loads contacts with COPY. Ids are assigned by the
// database; any ID on the input is ignored.
func (s *PostgresStore) ImportContacts(ctx context.Context, contacts []model.Contact) (int64, error) {
	rows := make([][]any, len(contacts))
	for i, c := range contacts {
		rows[i] = []any{nullable(c.RemoteID), nullable(c.FirstName), nullable(c.LastName), nullable(c.Email), nullable(c.Description)}
	}
	n, err := db.CopyFrom(ctx, s.pool, "contacts", updateConfig.Columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import contacts")
	}
	return n, nil
}

func (s *PostgresStore) SearchContacts(ctx context.Context, text string, limit int) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx, pgSearch, text, searchLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search contacts")
	}
	return collectContacts(rows, "postgres: search contacts")
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.ReconcileRun, error) {
	run := &model.ReconcileRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, pgInsertRun, run.ID, string(run.Status), run.StartedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, report *model.ReconcileReport, runErr error) error {
	var reportJSON []byte
	if report != nil {
		var err error
		if reportJSON, err = json.Marshal(report); err != nil {
			return eris.Wrap(err, "postgres: marshal report")
		}
	}
	var errText *string
	if runErr != nil {
		errText = nullable(runErr.Error())
	}

	tag, err := s.pool.Exec(ctx, pgCompleteRun,
		string(runStatus(runErr)), reportJSON, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ReconcileRun, error) {
	query := `SELECT id, status, report, error, started_at, finished_at FROM reconcile_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ReconcileRun
	for rows.Next() {
		var (
			r          model.ReconcileRun
			status     string
			reportJSON []byte
			errText    *string
		)
		if err := rows.Scan(&r.ID, &status, &reportJSON, &errText, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if len(reportJSON) > 0 {
			r.Report = &model.ReconcileReport{}
			if err := json.Unmarshal(reportJSON, r.Report); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal report")
			}
		}
		r.Error = deref(errText)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanContact(row pgx.Row) (*model.Contact, error) {
	var (
		c                                    model.Contact
		remoteID, first, last, email, descr *string
	)
	if err := row.Scan(&c.ID, &remoteID, &first, &last, &email, &descr); err != nil {
		return nil, err
	}
	c.RemoteID = deref(remoteID)
	c.FirstName = deref(first)
	c.LastName = deref(last)
	c.Email = deref(email)
	c.Description = deref(descr)
	return &c, nil
}

func collectContacts(rows pgx.Rows, op string) ([]model.Contact, error) {
	defer rows.Close()

	out := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), op+": iterate")
}
