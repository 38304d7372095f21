package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using the COPY protocol.
func CopyFrom(ctx context.Context, w Writer, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := w.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// UpdateConfig describes a keyed bulk update.
type UpdateConfig struct {
	Table   string   // target table
	Key     string   // column matched between staged and target rows
	Columns []string // updated columns, excluding Key
}

// BulkUpdate stages rows in a temp table via COPY and applies them with a
// single UPDATE ... FROM. Rows are laid out as Key followed by Columns. It
// must run inside a transaction since the staging table is dropped on commit.
func BulkUpdate(ctx context.Context, tx Writer, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if cfg.Key == "" {
		return 0, eris.New("db: update: no key column specified")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: update: no columns specified")
	}

	all := append([]string{cfg.Key}, cfg.Columns...)
	staging := "_tmp_update_" + cfg.Table

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		pgx.Identifier{staging}.Sanitize(),
		quoteAndJoin(all),
		pgx.Identifier{cfg.Table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: update: create staging table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, all, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: update: COPY into staging table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, updateSQL(cfg, staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: update: apply to %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func updateSQL(cfg UpdateConfig, staging string) string {
	sets := make([]string, len(cfg.Columns))
	for i, c := range cfg.Columns {
		col := pgx.Identifier{c}.Sanitize()
		sets[i] = fmt.Sprintf("%s = s.%s", col, col)
	}
	key := pgx.Identifier{cfg.Key}.Sanitize()
	return fmt.Sprintf(
		"UPDATE %s AS t SET %s FROM %s AS s WHERE t.%s = s.%s",
		pgx.Identifier{cfg.Table}.Sanitize(),
		strings.Join(sets, ", "),
		pgx.Identifier{staging}.Sanitize(),
		key, key,
	)
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
