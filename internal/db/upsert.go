package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig names the target table, the copied columns and the unique
// key. Every column outside Key is overwritten on conflict.
type UpsertConfig struct {
	Table   string   // optionally schema-qualified, e.g. "geo.soil_regions"
	Columns []string
	Key     []string
}

// BulkUpsert stages rows with COPY into a temp table cloned from the target,
// then merges them in one transaction. It returns the merged row count.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := mergeStatement(cfg)
	if err != nil {
		return 0, err
	}
	staging := stagingTable(cfg.Table)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	clone := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), sanitizeTable(cfg.Table))
	if _, err := tx.Exec(ctx, clone); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy %d rows for %s", len(rows), cfg.Table)
	}

	tag, err := tx.Exec(ctx, stmt)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit")
	}
	return tag.RowsAffected(), nil
}

// mergeStatement builds the INSERT ... SELECT ... ON CONFLICT statement that
// moves staged rows into cfg.Table.
func mergeStatement(cfg UpsertConfig) (string, error) {
	if cfg.Table == "" || len(cfg.Columns) == 0 || len(cfg.Key) == 0 {
		return "", eris.New("db: upsert: table, columns and key are required")
	}

	inKey := make(map[string]bool, len(cfg.Key))
	for _, k := range cfg.Key {
		inKey[k] = true
	}
	var set []string
	for _, c := range cfg.Columns {
		if !inKey[c] {
			id := pgx.Identifier{c}.Sanitize()
			set = append(set, id+" = EXCLUDED."+id)
		}
	}
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}

	cols := quoteAndJoin(cfg.Columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table), cols, cols,
		pgx.Identifier{stagingTable(cfg.Table)}.Sanitize(),
		quoteAndJoin(cfg.Key), action), nil
}

func stagingTable(table string) string {
	return "_tmp_upsert_" + strings.ReplaceAll(table, ".", "_")
}

// sanitizeTable quotes a table name, keeping a schema qualifier separate.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
