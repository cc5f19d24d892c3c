package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"

	"warungpos/backend/internal/schema"
)

// ApplyVersion creates the tables and indexes v declares, runs its transforms
// over the locked rows and records v in schema_migrations, all in one
// transaction. Concurrent callers are serialized on schema_migrations and a
// version that is already recorded is skipped.
func (s *Store) ApplyVersion(ctx context.Context, v schema.Version) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `LOCK TABLE schema_migrations IN EXCLUSIVE MODE`); err != nil {
		return mapError(err)
	}
	var current int
	if err := pgTx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}
	if current >= v.Number {
		s.logger.Infow("schema version already applied by another process", "version", v.Number, "current", current)
		s.setVersion(current)
		return nil
	}

	for _, spec := range v.Collections {
		if err := createTable(ctx, pgTx, spec); err != nil {
			return err
		}
	}

	for _, t := range v.Upgrade {
		spec, ok := v.Collection(t.Collection)
		if !ok {
			return fmt.Errorf("%s: collection %s is not declared", t.Name, t.Collection)
		}
		updated, err := applyTransform(ctx, pgTx, spec, t)
		if err != nil {
			return err
		}
		s.logger.Debugw("transform applied", "version", v.Number, "transform", t.Name, "updated", updated)
	}

	for _, spec := range v.Collections {
		if err := syncIndexes(ctx, pgTx, spec); err != nil {
			return err
		}
	}

	if _, err := pgTx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, v.Number); err != nil {
		return mapError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return mapError(err)
	}
	s.setVersion(v.Number)
	return nil
}

func createTable(ctx context.Context, q queryer, spec schema.Collection) error {
	idColumn := "id TEXT PRIMARY KEY"
	if spec.AutoIncrement {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s, doc JSONB NOT NULL)`, ident(spec.Name), idColumn))
	if err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, mapError(err))
	}
	return nil
}

func applyTransform(ctx context.Context, q queryer, spec schema.Collection, t schema.Transform) (int, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT id, doc FROM %s ORDER BY id FOR UPDATE`, ident(spec.Name)))
	if err != nil {
		return 0, mapError(err)
	}
	var recs []schema.Record
	for rows.Next() {
		rec, err := scanRecord(spec, rows)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, mapError(err)
	}
	_ = rows.Close()

	updated := 0
	for _, rec := range recs {
		key := rec[schema.KeyField]
		out, err := t.Apply(rec.Clone())
		if err != nil {
			return updated, fmt.Errorf("%s on %s/%v: %w", t.Name, spec.Name, key, err)
		}
		if out == nil {
			return updated, fmt.Errorf("%s on %s/%v returned no record", t.Name, spec.Name, key)
		}
		before, err := encodeDoc(rec)
		if err != nil {
			return updated, err
		}
		after, err := encodeDoc(out)
		if err != nil {
			return updated, err
		}
		if bytes.Equal(before, after) {
			continue
		}
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET doc = $2::jsonb WHERE id = $1`, ident(spec.Name)), key, after); err != nil {
			return updated, mapError(err)
		}
		updated++
	}
	return updated, nil
}

const (
	uniqueSuffix = "_uniq"
	indexSuffix  = "_idx"
)

// syncIndexes makes the expression indexes of the table match spec exactly:
// missing ones are created and ones no longer declared are dropped.
func syncIndexes(ctx context.Context, q queryer, spec schema.Collection) error {
	want := map[string]string{}
	for _, field := range spec.Unique {
		name := spec.Name + "_" + field + uniqueSuffix
		want[name] = fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)`, ident(name), ident(spec.Name), fieldExpr(field))
	}
	for _, field := range spec.Indexed {
		if spec.IsUnique(field) {
			continue
		}
		name := spec.Name + "_" + field + indexSuffix
		want[name] = fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`, ident(name), ident(spec.Name), fieldExpr(field))
	}

	rows, err := q.QueryContext(ctx, `
		SELECT indexname
		FROM pg_indexes
		WHERE schemaname = current_schema() AND tablename = $1
	`, spec.Name)
	if err != nil {
		return mapError(err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		if _, keep := want[name]; keep {
			continue
		}
		owned := strings.HasPrefix(name, spec.Name+"_") &&
			(strings.HasSuffix(name, uniqueSuffix) || strings.HasSuffix(name, indexSuffix))
		if owned {
			stale = append(stale, name)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, name := range stale {
		if _, err := q.ExecContext(ctx, `DROP INDEX IF EXISTS `+ident(name)); err != nil {
			return fmt.Errorf("drop index %s: %w", name, mapError(err))
		}
	}
	for name, ddl := range want {
		if _, err := q.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index %s: %w", name, mapError(err))
		}
	}
	return nil
}
