package database

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
	"github.com/fintrack/vaultguard/internal/infrastructure/command"
)

// Postgres fronts the application's database two ways: dump/restore shells out
// to the native tools through the command runner, while row-level work
// (archival, incremental export, verification) goes through a pgx pool.
type Postgres struct {
	cfg    *config.DatabaseConfig
	runner command.Runner
	pool   *pgxpool.Pool

	dumpTimeout time.Duration
}

func NewPostgres(cfg *config.DatabaseConfig, runner command.Runner, dumpTimeout time.Duration) *Postgres {
	return &Postgres{cfg: cfg, runner: runner, dumpTimeout: dumpTimeout}
}

func (p *Postgres) Name() string { return p.cfg.Database }

// Connect opens the pgx pool against the live database. Dump/restore paths do
// not require it; archival and verification do.
func (p *Postgres) Connect(ctx context.Context) error {
	if p.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, p.cfg.DSN(p.cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	p.pool = pool
	return nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.Connect(ctx); err != nil {
		return err
	}
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}

func (p *Postgres) baseArgs() []string {
	return []string{
		fmt.Sprintf("--host=%s", p.cfg.Host),
		fmt.Sprintf("--port=%d", p.cfg.Port),
		fmt.Sprintf("--username=%s", p.cfg.Username),
	}
}

func (p *Postgres) env() []string {
	return []string{fmt.Sprintf("PGPASSWORD=%s", p.cfg.Password)}
}

// Dump writes a full plain-SQL snapshot of the live database to outputPath.
// A non-zero pg_dump exit is fatal; the partially written file is the
// caller's to clean up.
func (p *Postgres) Dump(ctx context.Context, outputPath string) error {
	args := append(p.baseArgs(),
		"--format=plain",
		"--no-owner",
		"--no-privileges",
		fmt.Sprintf("--file=%s", outputPath),
		p.cfg.Database,
	)

	_, err := p.runner.Run(ctx, command.Spec{
		Name:    "pg_dump",
		Args:    args,
		Env:     p.env(),
		Timeout: p.dumpTimeout,
	})
	return err
}

// DumpChangesSince exports rows of the configured tables modified at or after
// since, as replayable SQL (delete-then-insert per row, inside a single
// transaction). Returns the number of rows captured.
func (p *Postgres) DumpChangesSince(ctx context.Context, tables []config.IncrementalTable, since time.Time, outputPath string) (int64, error) {
	if err := p.Connect(ctx); err != nil {
		return 0, err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, domain.NewFailure(domain.ErrIO, "incremental dump", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "-- incremental changes for %s since %s\nBEGIN;\n",
		p.cfg.Database, since.UTC().Format(time.RFC3339))

	var total int64
	for _, table := range tables {
		n, err := p.exportTableChanges(ctx, f, table, since)
		if err != nil {
			return total, fmt.Errorf("export changes for %s: %w", table.Name, err)
		}
		total += n
	}

	if _, err := fmt.Fprintln(f, "COMMIT;"); err != nil {
		return total, domain.NewFailure(domain.ErrIO, "incremental dump", err)
	}
	return total, nil
}

func (p *Postgres) exportTableChanges(ctx context.Context, f *os.File, table config.IncrementalTable, since time.Time) (int64, error) {
	ident := pgx.Identifier{table.Name}.Sanitize()
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s >= $1 ORDER BY %s",
		ident,
		pgx.Identifier{table.UpdatedColumn}.Sanitize(),
		pgx.Identifier{table.KeyColumn}.Sanitize(),
	)

	rows, err := p.pool.Query(ctx, query, since)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var count int64
	var columns []string
	keyIdx := -1
	for rows.Next() {
		if columns == nil {
			for i, fd := range rows.FieldDescriptions() {
				columns = append(columns, fd.Name)
				if fd.Name == table.KeyColumn {
					keyIdx = i
				}
			}
			if keyIdx == -1 {
				return 0, fmt.Errorf("key column %s not found in %s", table.KeyColumn, table.Name)
			}
		}

		values, err := rows.Values()
		if err != nil {
			return count, err
		}

		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = sqlLiteral(v)
		}
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = pgx.Identifier{c}.Sanitize()
		}

		fmt.Fprintf(f, "DELETE FROM %s WHERE %s = %s;\n",
			ident, pgx.Identifier{table.KeyColumn}.Sanitize(), literals[keyIdx])
		fmt.Fprintf(f, "INSERT INTO %s (%s) VALUES (%s);\n",
			ident, strings.Join(quoted, ", "), strings.Join(literals, ", "))
		count++
	}
	return count, rows.Err()
}

// sqlLiteral renders a pgx-decoded value as a SQL literal. Types outside the
// common set round-trip through their string form.
func sqlLiteral(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int16, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	case string:
		return quoteString(val)
	case time.Time:
		return quoteString(val.UTC().Format("2006-01-02 15:04:05.999999-07"))
	case []byte:
		return fmt.Sprintf("'\\x%x'", val)
	default:
		return quoteString(fmt.Sprintf("%v", val))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// RestoreSQL replays a plain-SQL file into the named database, stopping at
// the first error.
func (p *Postgres) RestoreSQL(ctx context.Context, database, sqlPath string) error {
	args := append(p.baseArgs(),
		fmt.Sprintf("--dbname=%s", database),
		"-v", "ON_ERROR_STOP=1",
		"--file="+sqlPath,
	)

	_, err := p.runner.Run(ctx, command.Spec{
		Name:    "psql",
		Args:    args,
		Env:     p.env(),
		Timeout: p.dumpTimeout,
	})
	return err
}

// CreateDatabase provisions an isolated database, dropping any previous copy
// first when asked. Recovery always restores into a fresh target, never onto
// the live database.
func (p *Postgres) CreateDatabase(ctx context.Context, name string, dropFirst bool) error {
	ident := pgx.Identifier{name}.Sanitize()
	statements := []string{}
	if dropFirst {
		statements = append(statements, fmt.Sprintf("DROP DATABASE IF EXISTS %s", ident))
	}
	statements = append(statements, fmt.Sprintf("CREATE DATABASE %s", ident))

	for _, stmt := range statements {
		args := append(p.baseArgs(), "--dbname=postgres", "-c", stmt)
		if _, err := p.runner.Run(ctx, command.Spec{
			Name:    "psql",
			Args:    args,
			Env:     p.env(),
			Timeout: time.Minute,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CountRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	if err := p.Connect(ctx); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s < $1",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{column}.Sanitize())

	var count int64
	if err := p.pool.QueryRow(ctx, query, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", table, err)
	}
	return count, nil
}

// FetchRowsOlderThan reads one bounded batch of rows older than cutoff,
// ordered by the cutoff column so batches are stable across calls.
func (p *Postgres) FetchRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time, limit, offset int) ([]map[string]interface{}, error) {
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s < $1 ORDER BY %s LIMIT %d OFFSET %d",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{column}.Sanitize(),
		pgx.Identifier{column}.Sanitize(),
		limit, offset)

	rows, err := p.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("fetch rows from %s: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(values))
		for i, fd := range rows.FieldDescriptions() {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteRowsOlderThan removes archived rows inside a single transaction. A
// named restore point is attempted first as a safety checkpoint; lacking the
// privilege for one degrades to a warning carried back to the caller.
func (p *Postgres) DeleteRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time, restorePoint string) (deleted int64, warning string, err error) {
	if err := p.Connect(ctx); err != nil {
		return 0, "", err
	}

	if _, rpErr := p.pool.Exec(ctx, "SELECT pg_create_restore_point($1)", restorePoint); rpErr != nil {
		warning = fmt.Sprintf("restore point %s not created: %v", restorePoint, rpErr)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, warning, fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{column}.Sanitize())
	tag, err := tx.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, warning, fmt.Errorf("delete rows from %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, warning, fmt.Errorf("commit delete transaction: %w", err)
	}
	return tag.RowsAffected(), warning, nil
}

// Vacuum reclaims space after archival deletes. VACUUM cannot run inside a
// transaction block, so it goes through Exec directly.
func (p *Postgres) Vacuum(ctx context.Context, table string) error {
	if err := p.Connect(ctx); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf("VACUUM ANALYZE %s", pgx.Identifier{table}.Sanitize()))
	if err != nil {
		return fmt.Errorf("vacuum %s: %w", table, err)
	}
	return nil
}

type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

func (p *Postgres) TableSchema(ctx context.Context, table string) ([]ColumnInfo, error) {
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable = 'YES'
		 FROM information_schema.columns
		 WHERE table_name = $1
		 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("read schema for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns or does not exist", table)
	}
	return columns, rows.Err()
}

// withDatabase runs fn on a one-off connection to the named database, used by
// recovery verification against the restore target.
func (p *Postgres) withDatabase(ctx context.Context, database string, fn func(conn *pgx.Conn) error) error {
	conn, err := pgx.Connect(ctx, p.cfg.DSN(database))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", database, err)
	}
	defer conn.Close(ctx)
	return fn(conn)
}

func (p *Postgres) CountRowsIn(ctx context.Context, database, table string) (int64, error) {
	var count int64
	err := p.withDatabase(ctx, database, func(conn *pgx.Conn) error {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{table}.Sanitize())
		return conn.QueryRow(ctx, query).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count rows in %s.%s: %w", database, table, err)
	}
	return count, nil
}

// QueryValueIn evaluates an integrity predicate against the named database.
// The query must return a single integer.
func (p *Postgres) QueryValueIn(ctx context.Context, database, query string) (int64, error) {
	var value int64
	err := p.withDatabase(ctx, database, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, query).Scan(&value)
	})
	if err != nil {
		return 0, fmt.Errorf("integrity query against %s: %w", database, err)
	}
	return value, nil
}
