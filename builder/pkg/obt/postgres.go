package obt

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxConn is the subset of pgxpool.Pool / pgx.Conn used by PostgresStore.
type PgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore implements Store on a Postgres database.
type PostgresStore struct {
	db     PgxConn
	schema string
	table  string
}

func NewPostgresStore(db PgxConn, analyticsSchema string) *PostgresStore {
	return &PostgresStore{
		db:     db,
		schema: pgx.Identifier{analyticsSchema}.Sanitize(),
		table:  pgx.Identifier{analyticsSchema, TableName}.Sanitize(),
	}
}

// Table returns the quoted, schema-qualified destination table name.
func (s *PostgresStore) Table() string {
	return s.table
}

// CreateTableSQL returns the destination DDL.
func (s *PostgresStore) CreateTableSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.table)
	for i, c := range Columns {
		fmt.Fprintf(&b, "  %s %s", pgx.Identifier{c.Name}.Sanitize(), c.Type.PostgresType())
		if i < len(Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+s.schema); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", s.schema, err)
		}
		if _, err := tx.Exec(ctx, s.CreateTableSQL()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", s.table, err)
		}
		return nil
	})
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&postgresTx{tx: tx, table: s.table})
	})
}

func (s *PostgresStore) Inventory(ctx context.Context) ([]PartitionCount, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT source_year, service_type, COUNT(*),
		       COALESCE(MIN(source_month), 0), COALESCE(MAX(source_month), 0)
		FROM %s
		GROUP BY source_year, service_type
		ORDER BY source_year, service_type
	`, s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var out []PartitionCount
	for rows.Next() {
		var (
			pc      PartitionCount
			year    *int32
			service *string
			minM    int32
			maxM    int32
		)
		if err := rows.Scan(&year, &service, &pc.Rows, &minM, &maxM); err != nil {
			return nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}
		if year != nil {
			pc.Year = int(*year)
		}
		if service != nil {
			pc.Service = *service
		}
		pc.MinMonth, pc.MaxMonth = int(minM), int(maxM)
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inventory rows: %w", err)
	}
	return out, nil
}

type postgresTx struct {
	tx    pgx.Tx
	table string
}

func (t *postgresTx) CountPartition(ctx context.Context, key PartitionKey) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE source_year = $1 AND service_type = $2", t.table),
		int32(key.Year), string(key.Service),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count partition %s: %w", key, err)
	}
	return n, nil
}

func (t *postgresTx) DeletePartition(ctx context.Context, key PartitionKey) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE source_year = $1 AND service_type = $2", t.table),
		int32(key.Year), string(key.Service),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete partition %s: %w", key, err)
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) Truncate(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, "TRUNCATE "+t.table); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", t.table, err)
	}
	return nil
}

func (t *postgresTx) Insert(ctx context.Context, q Query) (int64, error) {
	if q.SQL == "" {
		return 0, fmt.Errorf("no extraction query for service %q", q.Service)
	}
	cols := make([]string, len(Columns))
	for i, c := range Columns {
		cols[i] = pgx.Identifier{c.Name}.Sanitize()
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s)\n%s", t.table, strings.Join(cols, ", "), q.SQL)
	tag, err := t.tx.Exec(ctx, stmt, q.Args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s rows for years %v: %w", q.Service, q.Years, err)
	}
	return tag.RowsAffected(), nil
}
