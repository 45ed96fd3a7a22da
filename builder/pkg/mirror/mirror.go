// Package mirror keeps a ClickHouse copy of the trips table in step with the
// committed Postgres partitions.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tripslake/lake/builder/pkg/clickhouse"
	"github.com/tripslake/lake/builder/pkg/obt"
)

const DefaultBatchSize = 50_000

// Source reads committed rows from the Postgres destination table.
type Source interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Config struct {
	Logger *slog.Logger
	// Source is the Postgres pool the builder writes to.
	Source Source
	// SourceTable is the quoted, schema-qualified destination table.
	SourceTable string
	ClickHouse  clickhouse.Client
	// BatchSize bounds the rows sent per ClickHouse insert.
	BatchSize int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.SourceTable == "" {
		return errors.New("source table is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return nil
}

// Mirror implements obt.PartitionMirror on ClickHouse. The ClickHouse table
// is partitioned by (source_year, service_type), so replacing a partition is
// a native DROP PARTITION followed by a copy.
type Mirror struct {
	log *slog.Logger
	cfg Config
}

var _ obt.PartitionMirror = (*Mirror)(nil)

func New(cfg Config) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Mirror{log: cfg.Logger, cfg: cfg}, nil
}

func (m *Mirror) Truncate(ctx context.Context) error {
	conn, err := m.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	m.log.Info("mirror: truncating", "table", obt.TableName)
	if err := conn.Exec(ctx, "TRUNCATE TABLE "+obt.TableName); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", obt.TableName, err)
	}
	return nil
}

func (m *Mirror) CountPartition(ctx context.Context, key obt.PartitionKey) (int64, error) {
	conn, err := m.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx,
		fmt.Sprintf("SELECT count() FROM %s WHERE source_year = ? AND service_type = ?", obt.TableName),
		int32(key.Year), string(key.Service),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count partition %s: %w", key, err)
	}
	defer rows.Close()

	var n uint64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to scan partition count: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to count partition %s: %w", key, err)
	}
	return int64(n), nil
}

func (m *Mirror) ReplacePartition(ctx context.Context, key obt.PartitionKey) (int64, error) {
	conn, err := m.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	log := m.log.With("partition", key.String())
	if err := conn.Exec(ctx, dropPartitionSQL(key)); err != nil {
		return 0, fmt.Errorf("failed to drop partition: %w", err)
	}

	cols := make([]string, len(obt.Columns))
	for i, c := range obt.Columns {
		cols[i] = pgx.Identifier{c.Name}.Sanitize()
	}
	rows, err := m.cfg.Source.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE source_year = $1 AND service_type = $2",
			strings.Join(cols, ", "), m.cfg.SourceTable),
		int32(key.Year), string(key.Service),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to read partition: %w", err)
	}
	defer rows.Close()

	syncCtx := clickhouse.ContextWithSyncInsert(ctx)
	w := &batchWriter{
		size: m.cfg.BatchSize,
		prepare: func(ctx context.Context) (batch, error) {
			return conn.PrepareBatch(ctx, "INSERT INTO "+obt.TableName)
		},
	}
	defer w.close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return w.total, fmt.Errorf("failed to decode row: %w", err)
		}
		if err := w.append(syncCtx, values); err != nil {
			return w.total, err
		}
	}
	if err := rows.Err(); err != nil {
		return w.total, fmt.Errorf("failed to read partition: %w", err)
	}
	if err := w.flush(); err != nil {
		return w.total, err
	}

	log.Info("mirror: partition replaced", "rows", w.total, "batches", w.batches)
	return w.total, nil
}

// dropPartitionSQL names the partition by its tuple value. Dropping a
// partition that does not exist is a no-op.
func dropPartitionSQL(key obt.PartitionKey) string {
	return fmt.Sprintf("ALTER TABLE %s DROP PARTITION (%d, '%s')",
		obt.TableName, key.Year, strings.ReplaceAll(string(key.Service), "'", "\\'"))
}

// batchWriter sends rows to ClickHouse in batches of at most size rows.
type batchWriter struct {
	prepare func(ctx context.Context) (batch, error)
	size    int
	batch   batch
	pending int
	total   int64
	batches int
}

// batch is the part of driver.Batch the writer uses.
type batch interface {
	Append(v ...any) error
	Send() error
	Close() error
}

func (w *batchWriter) append(ctx context.Context, values []any) error {
	if w.batch == nil {
		b, err := w.prepare(ctx)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		w.batch = b
	}
	if err := w.batch.Append(values...); err != nil {
		return fmt.Errorf("failed to append row %d: %w", w.total+int64(w.pending), err)
	}
	w.pending++
	if w.pending >= w.size {
		return w.flush()
	}
	return nil
}

func (w *batchWriter) flush() error {
	if w.batch == nil {
		return nil
	}
	b := w.batch
	w.batch = nil
	defer b.Close()
	if err := b.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	w.total += int64(w.pending)
	w.pending = 0
	w.batches++
	return nil
}

func (w *batchWriter) close() {
	if w.batch != nil {
		_ = w.batch.Close()
		w.batch = nil
	}
}
