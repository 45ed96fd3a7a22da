package obt

import "context"

// Store is the SQL engine the builders run against.
type Store interface {
	// EnsureSchema creates the analytics schema and destination table if
	// missing and commits. It never drops or alters existing structure.
	EnsureSchema(ctx context.Context) error
	// InTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	InTx(ctx context.Context, fn func(tx StoreTx) error) error
	// Inventory returns row counts per partition, ordered by year then service.
	Inventory(ctx context.Context) ([]PartitionCount, error)
}

// StoreTx is the set of statements issued inside one unit of work.
type StoreTx interface {
	CountPartition(ctx context.Context, key PartitionKey) (int64, error)
	DeletePartition(ctx context.Context, key PartitionKey) (int64, error)
	Truncate(ctx context.Context) error
	// Insert runs INSERT INTO <destination> <q> and returns rows affected.
	Insert(ctx context.Context, q Query) (int64, error)
}

// PartitionMirror is a secondary copy of the table kept in sync with
// committed partitions.
type PartitionMirror interface {
	Truncate(ctx context.Context) error
	CountPartition(ctx context.Context, key PartitionKey) (int64, error)
	// ReplacePartition replaces the mirrored partition with the committed
	// contents of the destination and returns the number of rows copied.
	ReplacePartition(ctx context.Context, key PartitionKey) (int64, error)
}

// Observer receives progress events. Implementations must not mutate the
// values they are given.
type Observer interface {
	RunStarted(req Request, units int)
	UnitFinished(res UnitResult)
}
