package obt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Store   Store
	Queries *QueryProvider
	// Mirror is optional.
	Mirror PartitionMirror
	// Observer is optional.
	Observer Observer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Queries == nil {
		return errors.New("query provider is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Builder runs full and by-partition builds of the trips table. It issues one
// statement at a time and is not safe for concurrent use.
type Builder struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run ensures the schema and dispatches on req.Mode.
func (b *Builder) Run(ctx context.Context, req Request) (*Summary, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	b.log.Info("obt: ensuring schema")
	if err := b.cfg.Store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	switch req.Mode {
	case ModeByPartition:
		return b.ReconcilePartitions(ctx, req)
	default:
		return b.RebuildAll(ctx, req)
	}
}

// Inventory returns the current partition row counts.
func (b *Builder) Inventory(ctx context.Context) ([]PartitionCount, error) {
	return b.cfg.Store.Inventory(ctx)
}

func (b *Builder) newSummary(req Request) *Summary {
	return &Summary{
		Request:   req,
		StartedAt: b.cfg.Clock.Now(),
	}
}

func (b *Builder) finish(s *Summary) {
	s.Duration = b.cfg.Clock.Since(s.StartedAt)
}

func (b *Builder) runStarted(req Request, units int) {
	if b.cfg.Observer != nil {
		b.cfg.Observer.RunStarted(req, units)
	}
}

func (b *Builder) unitFinished(s *Summary, res UnitResult) {
	s.add(res)
	b.notify(res)
}

func (b *Builder) notify(res UnitResult) {
	if b.cfg.Observer != nil {
		b.cfg.Observer.UnitFinished(res)
	}
}

// mirrorPartition pushes a committed partition to the mirror. When force is
// false the partition is only copied if the mirror's row count differs from
// expected.
func (b *Builder) mirrorPartition(ctx context.Context, key PartitionKey, expected int64, force bool) (int64, error) {
	if b.cfg.Mirror == nil {
		return 0, nil
	}
	if !force {
		have, err := b.cfg.Mirror.CountPartition(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("failed to count mirrored partition %s: %w", key, err)
		}
		if have == expected {
			b.log.Debug("obt: mirror partition in sync", "partition", key.String(), "rows", have)
			return 0, nil
		}
		b.log.Info("obt: mirror partition out of sync", "partition", key.String(), "mirror_rows", have, "rows", expected)
	}
	n, err := b.cfg.Mirror.ReplacePartition(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to mirror partition %s: %w", key, err)
	}
	return n, nil
}
