package obt

import (
	"context"
	"fmt"
)

// ReconcilePartitions processes every (year, service) unit in year-major
// order. Each unit counts the partition, then skips it, replaces it, or
// inserts it, and commits before the next unit starts. The first error
// aborts the run; units committed before it stay in place.
func (b *Builder) ReconcilePartitions(ctx context.Context, req Request) (*Summary, error) {
	summary := b.newSummary(req)
	defer b.finish(summary)

	b.log.Info("obt: starting by-partition build",
		"years", req.Years, "services", req.Services, "run_id", req.RunID, "overwrite", req.Overwrite)
	b.runStarted(req, len(req.Years)*len(req.Services))

	for _, year := range req.Years {
		for _, name := range req.Services {
			res := b.reconcileUnit(ctx, year, name, req.Overwrite)
			b.unitFinished(summary, res)
			if res.Err != nil {
				return summary, res.Err
			}
		}
	}

	b.log.Info("obt: by-partition build complete",
		"units", len(summary.Units),
		"inserted", summary.Count(StatusInserted),
		"replaced", summary.Count(StatusReplaced),
		"skipped", summary.Count(StatusSkipped),
		"rows", summary.InsertedRows)
	return summary, nil
}

func (b *Builder) reconcileUnit(ctx context.Context, year int, name string, overwrite bool) (res UnitResult) {
	start := b.cfg.Clock.Now()
	res = UnitResult{
		Key:         PartitionKey{Year: year, Service: Service(name)},
		ServiceName: name,
		Years:       []int{year},
		Status:      StatusPending,
	}
	defer func() { res.Duration = b.cfg.Clock.Since(start) }()

	service, ok := ParseService(name)
	if !ok {
		b.log.Warn("obt: unrecognized service, skipping", "service", name, "year", year)
		res.Status = StatusUnrecognized
		return res
	}
	key := PartitionKey{Year: year, Service: service}
	log := b.log.With("partition", key.String())
	log.Debug("obt: processing partition")

	err := b.cfg.Store.InTx(ctx, func(tx StoreTx) error {
		existing, err := tx.CountPartition(ctx, key)
		if err != nil {
			return err
		}
		res.ExistingRows = existing

		if existing > 0 && !overwrite {
			res.Status = StatusSkipped
			return nil
		}

		res.Status = StatusInserted
		if existing > 0 {
			log.Info("obt: deleting existing partition", "rows", existing)
			deleted, err := tx.DeletePartition(ctx, key)
			if err != nil {
				return err
			}
			res.DeletedRows = deleted
			res.Status = StatusReplaced
		}

		inserted, err := tx.Insert(ctx, b.cfg.Queries.QueryFor(service, []int{year}))
		if err != nil {
			return err
		}
		res.InsertedRows = inserted
		return nil
	})
	if err != nil {
		res.Status = StatusFailed
		res.DeletedRows, res.InsertedRows = 0, 0
		res.Err = fmt.Errorf("partition %s: %w", key, err)
		return res
	}

	switch res.Status {
	case StatusSkipped:
		log.Info("obt: partition already loaded, skipping", "rows", res.ExistingRows)
		res.MirroredRows, err = b.mirrorPartition(ctx, key, res.ExistingRows, false)
	default:
		log.Info("obt: partition committed", "status", res.Status, "deleted", res.DeletedRows, "inserted", res.InsertedRows)
		res.MirroredRows, err = b.mirrorPartition(ctx, key, res.InsertedRows, true)
	}
	if err != nil {
		res.Err = err
	}
	return res
}
