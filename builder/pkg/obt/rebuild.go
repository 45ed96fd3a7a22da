package obt

import (
	"context"
	"fmt"
)

// RebuildAll loads every requested service across all requested years with
// one INSERT per service. With req.Overwrite the whole table is truncated
// first, including partitions outside the request. Truncate and inserts
// share one transaction, so a failure leaves the previous contents in place.
//
// Without overwrite rows are appended as-is; running the same request twice
// duplicates them.
func (b *Builder) RebuildAll(ctx context.Context, req Request) (*Summary, error) {
	summary := b.newSummary(req)
	defer b.finish(summary)

	b.log.Info("obt: starting full build",
		"years", req.Years, "services", req.Services, "run_id", req.RunID, "overwrite", req.Overwrite)
	b.runStarted(req, len(req.Services))

	var results []UnitResult
	failed := -1
	err := b.cfg.Store.InTx(ctx, func(tx StoreTx) error {
		if req.Overwrite {
			b.log.Info("obt: truncating destination table")
			if err := tx.Truncate(ctx); err != nil {
				return err
			}
		}

		for _, name := range req.Services {
			start := b.cfg.Clock.Now()
			res := UnitResult{
				Key:         PartitionKey{Service: Service(name)},
				ServiceName: name,
				Years:       req.Years,
				Status:      StatusPending,
			}

			service, ok := ParseService(name)
			if !ok {
				b.log.Warn("obt: unrecognized service, skipping", "service", name)
				res.Status = StatusUnrecognized
				res.Duration = b.cfg.Clock.Since(start)
				results = append(results, res)
				continue
			}

			b.log.Info("obt: loading service", "service", name, "years", req.Years)
			inserted, err := tx.Insert(ctx, b.cfg.Queries.QueryFor(service, req.Years))
			res.Duration = b.cfg.Clock.Since(start)
			if err != nil {
				res.Status = StatusFailed
				res.Err = fmt.Errorf("service %s: %w", name, err)
				failed = len(results)
				results = append(results, res)
				return res.Err
			}
			res.Status = StatusInserted
			res.InsertedRows = inserted
			b.log.Info("obt: service loaded", "service", name, "rows", inserted, "duration", res.Duration)
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		for i := range results {
			if i != failed && results[i].Status == StatusInserted {
				results[i].Status = StatusRolledBack
				results[i].InsertedRows = 0
			}
		}
		if failed < 0 {
			err = fmt.Errorf("full build: %w", err)
		}
	} else {
		summary.Truncated = req.Overwrite
		err = b.mirrorFull(ctx, req, results)
	}

	// Units are only reported once the transaction outcome is known.
	for _, res := range results {
		summary.add(res)
		b.notify(res)
	}
	if err != nil {
		return summary, err
	}

	b.log.Info("obt: full build complete", "rows", summary.InsertedRows, "truncated", summary.Truncated)
	return summary, nil
}

// mirrorFull resyncs every requested partition of each loaded service.
func (b *Builder) mirrorFull(ctx context.Context, req Request, results []UnitResult) error {
	if b.cfg.Mirror == nil {
		return nil
	}
	if req.Overwrite {
		if err := b.cfg.Mirror.Truncate(ctx); err != nil {
			return fmt.Errorf("failed to truncate mirror: %w", err)
		}
	}
	for i := range results {
		if results[i].Status != StatusInserted {
			continue
		}
		service := Service(results[i].ServiceName)
		for _, year := range req.Years {
			n, err := b.mirrorPartition(ctx, PartitionKey{Year: year, Service: service}, 0, true)
			if err != nil {
				results[i].Err = err
				return err
			}
			results[i].MirroredRows += n
		}
	}
	return nil
}
