package obt

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects the build strategy.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeByPartition Mode = "by-partition"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeByPartition:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeFull, ModeByPartition)
}

// PartitionKey identifies one independently reconcilable slice of the table.
type PartitionKey struct {
	Year    int
	Service Service
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%d/%s", k.Year, k.Service)
}

// UnitStatus is the outcome of one unit of work.
type UnitStatus string

const (
	StatusPending      UnitStatus = "PENDING"
	StatusSkipped      UnitStatus = "SKIPPED"
	StatusReplaced     UnitStatus = "REPLACED"
	StatusInserted     UnitStatus = "INSERTED"
	StatusUnrecognized UnitStatus = "UNRECOGNIZED"
	StatusFailed       UnitStatus = "FAILED"
	// StatusRolledBack marks full-mode work undone because a later service failed.
	StatusRolledBack UnitStatus = "ROLLED_BACK"
)

// Request describes one run.
type Request struct {
	Years     []int
	Services  []string
	Mode      Mode
	RunID     string
	Overwrite bool
}

func (r *Request) Validate() error {
	if len(r.Years) == 0 {
		return errors.New("at least one year is required")
	}
	for _, y := range r.Years {
		if err := checkYear(y); err != nil {
			return err
		}
	}
	if len(r.Services) == 0 {
		return errors.New("at least one service is required")
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	return nil
}

// UnitResult reports one unit of work. In by-partition mode a unit is one
// partition; in full mode it is one service across all requested years, and
// Key.Year is zero.
type UnitResult struct {
	Key          PartitionKey
	ServiceName  string
	Years        []int
	Status       UnitStatus
	ExistingRows int64
	DeletedRows  int64
	InsertedRows int64
	MirroredRows int64
	Duration     time.Duration
	Err          error
}

// Summary aggregates a run. It is returned even when the run fails so the
// caller can show how far it got.
type Summary struct {
	Request      Request
	StartedAt    time.Time
	Duration     time.Duration
	Truncated    bool
	Units        []UnitResult
	InsertedRows int64
	DeletedRows  int64
}

func (s *Summary) add(u UnitResult) {
	s.Units = append(s.Units, u)
	s.InsertedRows += u.InsertedRows
	s.DeletedRows += u.DeletedRows
}

// Count returns the number of units with the given status.
func (s *Summary) Count(status UnitStatus) int {
	n := 0
	for _, u := range s.Units {
		if u.Status == status {
			n++
		}
	}
	return n
}

// PartitionCount is one row of the post-run inventory.
type PartitionCount struct {
	Year     int
	Service  string
	Rows     int64
	MinMonth int
	MaxMonth int
}
