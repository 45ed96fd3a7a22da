package obt

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// memStore is an in-memory Store. Committed rows live in rows; a transaction
// works on a copy that replaces rows on commit.
type memStore struct {
	mu sync.Mutex

	rows   map[PartitionKey]int64
	source map[Service]map[int]int64
	// failOn maps an operation ("count:2023/green", "insert:green",
	// "truncate", "ensure") to the error it returns.
	failOn map[string]error
	// clock is advanced by insertCost on every insert when set.
	clock      *clockwork.FakeClock
	insertCost time.Duration

	ops          []string
	commits      int
	rollbacks    int
	ensureCalls  int
	insertedArgs [][]any
}

func newMemStore() *memStore {
	return &memStore{
		rows: make(map[PartitionKey]int64),
		source: map[Service]map[int]int64{
			ServiceYellow: {2022: 120, 2023: 100, 2024: 90},
			ServiceGreen:  {2022: 12, 2023: 10, 2024: 9},
		},
		failOn: make(map[string]error),
	}
}

func (s *memStore) committed(key PartitionKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[key]
}

func (s *memStore) total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.rows {
		n += v
	}
	return n
}

func (s *memStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCalls++
	s.ops = append(s.ops, "ensure")
	return s.failOn["ensure"]
}

func (s *memStore) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	s.mu.Lock()
	tx := &memTx{store: s, rows: maps.Clone(s.rows)}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		s.mu.Lock()
		s.rollbacks++
		s.ops = append(s.ops, "rollback")
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["commit"]; err != nil {
		s.rollbacks++
		return err
	}
	s.rows = tx.rows
	s.commits++
	s.ops = append(s.ops, "commit")
	return nil
}

func (s *memStore) Inventory(ctx context.Context) ([]PartitionCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PartitionCount
	for k, n := range s.rows {
		if n == 0 {
			continue
		}
		out = append(out, PartitionCount{Year: k.Year, Service: string(k.Service), Rows: n, MinMonth: 1, MaxMonth: 12})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Service < out[j].Service
	})
	return out, nil
}

type memTx struct {
	store *memStore
	rows  map[PartitionKey]int64
}

func (t *memTx) op(name string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.ops = append(t.store.ops, name)
	return t.store.failOn[name]
}

func (t *memTx) CountPartition(ctx context.Context, key PartitionKey) (int64, error) {
	if err := t.op("count:" + key.String()); err != nil {
		return 0, err
	}
	return t.rows[key], nil
}

func (t *memTx) DeletePartition(ctx context.Context, key PartitionKey) (int64, error) {
	if err := t.op("delete:" + key.String()); err != nil {
		return 0, err
	}
	n := t.rows[key]
	delete(t.rows, key)
	return n, nil
}

func (t *memTx) Truncate(ctx context.Context) error {
	if err := t.op("truncate"); err != nil {
		return err
	}
	clear(t.rows)
	return nil
}

func (t *memTx) Insert(ctx context.Context, q Query) (int64, error) {
	if q.SQL == "" {
		return 0, fmt.Errorf("no extraction query for service %q", q.Service)
	}
	if err := t.op("insert:" + string(q.Service)); err != nil {
		return 0, err
	}
	t.store.mu.Lock()
	t.store.insertedArgs = append(t.store.insertedArgs, q.Args)
	if t.store.clock != nil {
		t.store.clock.Advance(t.store.insertCost)
	}
	src := t.store.source[q.Service]
	t.store.mu.Unlock()

	var n int64
	for _, y := range q.Years {
		t.rows[PartitionKey{Year: y, Service: q.Service}] += src[y]
		n += src[y]
	}
	return n, nil
}

// memMirror copies committed partitions out of a memStore.
type memMirror struct {
	mu        sync.Mutex
	store     *memStore
	rows      map[PartitionKey]int64
	replaced  []PartitionKey
	truncates int
	failOn    map[string]error
}

func newMemMirror(store *memStore) *memMirror {
	return &memMirror{store: store, rows: make(map[PartitionKey]int64), failOn: make(map[string]error)}
}

func (m *memMirror) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["truncate"]; err != nil {
		return err
	}
	m.truncates++
	clear(m.rows)
	return nil
}

func (m *memMirror) CountPartition(ctx context.Context, key PartitionKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[key], nil
}

func (m *memMirror) ReplacePartition(ctx context.Context, key PartitionKey) (int64, error) {
	n := m.store.committed(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["replace:"+key.String()]; err != nil {
		return 0, err
	}
	m.rows[key] = n
	m.replaced = append(m.replaced, key)
	return n, nil
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	mu       sync.Mutex
	started  []int
	finished []UnitResult
}

func (o *recordingObserver) RunStarted(req Request, units int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, units)
}

func (o *recordingObserver) UnitFinished(res UnitResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, res)
}
