package rostercache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/cache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

// ErrMutationInFlight is returned when a record already has an outstanding mutation.
var ErrMutationInFlight = errors.New("a mutation for this record is already in flight")

// Op names a write operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// EventKind tells subscribers how a mutation ended.
type EventKind int

const (
	MutationSucceeded EventKind = iota + 1
	MutationFailed
)

func (k EventKind) String() string {
	switch k {
	case MutationSucceeded:
		return "mutation_succeeded"
	case MutationFailed:
		return "mutation_failed"
	default:
		return "unknown"
	}
}

// Event describes a finished mutation. Record is set on successful create
// and update.
type Event struct {
	Kind   EventKind
	Op     Op
	ID     teachers.ID
	Record teachers.Record
	Err    error
}

// MutationMetrics records mutation outcomes.
type MutationMetrics interface {
	RecordMutation(op string, err error, took time.Duration)
}

type nopMutationMetrics struct{}

func (nopMutationMetrics) RecordMutation(string, error, time.Duration) {}

// Coordinator runs writes against the resource and invalidates the query
// cache after each success. Update and delete are serialized per record id.
type Coordinator struct {
	resource teachers.Resource
	queries  *cache.QueryCache
	keys     Keys
	inflight *xsync.MapOf[teachers.ID, Op]
	logger   *zap.Logger
	metrics  MutationMetrics

	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// NewCoordinator wires a coordinator over resource and queries.
func NewCoordinator(resource teachers.Resource, queries *cache.QueryCache, keys Keys, logger *zap.Logger, metrics MutationMetrics) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMutationMetrics{}
	}
	return &Coordinator{
		resource: resource,
		queries:  queries,
		keys:     keys,
		inflight: xsync.NewMapOf[teachers.ID, Op](),
		logger:   logger,
		metrics:  metrics,
		subs:     make(map[int]func(Event)),
	}
}

// Create stores a new record. A draft has no id, so creates are not serialized.
func (c *Coordinator) Create(ctx context.Context, fields teachers.Fields) (teachers.Record, error) {
	start := time.Now()
	rec, err := c.resource.Create(ctx, fields)
	c.finish(ctx, OpCreate, rec.ID, rec, err, time.Since(start))
	return rec, err
}

// Update replaces a record's fields.
func (c *Coordinator) Update(ctx context.Context, id teachers.ID, fields teachers.Fields) (teachers.Record, error) {
	release, err := c.acquire(id, OpUpdate)
	if err != nil {
		return teachers.Record{}, err
	}
	defer release()

	start := time.Now()
	rec, err := c.resource.Update(ctx, id, fields)
	c.finish(ctx, OpUpdate, id, rec, err, time.Since(start))
	return rec, err
}

// Delete removes a record.
func (c *Coordinator) Delete(ctx context.Context, id teachers.ID) error {
	release, err := c.acquire(id, OpDelete)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	err = c.resource.Delete(ctx, id)
	c.finish(ctx, OpDelete, id, teachers.Record{}, err, time.Since(start))
	return err
}

// InFlight reports whether id has an outstanding update or delete.
func (c *Coordinator) InFlight(id teachers.ID) bool {
	_, ok := c.inflight.Load(id)
	return ok
}

// Subscribe registers fn for every finished mutation and returns a function
// that removes it. fn runs on the mutating goroutine and must not block.
func (c *Coordinator) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Coordinator) acquire(id teachers.ID, op Op) (func(), error) {
	if id.IsZero() {
		return nil, &teachers.ValidationError{Field: "id", Message: "is required"}
	}
	if current, loaded := c.inflight.LoadOrStore(id, op); loaded {
		c.logger.Info("mutation rejected, record busy",
			zap.String("id", id.String()),
			zap.String("op", string(op)),
			zap.String("in_flight", string(current)),
		)
		return nil, ErrMutationInFlight
	}
	return func() { c.inflight.Delete(id) }, nil
}

// finish invalidates on success only, so a failed write never drops
// entries that are still valid.
func (c *Coordinator) finish(ctx context.Context, op Op, id teachers.ID, rec teachers.Record, err error, took time.Duration) {
	c.metrics.RecordMutation(string(op), err, took)

	if err != nil {
		c.logger.Warn("mutation failed",
			zap.String("op", string(op)),
			zap.String("id", id.String()),
			zap.Duration("took", took),
			zap.Error(err),
		)
		c.publish(Event{Kind: MutationFailed, Op: op, ID: id, Err: err})
		return
	}

	removed := c.queries.Invalidate(ctx, c.keys.ListPrefix())
	switch op {
	case OpUpdate:
		removed += c.queries.InvalidateKeys(ctx, c.keys.Record(id))
	case OpDelete:
		removed += c.queries.InvalidateKeys(ctx, c.keys.Record(id), c.keys.Faces(id))
	}

	c.logger.Info("mutation succeeded",
		zap.String("op", string(op)),
		zap.String("id", id.String()),
		zap.Duration("took", took),
		zap.Int("invalidated", removed),
	)
	c.publish(Event{Kind: MutationSucceeded, Op: op, ID: id, Record: rec})
}

func (c *Coordinator) publish(ev Event) {
	c.mu.RLock()
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
