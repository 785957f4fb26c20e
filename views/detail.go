package views

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

// DetailState is a snapshot of a DetailView.
type DetailState struct {
	Status Status
	Record teachers.Record
	Err    error
	// Retryable is set when Err is worth a Retry.
	Retryable bool
}

// DetailView shows one record, read through the query cache.
type DetailView struct {
	roster   Roster
	notifier Notifier
	logger   *zap.Logger
	id       teachers.ID

	mu     sync.Mutex
	state  DetailState
	seq    uint64
	closed bool
}

func NewDetailView(roster Roster, id teachers.ID, opts ...Option) *DetailView {
	o := buildOptions(opts)
	return &DetailView{
		roster:   roster,
		notifier: o.notifier,
		logger:   o.logger,
		id:       id,
	}
}

func (v *DetailView) ID() teachers.ID { return v.id }

func (v *DetailView) Load(ctx context.Context) (teachers.Record, error) {
	return v.load(ctx, v.roster.GetOne)
}

// Retry reloads a record whose last load failed.
func (v *DetailView) Retry(ctx context.Context) (teachers.Record, error) {
	return v.load(ctx, v.roster.RetryGetOne)
}

func (v *DetailView) State() DetailState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Close discards any result still on its way.
func (v *DetailView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.seq++
}

func (v *DetailView) load(ctx context.Context, fetch func(context.Context, teachers.ID) (teachers.Record, error)) (teachers.Record, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return teachers.Record{}, ErrClosed
	}
	v.seq++
	seq := v.seq
	prev := v.state.Status
	v.state.Status = StatusLoading
	v.mu.Unlock()

	rec, err := fetch(ctx, v.id)

	v.mu.Lock()
	if v.closed || seq != v.seq {
		v.mu.Unlock()
		return teachers.Record{}, ErrStaleResult
	}
	if err != nil && abandoned(ctx, err) {
		v.state.Status = prev
		v.mu.Unlock()
		return teachers.Record{}, err
	}
	if err != nil {
		v.state = DetailState{Status: StatusFailed, Err: err, Retryable: teachers.IsRetryable(err)}
		v.mu.Unlock()
		v.logger.Warn("teacher detail load failed", zap.String("id", v.id.String()), zap.Error(err))
		v.notifier.Error("Could not load teacher", err)
		return teachers.Record{}, err
	}
	v.state = DetailState{Status: StatusReady, Record: rec}
	v.mu.Unlock()
	return rec, nil
}
