package views

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/rostercache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

// EventKind names a discrete input to the list view's state machine.
type EventKind int

const (
	PageChanged EventKind = iota + 1
	MutationSucceeded
	MutationFailed
)

func (k EventKind) String() string {
	switch k {
	case PageChanged:
		return "page_changed"
	case MutationSucceeded:
		return "mutation_succeeded"
	case MutationFailed:
		return "mutation_failed"
	default:
		return "unknown"
	}
}

// Event drives ListView.Handle. Page is read for PageChanged, Mutation for
// the mutation kinds.
type Event struct {
	Kind     EventKind
	Page     int
	Mutation rostercache.Event
}

// ListState is a snapshot of a ListView.
type ListState struct {
	Page       int
	Size       int
	TotalPages int
	TotalItems int
	Rows       []teachers.Record
	Status     Status
	Err        error
	// Retryable is set when Err is worth a Retry.
	Retryable bool
	// Stale is set when a mutation succeeded after the rows were loaded.
	Stale bool
}

// ListView pages through the roster. Rows come from the query cache, so
// revisiting a page is free until a mutation invalidates it.
type ListView struct {
	roster Roster
	opts   []Option
	o      options

	mu          sync.Mutex
	page        int
	totalPages  int
	totalItems  int
	rows        []teachers.Record
	status      Status
	err         error
	stale       bool
	seq         uint64
	closed      bool
	unsubscribe func()
}

// NewListView opens a list at page 0 and subscribes to mutation events.
func NewListView(roster Roster, opts ...Option) *ListView {
	v := &ListView{
		roster: roster,
		opts:   opts,
		o:      buildOptions(opts),
	}
	v.unsubscribe = roster.Subscribe(v.onMutation)
	return v
}

func (v *ListView) query(page int) teachers.ListQuery {
	return teachers.ListQuery{Page: page, Size: v.o.pageSize}
}

// State returns a copy of the view's state.
func (v *ListView) State() ListState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ListState{
		Page:       v.page,
		Size:       v.o.pageSize,
		TotalPages: v.totalPages,
		TotalItems: v.totalItems,
		Rows:       append([]teachers.Record(nil), v.rows...),
		Status:     v.status,
		Err:        v.err,
		Retryable:  teachers.IsRetryable(v.err),
		Stale:      v.stale,
	}
}

// Load reads the current page.
func (v *ListView) Load(ctx context.Context) error {
	v.mu.Lock()
	page := v.page
	v.mu.Unlock()
	return v.load(ctx, page, false)
}

// Next moves to the following page if there is one.
func (v *ListView) Next(ctx context.Context) error {
	v.mu.Lock()
	if v.page+1 >= v.totalPages {
		v.mu.Unlock()
		return ErrNoNextPage
	}
	page := v.page + 1
	v.mu.Unlock()
	return v.load(ctx, page, false)
}

// Prev moves to the preceding page if there is one.
func (v *ListView) Prev(ctx context.Context) error {
	v.mu.Lock()
	if v.page <= 0 {
		v.mu.Unlock()
		return ErrNoPrevPage
	}
	page := v.page - 1
	v.mu.Unlock()
	return v.load(ctx, page, false)
}

// Retry reloads the current page after a failure.
func (v *ListView) Retry(ctx context.Context) error {
	v.mu.Lock()
	page := v.page
	v.mu.Unlock()
	return v.load(ctx, page, true)
}

// Handle applies one event. PageChanged jumps to ev.Page. MutationSucceeded
// reloads the current page, stepping back when the page no longer exists.
// MutationFailed leaves the rows untouched.
func (v *ListView) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case PageChanged:
		v.mu.Lock()
		outOfRange := ev.Page < 0 || (v.totalPages > 0 && ev.Page >= v.totalPages)
		v.mu.Unlock()
		if outOfRange {
			return ErrPageOutOfRange
		}
		return v.load(ctx, ev.Page, false)

	case MutationSucceeded:
		v.mu.Lock()
		v.stale = true
		page := v.page
		v.mu.Unlock()
		if err := v.load(ctx, page, false); err != nil {
			return err
		}
		v.mu.Lock()
		last := v.totalPages - 1
		shrunk := len(v.rows) == 0 && page > 0 && page > last
		v.mu.Unlock()
		if shrunk {
			return v.load(ctx, last, false)
		}
		return nil

	case MutationFailed:
		v.o.logger.Debug("list kept after failed mutation",
			zap.String("op", string(ev.Mutation.Op)),
			zap.String("id", ev.Mutation.ID.String()),
			zap.Error(ev.Mutation.Err),
		)
		return nil

	default:
		return nil
	}
}

// CanMutate reports whether edit and delete controls for id should be enabled.
func (v *ListView) CanMutate(id teachers.ID) bool {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	return !closed && !id.IsZero() && !v.roster.InFlight(id)
}

// OpenDetail opens the detail view of id.
func (v *ListView) OpenDetail(id teachers.ID) *DetailView {
	return NewDetailView(v.roster, id, v.opts...)
}

// OpenGallery opens the face gallery of id.
func (v *ListView) OpenGallery(id teachers.ID) *FaceGallery {
	return NewFaceGallery(v.roster, id, v.opts...)
}

// OpenCreate opens a blank form.
func (v *ListView) OpenCreate() *EditForm {
	return NewCreateForm(v.roster, v.opts...)
}

// OpenEdit opens a form seeded from the row already on screen. The row is
// not re-fetched, so it may be older than the server's copy.
func (v *ListView) OpenEdit(id teachers.ID) (*EditForm, error) {
	if !v.CanMutate(id) {
		return nil, rostercache.ErrMutationInFlight
	}
	v.mu.Lock()
	rec, ok := teachers.Page{Content: v.rows}.Find(id)
	v.mu.Unlock()
	if !ok {
		return nil, ErrRowNotFound
	}
	return NewEditForm(v.roster, rec, v.opts...), nil
}

// RequestDelete asks for confirmation before deleting id.
func (v *ListView) RequestDelete(id teachers.ID) (*DeleteConfirmation, error) {
	if id.IsZero() {
		return nil, &teachers.ValidationError{Field: "id", Message: "is required"}
	}
	if !v.CanMutate(id) {
		return nil, rostercache.ErrMutationInFlight
	}
	return &DeleteConfirmation{view: v, id: id}, nil
}

// Close unsubscribes and discards results still on their way.
func (v *ListView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.seq++
	unsubscribe := v.unsubscribe
	v.mu.Unlock()
	unsubscribe()
}

// onMutation runs on the mutating goroutine, so it only flags the rows.
func (v *ListView) onMutation(ev rostercache.Event) {
	if ev.Kind != rostercache.MutationSucceeded {
		return
	}
	v.mu.Lock()
	if !v.closed {
		v.stale = true
	}
	v.mu.Unlock()
}

func (v *ListView) load(ctx context.Context, page int, retry bool) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.seq++
	seq := v.seq
	prevPage, prevStatus := v.page, v.status
	v.page = page
	v.status = StatusLoading
	v.mu.Unlock()

	fetch := v.roster.ListPage
	if retry {
		fetch = v.roster.RetryListPage
	}
	result, err := fetch(ctx, v.query(page))

	v.mu.Lock()
	if v.closed || seq != v.seq {
		v.mu.Unlock()
		return ErrStaleResult
	}
	if err != nil && abandoned(ctx, err) {
		v.page, v.status = prevPage, prevStatus
		v.mu.Unlock()
		return err
	}
	if err != nil {
		v.status, v.err = StatusFailed, err
		v.mu.Unlock()
		v.o.logger.Warn("teacher list load failed", zap.Int("page", page), zap.Error(err))
		v.o.notifier.Error("Could not load teachers", err)
		return err
	}
	v.rows = result.Content
	v.totalPages = result.Paging.TotalPages
	v.totalItems = result.Paging.TotalItems
	v.status, v.err = StatusReady, nil
	v.stale = false
	v.mu.Unlock()
	return nil
}

// DeleteConfirmation is the explicit step between asking to delete and
// deleting. It can be used once.
type DeleteConfirmation struct {
	view *ListView
	id   teachers.ID

	mu   sync.Mutex
	used bool
}

func (d *DeleteConfirmation) ID() teachers.ID { return d.id }

// Confirm deletes the record and refreshes the list on success.
func (d *DeleteConfirmation) Confirm(ctx context.Context) error {
	d.mu.Lock()
	if d.used {
		d.mu.Unlock()
		return ErrConfirmationClosed
	}
	d.used = true
	d.mu.Unlock()

	v := d.view
	v.o.notifier.Loading("Deleting teacher")
	err := v.roster.Delete(ctx, d.id)
	if err != nil {
		v.o.notifier.Error("Could not delete teacher", err)
		_ = v.Handle(ctx, Event{Kind: MutationFailed, Mutation: rostercache.Event{
			Kind: rostercache.MutationFailed, Op: rostercache.OpDelete, ID: d.id, Err: err,
		}})
		return err
	}
	v.o.notifier.Success("Teacher deleted")

	// A failed refresh shows up in the list state; the delete itself succeeded.
	if err := v.Handle(ctx, Event{Kind: MutationSucceeded, Mutation: rostercache.Event{
		Kind: rostercache.MutationSucceeded, Op: rostercache.OpDelete, ID: d.id,
	}}); err != nil {
		v.o.logger.Debug("list refresh after delete", zap.Error(err))
	}
	return nil
}

// Cancel abandons the delete.
func (d *DeleteConfirmation) Cancel() {
	d.mu.Lock()
	d.used = true
	d.mu.Unlock()
}
