package rostercache

import (
	"context"

	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/cache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

// Interface assertion to ensure Client implements teachers.Resource
var _ teachers.Resource = (*Client)(nil)

// Client decorates a teachers.Resource with the query cache. Page, record
// and face-list reads are cached. Image blobs pass through. Writes go
// through the Coordinator.
type Client struct {
	base    teachers.Resource
	queries *cache.QueryCache
	keys    Keys
	coord   *Coordinator
	logger  *zap.Logger
}

// Option customises a Client.
type Option func(*options)

type options struct {
	kind    string
	logger  *zap.Logger
	metrics MutationMetrics
}

// WithKind sets the resource kind used as the key namespace.
func WithKind(kind string) Option {
	return func(o *options) { o.kind = kind }
}

// WithLogger sets the logger shared by the client and its coordinator.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMutationMetrics records mutation outcomes.
func WithMutationMetrics(m MutationMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a cached client over base.
func New(base teachers.Resource, queries *cache.QueryCache, opts ...Option) *Client {
	o := options{kind: "Teacher"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	keys := NewKeys(o.kind)
	return &Client{
		base:    base,
		queries: queries,
		keys:    keys,
		coord:   NewCoordinator(base, queries, keys, o.logger, o.metrics),
		logger:  o.logger,
	}
}

// Keys exposes the key builder.
func (c *Client) Keys() Keys { return c.keys }

// Coordinator exposes the mutation coordinator.
func (c *Client) Coordinator() *Coordinator { return c.coord }

// ListPage reads a page through the cache.
func (c *Client) ListPage(ctx context.Context, q teachers.ListQuery) (teachers.Page, error) {
	return cache.Read(ctx, c.queries, c.keys.ListPage(q), c.listLoader(q))
}

// RetryListPage drops a failed page outcome and reads again.
func (c *Client) RetryListPage(ctx context.Context, q teachers.ListQuery) (teachers.Page, error) {
	return cache.Retry(ctx, c.queries, c.keys.ListPage(q), c.listLoader(q))
}

// PageState reports the cache state of a page without loading it.
func (c *Client) PageState(q teachers.ListQuery) cache.Snapshot {
	return c.queries.Peek(c.keys.ListPage(q))
}

// GetOne reads a record through the cache.
func (c *Client) GetOne(ctx context.Context, id teachers.ID) (teachers.Record, error) {
	return cache.Read(ctx, c.queries, c.keys.Record(id), c.recordLoader(id))
}

// RetryGetOne drops a failed record outcome and reads again.
func (c *Client) RetryGetOne(ctx context.Context, id teachers.ID) (teachers.Record, error) {
	return cache.Retry(ctx, c.queries, c.keys.Record(id), c.recordLoader(id))
}

// ListFaces reads a record's faces through the cache.
func (c *Client) ListFaces(ctx context.Context, teacherID teachers.ID) ([]teachers.Face, error) {
	return cache.Read(ctx, c.queries, c.keys.Faces(teacherID), c.facesLoader(teacherID))
}

// RetryFaces drops a failed face-list outcome and reads again.
func (c *Client) RetryFaces(ctx context.Context, teacherID teachers.ID) ([]teachers.Face, error) {
	return cache.Retry(ctx, c.queries, c.keys.Faces(teacherID), c.facesLoader(teacherID))
}

// FetchImageBlob is not cached. Blob lifetime belongs to the caller.
func (c *Client) FetchImageBlob(ctx context.Context, imgID teachers.ID) (teachers.Blob, error) {
	return c.base.FetchImageBlob(ctx, imgID)
}

// Create delegates to the Coordinator.
func (c *Client) Create(ctx context.Context, fields teachers.Fields) (teachers.Record, error) {
	return c.coord.Create(ctx, fields)
}

// Update delegates to the Coordinator.
func (c *Client) Update(ctx context.Context, id teachers.ID, fields teachers.Fields) (teachers.Record, error) {
	return c.coord.Update(ctx, id, fields)
}

// Delete delegates to the Coordinator.
func (c *Client) Delete(ctx context.Context, id teachers.ID) error {
	return c.coord.Delete(ctx, id)
}

// InFlight reports whether id has an outstanding mutation.
func (c *Client) InFlight(id teachers.ID) bool {
	return c.coord.InFlight(id)
}

// Subscribe registers a mutation listener.
func (c *Client) Subscribe(fn func(Event)) func() {
	return c.coord.Subscribe(fn)
}

// InvalidateAll drops every cached read of this kind.
func (c *Client) InvalidateAll(ctx context.Context) int {
	return c.queries.Invalidate(ctx, c.keys.Namespace())
}

func (c *Client) listLoader(q teachers.ListQuery) cache.FetchFn[teachers.Page] {
	return func(ctx context.Context) (teachers.Page, error) {
		return c.base.ListPage(ctx, q)
	}
}

func (c *Client) recordLoader(id teachers.ID) cache.FetchFn[teachers.Record] {
	return func(ctx context.Context) (teachers.Record, error) {
		return c.base.GetOne(ctx, id)
	}
}

func (c *Client) facesLoader(id teachers.ID) cache.FetchFn[[]teachers.Face] {
	return func(ctx context.Context) ([]teachers.Face, error) {
		return c.base.ListFaces(ctx, id)
	}
}
