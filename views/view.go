package views

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/cache"
	"github.com/shaxzod-muhandis/Admin-Panel/rostercache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

var (
	ErrNoNextPage         = errors.New("already on the last page")
	ErrNoPrevPage         = errors.New("already on the first page")
	ErrPageOutOfRange     = errors.New("page out of range")
	ErrClosed             = errors.New("view is closed")
	ErrStaleResult        = errors.New("result arrived after the view moved on")
	ErrRowNotFound        = errors.New("record is not on the current page")
	ErrFormInvalid        = errors.New("form has field errors")
	ErrSubmitInFlight     = errors.New("form is already submitting")
	ErrUnknownField       = errors.New("unknown form field")
	ErrConfirmationClosed = errors.New("confirmation already used or cancelled")
	ErrFaceNotFound       = errors.New("face is not in the gallery")
)

// Roster is what views need from the cached resource client.
type Roster interface {
	ListPage(ctx context.Context, q teachers.ListQuery) (teachers.Page, error)
	RetryListPage(ctx context.Context, q teachers.ListQuery) (teachers.Page, error)
	PageState(q teachers.ListQuery) cache.Snapshot
	GetOne(ctx context.Context, id teachers.ID) (teachers.Record, error)
	RetryGetOne(ctx context.Context, id teachers.ID) (teachers.Record, error)
	ListFaces(ctx context.Context, teacherID teachers.ID) ([]teachers.Face, error)
	RetryFaces(ctx context.Context, teacherID teachers.ID) ([]teachers.Face, error)
	FetchImageBlob(ctx context.Context, imgID teachers.ID) (teachers.Blob, error)
	Create(ctx context.Context, fields teachers.Fields) (teachers.Record, error)
	Update(ctx context.Context, id teachers.ID, fields teachers.Fields) (teachers.Record, error)
	Delete(ctx context.Context, id teachers.ID) error
	InFlight(id teachers.ID) bool
	Subscribe(fn func(rostercache.Event)) func()
}

var _ Roster = (*rostercache.Client)(nil)

// Status is the visible load state of a view.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	DefaultPageSize    = 10
	DefaultCountryCode = "998"
)

// Option configures any view.
type Option func(*options)

type options struct {
	pageSize    int
	countryCode string
	notifier    Notifier
	logger      *zap.Logger
	blobs       *BlobStore
}

// WithPageSize sets the list page size. Non-positive values are ignored.
func WithPageSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.pageSize = size
		}
	}
}

// WithPhoneCountryCode sets the digits expected after "+" in phone numbers.
func WithPhoneCountryCode(code string) Option {
	return func(o *options) {
		if code != "" {
			o.countryCode = code
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBlobStore shares a blob store between galleries.
func WithBlobStore(s *BlobStore) Option {
	return func(o *options) { o.blobs = s }
}

func buildOptions(opts []Option) options {
	o := options{
		pageSize:    DefaultPageSize,
		countryCode: DefaultCountryCode,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.blobs == nil {
		o.blobs = NewBlobStore()
	}
	return o
}

// abandoned reports whether err came from the caller giving up rather than
// from the load itself.
func abandoned(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
