package di

import (
	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/cache"
	"github.com/shaxzod-muhandis/Admin-Panel/internal/config"
	"github.com/shaxzod-muhandis/Admin-Panel/internal/metrics"
	"github.com/shaxzod-muhandis/Admin-Panel/rostercache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
	"github.com/shaxzod-muhandis/Admin-Panel/views"
)

// Container wires the roster client stack from configuration.
// It owns one cache service, one query cache and one cached client, so every
// view built from the same container shares the same cache and coordinator.
type Container struct {
	config       *config.Config
	logger       *zap.Logger
	metrics      *metrics.Recorder
	cacheService cache.CacheService
	queries      *cache.QueryCache
	resource     teachers.Resource
	roster       *rostercache.Client
	notifier     views.Notifier
}

// Option customises a Container.
type Option func(*Container)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// WithResource replaces the HTTP resource client, e.g. with an in-memory fake.
func WithResource(r teachers.Resource) Option {
	return func(c *Container) { c.resource = r }
}

// WithNotifier replaces the log-backed notifier handed to views.
func WithNotifier(n views.Notifier) Option {
	return func(c *Container) { c.notifier = n }
}

// NewContainer validates cfg and builds the stack:
// resource client -> query cache (sturdyc store) -> cached client with
// its mutation coordinator. Cache and mutation events feed one metrics
// recorder.
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.notifier == nil {
		c.notifier = views.NewLogNotifier(c.logger)
	}
	c.metrics = metrics.New()

	cacheCfg := CacheConfig(cfg)
	if err := cacheCfg.Validate(); err != nil {
		return nil, err
	}
	store, err := cache.NewCacheService(cacheCfg)
	if err != nil {
		return nil, err
	}
	c.cacheService = store
	c.queries = cache.NewQueryCache(store,
		cache.WithLoadTimeout(cacheCfg.LoadTimeout),
		cache.WithObserver(c.metrics),
		cache.WithLogger(c.logger.Named("cache")),
	)

	if c.resource == nil {
		c.resource = teachers.NewClient(teachers.Config{
			BaseURL:     cfg.API.BaseURL,
			FaceBaseURL: cfg.API.FaceBaseURL,
			Token:       cfg.API.Token,
			Timeout:     cfg.API.Timeout,
		}, teachers.WithLogger(c.logger.Named("teachers")))
	}

	c.roster = rostercache.New(c.resource, c.queries,
		rostercache.WithLogger(c.logger.Named("roster")),
		rostercache.WithMutationMetrics(c.metrics),
	)
	return c, nil
}

// CacheConfig maps application settings onto the cache package's Config.
func CacheConfig(cfg *config.Config) cache.Config {
	out := cache.DefaultConfig()
	if cfg.Cache.Capacity > 0 {
		out.Capacity = cfg.Cache.Capacity
	}
	if cfg.Cache.NumShards > 0 {
		out.NumShards = cfg.Cache.NumShards
	}
	if cfg.Cache.EvictionPercentage > 0 {
		out.EvictionPercentage = cfg.Cache.EvictionPercentage
	}
	out.LoadTimeout = cfg.Cache.LoadTimeout
	return out
}

func (c *Container) Config() *config.Config { return c.config }

func (c *Container) Logger() *zap.Logger { return c.logger }

func (c *Container) Metrics() *metrics.Recorder { return c.metrics }

// CacheService returns the value store behind the query cache.
func (c *Container) CacheService() cache.CacheService { return c.cacheService }

func (c *Container) Queries() *cache.QueryCache { return c.queries }

// Resource returns the uncached resource client.
func (c *Container) Resource() teachers.Resource { return c.resource }

// Roster returns the cached client all views share.
func (c *Container) Roster() *rostercache.Client { return c.roster }

// ViewOptions carries page size, phone rule, notifier and logger to views.
func (c *Container) ViewOptions() []views.Option {
	return []views.Option{
		views.WithPageSize(c.config.Views.PageSize),
		views.WithPhoneCountryCode(c.config.Views.PhoneCountryCode),
		views.WithNotifier(c.notifier),
		views.WithLogger(c.logger.Named("views")),
	}
}

func (c *Container) NewListView() *views.ListView {
	return views.NewListView(c.roster, c.ViewOptions()...)
}

func (c *Container) NewCreateForm() *views.EditForm {
	return views.NewCreateForm(c.roster, c.ViewOptions()...)
}

func (c *Container) NewEditForm(rec teachers.Record) *views.EditForm {
	return views.NewEditForm(c.roster, rec, c.ViewOptions()...)
}

func (c *Container) NewDetailView(id teachers.ID) *views.DetailView {
	return views.NewDetailView(c.roster, id, c.ViewOptions()...)
}

func (c *Container) NewFaceGallery(id teachers.ID) *views.FaceGallery {
	return views.NewFaceGallery(c.roster, id, c.ViewOptions()...)
}
