package tapir

import (
	"context"
	"fmt"
	"io"

	"github.com/nasdf/tapir/config"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"
	"github.com/nasdf/tapir/metrics"
	"github.com/nasdf/tapir/storage"
	"github.com/nasdf/tapir/store"
	"github.com/nasdf/tapir/strategy"
	"github.com/nasdf/tapir/uow"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DocumentManager owns a store and the unit of work tracking documents written to it.
type DocumentManager struct {
	config   config.Config
	log      *zap.Logger
	store    *store.Store
	registry *mapping.Registry
	metrics  *metrics.Metrics
	uow      *uow.UnitOfWork
}

type options struct {
	log        *zap.Logger
	registerer prometheus.Registerer
	storage    storage.Storage
	classes    []*mapping.Class
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. Without it nothing is logged.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithRegisterer sets the registry metrics are registered with when metrics are enabled.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithStorage overrides the storage selected by the configuration.
func WithStorage(st storage.Storage) Option {
	return func(o *options) {
		o.storage = st
	}
}

// WithClasses registers class descriptors in addition to the ones declared in the schema.
func WithClasses(classes ...*mapping.Class) Option {
	return func(o *options) {
		o.classes = append(o.classes, classes...)
	}
}

// Open creates a document manager using the given configuration and GraphQL schema.
func Open(ctx context.Context, cfg config.Config, inputSchema string, opts ...Option) (*DocumentManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	registry := mapping.NewRegistry(
		mapping.WithResolver(strategy.NewResolver(cfg.ReplaceThreshold)),
		mapping.WithDiscriminatorField(cfg.DiscriminatorField),
	)
	classes := o.classes
	if inputSchema != "" {
		loaded, err := mapping.LoadSchema(inputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		classes = append(loaded, classes...)
	}
	if err := registry.Register(classes...); err != nil {
		return nil, err
	}

	st := o.storage
	if st == nil {
		st = storage.NewMemory()
		if cfg.Storage.Path != "" {
			var err error
			if st, err = storage.NewDirectory(cfg.Storage.Path); err != nil {
				return nil, err
			}
		}
	}
	s, err := store.Open(ctx, st, store.WithLogger(o.log))
	if err != nil {
		return nil, err
	}

	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		reg = o.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
	}
	m := metrics.New(reg)

	dm := &DocumentManager{
		config:   cfg,
		log:      o.log,
		store:    s,
		registry: registry,
		metrics:  m,
	}
	dm.uow = uow.New(s, registry,
		uow.WithLogger(o.log),
		uow.WithMetrics(m),
		uow.WithWorkers(cfg.Workers),
	)
	return dm, nil
}

// Config returns the configuration the manager was opened with.
func (dm *DocumentManager) Config() config.Config {
	return dm.config
}

// Registry returns the registered class descriptors.
func (dm *DocumentManager) Registry() *mapping.Registry {
	return dm.registry
}

// Store returns the underlying document store.
func (dm *DocumentManager) Store() *store.Store {
	return dm.store
}

// UnitOfWork returns the unit of work tracking the managed documents.
func (dm *DocumentManager) UnitOfWork() *uow.UnitOfWork {
	return dm.uow
}

// Metrics returns the collectors updated by the manager.
func (dm *DocumentManager) Metrics() *metrics.Metrics {
	return dm.metrics
}

func (dm *DocumentManager) Persist(doc *document.Document) error {
	return dm.uow.Persist(doc)
}

func (dm *DocumentManager) Merge(ctx context.Context, doc *document.Document) (*document.Document, error) {
	return dm.uow.Merge(ctx, doc)
}

func (dm *DocumentManager) Remove(doc *document.Document) error {
	return dm.uow.Remove(doc)
}

func (dm *DocumentManager) Detach(doc *document.Document) error {
	return dm.uow.Detach(doc)
}

func (dm *DocumentManager) Refresh(ctx context.Context, doc *document.Document) error {
	return dm.uow.Refresh(ctx, doc)
}

func (dm *DocumentManager) Contains(doc *document.Document) bool {
	return dm.uow.Contains(doc)
}

// Flush writes every pending change to the store.
func (dm *DocumentManager) Flush(ctx context.Context) error {
	return dm.uow.Flush(ctx)
}

// Clear detaches every managed document.
func (dm *DocumentManager) Clear() {
	dm.uow.Clear()
}

// Find returns the document of the class with the given identifier.
func (dm *DocumentManager) Find(ctx context.Context, className, id string) (*document.Document, error) {
	return dm.uow.Find(ctx, className, id)
}

// Export writes a CAR archive of the current store root.
func (dm *DocumentManager) Export(ctx context.Context, out io.Writer) error {
	return dm.store.Export(ctx, out)
}

// Repository returns a repository for documents of the named class.
func (dm *DocumentManager) Repository(className string) (*Repository, error) {
	if _, err := dm.registry.Class(className); err != nil {
		return nil, err
	}
	return &Repository{dm: dm, class: className}, nil
}

// Repository finds documents of a single class and its subclasses.
type Repository struct {
	dm    *DocumentManager
	class string
}

// Class returns the name of the class the repository finds.
func (r *Repository) Class() string {
	return r.class
}

func (r *Repository) Find(ctx context.Context, id string) (*document.Document, error) {
	return r.dm.uow.Find(ctx, r.class, id)
}

// FindOneBy returns the first matching document or nil.
func (r *Repository) FindOneBy(ctx context.Context, criteria store.Criteria) (*document.Document, error) {
	return r.dm.uow.FindOneBy(ctx, r.class, criteria)
}

// FindOneByMap parses a query document with store.ParseCriteria and returns the
// first matching document or nil.
func (r *Repository) FindOneByMap(ctx context.Context, query map[string]any) (*document.Document, error) {
	criteria, err := store.ParseCriteria(query)
	if err != nil {
		return nil, err
	}
	return r.FindOneBy(ctx, criteria)
}

// FindBy returns every matching document.
func (r *Repository) FindBy(ctx context.Context, criteria store.Criteria) ([]*document.Document, error) {
	return r.dm.uow.FindBy(ctx, r.class, criteria)
}

// FindAll returns every document of the class.
func (r *Repository) FindAll(ctx context.Context) ([]*document.Document, error) {
	return r.dm.uow.FindBy(ctx, r.class, nil)
}
