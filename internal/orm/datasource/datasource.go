// Package datasource provides security- and parameter-aware read access to
// one entity type: include sets, filtering, search, sorting and paging over
// a store session.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/result"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

// DataSource is the read side of one entity type
type DataSource[T any] interface {
	GetItem(ctx context.Context, id any, p Parameters) (result.ItemResult[*T], error)
	GetList(ctx context.Context, p Parameters) (result.ListResult[*T], error)
	GetCount(ctx context.Context, p Parameters) (result.ItemResult[int], error)
	GetQuery(ctx context.Context, p Parameters) (*query.Query, error)
	Class() *schema.Class
}

// QueryFunc customizes the base query, e.g. to hide soft-deleted rows
type QueryFunc func(ctx context.Context, q *query.Query, p Parameters) *query.Query

// TransformFunc runs on materialized results before they are returned
type TransformFunc[T any] func(ctx context.Context, items []*T, p Parameters) ([]*T, error)

// Option configures a StandardDataSource
type Option[T any] func(*StandardDataSource[T])

// WithConfig sets the paging and time zone defaults
func WithConfig[T any](cfg Config) Option[T] {
	return func(ds *StandardDataSource[T]) { ds.config = cfg.withDefaults() }
}

// WithLogger sets the logger
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(ds *StandardDataSource[T]) { ds.logger = observability.OrNop(logger) }
}

// WithMetrics records operation outcomes
func WithMetrics[T any](m *observability.Metrics) Option[T] {
	return func(ds *StandardDataSource[T]) { ds.metrics = m }
}

// WithQuery adds a base query customization. Several run in order.
func WithQuery[T any](fn QueryFunc) Option[T] {
	return func(ds *StandardDataSource[T]) { ds.queryFns = append(ds.queryFns, fn) }
}

// WithTransform sets the hook that runs on materialized results
func WithTransform[T any](fn TransformFunc[T]) Option[T] {
	return func(ds *StandardDataSource[T]) { ds.transform = fn }
}

// WithIncludes replaces the class's standard includes with paths
func WithIncludes[T any](paths ...string) Option[T] {
	return func(ds *StandardDataSource[T]) {
		ds.includes = append([]string(nil), paths...)
		ds.customIncludes = true
	}
}

// StandardDataSource is the default DataSource over a store session
type StandardDataSource[T any] struct {
	store    store.Store
	registry *schema.Registry
	class    *schema.Class
	config   Config
	logger   *zap.Logger
	metrics  *observability.Metrics

	queryFns       []QueryFunc
	transform      TransformFunc[T]
	includes       []string
	customIncludes bool
}

// New creates a data source for T reading from st
func New[T any](st store.Store, reg *schema.Registry, opts ...Option[T]) (*StandardDataSource[T], error) {
	class, err := schema.For[T](reg)
	if err != nil {
		return nil, err
	}
	if class.External {
		return nil, fmt.Errorf("%w: %s has no key and cannot be queried", store.ErrUnknownClass, class.Name)
	}
	ds := &StandardDataSource[T]{
		store:    st,
		registry: reg,
		class:    class,
		config:   DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ds)
	}
	if ds.customIncludes {
		for _, path := range ds.includes {
			if err := checkIncludePath(class, path); err != nil {
				return nil, err
			}
		}
	}
	return ds, nil
}

// MustNew is New that panics on error
func MustNew[T any](st store.Store, reg *schema.Registry, opts ...Option[T]) *StandardDataSource[T] {
	ds, err := New[T](st, reg, opts...)
	if err != nil {
		panic(err)
	}
	return ds
}

// Class returns the class of T
func (ds *StandardDataSource[T]) Class() *schema.Class {
	return ds.class
}

// Registry returns the metadata registry
func (ds *StandardDataSource[T]) Registry() *schema.Registry {
	return ds.registry
}

// Store returns the session the data source reads from
func (ds *StandardDataSource[T]) Store() store.Store {
	return ds.store
}

// Config returns the effective configuration
func (ds *StandardDataSource[T]) Config() Config {
	return ds.config
}

// GetQuery builds the base query with its includes. "none" loads nothing;
// otherwise the standard includes are loaded, plus the named include set
// when the request names one the class declares.
func (ds *StandardDataSource[T]) GetQuery(ctx context.Context, p Parameters) (*query.Query, error) {
	q := query.New(ds.class)
	if !p.IncludesNone() {
		if ds.customIncludes {
			q.Include(ds.includes...)
		} else {
			q.Include(ds.class.StandardIncludes()...)
		}
		if name := strings.TrimSpace(p.Includes); name != "" {
			if paths, ok := ds.class.IncludeSet(name); ok {
				q.Include(paths...)
			}
		}
	}
	for _, fn := range ds.queryFns {
		q = fn(ctx, q, p)
		if q == nil {
			return nil, fmt.Errorf("%s: base query customization returned nil", ds.class.Name)
		}
	}
	return q, nil
}

// GetItem loads one item by key. A missing item is a failed result, not an
// error.
func (ds *StandardDataSource[T]) GetItem(ctx context.Context, id any, p Parameters) (res result.ItemResult[*T], err error) {
	ctx, span := observability.StartSpan(ctx, "datasource.GetItem")
	span.SetAttributes(attribute.String("crudkit.class", ds.class.Name), attribute.String("crudkit.id", fmt.Sprint(id)))
	start := time.Now()
	defer func() {
		ds.observe("get", res.WasSuccessful, err, start)
		observability.EndSpan(span, err)
	}()

	if msg, ok := ds.authorize(ctx); !ok {
		return result.ItemFailure[*T](msg), nil
	}

	key, ok := ParseKey(ds.class, id)
	if !ok {
		return result.NotFound[*T](ds.class.Name, id), nil
	}

	q, err := ds.GetQuery(ctx, p)
	if err != nil {
		return res, err
	}
	q.Filter(query.Where(query.Path{ds.class.Key}, query.OpEqual, key))

	item, err := store.First[T](ctx, ds.store, q)
	if errors.Is(err, store.ErrNotFound) {
		return result.NotFound[*T](ds.class.Name, id), nil
	}
	if err != nil {
		return res, err
	}

	items, err := ds.transformResults(ctx, []*T{item}, p)
	if err != nil {
		return res, err
	}
	if len(items) == 0 || items[0] == nil {
		return result.NotFound[*T](ds.class.Name, id), nil
	}
	return result.Item(items[0], frozenTree(q)), nil
}

// GetList loads one page of items
func (ds *StandardDataSource[T]) GetList(ctx context.Context, p Parameters) (res result.ListResult[*T], err error) {
	ctx, span := observability.StartSpan(ctx, "datasource.GetList")
	span.SetAttributes(attribute.String("crudkit.class", ds.class.Name))
	start := time.Now()
	defer func() {
		ds.observe("list", res.WasSuccessful, err, start)
		observability.EndSpan(span, err)
	}()

	if msg, ok := ds.authorize(ctx); !ok {
		return result.ListFailure[*T](msg), nil
	}

	q, err := ds.listQuery(ctx, p)
	if err != nil {
		return res, err
	}
	q = ds.ApplyListSorting(ctx, q, p)

	total, err := ds.store.Count(ctx, q.ForCount())
	if err != nil {
		return res, err
	}
	q, page, pageSize := ds.ApplyListPaging(q, p, total)
	span.SetAttributes(attribute.Int("crudkit.total", total), attribute.Int("crudkit.page", page))

	items, err := store.List[T](ctx, ds.store, q)
	if err != nil {
		return res, err
	}
	if items, err = ds.transformResults(ctx, items, p); err != nil {
		return res, err
	}
	return result.List(items, page, pageSize, total, frozenTree(q)), nil
}

// GetCount counts the items matching the request's filters and search
func (ds *StandardDataSource[T]) GetCount(ctx context.Context, p Parameters) (res result.ItemResult[int], err error) {
	ctx, span := observability.StartSpan(ctx, "datasource.GetCount")
	span.SetAttributes(attribute.String("crudkit.class", ds.class.Name))
	start := time.Now()
	defer func() {
		ds.observe("count", res.WasSuccessful, err, start)
		observability.EndSpan(span, err)
	}()

	if msg, ok := ds.authorize(ctx); !ok {
		return result.ItemFailure[int](msg), nil
	}

	q, err := ds.listQuery(ctx, p)
	if err != nil {
		return res, err
	}
	count, err := ds.store.Count(ctx, q.ForCount())
	if err != nil {
		return res, err
	}
	return result.Item(count, nil), nil
}

// ApplyListPaging clamps the requested page and page size and limits q.
// The page is clamped to the last page that exists for total rows.
func (ds *StandardDataSource[T]) ApplyListPaging(q *query.Query, p Parameters, total int) (*query.Query, int, int) {
	pageSize := p.PageSize
	switch {
	case pageSize <= 0:
		pageSize = ds.config.DefaultPageSize
	case pageSize > ds.config.MaxPageSize:
		pageSize = ds.config.MaxPageSize
	}

	page := p.Page
	if page < 1 {
		page = 1
	}
	if last := result.PageCount(total, pageSize); page > last {
		page = last
	}
	return q.Page((page-1)*pageSize, pageSize), page, pageSize
}

func (ds *StandardDataSource[T]) listQuery(ctx context.Context, p Parameters) (*query.Query, error) {
	q, err := ds.GetQuery(ctx, p)
	if err != nil {
		return nil, err
	}
	q = ds.ApplyListFiltering(ctx, q, p)
	q = ds.ApplyListSearchTerm(ctx, q, p)
	return q, nil
}

func (ds *StandardDataSource[T]) transformResults(ctx context.Context, items []*T, p Parameters) ([]*T, error) {
	if ds.transform == nil {
		return items, nil
	}
	return ds.transform(ctx, items, p)
}

func (ds *StandardDataSource[T]) authorize(ctx context.Context) (string, bool) {
	user := security.FromContext(ctx)
	if ds.class.Security.Allows(security.ActionRead, user) {
		return "", true
	}
	ds.logger.Debug("read denied",
		zap.String("class", ds.class.Name),
		zap.String("user", user.ID()),
	)
	return security.UnauthorizedMessage(security.ActionRead, ds.class.Name), false
}

func (ds *StandardDataSource[T]) mappingContext(ctx context.Context, p Parameters) *mapping.Context {
	return mapping.NewContext(ctx, security.FromContext(ctx), p.Includes, ds.registry)
}

func (ds *StandardDataSource[T]) observe(operation string, ok bool, err error, start time.Time) {
	outcome := observability.OutcomeSuccess
	switch {
	case err != nil:
		outcome = observability.OutcomeError
	case !ok:
		outcome = observability.OutcomeFailure
	}
	ds.metrics.Observe(ds.class.Name, operation, outcome, start)
}

func (ds *StandardDataSource[T]) timeZone(p Parameters) *time.Location {
	if p.TimeZone != nil {
		return p.TimeZone
	}
	return ds.config.DefaultTimeZone
}

// checkIncludePath verifies every segment of path is a persisted navigation
func checkIncludePath(class *schema.Class, path string) error {
	current := class
	for _, seg := range strings.Split(path, ".") {
		p := current.Property(strings.TrimSpace(seg))
		if p == nil || !p.IsPersistedRelation() {
			return fmt.Errorf("include %q: %q is not a relation of %s", path, seg, current.Name)
		}
		current = p.Related()
	}
	return nil
}

func frozenTree(q *query.Query) *includes.Tree {
	return q.Includes.Clone().Freeze()
}

// ParseKey converts a client-supplied id to the key type of class. Strings
// are parsed; other values are coerced. The zero key is rejected.
func ParseKey(class *schema.Class, id any) (any, bool) {
	if class.Key == nil || id == nil {
		return nil, false
	}
	base := class.Key.BaseType()
	var v any
	if s, ok := id.(string); ok {
		parsed, ok := parseScalar(base, strings.TrimSpace(s))
		if !ok {
			return nil, false
		}
		v = parsed
	} else {
		converted, ok := schema.Coerce(reflect.ValueOf(id), base)
		if !ok || !converted.IsValid() {
			return nil, false
		}
		v = converted.Interface()
	}
	if _, ok := store.KeyString(v); !ok {
		return nil, false
	}
	return v, true
}
