// Package api exposes data sources and behaviors over HTTP. Each registered
// type gets a Controller with get, list, count, save and delete endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/orm/behaviors"
	"github.com/conduit-lang/crudkit/internal/orm/datasource"
	"github.com/conduit-lang/crudkit/internal/orm/hooks"
	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/orm/store"
	"github.com/conduit-lang/crudkit/internal/web/middleware"
	"github.com/conduit-lang/crudkit/internal/web/query"
	"github.com/conduit-lang/crudkit/internal/web/response"
)

// DefaultMaxBodyBytes limits the size of save payloads
const DefaultMaxBodyBytes = 1 << 20

// Resource is a mountable set of routes for one type
type Resource interface {
	// Name is the first path segment of the resource's routes
	Name() string
	Routes() chi.Router
	RouteInfos() []RouteInfo
}

// RouteInfo describes one endpoint for listings and docs
type RouteInfo struct {
	Method    string
	Pattern   string
	Resource  string
	Operation string
}

// SessionBehaviorsFunc builds behaviors options that need the request's
// store session, such as a post-delete data source for soft deletes
type SessionBehaviorsFunc[T any] func(st store.Store) []behaviors.Option[T]

// Option configures a Controller
type Option[T any] func(*Controller[T])

// WithName overrides the route segment. It defaults to the class name.
func WithName[T any](name string) Option[T] {
	return func(c *Controller[T]) { c.name = name }
}

// WithLogger sets the logger of the controller and of the data sources and
// behaviors it creates
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(c *Controller[T]) { c.logger = observability.OrNop(logger) }
}

// WithMetrics records data source and behaviors outcomes
func WithMetrics[T any](m *observability.Metrics) Option[T] {
	return func(c *Controller[T]) { c.metrics = m }
}

// WithDataSourceOptions adds options to every data source the controller creates
func WithDataSourceOptions[T any](opts ...datasource.Option[T]) Option[T] {
	return func(c *Controller[T]) { c.dsOptions = append(c.dsOptions, opts...) }
}

// WithBehaviorsOptions adds options to every behaviors the controller creates
func WithBehaviorsOptions[T any](opts ...behaviors.Option[T]) Option[T] {
	return func(c *Controller[T]) { c.bOptions = append(c.bOptions, opts...) }
}

// WithSessionBehaviors adds per-session behaviors options
func WithSessionBehaviors[T any](fn SessionBehaviorsFunc[T]) Option[T] {
	return func(c *Controller[T]) { c.sessionBehaviors = append(c.sessionBehaviors, fn) }
}

// WithHooks sets the lifecycle hooks shared by all requests
func WithHooks[T any](h *hooks.Registry[T]) Option[T] {
	return func(c *Controller[T]) { c.hooks = h }
}

// WithMaxBodyBytes limits save payloads to n bytes
func WithMaxBodyBytes[T any](n int64) Option[T] {
	return func(c *Controller[T]) { c.maxBodyBytes = n }
}

// Controller serves one type. Every request opens its own store session
// and builds a data source and behaviors over it.
type Controller[T any] struct {
	name         string
	sessions     store.SessionFactory
	registry     *schema.Registry
	class        *schema.Class
	logger       *zap.Logger
	metrics      *observability.Metrics
	hooks        *hooks.Registry[T]
	maxBodyBytes int64

	dsOptions        []datasource.Option[T]
	bOptions         []behaviors.Option[T]
	sessionBehaviors []SessionBehaviorsFunc[T]
}

// New creates the controller of T
func New[T any](sessions store.SessionFactory, reg *schema.Registry, opts ...Option[T]) (*Controller[T], error) {
	if sessions == nil {
		return nil, fmt.Errorf("controller needs a session factory")
	}
	class, err := schema.For[T](reg)
	if err != nil {
		return nil, err
	}
	c := &Controller[T]{
		name:         class.Name,
		sessions:     sessions,
		registry:     reg,
		class:        class,
		logger:       zap.NewNop(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.name = strings.Trim(c.name, "/")
	if c.name == "" {
		return nil, fmt.Errorf("controller of %s has an empty name", class.Name)
	}
	return c, nil
}

// MustNew is New that panics on error
func MustNew[T any](sessions store.SessionFactory, reg *schema.Registry, opts ...Option[T]) *Controller[T] {
	c, err := New[T](sessions, reg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the route segment
func (c *Controller[T]) Name() string {
	return c.name
}

// Hooks returns the hook registry, creating it on first use
func (c *Controller[T]) Hooks() *hooks.Registry[T] {
	if c.hooks == nil {
		c.hooks = hooks.NewRegistry[T]()
	}
	return c.hooks
}

// Routes returns the controller's routes relative to its name
func (c *Controller[T]) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/get/{id}", c.get)
	r.Get("/list", c.list)
	r.Get("/count", c.count)
	r.Post("/save", c.save)
	r.Post("/delete/{id}", c.delete)
	return r
}

// RouteInfos lists the endpoints mounted by Routes
func (c *Controller[T]) RouteInfos() []RouteInfo {
	base := "/" + c.name
	return []RouteInfo{
		{Method: http.MethodGet, Pattern: base + "/get/{id}", Resource: c.name, Operation: "get"},
		{Method: http.MethodGet, Pattern: base + "/list", Resource: c.name, Operation: "list"},
		{Method: http.MethodGet, Pattern: base + "/count", Resource: c.name, Operation: "count"},
		{Method: http.MethodPost, Pattern: base + "/save", Resource: c.name, Operation: "save"},
		{Method: http.MethodPost, Pattern: base + "/delete/{id}", Resource: c.name, Operation: "delete"},
	}
}

func (c *Controller[T]) get(w http.ResponseWriter, r *http.Request) {
	ds, p, ok := c.begin(w, r)
	if !ok {
		return
	}
	res, err := datasource.GetMappedItem[T, mapping.Dto[T], *mapping.Dto[T]](r.Context(), ds, c.registry, chi.URLParam(r, "id"), p)
	if err != nil {
		c.fail(w, r, "get", err)
		return
	}
	response.RenderItem(w, security.FromContext(r.Context()), res)
}

func (c *Controller[T]) list(w http.ResponseWriter, r *http.Request) {
	ds, p, ok := c.begin(w, r)
	if !ok {
		return
	}
	res, err := datasource.GetMappedList[T, mapping.Dto[T], *mapping.Dto[T]](r.Context(), ds, c.registry, p)
	if err != nil {
		c.fail(w, r, "list", err)
		return
	}
	response.RenderList(w, security.FromContext(r.Context()), res)
}

func (c *Controller[T]) count(w http.ResponseWriter, r *http.Request) {
	ds, p, ok := c.begin(w, r)
	if !ok {
		return
	}
	res, err := ds.GetCount(r.Context(), p)
	if err != nil {
		c.fail(w, r, "count", err)
		return
	}
	response.RenderItem(w, security.FromContext(r.Context()), res)
}

func (c *Controller[T]) save(w http.ResponseWriter, r *http.Request) {
	dto := mapping.NewDto[T]()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, c.maxBodyBytes))
	if err := dec.Decode(dto); err != nil {
		response.RenderBadRequest(w, fmt.Errorf("invalid %s payload: %v", c.class.Name, err))
		return
	}

	ds, p, ok := c.begin(w, r)
	if !ok {
		return
	}
	b, err := c.behaviors(ds)
	if err != nil {
		c.fail(w, r, "save", err)
		return
	}
	res, err := behaviors.SaveDto[T, mapping.Dto[T], *mapping.Dto[T]](r.Context(), b, dto, ds, p)
	if err != nil {
		c.fail(w, r, "save", err)
		return
	}
	response.RenderItem(w, security.FromContext(r.Context()), res)
}

func (c *Controller[T]) delete(w http.ResponseWriter, r *http.Request) {
	ds, p, ok := c.begin(w, r)
	if !ok {
		return
	}
	b, err := c.behaviors(ds)
	if err != nil {
		c.fail(w, r, "delete", err)
		return
	}
	res, err := behaviors.DeleteDto[T, mapping.Dto[T], *mapping.Dto[T]](r.Context(), b, chi.URLParam(r, "id"), ds, p)
	if err != nil {
		c.fail(w, r, "delete", err)
		return
	}
	response.RenderItem(w, security.FromContext(r.Context()), res)
}

// begin parses the parameters and opens the request's session and data
// source. On failure the response is already written.
func (c *Controller[T]) begin(w http.ResponseWriter, r *http.Request) (*datasource.StandardDataSource[T], datasource.Parameters, bool) {
	p, err := query.ParseParameters(r)
	if err != nil {
		response.RenderBadRequest(w, err)
		return nil, p, false
	}
	st, err := c.sessions(r.Context())
	if err != nil {
		c.fail(w, r, "session", err)
		return nil, p, false
	}
	opts := append([]datasource.Option[T]{
		datasource.WithLogger[T](c.logger),
		datasource.WithMetrics[T](c.metrics),
	}, c.dsOptions...)
	ds, err := datasource.New[T](st, c.registry, opts...)
	if err != nil {
		c.fail(w, r, "datasource", err)
		return nil, p, false
	}
	return ds, p, true
}

func (c *Controller[T]) behaviors(ds *datasource.StandardDataSource[T]) (*behaviors.StandardBehaviors[T], error) {
	st := ds.Store()
	opts := []behaviors.Option[T]{
		behaviors.WithLogger[T](c.logger),
		behaviors.WithMetrics[T](c.metrics),
	}
	if c.hooks != nil {
		opts = append(opts, behaviors.WithHooks[T](c.hooks))
	}
	opts = append(opts, c.bOptions...)
	for _, fn := range c.sessionBehaviors {
		opts = append(opts, fn(st)...)
	}
	return behaviors.New[T](st, c.registry, opts...)
}

func (c *Controller[T]) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	c.logger.Error("request failed",
		zap.String("class", c.class.Name),
		zap.String("operation", operation),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("trace_id", observability.TraceID(r.Context())),
		zap.Error(err),
	)
	response.RenderOperationError(w, err)
}
