// Package behaviors orchestrates saves and deletes of one entity type:
// permission checks, DTO validation and mapping, lifecycle hooks, the
// persistence step and the re-fetch that shapes the response.
package behaviors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/orm/datasource"
	"github.com/conduit-lang/crudkit/internal/orm/hooks"
	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/result"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
	"github.com/conduit-lang/crudkit/internal/orm/validation"
)

// ErrHookContract is returned when a hook hands back a zero result
var ErrHookContract = hooks.ErrHookContract

// Behaviors is the write side of one entity type
type Behaviors[T any] interface {
	Save(ctx context.Context, dto mapping.ClassDto[T], ds datasource.DataSource[T], p datasource.Parameters) (result.ItemResult[*T], error)
	Delete(ctx context.Context, id any, ds datasource.DataSource[T], p datasource.Parameters) (result.ItemResult[*T], error)
	Registry() *schema.Registry
}

// Config holds the behavior switches set at the composition root
type Config struct {
	// ValidateAttributesForSaves runs the validate tags of the incoming DTO
	// before it is mapped
	ValidateAttributesForSaves bool
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{ValidateAttributesForSaves: true}
}

// DtoValidator checks an incoming DTO. Failures are reported as
// *validation.ValidationErrors; any other error aborts the save.
type DtoValidator interface {
	ValidateDto(ctx context.Context, class *schema.Class, dto any, kind hooks.SaveKind) error
}

// ExecuteSaveFunc persists item. The default adds created items to the
// store and commits.
type ExecuteSaveFunc[T any] func(ctx context.Context, st store.Store, kind hooks.SaveKind, item *T) error

// ExecuteDeleteFunc deletes item. The default removes the row and commits;
// a soft delete flags the item and commits instead.
type ExecuteDeleteFunc[T any] func(ctx context.Context, st store.Store, item *T) error

// Option configures a StandardBehaviors
type Option[T any] func(*StandardBehaviors[T])

// WithConfig sets the behavior switches
func WithConfig[T any](cfg Config) Option[T] {
	return func(b *StandardBehaviors[T]) { b.config = cfg }
}

// WithLogger sets the logger
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(b *StandardBehaviors[T]) { b.logger = observability.OrNop(logger) }
}

// WithMetrics records operation outcomes
func WithMetrics[T any](m *observability.Metrics) Option[T] {
	return func(b *StandardBehaviors[T]) { b.metrics = m }
}

// WithHooks sets the lifecycle hooks
func WithHooks[T any](h *hooks.Registry[T]) Option[T] {
	return func(b *StandardBehaviors[T]) { b.hooks = h }
}

// WithValidator replaces the DTO validator. Nil disables validation.
func WithValidator[T any](v DtoValidator) Option[T] {
	return func(b *StandardBehaviors[T]) { b.validator = v }
}

// WithExecuteSave replaces the persistence step of saves
func WithExecuteSave[T any](fn ExecuteSaveFunc[T]) Option[T] {
	return func(b *StandardBehaviors[T]) { b.executeSave = fn }
}

// WithExecuteDelete replaces the persistence step of deletes
func WithExecuteDelete[T any](fn ExecuteDeleteFunc[T]) Option[T] {
	return func(b *StandardBehaviors[T]) { b.executeDelete = fn }
}

// WithUpdateSource fetches the item to update from ds instead of the data
// source passed to Save
func WithUpdateSource[T any](ds datasource.DataSource[T]) Option[T] {
	return func(b *StandardBehaviors[T]) { b.updateSource = ds }
}

// WithPostSaveSource re-fetches saved items from ds
func WithPostSaveSource[T any](ds datasource.DataSource[T]) Option[T] {
	return func(b *StandardBehaviors[T]) { b.postSaveSource = ds }
}

// WithDeleteSource fetches the item to delete from ds
func WithDeleteSource[T any](ds datasource.DataSource[T]) Option[T] {
	return func(b *StandardBehaviors[T]) { b.deleteSource = ds }
}

// WithPostDeleteSource re-fetches deleted items from ds. Finding the item
// again marks the delete as soft.
func WithPostDeleteSource[T any](ds datasource.DataSource[T]) Option[T] {
	return func(b *StandardBehaviors[T]) { b.postDeleteSource = ds }
}

// StandardBehaviors is the default Behaviors over a store session. The data
// sources it reads through must use the same session.
type StandardBehaviors[T any] struct {
	store     store.Store
	registry  *schema.Registry
	class     *schema.Class
	config    Config
	logger    *zap.Logger
	metrics   *observability.Metrics
	hooks     *hooks.Registry[T]
	validator DtoValidator

	executeSave   ExecuteSaveFunc[T]
	executeDelete ExecuteDeleteFunc[T]

	updateSource     datasource.DataSource[T]
	postSaveSource   datasource.DataSource[T]
	deleteSource     datasource.DataSource[T]
	postDeleteSource datasource.DataSource[T]
}

var _ Behaviors[struct{}] = (*StandardBehaviors[struct{}])(nil)

// New creates the behaviors of T writing to st
func New[T any](st store.Store, reg *schema.Registry, opts ...Option[T]) (*StandardBehaviors[T], error) {
	class, err := schema.For[T](reg)
	if err != nil {
		return nil, err
	}
	if class.External || class.Key == nil {
		return nil, fmt.Errorf("%w: %s has no key and cannot be saved", store.ErrUnknownClass, class.Name)
	}
	b := &StandardBehaviors[T]{
		store:         st,
		registry:      reg,
		class:         class,
		config:        DefaultConfig(),
		logger:        zap.NewNop(),
		validator:     validation.Default(),
		executeSave:   DefaultExecuteSave[T],
		executeDelete: DefaultExecuteDelete[T],
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// MustNew is New that panics on error
func MustNew[T any](st store.Store, reg *schema.Registry, opts ...Option[T]) *StandardBehaviors[T] {
	b, err := New[T](st, reg, opts...)
	if err != nil {
		panic(err)
	}
	return b
}

// DefaultExecuteSave adds created items to st and commits
func DefaultExecuteSave[T any](ctx context.Context, st store.Store, kind hooks.SaveKind, item *T) error {
	if kind == hooks.Create {
		if err := st.Add(ctx, item); err != nil {
			return err
		}
	}
	return st.SaveChanges(ctx)
}

// DefaultExecuteDelete removes item from st and commits
func DefaultExecuteDelete[T any](ctx context.Context, st store.Store, item *T) error {
	if err := st.Remove(ctx, item); err != nil {
		return err
	}
	return st.SaveChanges(ctx)
}

// Class returns the class of T
func (b *StandardBehaviors[T]) Class() *schema.Class {
	return b.class
}

// Registry returns the metadata registry
func (b *StandardBehaviors[T]) Registry() *schema.Registry {
	return b.registry
}

// Store returns the session the behaviors write to
func (b *StandardBehaviors[T]) Store() store.Store {
	return b.store
}

// Hooks returns the hook registry, creating it on first use
func (b *StandardBehaviors[T]) Hooks() *hooks.Registry[T] {
	if b.hooks == nil {
		b.hooks = hooks.NewRegistry[T]()
	}
	return b.hooks
}

func (b *StandardBehaviors[T]) source(override, fallback datasource.DataSource[T]) datasource.DataSource[T] {
	if override != nil {
		return override
	}
	return fallback
}

func (b *StandardBehaviors[T]) observe(operation string, ok bool, err error, start time.Time) {
	outcome := observability.OutcomeSuccess
	switch {
	case err != nil:
		outcome = observability.OutcomeError
	case !ok:
		outcome = observability.OutcomeFailure
	}
	b.metrics.Observe(b.class.Name, operation, outcome, start)
}

// finish turns an after-hook outcome into the operation result
func finish[T any](out hooks.Outcome[T]) result.ItemResult[*T] {
	switch {
	case out.Failed():
		return result.ItemFailure[*T](out.Message())
	case out.Suppressed():
		return result.Success[*T]()
	}
	return result.Item(out.Item(), out.Tree())
}
