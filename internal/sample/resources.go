package sample

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/orm/behaviors"
	"github.com/conduit-lang/crudkit/internal/orm/datasource"
	"github.com/conduit-lang/crudkit/internal/orm/hooks"
	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/result"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
	"github.com/conduit-lang/crudkit/internal/web/api"
)

// Options are the composition-root settings shared by every resource
type Options struct {
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	DataSource datasource.Config
	Behaviors  behaviors.Config
	// Now stamps new cases. Nil means time.Now.
	Now func() time.Time
}

// Resources builds the HTTP resources of the sample domain
func Resources(sessions store.SessionFactory, reg *schema.Registry, opts Options) ([]api.Resource, error) {
	companies, err := api.New[Company](sessions, reg,
		api.WithName[Company]("company"),
		api.WithLogger[Company](opts.Logger),
		api.WithMetrics[Company](opts.Metrics),
		api.WithDataSourceOptions(datasource.WithConfig[Company](opts.DataSource)),
		api.WithBehaviorsOptions(behaviors.WithConfig[Company](opts.Behaviors)),
	)
	if err != nil {
		return nil, err
	}

	people, err := api.New[Person](sessions, reg,
		api.WithName[Person]("person"),
		api.WithLogger[Person](opts.Logger),
		api.WithMetrics[Person](opts.Metrics),
		api.WithDataSourceOptions(datasource.WithConfig[Person](opts.DataSource)),
		api.WithBehaviorsOptions(behaviors.WithConfig[Person](opts.Behaviors)),
	)
	if err != nil {
		return nil, err
	}

	cases, err := api.New[Case](sessions, reg,
		api.WithName[Case]("case"),
		api.WithLogger[Case](opts.Logger),
		api.WithMetrics[Case](opts.Metrics),
		api.WithHooks[Case](CaseHooks(opts.Now)),
		api.WithDataSourceOptions(
			datasource.WithConfig[Case](opts.DataSource),
			datasource.WithQuery[Case](HideDeletedCases),
		),
		api.WithBehaviorsOptions(
			behaviors.WithConfig[Case](opts.Behaviors),
			behaviors.WithExecuteDelete[Case](SoftDeleteCase),
		),
		// Deleted cases stay readable to the post-delete fetch, which makes
		// the delete report the flagged case back.
		api.WithSessionBehaviors[Case](func(st store.Store) []behaviors.Option[Case] {
			return []behaviors.Option[Case]{
				behaviors.WithPostDeleteSource[Case](datasource.MustNew[Case](st, reg, datasource.WithConfig[Case](opts.DataSource))),
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	return []api.Resource{companies, people, cases}, nil
}

// HideDeletedCases drops soft-deleted cases from every query
func HideDeletedCases(_ context.Context, q *query.Query, _ datasource.Parameters) *query.Query {
	return q.Filter(query.Where(query.MustResolvePath(q.Class, "Deleted"), query.OpEqual, false))
}

// SoftDeleteCase flags the case instead of removing the row
func SoftDeleteCase(ctx context.Context, st store.Store, item *Case) error {
	item.Deleted = true
	return st.SaveChanges(ctx)
}

// CaseHooks stamps new cases and freezes closed ones
func CaseHooks(now func() time.Time) *hooks.Registry[Case] {
	if now == nil {
		now = time.Now
	}
	return hooks.NewRegistry[Case]().
		OnBeforeSave(func(_ *hooks.Context, kind hooks.SaveKind, original, item *Case) result.Result {
			if kind == hooks.Update && original != nil && original.Status == CaseClosed {
				return result.Failure("Closed cases cannot be edited.")
			}
			if kind == hooks.Create {
				item.OpenedAt = now().UTC()
			}
			return result.OK()
		}).
		OnBeforeDelete(func(_ *hooks.Context, item *Case) result.Result {
			if item.Status == CaseInProgress {
				return result.Failure("Cases in progress cannot be deleted.")
			}
			return result.OK()
		})
}
