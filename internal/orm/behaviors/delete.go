package behaviors

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/orm/datasource"
	"github.com/conduit-lang/crudkit/internal/orm/hooks"
	"github.com/conduit-lang/crudkit/internal/orm/result"
	"github.com/conduit-lang/crudkit/internal/orm/security"
)

// Delete deletes the item with key id.
//
// After the delete the item is fetched again through the post-delete data
// source. When it is gone the delete succeeds without a payload. When it is
// still there (a soft delete) it is returned so that clients update it in
// place instead of dropping it from their lists.
func (b *StandardBehaviors[T]) Delete(ctx context.Context, id any, ds datasource.DataSource[T], p datasource.Parameters) (res result.ItemResult[*T], err error) {
	ctx, span := observability.StartSpan(ctx, "behaviors.Delete")
	span.SetAttributes(attribute.String("crudkit.class", b.class.Name), attribute.String("crudkit.id", fmt.Sprint(id)))
	start := time.Now()
	defer func() {
		b.observe("delete", res.WasSuccessful, err, start)
		observability.EndSpan(span, err)
	}()

	user := security.FromContext(ctx)
	if !b.class.Security.Allows(security.ActionDelete, user) {
		b.logger.Debug("delete denied",
			zap.String("class", b.class.Name),
			zap.String("user", user.ID()),
		)
		return result.ItemFailure[*T](security.UnauthorizedMessage(security.ActionDelete, b.class.Name)), nil
	}

	fetched, err := b.source(b.deleteSource, ds).GetItem(ctx, id, p)
	if err != nil {
		return res, err
	}
	if !fetched.WasSuccessful || fetched.Object == nil {
		return result.ItemFailure[*T](fetched.Message), nil
	}
	item := fetched.Object
	key := b.class.KeyOf(item)

	hctx := hooks.NewContext(ctx, b.store, b.class)
	before, err := b.hooks.RunBeforeDelete(hctx, item)
	if err != nil {
		return res, err
	}
	if !before.WasSuccessful() {
		b.logger.Debug("before delete hook failed",
			zap.String("class", b.class.Name),
			zap.String("message", before.Message),
		)
		return result.ItemFrom[*T](before), nil
	}

	if err := b.executeDelete(ctx, b.store, item); err != nil {
		return res, err
	}

	remaining, err := b.source(b.postDeleteSource, ds).GetItem(ctx, key, p)
	if err != nil {
		return res, err
	}

	soft := remaining.WasSuccessful && remaining.Object != nil
	b.logger.Info("deleted",
		zap.String("class", b.class.Name),
		zap.Any("id", key),
		zap.Bool("soft", soft),
		zap.String("user", user.ID()),
	)

	var out hooks.Outcome[T]
	if soft {
		out, err = b.hooks.RunAfterDelete(hctx, remaining.Object, remaining.IncludeTree)
	} else {
		out, err = b.hooks.RunAfterDelete(hctx, nil, nil)
	}
	if err != nil {
		return res, err
	}
	return finish(out), nil
}
