package behaviors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/orm/datasource"
	"github.com/conduit-lang/crudkit/internal/orm/hooks"
	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/result"
	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/orm/validation"
)

// Save creates or updates the item described by dto and returns it as
// re-fetched through the post-save data source.
//
// A failed step returns a failed result and stops the pipeline before
// anything is committed. Errors are reserved for persistence failures and
// hooks that break their contract.
func (b *StandardBehaviors[T]) Save(ctx context.Context, dto mapping.ClassDto[T], ds datasource.DataSource[T], p datasource.Parameters) (res result.ItemResult[*T], err error) {
	ctx, span := observability.StartSpan(ctx, "behaviors.Save")
	span.SetAttributes(attribute.String("crudkit.class", b.class.Name))
	start := time.Now()
	defer func() {
		b.observe("save", res.WasSuccessful, err, start)
		observability.EndSpan(span, err)
	}()

	user := security.FromContext(ctx)

	kind, existing, err := b.DetermineSaveKind(ctx, dto, ds, p)
	if err != nil {
		if errors.Is(err, mapping.ErrInvalidValue) {
			return result.ItemFailure[*T](err.Error()), nil
		}
		return res, err
	}
	span.SetAttributes(attribute.String("crudkit.save_kind", kind.String()))

	action := security.ActionCreate
	if kind == hooks.Update {
		action = security.ActionEdit
	}
	if !b.class.Security.Allows(action, user) {
		b.logger.Debug("save denied",
			zap.String("class", b.class.Name),
			zap.Stringer("kind", kind),
			zap.String("user", user.ID()),
		)
		return result.ItemFailure[*T](security.UnauthorizedMessage(action, b.class.Name)), nil
	}

	var original *T
	if kind == hooks.Update && existing == nil {
		key, _ := mapping.PrimaryKeyOf(dto, b.class)
		fetched, err := b.source(b.updateSource, ds).GetItem(ctx, key, p)
		if err != nil {
			return res, err
		}
		if !fetched.WasSuccessful || fetched.Object == nil {
			return result.ItemFailure[*T](fetched.Message), nil
		}
		existing = fetched.Object
	}
	if existing != nil {
		original = mapping.ShallowCopy(existing)
	}

	if b.config.ValidateAttributesForSaves && b.validator != nil {
		if err := b.validator.ValidateDto(ctx, b.class, dto, kind); err != nil {
			var verrs *validation.ValidationErrors
			if errors.As(err, &verrs) {
				b.logger.Debug("save invalid",
					zap.String("class", b.class.Name),
					zap.Int("issues", verrs.Count()),
				)
				return result.ItemFrom[*T](verrs.Result()), nil
			}
			return res, err
		}
	}

	mc := mapping.NewContext(ctx, user, p.Includes, b.registry)
	item := existing
	if kind == hooks.Create {
		item, err = mapping.MapToNew(dto, mc)
	} else {
		err = dto.MapTo(item, mc)
	}
	if err != nil {
		if errors.Is(err, mapping.ErrInvalidValue) {
			return result.ItemFailure[*T](err.Error()), nil
		}
		return res, fmt.Errorf("map %s: %w", b.class.Name, err)
	}

	hctx := hooks.NewContext(ctx, b.store, b.class)
	before, err := b.hooks.RunBeforeSave(hctx, kind, original, item)
	if err != nil {
		return res, err
	}
	if !before.WasSuccessful() {
		b.logger.Debug("before save hook failed",
			zap.String("class", b.class.Name),
			zap.String("message", before.Message),
		)
		return result.ItemFrom[*T](before), nil
	}

	if err := b.executeSave(ctx, b.store, kind, item); err != nil {
		return res, err
	}

	key := b.class.KeyOf(item)
	b.logger.Info("saved",
		zap.String("class", b.class.Name),
		zap.Stringer("kind", kind),
		zap.Any("id", key),
		zap.String("user", user.ID()),
	)

	var (
		saved *T
		tree  *includes.Tree
	)
	refetched, err := b.source(b.postSaveSource, ds).GetItem(ctx, key, p)
	if err != nil {
		return res, err
	}
	if refetched.WasSuccessful {
		saved, tree = refetched.Object, refetched.IncludeTree
	}

	out, err := b.hooks.RunAfterSave(hctx, kind, original, saved, tree)
	if err != nil {
		return res, err
	}
	return finish(out), nil
}

// DetermineSaveKind decides whether dto creates or updates an item. With a
// store generated key any key value means Update. With a caller assigned
// key the item is looked up: found means Update and the item is returned,
// not found means Create.
func (b *StandardBehaviors[T]) DetermineSaveKind(ctx context.Context, dto mapping.ClassDto[T], ds datasource.DataSource[T], p datasource.Parameters) (hooks.SaveKind, *T, error) {
	key, err := mapping.PrimaryKeyOf(dto, b.class)
	if err != nil {
		return hooks.Create, nil, err
	}
	if key == nil {
		return hooks.Create, nil, nil
	}
	if b.class.KeyGenerated {
		return hooks.Update, nil, nil
	}

	found, err := b.source(b.updateSource, ds).GetItem(ctx, key, p)
	if err != nil {
		return hooks.Create, nil, err
	}
	if found.WasSuccessful && found.Object != nil {
		return hooks.Update, found.Object, nil
	}
	return hooks.Create, nil, nil
}
