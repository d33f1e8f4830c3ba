package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/result"
)

type post struct {
	ID    int
	Title string
}

func newTestContext() *Context {
	return NewContext(context.Background(), nil, nil)
}

func TestRegistry_RunBeforeSave_Order(t *testing.T) {
	reg := NewRegistry[post]()

	var order []string
	for _, name := range []string{"hook1", "hook2", "hook3"} {
		name := name
		reg.OnBeforeSave(func(ctx *Context, kind SaveKind, original, item *post) result.Result {
			order = append(order, name)
			return result.OK()
		})
	}

	res, err := reg.RunBeforeSave(newTestContext(), Create, nil, &post{Title: "Test"})
	if err != nil {
		t.Fatalf("RunBeforeSave failed: %v", err)
	}
	if !res.WasSuccessful() {
		t.Fatalf("expected success, got %s", res)
	}
	if len(order) != 3 || order[0] != "hook1" || order[1] != "hook2" || order[2] != "hook3" {
		t.Errorf("hooks executed in wrong order: %v", order)
	}
}

func TestRegistry_RunBeforeSave_FirstFailureHalts(t *testing.T) {
	reg := NewRegistry[post]()
	secondRan := false

	reg.OnBeforeSave(func(ctx *Context, kind SaveKind, original, item *post) result.Result {
		if kind != Update {
			t.Errorf("expected update kind, got %s", kind)
		}
		if original.Title != "old" || item.Title != "new" {
			t.Errorf("unexpected items: %+v %+v", original, item)
		}
		return result.Failure("titles are frozen")
	})
	reg.OnBeforeSave(func(ctx *Context, kind SaveKind, original, item *post) result.Result {
		secondRan = true
		return result.OK()
	})

	res, err := reg.RunBeforeSave(newTestContext(), Update, &post{Title: "old"}, &post{Title: "new"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.WasSuccessful() || res.Message != "titles are frozen" {
		t.Errorf("expected failure message, got %s", res)
	}
	if secondRan {
		t.Error("hook after a failure should not run")
	}
}

func TestRegistry_ZeroResultIsContractViolation(t *testing.T) {
	reg := NewRegistry[post]()
	reg.OnBeforeDelete(func(ctx *Context, item *post) result.Result {
		return result.Result{}
	})

	_, err := reg.RunBeforeDelete(newTestContext(), &post{})
	if !errors.Is(err, ErrHookContract) {
		t.Fatalf("expected ErrHookContract, got %v", err)
	}

	after := NewRegistry[post]().OnAfterSave(func(ctx *Context, kind SaveKind, original, item *post, tree *includes.Tree) Outcome[post] {
		return Outcome[post]{}
	})
	if _, err := after.RunAfterSave(newTestContext(), Create, nil, &post{}, nil); !errors.Is(err, ErrHookContract) {
		t.Fatalf("expected ErrHookContract from after-save, got %v", err)
	}
}

func TestRegistry_RunAfterSave_Chains(t *testing.T) {
	reg := NewRegistry[post]()
	replacement := &post{ID: 2, Title: "replaced"}
	tree := includes.Parse("Author")

	reg.OnAfterSave(func(ctx *Context, kind SaveKind, original, item *post, in *includes.Tree) Outcome[post] {
		return Continue(replacement, tree)
	})
	reg.OnAfterSave(func(ctx *Context, kind SaveKind, original, item *post, in *includes.Tree) Outcome[post] {
		if item != replacement || in != tree {
			t.Errorf("second hook did not receive the substituted item and tree")
		}
		return Continue(item, in)
	})

	out, err := reg.RunAfterSave(newTestContext(), Create, nil, &post{ID: 1}, includes.New())
	if err != nil {
		t.Fatalf("RunAfterSave failed: %v", err)
	}
	if out.Item() != replacement {
		t.Errorf("expected replacement item, got %+v", out.Item())
	}
	if out.Suppressed() || out.Failed() {
		t.Error("outcome should carry a payload")
	}
}

func TestRegistry_RunAfterDelete_NilItemStillRunsHooks(t *testing.T) {
	reg := NewRegistry[post]()
	calls := 0
	reg.OnAfterDelete(func(ctx *Context, item *post, tree *includes.Tree) Outcome[post] {
		calls++
		if item != nil {
			t.Errorf("expected nil item after hard delete, got %+v", item)
		}
		return Continue(item, tree)
	})
	reg.OnAfterDelete(func(ctx *Context, item *post, tree *includes.Tree) Outcome[post] {
		calls++
		return Suppress[post]()
	})

	out, err := reg.RunAfterDelete(newTestContext(), nil, nil)
	if err != nil {
		t.Fatalf("RunAfterDelete failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 hook calls, got %d", calls)
	}
	if !out.Suppressed() {
		t.Error("expected suppressed outcome")
	}
}

func TestRegistry_AfterHookFailure(t *testing.T) {
	reg := NewRegistry[post]().OnAfterDelete(func(ctx *Context, item *post, tree *includes.Tree) Outcome[post] {
		return Fail[post]("audit log unavailable")
	})

	out, err := reg.RunAfterDelete(newTestContext(), &post{ID: 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Failed() || out.Message() != "audit log unavailable" {
		t.Errorf("expected failure outcome, got %+v", out)
	}
	if out.Item() != nil {
		t.Error("failed outcome must not carry an item")
	}
}

func TestRegistry_HasHooks(t *testing.T) {
	var nilReg *Registry[post]
	if nilReg.HasHooks(BeforeSave) {
		t.Error("nil registry has no hooks")
	}
	if _, err := nilReg.RunBeforeSave(newTestContext(), Create, nil, &post{}); err != nil {
		t.Errorf("nil registry should run nothing: %v", err)
	}

	reg := NewRegistry[post]().OnBeforeDelete(func(ctx *Context, item *post) result.Result { return result.OK() })
	if !reg.HasHooks(BeforeDelete) || reg.HasHooks(AfterDelete) {
		t.Error("HasHooks reported the wrong points")
	}
	if reg.Len(BeforeDelete) != 1 {
		t.Errorf("expected 1 before-delete hook, got %d", reg.Len(BeforeDelete))
	}
}

func TestPoint_String(t *testing.T) {
	tests := map[Point]string{
		BeforeSave:   "before_save",
		AfterSave:    "after_save",
		BeforeDelete: "before_delete",
		AfterDelete:  "after_delete",
		Point(99):    "unknown",
	}
	for point, want := range tests {
		if got := point.String(); got != want {
			t.Errorf("Point(%d).String() = %q, want %q", point, got, want)
		}
	}
}
