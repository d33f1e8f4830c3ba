package query

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

type team struct {
	ID     int
	Name   string
	Lead   *member `crud:"fk=LeadID"`
	LeadID *int
}

type member struct {
	ID     int
	Name   string
	Joined time.Time
	Score  *float64
	Badge  uuid.UUID
	Skills []string
	TeamID *int
	Team   *team
}

type ranked struct {
	ID    int
	Rank  int    `crud:"order=2,desc"`
	Group string `crud:"order=1"`
	Team  *team
}

func classes(t *testing.T) (*schema.Class, *schema.Class) {
	t.Helper()
	r := schema.NewRegistry()
	m, err := r.Register(member{})
	require.NoError(t, err)
	tm, err := schema.For[team](r)
	require.NoError(t, err)
	return m, tm
}

func path(t *testing.T, c *schema.Class, dotted string) Path {
	t.Helper()
	p, err := ResolvePath(c, dotted)
	require.NoError(t, err)
	return p
}

func TestResolvePath(t *testing.T) {
	m, _ := classes(t)

	p := path(t, m, "team.lead.name")
	assert.Equal(t, "Team.Lead.Name", p.String())

	_, err := ResolvePath(m, "Nope")
	assert.Error(t, err)
	_, err = ResolvePath(m, "Name.Length")
	assert.Error(t, err)
}

func TestEvaluator_Match(t *testing.T) {
	m, _ := classes(t)
	score := 7.5
	badge := uuid.New()
	lead := &member{ID: 9, Name: "Lead"}
	subject := &member{
		ID:     1,
		Name:   "Grace Hopper",
		Joined: time.Date(2017, 8, 2, 10, 0, 0, 0, time.UTC),
		Score:  &score,
		Badge:  badge,
		Skills: []string{"cobol", "navy"},
		Team:   &team{ID: 3, Name: "Compilers", Lead: lead},
	}

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"equal string", Where(path(t, m, "Name"), OpEqual, "Grace Hopper"), true},
		{"starts with ignores case", Where(path(t, m, "Name"), OpStartsWith, "grace"), true},
		{"contains", Where(path(t, m, "Name"), OpContains, "HOP"), true},
		{"numeric across kinds", Where(path(t, m, "Score"), OpGreaterThan, 7), true},
		{"in list", Where(path(t, m, "ID"), OpIn, []any{int64(4), int64(1)}), true},
		{"empty in list", Where(path(t, m, "ID"), OpIn, []any{}), false},
		{"not in", Where(path(t, m, "ID"), OpNotIn, []any{2}), true},
		{"uuid", Where(path(t, m, "Badge"), OpEqual, badge), true},
		{"time lower bound", Where(path(t, m, "Joined"), OpGreaterThanOrEqual, time.Date(2017, 8, 2, 0, 0, 0, 0, time.UTC)), true},
		{"time upper bound", Where(path(t, m, "Joined"), OpLessThan, time.Date(2017, 8, 2, 0, 0, 0, 0, time.UTC)), false},
		{"navigation path", Where(path(t, m, "Team.Lead.Name"), OpEqual, "Lead"), true},
		{"contains all", Where(path(t, m, "Skills"), OpContainsAll, []any{"navy", "cobol"}), true},
		{"contains all missing one", Where(path(t, m, "Skills"), OpContainsAll, []any{"navy", "go"}), false},
		{"is null on set value", Where(path(t, m, "Score"), OpIsNull, nil), false},
		{"is not null", Where(path(t, m, "Team"), OpIsNotNull, nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Memory.Match(subject, And(tt.cond)))
		})
	}
}

func TestEvaluator_NullNavigation(t *testing.T) {
	m, _ := classes(t)
	orphan := &member{ID: 1, Name: "Solo"}

	assert.False(t, Memory.Match(orphan, And(Where(path(t, m, "Team.Name"), OpEqual, "x"))))
	assert.False(t, Memory.Match(orphan, And(Where(path(t, m, "Team.Name"), OpNotEqual, "x"))))
	assert.True(t, Memory.Match(orphan, And(Where(path(t, m, "Team.Name"), OpIsNull, nil))))
	assert.False(t, Memory.Match(orphan, And(Where(path(t, m, "Skills"), OpContainsAll, []any{"x"}))))
}

func TestEvaluator_Groups(t *testing.T) {
	m, _ := classes(t)
	subject := &member{ID: 1, Name: "Ada"}

	g := NewPredicateGroup(false)
	g.AddGroup(Or(
		Where(path(t, m, "Name"), OpEqual, "Bob"),
		Where(path(t, m, "Name"), OpEqual, "Ada"),
	))
	g.AddCondition(Where(path(t, m, "ID"), OpEqual, 1))
	assert.True(t, Memory.Match(subject, g))

	g.AddCondition(Where(path(t, m, "ID"), OpEqual, 2))
	assert.False(t, Memory.Match(subject, g))

	assert.True(t, Memory.Match(subject, NewPredicateGroup(true)), "empty group matches")
}

func TestEvaluator_SortStable(t *testing.T) {
	m, _ := classes(t)
	items := []any{
		&member{ID: 1, Name: "b"},
		&member{ID: 2, Name: "a"},
		&member{ID: 3, Name: "b"},
		&member{ID: 4, Name: "c"},
	}

	Memory.Sort(items, []Order{{Path: path(t, m, "Name"), Descending: true}})
	ids := []int{}
	for _, it := range items {
		ids = append(ids, it.(*member).ID)
	}
	assert.Equal(t, []int{4, 1, 3, 2}, ids)
}

func TestEvaluator_SortNullsFirst(t *testing.T) {
	m, _ := classes(t)
	one := 1.0
	items := []any{&member{ID: 1, Score: &one}, &member{ID: 2}}

	Memory.Sort(items, []Order{{Path: path(t, m, "Score")}})
	assert.Equal(t, 2, items[0].(*member).ID)
}

func TestWindow(t *testing.T) {
	items := []any{1, 2, 3, 4, 5}
	assert.Equal(t, []any{3, 4}, Window(items, 2, 2))
	assert.Equal(t, []any{5}, Window(items, 4, 10))
	assert.Empty(t, Window(items, 9, 2))
	assert.Len(t, Window(items, 0, 0), 5)
}

func TestDefaultOrders(t *testing.T) {
	r := schema.NewRegistry()
	c, err := r.Register(ranked{})
	require.NoError(t, err)

	orders := DefaultOrders(c)
	require.Len(t, orders, 2)
	assert.Equal(t, "Group ASC", orders[0].String())
	assert.Equal(t, "Rank DESC", orders[1].String())

	teamPath, err := ResolvePath(c, "Team")
	require.NoError(t, err)
	expanded := ExpandPath(teamPath, true)
	require.Len(t, expanded, 1)
	assert.Equal(t, "Team.Name DESC", expanded[0].String())
}

func TestDefaultOrders_CycleThroughNavigation(t *testing.T) {
	type node struct {
		ID       int
		Parent   *node `crud:"order=1,fk=ParentID"`
		ParentID *int
	}
	r := schema.NewRegistry()
	c, err := r.Register(node{})
	require.NoError(t, err)

	assert.Empty(t, DefaultOrders(c))
}

func TestExpandPath_SelfReference(t *testing.T) {
	type category struct {
		ID       int
		Name     string
		Parent   *category `crud:"fk=ParentID"`
		ParentID *int
	}
	r := schema.NewRegistry()
	c, err := r.Register(category{})
	require.NoError(t, err)

	parent, err := ResolvePath(c, "Parent")
	require.NoError(t, err)
	expanded := ExpandPath(parent, false)
	require.Len(t, expanded, 1)
	assert.Equal(t, "Parent.Name ASC", expanded[0].String())

	type node struct {
		ID       int
		Parent   *node `crud:"order=1,fk=ParentID"`
		ParentID *int
	}
	n, err := r.Register(node{})
	require.NoError(t, err)
	cyclic, err := ResolvePath(n, "Parent")
	require.NoError(t, err)
	assert.Empty(t, ExpandPath(cyclic, false))
}

func TestQuery_CloneAndString(t *testing.T) {
	m, _ := classes(t)
	q := New(m).Filter(Where(path(t, m, "Name"), OpEqual, "x")).
		OrderBy(Order{Path: path(t, m, "ID")}).
		Page(5, 5).
		Include("Team.Lead")

	c := q.Clone()
	c.Filter(Where(path(t, m, "ID"), OpEqual, 1))
	c.Includes.Add("Other")

	assert.Len(t, q.Where.Conditions, 1)
	assert.False(t, q.Includes.Has("Other"))
	assert.Equal(t, "member WHERE Name = x ORDER BY ID ASC LIMIT 5 OFFSET 5 INCLUDE Team.Lead", q.String())

	counted := q.ForCount()
	assert.Zero(t, counted.Take)
	assert.Empty(t, counted.Orders)
}
