package datasource

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/orm/store/memstore"
)

type level int

const (
	junior level = iota
	senior
)

func (l *level) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "junior":
		*l = junior
	case "senior":
		*l = senior
	default:
		return fmt.Errorf("unknown level %q", b)
	}
	return nil
}

type company struct {
	ID   int
	Name string
}

type person struct {
	ID        int
	FirstName string `crud:"search"`
	LastName  string `crud:"search=contains"`
	Email     string `crud:"read=Admin"`
	Secret    string `json:"-"`
	Nickname  string `crud:"unmapped"`
	Salary    int    `crud:"restrict=Payroll"`
	Age       int
	Level     level
	Joined    time.Time
	LastLogin *time.Time
	Tags      []string
	CompanyID *int
	Company   *company `crud:"fk=CompanyID,search"`
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	db  *memstore.DB
	reg *schema.Registry
}

func setup(t *testing.T) fixture {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustRegister(company{})
	reg.MustRegister(person{},
		schema.WithRestriction("Payroll", security.RoleRestriction{Roles: []string{"Payroll"}}),
	)

	db := memstore.NewDB(reg)
	acme := &company{Name: "Acme"}
	globex := &company{Name: "Globex"}
	require.NoError(t, db.Seed(acme, globex))
	require.NoError(t, db.Seed(
		&person{
			FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Secret: "s1",
			Nickname: "countess", Salary: 100, Age: 36, Level: senior,
			Joined: at("2017-08-02T00:00:00Z"), LastLogin: ptr(at("2020-01-01T10:00:00Z")),
			Tags: []string{"math", "poetry"}, Company: acme,
		},
		&person{
			FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", Secret: "s2",
			Nickname: "amazing", Salary: 200, Age: 85, Level: senior,
			Joined: at("2017-08-02T23:59:59Z"),
			Tags:   []string{"navy", "math"}, Company: globex,
		},
		&person{
			FirstName: "Alan", LastName: "Turing", Email: "alan@example.com", Secret: "s3",
			Nickname: "prof", Salary: 300, Age: 41, Level: junior,
			Joined: at("2017-08-03T00:00:00Z"), LastLogin: ptr(at("2020-02-01T10:00:00Z")),
		},
	))
	return fixture{db: db, reg: reg}
}

func userCtx(roles ...string) context.Context {
	return security.WithPrincipal(context.Background(), security.NewUser("u1", roles...))
}

func (f fixture) people(t *testing.T, opts ...Option[person]) *StandardDataSource[person] {
	t.Helper()
	ds, err := New[person](f.db.Session(), f.reg, opts...)
	require.NoError(t, err)
	return ds
}

func firstNames(t *testing.T, ds *StandardDataSource[person], ctx context.Context, p Parameters) []string {
	t.Helper()
	res, err := ds.GetList(ctx, p)
	require.NoError(t, err)
	require.True(t, res.WasSuccessful, res.Message)
	names := make([]string, 0, len(res.List))
	for _, item := range res.List {
		names = append(names, item.FirstName)
	}
	return names
}

var insertionOrder = []string{"Ada", "Grace", "Alan"}

func TestGetQuery_Includes(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	q, err := ds.GetQuery(userCtx(), Parameters{})
	require.NoError(t, err)
	assert.True(t, q.Includes.Has("Company"))

	q, err = ds.GetQuery(userCtx(), Parameters{Includes: "None"})
	require.NoError(t, err)
	assert.Equal(t, 0, q.Includes.Len())

	custom := f.people(t, WithIncludes[person]())
	q, err = custom.GetQuery(userCtx(), Parameters{})
	require.NoError(t, err)
	assert.Equal(t, 0, q.Includes.Len())

	_, err = New[person](f.db.Session(), f.reg, WithIncludes[person]("Tags"))
	assert.Error(t, err)
}

func TestApplyListFiltering_SkipsForbiddenProperties(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	tests := []struct {
		name   string
		filter string
		value  string
	}{
		{"unknown", "ShoeSize", "42"},
		{"internal", "Secret", "s1"},
		{"unmapped", "Nickname", "prof"},
		{"unauthorized", "Email", "ada@example.com"},
		{"restricted", "Salary", "100"},
		{"empty value", "FirstName", "  "},
		{"unparseable", "Age", "old"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parameters{}.WithFilter(tt.filter, tt.value)
			assert.Equal(t, insertionOrder, firstNames(t, ds, userCtx(), p))
		})
	}
}

func TestApplyListFiltering_AuthorizedUsersFilter(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	p := Parameters{}.WithFilter("email", "ada@example.com")
	assert.Equal(t, []string{"Ada"}, firstNames(t, ds, userCtx("Admin"), p))

	p = Parameters{}.WithFilter("Salary", "300")
	assert.Equal(t, []string{"Alan"}, firstNames(t, ds, userCtx("Payroll"), p))
}

func TestApplyListFiltering_Values(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	tests := []struct {
		name   string
		filter map[string]string
		want   []string
	}{
		{"exact string", map[string]string{"FirstName": "Grace"}, []string{"Grace"}},
		{"exact string is case sensitive", map[string]string{"FirstName": "grace"}, []string{}},
		{"prefix", map[string]string{"firstName": "A*"}, []string{"Ada", "Alan"}},
		{"number list", map[string]string{"Age": "36, 41"}, []string{"Ada", "Alan"}},
		{"invalid entries dropped", map[string]string{"Age": "85,abc"}, []string{"Grace"}},
		{"enum by name", map[string]string{"Level": "junior"}, []string{"Alan"}},
		{"enum by number", map[string]string{"Level": "1"}, []string{"Ada", "Grace"}},
		{"null", map[string]string{"LastLogin": "null"}, []string{"Grace"}},
		{"contains all", map[string]string{"Tags": "math"}, []string{"Ada", "Grace"}},
		{"contains all of several", map[string]string{"Tags": "math, navy"}, []string{"Grace"}},
		{"combined", map[string]string{"Tags": "math", "Age": "36"}, []string{"Ada"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstNames(t, ds, userCtx(), Parameters{Filter: tt.filter}))
		})
	}
}

func TestApplyListFiltering_DateIsHalfOpenDay(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	p := Parameters{}.WithFilter("Joined", "2017-08-02")
	assert.Equal(t, []string{"Ada", "Grace"}, firstNames(t, ds, userCtx(), p))

	p = Parameters{}.WithFilter("Joined", "2017-08-03T00:00:00Z")
	assert.Equal(t, []string{"Alan"}, firstNames(t, ds, userCtx(), p))

	// In UTC+2 the day starts at 22:00 UTC the evening before
	p = Parameters{TimeZone: time.FixedZone("UTC+2", 2*60*60)}.WithFilter("Joined", "2017-08-02")
	assert.Equal(t, []string{"Ada"}, firstNames(t, ds, userCtx(), p))
}

func TestDateFilter_Bounds(t *testing.T) {
	f := setup(t)
	class := f.people(t).Class()

	g := filterPredicate(class.Property("Joined"), "2017-08-02", time.UTC)
	require.NotNil(t, g)
	require.Len(t, g.Conditions, 2)
	assert.Equal(t, query.OpGreaterThanOrEqual, g.Conditions[0].Operator)
	assert.Equal(t, at("2017-08-02T00:00:00Z"), g.Conditions[0].Value)
	assert.Equal(t, query.OpLessThan, g.Conditions[1].Operator)
	assert.Equal(t, at("2017-08-03T00:00:00Z"), g.Conditions[1].Value)

	assert.Nil(t, filterPredicate(class.Property("Joined"), "yesterday", time.UTC))
}

func TestApplyListSearchTerm(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	tests := []struct {
		name   string
		search string
		want   []string
	}{
		{"begins with", "ada", []string{"Ada"}},
		{"contains", "opp", []string{"Grace"}},
		{"every word must match", "a ing", []string{"Alan"}},
		{"reference navigation", "glob", []string{"Grace"}},
		{"targeted field", "firstName:gr", []string{"Grace"}},
		{"targeted field without term searches everything", "lastName:", []string{}},
		{"unsearchable target degrades to full string", "email:ada", []string{}},
		{"no match", "zzz", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstNames(t, ds, userCtx(), Parameters{Search: tt.search}))
		})
	}
}

func TestApplyListSorting(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	tests := []struct {
		name    string
		orderBy string
		want    []string
	}{
		{"descending", "Age DESC", []string{"Grace", "Alan", "Ada"}},
		{"ascending by default", "age", []string{"Ada", "Alan", "Grace"}},
		{"invalid first clause abandons all", "Invalid ASC, Age DESC", insertionOrder},
		{"valid prefix kept", "Age DESC, Invalid ASC", []string{"Grace", "Alan", "Ada"}},
		{"unauthorized", "Email ASC, Age DESC", insertionOrder},
		{"collection", "Tags", insertionOrder},
		{"unmapped", "Nickname", insertionOrder},
		{"bad direction", "Age SIDEWAYS", insertionOrder},
		{"through reference", "Company.Name DESC, Age", []string{"Grace", "Ada", "Alan"}},
		{"reference orders by its default order", "Company DESC", []string{"Grace", "Ada", "Alan"}},
		{"reference ascending puts missing first", "Company", []string{"Alan", "Ada", "Grace"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstNames(t, ds, userCtx(), Parameters{OrderBy: tt.orderBy}))
		})
	}
}

type event struct {
	ID    int
	Title string    `crud:"search=contains,nosplit"`
	Venue string    `crud:"search"`
	Day   time.Time `crud:"dateonly"`
}

func setupEvents(t *testing.T) *StandardDataSource[event] {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustRegister(event{})
	db := memstore.NewDB(reg)
	require.NoError(t, db.Seed(
		&event{Title: "Launch party", Venue: "Harbor", Day: at("2024-03-01T00:00:00Z")},
		&event{Title: "Party planning", Venue: "Office", Day: at("2024-03-02T00:00:00Z")},
		&event{Title: "Retro", Venue: "Launchpad", Day: at("2024-03-01T00:00:00Z")},
	))
	ds, err := New[event](db.Session(), reg)
	require.NoError(t, err)
	return ds
}

func titles(t *testing.T, ds *StandardDataSource[event], p Parameters) []string {
	t.Helper()
	res, err := ds.GetList(userCtx(), p)
	require.NoError(t, err)
	require.True(t, res.WasSuccessful, res.Message)
	out := make([]string, 0, len(res.List))
	for _, item := range res.List {
		out = append(out, item.Title)
	}
	return out
}

func TestApplyListSearchTerm_WholeTerm(t *testing.T) {
	ds := setupEvents(t)

	tests := []struct {
		name   string
		search string
		want   []string
	}{
		{"phrase matches as a whole", "launch party", []string{"Launch party"}},
		{"words out of order do not match", "party launch", []string{}},
		{"single word reaches split properties too", "launch", []string{"Launch party", "Retro"}},
		{"targeted whole term", "title:party planning", []string{"Party planning"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, titles(t, ds, Parameters{Search: tt.search}))
		})
	}
}

func TestApplyListFiltering_DateOnly(t *testing.T) {
	ds := setupEvents(t)

	tests := []struct {
		name  string
		value string
		tz    *time.Location
		want  []string
	}{
		{"exact day", "2024-03-01", nil, []string{"Launch party", "Retro"}},
		{"time zone is ignored", "2024-03-02", time.FixedZone("UTC+2", 2*60*60), []string{"Party planning"}},
		{"no match", "2024-03-03", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parameters{TimeZone: tt.tz}.WithFilter("Day", tt.value)
			assert.Equal(t, tt.want, titles(t, ds, p))
		})
	}

	g := filterPredicate(ds.Class().Property("Day"), "2024-03-01", time.FixedZone("UTC-5", -5*60*60))
	require.NotNil(t, g)
	require.Len(t, g.Conditions, 1)
	assert.Equal(t, query.OpEqual, g.Conditions[0].Operator)
	assert.Equal(t, at("2024-03-01T00:00:00Z"), g.Conditions[0].Value)
}

type folder struct {
	ID       int
	Label    string
	Parent   *folder `crud:"order=1,fk=ParentID"`
	ParentID *int
}

func TestApplyListSorting_ReferenceWithoutDefaultOrderIsAbandoned(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustRegister(folder{})
	db := memstore.NewDB(reg)
	root := &folder{Label: "b"}
	require.NoError(t, db.Seed(root))
	require.NoError(t, db.Seed(&folder{Label: "a", Parent: root}))
	ds, err := New[folder](db.Session(), reg)
	require.NoError(t, err)

	q := ds.ApplyListSorting(userCtx(), query.New(ds.Class()), Parameters{OrderBy: "Label DESC, Parent, ID"})
	require.Len(t, q.Orders, 1)
	assert.Equal(t, "Label DESC", q.Orders[0].String())
}

func TestApplyListDefaultSorting(t *testing.T) {
	f := setup(t)
	ds, err := New[company](f.db.Session(), f.reg)
	require.NoError(t, err)
	require.NoError(t, f.db.Seed(&company{Name: "Aardvark"}))

	res, err := ds.GetList(userCtx(), Parameters{})
	require.NoError(t, err)
	var names []string
	for _, c := range res.List {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Aardvark", "Acme", "Globex"}, names)

	q := ds.ApplyListDefaultSorting(query.New(ds.Class()))
	require.Len(t, q.Orders, 1)
	assert.Equal(t, "Name ASC", q.Orders[0].String())
}

func TestApplyListPaging_ClampsPage(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustRegister(company{})
	db := memstore.NewDB(reg)
	for i := 1; i <= 10; i++ {
		require.NoError(t, db.Seed(&company{Name: fmt.Sprintf("Company %02d", i)}))
	}
	ds, err := New[company](db.Session(), reg)
	require.NoError(t, err)

	res, err := ds.GetList(userCtx(), Parameters{Page: 999, PageSize: 5})
	require.NoError(t, err)
	assert.True(t, res.WasSuccessful)
	assert.Equal(t, 2, res.Page)
	assert.Equal(t, 5, res.PageSize)
	assert.Equal(t, 2, res.PageCount)
	assert.Equal(t, 10, res.TotalCount)
	require.Len(t, res.List, 5)
	assert.Equal(t, "Company 06", res.List[0].Name)

	res, err = ds.GetList(userCtx(), Parameters{Page: -3, PageSize: 50000})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, MaxPageSize, res.PageSize)
	assert.Len(t, res.List, 10)

	small, err := New[company](db.Session(), reg, WithConfig[company](Config{DefaultPageSize: 3}))
	require.NoError(t, err)
	res, err = small.GetList(userCtx(), Parameters{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.PageSize)
	assert.Equal(t, 4, res.PageCount)
}

func TestGetItem(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	res, err := ds.GetItem(userCtx(), "2", Parameters{})
	require.NoError(t, err)
	require.True(t, res.WasSuccessful)
	assert.Equal(t, "Grace", res.Object.FirstName)
	require.NotNil(t, res.Object.Company)
	assert.Equal(t, "Globex", res.Object.Company.Name)
	assert.True(t, res.IncludeTree.Has("Company"))
	assert.True(t, res.IncludeTree.Frozen())

	res, err = ds.GetItem(userCtx(), 2, Parameters{Includes: "none"})
	require.NoError(t, err)
	require.True(t, res.WasSuccessful)
	assert.Nil(t, res.Object.Company)

	for _, id := range []any{99, "abc", 0, nil} {
		res, err = ds.GetItem(userCtx(), id, Parameters{})
		require.NoError(t, err)
		assert.False(t, res.WasSuccessful)
		assert.Nil(t, res.Object)
		assert.Equal(t, fmt.Sprintf("person item with ID %v was not found.", id), res.Message)
	}
}

func TestRead_RequiresAuthentication(t *testing.T) {
	f := setup(t)
	ds := f.people(t)
	anon := context.Background()
	want := security.UnauthorizedMessage(security.ActionRead, "person")

	item, err := ds.GetItem(anon, 1, Parameters{})
	require.NoError(t, err)
	assert.False(t, item.WasSuccessful)
	assert.Equal(t, want, item.Message)

	list, err := ds.GetList(anon, Parameters{})
	require.NoError(t, err)
	assert.False(t, list.WasSuccessful)
	assert.Empty(t, list.List)

	count, err := ds.GetCount(anon, Parameters{})
	require.NoError(t, err)
	assert.False(t, count.WasSuccessful)
}

func TestGetCount(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	res, err := ds.GetCount(userCtx(), Parameters{Page: 5, PageSize: 1}.WithFilter("Tags", "math"))
	require.NoError(t, err)
	assert.True(t, res.WasSuccessful)
	assert.Equal(t, 2, res.Object)
}

func TestWithQueryAndTransform(t *testing.T) {
	f := setup(t)
	ds := f.people(t,
		WithQuery[person](func(ctx context.Context, q *query.Query, p Parameters) *query.Query {
			return q.Filter(query.Where(query.MustResolvePath(q.Class, "Age"), query.OpLessThan, 80))
		}),
		WithTransform[person](func(ctx context.Context, items []*person, p Parameters) ([]*person, error) {
			for _, item := range items {
				item.Nickname = strings.ToUpper(item.FirstName)
			}
			return items, nil
		}),
	)

	res, err := ds.GetList(userCtx(), Parameters{})
	require.NoError(t, err)
	require.Len(t, res.List, 2)
	assert.Equal(t, "ADA", res.List[0].Nickname)
	assert.Equal(t, 2, res.TotalCount)

	item, err := ds.GetItem(userCtx(), 2, Parameters{})
	require.NoError(t, err)
	assert.False(t, item.WasSuccessful, "rows hidden by the base query are not found")
}

func TestGetMappedItemAndList(t *testing.T) {
	f := setup(t)
	ds := f.people(t)

	item, err := GetMappedItem[person, mapping.Dto[person]](userCtx(), ds, f.reg, 1, Parameters{})
	require.NoError(t, err)
	require.True(t, item.HasObject)
	assert.False(t, item.Object.Has("email"), "email needs the Admin role")
	assert.False(t, item.Object.Has("secret"))
	employer := item.Object.Ref("company")
	require.NotNil(t, employer)
	name, _ := employer.Get("name")
	assert.Equal(t, "Acme", name)

	admin, err := GetMappedItem[person, mapping.Dto[person]](userCtx("Admin"), ds, f.reg, 1, Parameters{Fields: []string{"email", "firstName"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"FirstName", "Email"}, admin.Object.Names())

	list, err := GetMappedList[person, mapping.Dto[person]](userCtx(), ds, f.reg, Parameters{Includes: "none"})
	require.NoError(t, err)
	require.Len(t, list.List, 3)
	for _, dto := range list.List {
		assert.False(t, dto.Has("company"), "no relation was loaded")
	}

	missing, err := GetMappedItem[person, mapping.Dto[person]](userCtx(), ds, f.reg, 42, Parameters{})
	require.NoError(t, err)
	assert.False(t, missing.WasSuccessful)
	assert.False(t, missing.HasObject)
}

func TestParseKey(t *testing.T) {
	f := setup(t)
	class := f.people(t).Class()

	key, ok := ParseKey(class, " 7 ")
	assert.True(t, ok)
	assert.Equal(t, 7, key)

	key, ok = ParseKey(class, int64(3))
	assert.True(t, ok)
	assert.Equal(t, 3, key)

	_, ok = ParseKey(class, "seven")
	assert.False(t, ok)
	_, ok = ParseKey(class, "0")
	assert.False(t, ok)
}
