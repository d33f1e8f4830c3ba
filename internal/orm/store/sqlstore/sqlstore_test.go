package sqlstore

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

type company struct {
	ID        int
	Name      string
	Employees []*person `crud:"inverse=EmployerID"`
}

type person struct {
	ID         int
	Name       string
	Tags       []string
	Active     bool
	EmployerID *int
	Employer   *company `crud:"fk=EmployerID"`
}

func registry(t *testing.T) (*schema.Registry, *schema.Class, *schema.Class) {
	t.Helper()
	reg := schema.NewRegistry()
	companies := reg.MustRegister(company{})
	people := reg.MustRegister(person{})
	return reg, companies, people
}

func mockDB(t *testing.T, reg *schema.Registry) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(sqlx.NewDb(conn, "sqlmock"), reg, sqlbuilder.SQLite), mock
}

func path(t *testing.T, c *schema.Class, dotted string) query.Path {
	t.Helper()
	p, err := query.ResolvePath(c, dotted)
	require.NoError(t, err)
	return p
}

func compileWhere(t *testing.T, flavor sqlbuilder.Flavor, q *query.Query) (string, []any) {
	t.Helper()
	sq := newSelect(flavor, q.Class)
	sq.selectColumns()
	where, err := sq.where(q.Where)
	require.NoError(t, err)
	if where != "" {
		sq.sb.Where(where)
	}
	require.NoError(t, sq.orderBy(q.Orders))
	return sq.sb.Build()
}

func TestCompile_JoinsReferencePaths(t *testing.T) {
	_, _, people := registry(t)
	q := query.New(people).
		Filter(query.Where(path(t, people, "Employer.Name"), query.OpEqual, "Acme")).
		OrderBy(query.Order{Path: path(t, people, "Employer.Name"), Descending: true})

	sql, args := compileWhere(t, sqlbuilder.SQLite, q)
	assert.Contains(t, sql, "FROM persons t0")
	assert.Contains(t, sql, "LEFT JOIN companies t1 ON t1.id = t0.employer_id")
	assert.Equal(t, 1, strings.Count(sql, "LEFT JOIN"), "the path prefix is joined once")
	assert.Contains(t, sql, "t1.name = ?")
	assert.Contains(t, sql, "ORDER BY t1.name DESC")
	assert.Equal(t, []any{"Acme"}, args)
}

func TestCompile_UnorderedFallsBackToKey(t *testing.T) {
	_, _, people := registry(t)
	sql, _ := compileWhere(t, sqlbuilder.SQLite, query.New(people))
	assert.Contains(t, sql, "ORDER BY t0.id ASC")
	assert.NotContains(t, sql, "WHERE")
}

func TestCompile_Operators(t *testing.T) {
	_, _, people := registry(t)
	name := path(t, people, "Name")
	tags := path(t, people, "Tags")
	id := path(t, people, "ID")

	tests := []struct {
		name     string
		cond     *query.Condition
		contains string
		args     []any
	}{
		{"prefix", query.Where(name, query.OpStartsWith, "Ab_"), `LOWER(t0.name) LIKE ? ESCAPE '\'`, []any{`ab\_%`}},
		{"contains", query.Where(name, query.OpContains, "B"), `LOWER(t0.name) LIKE ?`, []any{"%b%"}},
		{"empty in", query.Where(id, query.OpIn, []any{}), "1 = 0", nil},
		{"in", query.Where(id, query.OpIn, []int{1, 2}), "t0.id IN (?, ?)", []any{int64(1), int64(2)}},
		{"null equality", query.Where(name, query.OpEqual, nil), "t0.name IS NULL", nil},
		{"greater", query.Where(id, query.OpGreaterThanOrEqual, 3), "t0.id >= ?", []any{int64(3)}},
		{"contains all", query.Where(tags, query.OpContainsAll, []string{"a"}), "(',' || SUBSTR(t0.tags, 2, LENGTH(t0.tags) - 2) || ',') LIKE ?", []any{`%,"a",%`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := compileWhere(t, sqlbuilder.SQLite, query.New(people).Filter(tt.cond))
			assert.Contains(t, sql, tt.contains)
			assert.Equal(t, tt.args, nilIfEmpty(args))
		})
	}
}

func TestCompile_OrGroupsAndPostgresPlaceholders(t *testing.T) {
	_, _, people := registry(t)
	name := path(t, people, "Name")
	q := query.New(people).FilterGroup(query.Or(
		query.Where(name, query.OpEqual, "a"),
		query.Where(name, query.OpEqual, "b"),
	))

	sql, args := compileWhere(t, sqlbuilder.PostgreSQL, q)
	assert.Contains(t, sql, "(t0.name = $1 OR t0.name = $2)")
	assert.Equal(t, []any{"a", "b"}, args)
}

func TestCompile_RejectsCollectionPaths(t *testing.T) {
	_, companies, _ := registry(t)
	sq := newSelect(sqlbuilder.SQLite, companies)
	_, err := sq.column(query.Path{companies.Property("Employees"), companies.Property("Name")})
	assert.ErrorIs(t, err, store.ErrUnsupported)
}

func TestSession_FindMaterializesThroughIdentityMap(t *testing.T) {
	reg, _, people := registry(t)
	db, mock := mockDB(t, reg)

	cols := []string{"id", "name", "tags", "active", "employer_id"}
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT t0.id, t0.name, t0.tags, t0.active, t0.employer_id FROM persons t0")).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(int64(1), "Ann", `["x","y"]`, int64(1), int64(4)).
				AddRow(int64(2), []byte("Bob"), nil, int64(0), nil))
	}

	s := db.Session()
	ctx := context.Background()
	first, err := store.List[person](ctx, s, query.New(people))
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, []string{"x", "y"}, first[0].Tags)
	assert.True(t, first[0].Active)
	assert.Equal(t, 4, *first[0].EmployerID)
	assert.Equal(t, "Bob", first[1].Name)
	assert.Nil(t, first[1].EmployerID)

	second, err := store.List[person](ctx, s, query.New(people))
	require.NoError(t, err)
	assert.Same(t, first[0], second[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_EagerLoadsIncludesInOneQueryPerLevel(t *testing.T) {
	reg, companies, _ := registry(t)
	db, mock := mockDB(t, reg)

	mock.ExpectQuery("FROM companies t0").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Acme").AddRow(int64(2), "Globex"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM persons t0 WHERE t0.employer_id IN (?, ?)")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "tags", "active", "employer_id"}).
			AddRow(int64(5), "Ann", nil, false, int64(1)))

	list, err := store.List[company](context.Background(), db.Session(), query.New(companies).Include("Employees"))
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Len(t, list[0].Employees, 1)
	assert.Equal(t, "Ann", list[0].Employees[0].Name)
	assert.Empty(t, list[1].Employees)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_SaveChangesUpdatesOnlyChangedColumns(t *testing.T) {
	reg, _, people := registry(t)
	db, mock := mockDB(t, reg)

	mock.ExpectQuery("FROM persons t0").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "tags", "active", "employer_id"}).
			AddRow(int64(1), "Ann", nil, true, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO persons (name, tags, active, employer_id) VALUES (?, ?, ?, ?) RETURNING id")).
		WithArgs("Zed", nil, false, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE persons SET name = ? WHERE id = ?")).
		WithArgs("Annie", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	s := db.Session()
	ann, err := store.First[person](ctx, s, query.New(people))
	require.NoError(t, err)
	ann.Name = "Annie"

	zed := &person{Name: "Zed"}
	require.NoError(t, s.Add(ctx, zed))
	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, 9, zed.ID)
	assert.NoError(t, mock.ExpectationsWereMet())

	// accepted changes are not written twice
	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, s.SaveChanges(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_SaveChangesRollsBackAndConvertsErrors(t *testing.T) {
	reg, _, _ := registry(t)
	db, mock := mockDB(t, reg)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM persons WHERE id = ?")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	s := db.Session()
	require.NoError(t, s.Remove(ctx, &person{ID: 3}))
	assert.ErrorIs(t, s.SaveChanges(ctx), store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_FailedInsertClearsGeneratedKey(t *testing.T) {
	reg, _, _ := registry(t)
	db, mock := mockDB(t, reg)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO persons").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	ctx := context.Background()
	s := db.Session()
	p := &person{Name: "Eve"}
	require.NoError(t, s.Add(ctx, p))
	assert.ErrorIs(t, s.SaveChanges(ctx), assert.AnError)
	assert.Zero(t, p.ID)
}

func TestSession_RejectsUnknownTypes(t *testing.T) {
	reg, _, _ := registry(t)
	db, _ := mockDB(t, reg)
	assert.ErrorIs(t, db.Session().Add(context.Background(), person{}), store.ErrUnknownClass)
}

func TestCreateTableSQL(t *testing.T) {
	_, companies, people := registry(t)

	stmt, err := CreateTableSQL(sqlbuilder.SQLite, people)
	require.NoError(t, err)
	assert.Contains(t, stmt, "INTEGER PRIMARY KEY AUTOINCREMENT")
	assert.Contains(t, stmt, "TEXT NOT NULL")
	assert.Contains(t, stmt, "BOOLEAN NOT NULL")
	assert.Contains(t, stmt, "FOREIGN KEY")

	stmt, err = CreateTableSQL(sqlbuilder.PostgreSQL, companies)
	require.NoError(t, err)
	assert.Contains(t, stmt, "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY")

	order := creationOrder([]*schema.Class{people, companies})
	assert.Equal(t, []*schema.Class{companies, people}, order)
}

func TestFlavorFor(t *testing.T) {
	f, err := FlavorFor("pgx")
	require.NoError(t, err)
	assert.Equal(t, sqlbuilder.PostgreSQL, f)

	_, err = FlavorFor("oracle")
	assert.ErrorIs(t, err, store.ErrUnsupported)
}

func nilIfEmpty(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	return args
}
