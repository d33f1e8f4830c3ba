package schema

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/crudkit/internal/orm/security"
)

type company struct {
	ID     int       `json:"companyId"`
	Name   string    `crud:"search"`
	People []*person `crud:"inverse=CompanyID"`
}

type address struct {
	Street string
	City   string
}

type person struct {
	ID          int
	FirstName   string   `crud:"search=contains,nosplit,order=2"`
	LastName    string   `crud:"search,order=1,desc"`
	Salary      *float64 `crud:"read=HR,edit=HR|Admin"`
	SSN         string   `crud:"restrict=OwnerOnly"`
	Secret      string   `json:"-"`
	Computed    string   `crud:"unmapped"`
	BirthDate   time.Time
	Nicknames   []string
	Extra       map[string]any
	CompanyID   *int
	Company     *company
	Home        *address
	Manager     *person `crud:"fk=ManagerID"`
	ManagerID   *int
	Ignored     string `crud:"-"`
	ListOnly    string `crud:"include=list"`
	NotInDetail string `crud:"exclude=detail"`
}

type tag struct {
	Code  string `crud:"key"`
	Label string
}

type token struct {
	TokenID uuid.UUID `crud:"key,generated"`
}

func TestRegistry_RegisterBuildsProperties(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(person{})
	require.NoError(t, err)

	assert.Equal(t, "person", c.Name)
	assert.Equal(t, "persons", c.Table)
	require.NotNil(t, c.Key)
	assert.Equal(t, "ID", c.Key.Name)
	assert.True(t, c.KeyGenerated)
	assert.Nil(t, c.Property("Ignored"))

	first := c.Property("firstName")
	require.NotNil(t, first)
	assert.Equal(t, "first_name", first.Column)
	assert.Equal(t, SearchContains, first.Search)
	assert.False(t, first.SplitOnSpaces)
	assert.True(t, c.Property("LastName").SplitOnSpaces)

	salary := c.Property("Salary")
	assert.Equal(t, []string{"HR"}, salary.ReadRoles)
	assert.Equal(t, []string{"HR", "Admin"}, salary.EditRoles)
	assert.True(t, salary.IsNullable())

	assert.True(t, c.Property("Secret").Internal)
	assert.False(t, c.Property("Computed").IsStoreMapped())
	assert.Equal(t, KindPrimitiveCollection, c.Property("Nicknames").Kind)
	assert.Equal(t, KindDictionary, c.Property("Extra").Kind)
	assert.Equal(t, KindScalar, c.Property("BirthDate").Kind)
	assert.Equal(t, []string{"OwnerOnly"}, c.Property("SSN").Restrictions)
	assert.Equal(t, []string{"list"}, c.Property("ListOnly").DtoIncludes)
	assert.Equal(t, []string{"detail"}, c.Property("NotInDetail").DtoExcludes)
}

func TestRegistry_LinksNavigations(t *testing.T) {
	r := NewRegistry()
	c := r.MustRegister(&person{})

	companyProp := c.Property("Company")
	require.Equal(t, KindReference, companyProp.Kind)
	assert.Equal(t, "CompanyID", companyProp.ForeignKey)
	require.NotNil(t, companyProp.Related())
	assert.True(t, companyProp.IsPersistedRelation())

	people := companyProp.Related().Property("People")
	require.Equal(t, KindCollection, people.Kind)
	assert.Same(t, c, people.Related())
	assert.Equal(t, "CompanyID", people.InverseKey)

	home := c.Property("Home")
	assert.True(t, home.Related().External)
	assert.False(t, home.IsPersistedRelation())

	manager := c.Property("Manager")
	assert.Same(t, c, manager.Related())
	assert.Equal(t, "ManagerID", manager.ForeignKey)
}

func TestRegistry_ImplicitThenExplicit(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(person{})

	c, err := r.Register(company{}, WithTable("orgs"))
	require.NoError(t, err)
	assert.Equal(t, "orgs", c.Table)

	_, err = r.Register(company{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegistry_KeyModes(t *testing.T) {
	r := NewRegistry()

	tc := r.MustRegister(tag{})
	assert.Equal(t, "Code", tc.Key.Name)
	assert.False(t, tc.KeyGenerated)

	tok := r.MustRegister(token{})
	assert.Equal(t, "TokenID", tok.Key.Name)
	assert.True(t, tok.KeyGenerated)
}

func TestRegistry_RejectsNonStruct(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(42)
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestClass_DefaultOrder(t *testing.T) {
	r := NewRegistry()
	p := r.MustRegister(person{})
	order := p.DefaultOrder()
	require.Len(t, order, 2)
	assert.Equal(t, "LastName", order[0].Property.Name)
	assert.True(t, order[0].Descending)
	assert.Equal(t, "FirstName", order[1].Property.Name)

	c, _ := r.ClassOf(reflect.TypeOf(company{}))
	order = c.DefaultOrder()
	require.Len(t, order, 1)
	assert.Equal(t, "Name", order[0].Property.Name)

	tc := r.MustRegister(tag{})
	assert.Equal(t, "Code", tc.DefaultOrder()[0].Property.Name)
}

func TestClass_Includes(t *testing.T) {
	r := NewRegistry()
	c := r.MustRegister(person{},
		WithIncludeSet("details", "Company.People", "Manager"),
	)

	assert.Equal(t, []string{"Company", "Manager"}, c.StandardIncludes())
	paths, ok := c.IncludeSet("DETAILS")
	assert.True(t, ok)
	assert.Equal(t, []string{"Company.People", "Manager"}, paths)

	_, err := NewRegistry().Register(person{}, WithIncludeSet("bad", "FirstName"))
	assert.Error(t, err)
	_, err = NewRegistry().Register(person{}, WithIncludeSet("none", "Company"))
	assert.Error(t, err)
}

func TestClass_SecurityOptions(t *testing.T) {
	r := NewRegistry()
	c := r.MustRegister(person{},
		WithEditRoles("Admin"),
		DenyAction(security.ActionDelete),
		AllowAnonymous(security.ActionRead),
	)

	assert.True(t, c.Security.Allows(security.ActionRead, security.Anonymous()))
	assert.False(t, c.Security.Allows(security.ActionEdit, security.NewUser("1")))
	assert.True(t, c.Security.Allows(security.ActionEdit, security.NewUser("1", "admin")))
	assert.False(t, c.Security.Allows(security.ActionDelete, security.NewUser("1", "admin")))
}

func TestClass_Restrictions(t *testing.T) {
	r := NewRegistry()
	r.AddRestriction("global", security.RoleRestriction{Roles: []string{"x"}})
	c := r.MustRegister(person{}, WithRestriction("OwnerOnly", security.RestrictionFuncs{}))

	_, ok := c.Restriction("ownerOnly")
	assert.True(t, ok)
	_, ok = c.Restriction("Global")
	assert.True(t, ok)
	_, ok = c.Restriction("missing")
	assert.False(t, ok)
}

func TestClass_SearchPropertiesFallback(t *testing.T) {
	r := NewRegistry()
	c := r.MustRegister(tag{})
	assert.Empty(t, c.SearchProperties())

	p := r.MustRegister(person{})
	names := []string{}
	for _, sp := range p.SearchProperties() {
		names = append(names, sp.Name)
	}
	assert.Equal(t, []string{"FirstName", "LastName"}, names)
}

func TestProperty_SetCoerces(t *testing.T) {
	r := NewRegistry()
	c := r.MustRegister(person{})
	p := &person{}

	c.Property("Salary").Set(p, 12)
	require.NotNil(t, p.Salary)
	assert.Equal(t, 12.0, *p.Salary)

	c.Property("Salary").Set(p, nil)
	assert.Nil(t, p.Salary)

	c.Property("CompanyID").Set(p, int64(3))
	require.NotNil(t, p.CompanyID)
	assert.Equal(t, 3, *p.CompanyID)

	c.Property("FirstName").Set(p, 65)
	assert.Equal(t, "", p.FirstName)
}

func TestFor(t *testing.T) {
	r := NewRegistry()
	c, err := For[company](r)
	require.NoError(t, err)
	assert.Equal(t, "company", c.Name)
	assert.Equal(t, "companyId", c.Key.JSONName)
}
