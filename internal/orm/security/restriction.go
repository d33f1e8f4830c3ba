package security

// Restriction is a custom per-property authorization predicate registered
// under a name and referenced from property metadata.
type Restriction interface {
	// UserCanRead decides whether the value of property on entity may be
	// returned to p.
	UserCanRead(p Principal, property string, entity any) bool
	// UserCanWrite decides whether p may set property on entity to incoming.
	UserCanWrite(p Principal, property string, entity any, incoming any) bool
	// UserCanFilter decides whether p may filter, search or sort by property.
	UserCanFilter(p Principal, property string) bool
}

// RestrictionFuncs adapts plain functions to Restriction. Nil functions
// allow the operation, except Filter, which falls back to Read with no entity.
type RestrictionFuncs struct {
	Read   func(p Principal, property string, entity any) bool
	Write  func(p Principal, property string, entity any, incoming any) bool
	Filter func(p Principal, property string) bool
}

// UserCanRead implements Restriction
func (f RestrictionFuncs) UserCanRead(p Principal, property string, entity any) bool {
	if f.Read == nil {
		return true
	}
	return f.Read(p, property, entity)
}

// UserCanWrite implements Restriction
func (f RestrictionFuncs) UserCanWrite(p Principal, property string, entity any, incoming any) bool {
	if f.Write == nil {
		return true
	}
	return f.Write(p, property, entity, incoming)
}

// UserCanFilter implements Restriction
func (f RestrictionFuncs) UserCanFilter(p Principal, property string) bool {
	if f.Filter != nil {
		return f.Filter(p, property)
	}
	if f.Read != nil {
		return f.Read(p, property, nil)
	}
	return true
}

// RoleRestriction only lets principals in one of Roles read, write or filter.
type RoleRestriction struct {
	Roles []string
}

// UserCanRead implements Restriction
func (r RoleRestriction) UserCanRead(p Principal, _ string, _ any) bool {
	return InAnyRole(p, r.Roles)
}

// UserCanWrite implements Restriction
func (r RoleRestriction) UserCanWrite(p Principal, _ string, _ any, _ any) bool {
	return InAnyRole(p, r.Roles)
}

// UserCanFilter implements Restriction
func (r RoleRestriction) UserCanFilter(p Principal, _ string) bool {
	return InAnyRole(p, r.Roles)
}
