package sample

import (
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/security"
)

// Roles used by the sample domain
const (
	RoleAdmin   = "Admin"
	RoleHR      = "HR"
	RolePayroll = "Payroll"
)

// IncludeDetails loads a company's employees or a case's people
const IncludeDetails = "details"

// Register adds the sample classes to reg
func Register(reg *schema.Registry) error {
	if _, err := reg.Register(Company{},
		schema.WithTable("companies"),
		schema.WithIncludeSet(IncludeDetails, "Employees"),
		schema.WithCreateRoles(RoleAdmin),
		schema.WithEditRoles(RoleAdmin),
		schema.WithDeleteRoles(RoleAdmin),
		schema.AllowAnonymous(security.ActionRead),
	); err != nil {
		return err
	}
	if _, err := reg.Register(Person{},
		schema.WithTable("people"),
		schema.WithEditRoles(RoleAdmin, RoleHR),
		schema.WithCreateRoles(RoleAdmin, RoleHR),
		schema.WithDeleteRoles(RoleAdmin),
		schema.WithRestriction(RolePayroll, security.RoleRestriction{Roles: []string{RolePayroll}}),
	); err != nil {
		return err
	}
	if _, err := reg.Register(Case{},
		schema.WithTable("cases"),
		schema.WithStandardIncludes("Company", "AssignedTo"),
		schema.WithIncludeSet(IncludeDetails, "Company", "AssignedTo.Company"),
	); err != nil {
		return err
	}
	return nil
}

// NewRegistry returns a registry holding the sample classes
func NewRegistry() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
