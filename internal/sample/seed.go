package sample

import (
	"context"
	"fmt"
	"time"

	"github.com/conduit-lang/crudkit/internal/orm/store"
)

// Seed writes a small data set through st: two companies, three people and
// three cases. Keys are assigned by the store.
func Seed(ctx context.Context, st store.Store) error {
	acme := &Company{Name: "Acme Corporation", City: "Springfield"}
	globex := &Company{Name: "Globex", City: "Cypress Creek"}
	if err := addAll(ctx, st, acme, globex); err != nil {
		return err
	}

	birth := time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)
	ada := &Person{FirstName: "Ada", LastName: "Lovelace", Email: "ada@acme.example", BirthDate: &birth,
		Salary: 120000, Skills: []string{"math", "poetry"}, CompanyID: intPtr(acme.ID)}
	grace := &Person{FirstName: "Grace", LastName: "Hopper", Email: "grace@globex.example",
		Salary: 135000, Skills: []string{"compilers", "navy"}, CompanyID: intPtr(globex.ID)}
	alan := &Person{FirstName: "Alan", LastName: "Turing", Email: "alan@example.org", Skills: []string{"math"}}
	if err := addAll(ctx, st, ada, grace, alan); err != nil {
		return err
	}

	opened := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return addAll(ctx, st,
		&Case{Title: "Printer on fire", Status: CaseOpen, Severity: 5, OpenedAt: opened,
			CompanyID: acme.ID, AssignedToID: intPtr(ada.ID)},
		&Case{Title: "Invoice totals off by one", Status: CaseInProgress, Severity: 3, OpenedAt: opened.Add(24 * time.Hour),
			CompanyID: globex.ID, AssignedToID: intPtr(grace.ID)},
		&Case{Title: "Password reset loop", Status: CaseClosed, Severity: 2, OpenedAt: opened.Add(48 * time.Hour),
			CompanyID: acme.ID},
	)
}

func addAll(ctx context.Context, st store.Store, entities ...any) error {
	for _, e := range entities {
		if err := st.Add(ctx, e); err != nil {
			return fmt.Errorf("seed %T: %w", e, err)
		}
	}
	return st.SaveChanges(ctx)
}

func intPtr(v int) *int {
	return &v
}
