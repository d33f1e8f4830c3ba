// Package sample is a small case-tracking domain (companies, people and
// cases) wired through the full stack. The serve command exposes it and the
// integration tests exercise it against both stores.
package sample

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Company employs people
type Company struct {
	ID        int
	Name      string    `crud:"search" validate:"required,max=100"`
	City      string    `crud:"search=contains"`
	Employees []*Person `crud:"inverse=CompanyID"`
}

// Person works for at most one company and may be assigned cases
type Person struct {
	ID        int
	FirstName string     `crud:"search" validate:"required,max=50"`
	LastName  string     `crud:"search,order=1" validate:"required,max=50"`
	Email     string     `crud:"read=Admin|HR" validate:"omitempty,email"`
	BirthDate *time.Time `crud:"dateonly"`
	Salary    float64    `crud:"restrict=Payroll" validate:"gte=0"`
	Skills    []string
	CompanyID *int
	Company   *Company `crud:"fk=CompanyID,search"`
}

// Case is a unit of work reported against a company. Deleted cases are kept
// and hidden from lists.
type Case struct {
	ID           uuid.UUID `crud:"generated"`
	Title        string    `crud:"search,nosplit" validate:"required,max=200"`
	Description  string
	Status       CaseStatus
	Severity     int       `validate:"min=1,max=5"`
	OpenedAt     time.Time `crud:"order=1,desc,readonly"`
	CompanyID    int
	Company      *Company `crud:"fk=CompanyID"`
	AssignedToID *int
	AssignedTo   *Person `crud:"fk=AssignedToID"`
	Deleted      bool    `crud:"readonly"`
}

// CaseStatus is the workflow state of a case
type CaseStatus int

// Case states
const (
	CaseOpen CaseStatus = iota
	CaseInProgress
	CaseClosed
)

var caseStatusNames = [...]string{"open", "in_progress", "closed"}

// String returns the status name
func (s CaseStatus) String() string {
	if s < 0 || int(s) >= len(caseStatusNames) {
		return strconv.Itoa(int(s))
	}
	return caseStatusNames[s]
}

// MarshalText writes the status name
func (s CaseStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a status name in any case or its number
func (s *CaseStatus) UnmarshalText(b []byte) error {
	text := strings.TrimSpace(string(b))
	for i, name := range caseStatusNames {
		if strings.EqualFold(text, name) {
			*s = CaseStatus(i)
			return nil
		}
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 0 && n < len(caseStatusNames) {
		*s = CaseStatus(n)
		return nil
	}
	return fmt.Errorf("unknown case status %q", text)
}
