/*
Package generic provides the core primitives shared by the lecture and payroll engines.

PURPOSE:
  This package holds the small, domain-agnostic building blocks every other
  package speaks in: money amounts, calendar dates, times of day, month
  periods, actors and their roles, the engine clock, error kinds and the
  audit trail entry. Nothing here knows what a lecture or a trainer is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A currency amount backed by decimal.Decimal
  - Actor: Who is performing an operation (id + role)
  - Role: trainer, customer_service, admin

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Explicit callers: Every mutation receives an Actor parameter; there is
     no ambient "current user"
  3. Type Safety: Dates and times of day are distinct types

USAGE:
  pay := generic.NewMoney(4000).MulInt(12)
  actor := generic.Actor{ID: "cs-1", Role: generic.RoleCustomerService}
  if actor.IsPrivileged() { ... }

SEE ALSO:
  - time.go: Date and TimeOfDay
  - period.go: Month periods for payroll
  - errors.go: Error kinds
*/
package generic

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount (single currency system)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(units int64) Money { return Money{Value: decimal.NewFromInt(units)} }

// ParseMoney parses a decimal string such as "4000" or "-1500.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals. It panics on invalid input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }

func (m Money) MulInt(n int) Money {
	return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))}
}

func (m Money) IsZero() bool { return m.Value.IsZero() }

func (m Money) IsNegative() bool { return m.Value.IsNegative() }

func (m Money) Equal(o Money) bool { return m.Value.Equal(o.Value) }

func (m Money) String() string { return m.Value.String() }

// MarshalJSON encodes money as a JSON string to keep full precision.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Value.String())
}

// UnmarshalJSON accepts both JSON numbers and numeric strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	m.Value = d
	return nil
}

// =============================================================================
// ACTOR - Who performs an operation
// =============================================================================

type Role string

const (
	RoleTrainer         Role = "trainer"
	RoleCustomerService Role = "customer_service"
	RoleAdmin           Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleTrainer, RoleCustomerService, RoleAdmin:
		return true
	}
	return false
}

type Actor struct {
	ID   string
	Role Role
}

// IsPrivileged reports whether the actor may force conflicting postponements,
// drive renewal states and change payroll records.
func (a Actor) IsPrivileged() bool {
	return a.Role == RoleCustomerService || a.Role == RoleAdmin
}

func (a Actor) String() string {
	return fmt.Sprintf("%s(%s)", a.ID, a.Role)
}
