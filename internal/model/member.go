// internal/model/member.go
package model

import "time"

// Member is the narrow read model the engine needs from the member
// directory: identity, name parts for personalization, phone, and date of
// birth for age-band selection.
type Member struct {
	ID          int        `db:"id" json:"id"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	Phone       string     `db:"phone" json:"phone"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Status      string     `db:"status" json:"status"`
}

// FullName joins the name parts, tolerating missing ones.
func (m *Member) FullName() string {
	switch {
	case m.FirstName == "":
		return m.LastName
	case m.LastName == "":
		return m.FirstName
	default:
		return m.FirstName + " " + m.LastName
	}
}

// Recipient is one addressable destination produced by the resolver.
// MemberID is a weak back-reference; ad-hoc numbers have none.
type Recipient struct {
	MemberID  *int
	FirstName string
	LastName  string
	Name      string
	Phone     string
}
