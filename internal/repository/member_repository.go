package repository

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/kanisahub/comms-backend/internal/model"
)

// MemberRepositoryInterface is the narrow read the engine takes on the
// member directory. Member CRUD lives elsewhere.
type MemberRepositoryInterface interface {
	ActiveMembers() ([]model.Member, error)
	ActiveByDepartment(departmentID int) ([]model.Member, error)
	ActiveByIDs(ids []int) ([]model.Member, error)
}

// MemberRepository is the concrete implementation
type MemberRepository struct {
	DB *sql.DB
}

const memberColumns = `id, first_name, last_name, phone, date_of_birth, status`

func scanMembers(rows *sql.Rows) ([]model.Member, error) {
	defer rows.Close()
	members := []model.Member{}
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Phone, &m.DateOfBirth, &m.Status); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *MemberRepository) ActiveMembers() ([]model.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE status='active' AND phone <> ''`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	return scanMembers(rows)
}

// ActiveByDepartment follows the active membership relation between members
// and departments.
func (r *MemberRepository) ActiveByDepartment(departmentID int) ([]model.Member, error) {
	query := `
        SELECT m.id, m.first_name, m.last_name, m.phone, m.date_of_birth, m.status
        FROM members m
        JOIN department_members dm ON dm.member_id = m.id AND dm.active
        WHERE dm.department_id = $1 AND m.status='active' AND m.phone <> ''
    `
	rows, err := r.DB.Query(query, departmentID)
	if err != nil {
		return nil, err
	}
	return scanMembers(rows)
}

func (r *MemberRepository) ActiveByIDs(ids []int) ([]model.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members
              WHERE id = ANY($1) AND status='active'`
	rows, err := r.DB.Query(query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return scanMembers(rows)
}

var _ MemberRepositoryInterface = (*MemberRepository)(nil)
