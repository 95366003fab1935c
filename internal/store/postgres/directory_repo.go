package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"mathavam/backend/internal/directory"
)

type practitionerRow struct {
	bun.BaseModel `bun:"table:practitioners"`

	ID        string `bun:"id,pk"`
	Name      string `bun:"name,notnull"`
	Role      string `bun:"role,notnull"`
	Specialty string `bun:"specialty"`
}

type patientRow struct {
	bun.BaseModel `bun:"table:patients"`

	ID         string `bun:"id,pk"`
	Name       string `bun:"name,notnull"`
	ChildRegNo string `bun:"child_reg_no"`
}

// DirectoryRepo reads the patient and practitioner tables maintained by the
// registration side of the system.
type DirectoryRepo struct {
	db *bun.DB
}

func NewDirectoryRepo(db *bun.DB) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

func (r *DirectoryRepo) Practitioner(ctx context.Context, id string) (directory.Practitioner, error) {
	var row practitionerRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Practitioner{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Practitioner{}, err
	}
	return row.toDirectory(), nil
}

func (r *DirectoryRepo) ListPractitioners(ctx context.Context) ([]directory.Practitioner, error) {
	var rows []practitionerRow
	if err := r.db.NewSelect().Model(&rows).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]directory.Practitioner, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDirectory())
	}
	return out, nil
}

func (r *DirectoryRepo) Patient(ctx context.Context, id string) (directory.Patient, error) {
	var row patientRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Patient{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Patient{}, err
	}
	return directory.Patient{ID: row.ID, Name: row.Name, ChildRegNo: row.ChildRegNo}, nil
}

func (row practitionerRow) toDirectory() directory.Practitioner {
	return directory.Practitioner{
		ID:        row.ID,
		Name:      row.Name,
		Role:      directory.PractitionerRole(row.Role),
		Specialty: row.Specialty,
	}
}
