package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/store"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"

	noOverlapConstraint = "appointments_no_overlap"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

type calendarTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return getAppointment(ctx, r.db.NewSelect(), id)
}

func (r *AppointmentRepo) List(ctx context.Context, filter store.AppointmentFilter, limit, offset int) ([]domain.Appointment, int, error) {
	rows := make([]domain.Appointment, 0)
	if filter.PatientIDs != nil && len(filter.PatientIDs) == 0 {
		return rows, 0, nil
	}

	q := r.db.NewSelect().Model(&rows)
	if filter.PractitionerID != "" {
		q = q.Where("practitioner_id = ?", filter.PractitionerID)
	}
	if len(filter.PatientIDs) > 0 {
		q = q.Where("patient_id IN (?)", bun.In(filter.PatientIDs))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		q = q.Where("appointment_date >= ?", domain.DateOf(*filter.From))
	}
	if filter.To != nil {
		q = q.Where("appointment_date <= ?", domain.DateOf(*filter.To))
	}
	if offset < 0 {
		offset = 0
	}
	q = q.OrderExpr("appointment_date ASC, start_minute ASC, id ASC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *AppointmentRepo) ListActiveAppointments(ctx context.Context, practitionerID string, date time.Time) ([]domain.Appointment, error) {
	return listActive(ctx, r.db.NewSelect(), practitionerID, date)
}

func (r *AppointmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	appt, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	keys := []store.DayKey{{PractitionerID: appt.PractitionerID, Date: appt.Date}}
	return r.inLockedTx(ctx, keys, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*domain.Appointment)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (r *AppointmentRepo) InDayTransaction(ctx context.Context, keys []store.DayKey, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	return r.inLockedTx(ctx, keys, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, calendarTx{tx: tx})
	})
}

func (r *AppointmentRepo) inLockedTx(ctx context.Context, keys []store.DayKey, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, key := range store.SortedKeys(keys) {
			if err := lockKey(ctx, tx, key); err != nil {
				return err
			}
		}
		return fn(ctx, tx)
	})
}

// lockKey takes a transaction-scoped advisory lock released on commit or
// rollback.
func lockKey(ctx context.Context, tx bun.Tx, key string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx)
	return err
}

func (r calendarTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return getAppointment(ctx, r.tx.NewSelect().For("UPDATE"), id)
}

func (r calendarTx) ListActiveAppointments(ctx context.Context, practitionerID string, date time.Time) ([]domain.Appointment, error) {
	return listActive(ctx, r.tx.NewSelect(), practitionerID, date)
}

func (r calendarTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	m.Date = domain.DateOf(appt.Date)

	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	return m, nil
}

func (r calendarTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	res, err := r.tx.NewUpdate().
		Model(&m).
		Column("status", "notes", "rescheduled_from_id", "rescheduled_to_id", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrNotFound
	}
	return m, nil
}

func getAppointment(ctx context.Context, q *bun.SelectQuery, id uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := q.Model(&a).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return a, nil
}

func listActive(ctx context.Context, q *bun.SelectQuery, practitionerID string, date time.Time) ([]domain.Appointment, error) {
	rows := make([]domain.Appointment, 0)
	err := q.Model(&rows).
		Where("practitioner_id = ?", practitionerID).
		Where("appointment_date = ?", domain.DateOf(date)).
		Where("status NOT IN (?)", bun.In([]domain.Status{domain.StatusCancelled, domain.StatusRescheduled})).
		OrderExpr("start_minute ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mapWriteError translates constraint violations into store sentinels.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == noOverlapConstraint:
		return store.ErrConflict
	case pgErr.Code == pgUniqueViolation:
		return store.ErrIdempotencyConflict
	}
	return err
}
