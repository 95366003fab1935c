package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"mathavam/backend/internal/domain"
	"mathavam/backend/internal/store"
)

type AvailabilityRepo struct {
	db *bun.DB
}

func NewAvailabilityRepo(db *bun.DB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db}
}

func (r *AvailabilityRepo) Windows(ctx context.Context, practitionerID string, date time.Time) ([]domain.AvailabilityWindow, error) {
	d := domain.DateOf(date)
	rows := make([]domain.AvailabilityWindow, 0)
	err := r.db.NewSelect().
		Model(&rows).
		Where("practitioner_id = ?", practitionerID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("kind = ? AND day_of_week = ?", domain.WindowWeekly, int(d.Weekday())).
				WhereOr("kind <> ? AND window_date = ?", domain.WindowWeekly, d)
		}).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ResolveWindows(rows, d), nil
}

func (r *AvailabilityRepo) ListWindows(ctx context.Context, practitionerID string) ([]domain.AvailabilityWindow, error) {
	rows := make([]domain.AvailabilityWindow, 0)
	err := r.db.NewSelect().
		Model(&rows).
		Where("practitioner_id = ?", practitionerID).
		OrderExpr("kind = 'weekly' DESC, day_of_week ASC NULLS LAST, window_date ASC NULLS LAST, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AvailabilityRepo) GetWindow(ctx context.Context, id uuid.UUID) (domain.AvailabilityWindow, error) {
	var w domain.AvailabilityWindow
	err := r.db.NewSelect().Model(&w).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AvailabilityWindow{}, store.ErrNotFound
	}
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return w, nil
}

func (r *AvailabilityRepo) SetWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	out := w
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockKey(ctx, tx, "availability|"+w.PractitionerID); err != nil {
			return err
		}

		var existing []domain.AvailabilityWindow
		err := tx.NewSelect().
			Model(&existing).
			Where("practitioner_id = ?", w.PractitionerID).
			Scan(ctx)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.ID != w.ID && e.ConflictsWith(w) {
				return &store.OverlapError{ExistingID: e.ID}
			}
		}

		_, err = tx.NewInsert().
			Model(&out).
			On("CONFLICT (id) DO UPDATE").
			Set("kind = EXCLUDED.kind").
			Set("day_of_week = EXCLUDED.day_of_week").
			Set("window_date = EXCLUDED.window_date").
			Set("start_minute = EXCLUDED.start_minute").
			Set("end_minute = EXCLUDED.end_minute").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return out, nil
}

func (r *AvailabilityRepo) RemoveWindow(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.AvailabilityWindow)(nil)).
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
}
