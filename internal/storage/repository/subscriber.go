package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// FindSubscriberByMSISDN возвращает абонента по номеру телефона, либо nil.
func (s *Storage) FindSubscriberByMSISDN(ctx context.Context, msisdn int64) (*models.Subscriber, error) {
	const op = "storage.FindSubscriberByMSISDN"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, msisdn, language, circle, dob, lmp, mother_id, child_id
			  FROM subscribers
			  WHERE msisdn = $1`
	row := s.q.QueryRowContext(ctx, query, msisdn)

	sub := &models.Subscriber{}
	var dob, lmp sql.NullTime
	if err := row.Scan(&sub.ID, &sub.MSISDN, &sub.Language, &sub.Circle,
		&dob, &lmp, &sub.MotherID, &sub.ChildID); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if dob.Valid {
		sub.DOB = &dob.Time
	}
	if lmp.Valid {
		sub.LMP = &lmp.Time
	}
	return sub, nil
}

// CreateSubscriber вставляет нового абонента и возвращает его ID.
func (s *Storage) CreateSubscriber(ctx context.Context, sub *models.Subscriber) (int64, error) {
	const op = "storage.CreateSubscriber"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscribers (msisdn, language, circle, dob, lmp, mother_id, child_id)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING id`
	var newID int64
	err := s.q.QueryRowContext(ctx, query,
		sub.MSISDN, sub.Language, sub.Circle, sub.DOB, sub.LMP,
		sub.MotherID, sub.ChildID).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// UpdateSubscriber обновляет запись абонента по её ID.
func (s *Storage) UpdateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	const op = "storage.UpdateSubscriber"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscribers
			  SET msisdn = $1, language = $2, circle = $3, dob = $4, lmp = $5,
			      mother_id = $6, child_id = $7
			  WHERE id = $8`
	_, err := s.q.ExecContext(ctx, query,
		sub.MSISDN, sub.Language, sub.Circle, sub.DOB, sub.LMP,
		sub.MotherID, sub.ChildID, sub.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
