package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

const upsertOutcomeQuery = `
	INSERT INTO import_outcomes (external_id, feed, pack_type, accepted,
	    action, reason, msisdn, comment, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	ON CONFLICT (external_id, feed) DO UPDATE
	SET pack_type = EXCLUDED.pack_type,
	    accepted = EXCLUDED.accepted,
	    action = EXCLUDED.action,
	    reason = EXCLUDED.reason,
	    msisdn = EXCLUDED.msisdn,
	    comment = EXCLUDED.comment,
	    updated_at = NOW()`

// UpsertOutcome записывает вердикт одной записи импорта; повторная
// запись того же внешнего идентификатора перезаписывает вердикт.
func (s *Storage) UpsertOutcome(ctx context.Context, oc models.ImportOutcome) error {
	const op = "storage.UpsertOutcome"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := s.q.ExecContext(ctx, upsertOutcomeQuery,
		oc.ExternalID, oc.Feed, oc.PackType, oc.Accepted,
		nullAction(oc.Action), oc.Reason, oc.MSISDN, oc.Comment); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpsertOutcomes пакетно записывает вердикты чанка в одной транзакции.
func (s *Storage) UpsertOutcomes(ctx context.Context, ocs []models.ImportOutcome) error {
	const op = "storage.UpsertOutcomes"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.WithTx(ctx, func(tx *Storage) error {
		for _, oc := range ocs {
			if _, err := tx.q.ExecContext(ctx, upsertOutcomeQuery,
				oc.ExternalID, oc.Feed, oc.PackType, oc.Accepted,
				nullAction(oc.Action), oc.Reason, oc.MSISDN, oc.Comment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

const createSubscriptionErrorQuery = `
	INSERT INTO subscription_errors (msisdn, external_id, reason, pack_type, feed, comment)
	VALUES ($1, $2, $3, $4, $5, $6)`

// CreateSubscriptionError добавляет запись аудита об отказе.
func (s *Storage) CreateSubscriptionError(ctx context.Context, e models.SubscriptionError) error {
	const op = "storage.CreateSubscriptionError"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := s.q.ExecContext(ctx, createSubscriptionErrorQuery,
		e.MSISDN, e.ExternalID, e.Reason, e.PackType, e.Feed, e.Comment); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateSubscriptionErrors пакетно добавляет записи аудита об отказах.
func (s *Storage) CreateSubscriptionErrors(ctx context.Context, errs []models.SubscriptionError) error {
	const op = "storage.CreateSubscriptionErrors"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.WithTx(ctx, func(tx *Storage) error {
		for _, e := range errs {
			if _, err := tx.q.ExecContext(ctx, createSubscriptionErrorQuery,
				e.MSISDN, e.ExternalID, e.Reason, e.PackType, e.Feed, e.Comment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// nullAction отображает пустое действие в NULL: у отклонённых записей
// действия нет.
func nullAction(a models.ImportAction) *string {
	if a == "" {
		return nil
	}
	v := string(a)
	return &v
}
