package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// FindOpenSubscription возвращает открытую подписку пары (абонент,
// пакет), либо nil. Открытых подписок такой пары больше одной не бывает.
func (s *Storage) FindOpenSubscription(ctx context.Context, subscriberID int64, pack models.PackType) (*models.Subscription, error) {
	const op = "storage.FindOpenSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, subscriber_id, pack_type, origin, status, start_date,
			      end_date, deactivation_reason, needs_welcome_message
			  FROM subscriptions
			  WHERE subscriber_id = $1 AND pack_type = $2
			    AND status IN ('pending_activation', 'active')
			  LIMIT 1`
	row := s.q.QueryRowContext(ctx, query, subscriberID, pack)

	sub, err := scanSubscription(row)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

func scanSubscription(row *sql.Row) (*models.Subscription, error) {
	sub := &models.Subscription{}
	var endDate sql.NullTime
	var reason sql.NullString
	if err := row.Scan(&sub.ID, &sub.SubscriberID, &sub.PackType, &sub.Origin,
		&sub.Status, &sub.StartDate, &endDate, &reason, &sub.NeedsWelcomeMessage); err != nil {
		return nil, err
	}
	if endDate.Valid {
		sub.EndDate = &endDate.Time
	}
	if reason.Valid {
		r := models.DeactivationReason(reason.String)
		sub.DeactivationReason = &r
	}
	return sub, nil
}

// CreateSubscription вставляет новую подписку и возвращает её ID.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (subscriber_id, pack_type, origin, status,
			      start_date, end_date, deactivation_reason, needs_welcome_message)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  RETURNING id`
	var newID int64
	err := s.q.QueryRowContext(ctx, query,
		sub.SubscriberID, sub.PackType, sub.Origin, sub.Status, sub.StartDate,
		sub.EndDate, sub.DeactivationReason, sub.NeedsWelcomeMessage).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// UpdateSubscription обновляет изменяемые поля подписки по её ID.
func (s *Storage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.UpdateSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET origin = $1, status = $2, start_date = $3, end_date = $4,
			      deactivation_reason = $5, needs_welcome_message = $6
			  WHERE id = $7`
	_, err := s.q.ExecContext(ctx, query,
		sub.Origin, sub.Status, sub.StartDate, sub.EndDate,
		sub.DeactivationReason, sub.NeedsWelcomeMessage, sub.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CompletePastDue массово завершает открытые подписки с истёкшим окном
// пакета. Дата окончания ставится в момент зачистки.
func (s *Storage) CompletePastDue(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.CompletePastDue"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions sub
			  SET status = 'completed',
			      end_date = $1
			  FROM subscription_packs p
			  WHERE p.pack_type = sub.pack_type
			    AND sub.status IN ('pending_activation', 'active')
			    AND sub.start_date + p.length_weeks * INTERVAL '1 week' <= $1`
	result, err := s.q.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}

// PurgeClosedBefore вычищает закрытые подписки с датой окончания старше
// cutoff: сперва фиксирует внешние идентификаторы их бенефициаров в
// deactivated_beneficiaries, затем удаляет записи дозвона, сами подписки
// и опустевших абонентов. Вся операция идёт в одной транзакции.
func (s *Storage) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (models.PurgeStats, error) {
	const op = "storage.PurgeClosedBefore"
	select {
	case <-ctx.Done():
		return models.PurgeStats{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var stats models.PurgeStats
	err := s.WithTx(ctx, func(tx *Storage) error {
		insertQuery := `
			WITH purged AS (
			    SELECT sub.id, sub.status, s.mother_id, s.child_id, sub.pack_type
			    FROM subscriptions sub
			    JOIN subscribers s ON s.id = sub.subscriber_id
			    WHERE sub.status IN ('completed', 'deactivated')
			      AND sub.end_date IS NOT NULL AND sub.end_date < $1
			)
			INSERT INTO deactivated_beneficiaries
			    (external_id, feed, completed_subscription, deactivated_subscription)
			SELECT x.external_id, x.feed,
			       bool_or(p.status = 'completed'), bool_or(p.status = 'deactivated')
			FROM purged p
			JOIN LATERAL (
			    SELECT m.feed_a_id AS external_id, 'feed_a' AS feed FROM mothers m
			    WHERE p.pack_type = 'pregnancy' AND m.id = p.mother_id AND m.feed_a_id IS NOT NULL
			    UNION ALL
			    SELECT m.feed_b_id, 'feed_b' FROM mothers m
			    WHERE p.pack_type = 'pregnancy' AND m.id = p.mother_id AND m.feed_b_id IS NOT NULL
			    UNION ALL
			    SELECT c.feed_a_id, 'feed_a' FROM children c
			    WHERE p.pack_type = 'child' AND c.id = p.child_id AND c.feed_a_id IS NOT NULL
			    UNION ALL
			    SELECT c.feed_b_id, 'feed_b' FROM children c
			    WHERE p.pack_type = 'child' AND c.id = p.child_id AND c.feed_b_id IS NOT NULL
			) x ON TRUE
			GROUP BY x.external_id, x.feed
			ON CONFLICT (external_id, feed) DO UPDATE
			SET completed_subscription =
			        deactivated_beneficiaries.completed_subscription OR EXCLUDED.completed_subscription,
			    deactivated_subscription =
			        deactivated_beneficiaries.deactivated_subscription OR EXCLUDED.deactivated_subscription`
		if _, err := tx.q.ExecContext(ctx, insertQuery, cutoff); err != nil {
			return err
		}

		retriesQuery := `DELETE FROM call_retries
			  WHERE subscription_id IN (
			      SELECT id FROM subscriptions
			      WHERE status IN ('completed', 'deactivated')
			        AND end_date IS NOT NULL AND end_date < $1)`
		result, err := tx.q.ExecContext(ctx, retriesQuery, cutoff)
		if err != nil {
			return err
		}
		if stats.CallRetries, err = result.RowsAffected(); err != nil {
			return err
		}

		deleteQuery := `DELETE FROM subscriptions
			  WHERE status IN ('completed', 'deactivated')
			    AND end_date IS NOT NULL AND end_date < $1
			  RETURNING subscriber_id`
		rows, err := tx.q.QueryContext(ctx, deleteQuery, cutoff)
		if err != nil {
			return err
		}
		var subscriberIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			subscriberIDs = append(subscriberIDs, id)
			stats.Subscriptions++
		}
		// Транзакция не допускает новых запросов, пока курсор открыт.
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(subscriberIDs) == 0 {
			return nil
		}

		orphansQuery := `DELETE FROM subscribers
			  WHERE id = ANY($1)
			    AND NOT EXISTS (
			        SELECT 1 FROM subscriptions sub
			        WHERE sub.subscriber_id = subscribers.id)`
		result, err = tx.q.ExecContext(ctx, orphansQuery, subscriberIDs)
		if err != nil {
			return err
		}
		if stats.Subscribers, err = result.RowsAffected(); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return models.PurgeStats{}, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}

// FindPack возвращает определение пакета по типу.
func (s *Storage) FindPack(ctx context.Context, t models.PackType) (*models.SubscriptionPack, error) {
	const op = "storage.FindPack"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT pack_type, length_weeks, start_offset_days
			  FROM subscription_packs
			  WHERE pack_type = $1`
	pack := &models.SubscriptionPack{}
	if err := s.q.QueryRowContext(ctx, query, t).Scan(
		&pack.Type, &pack.LengthWeeks, &pack.StartOffsetDays); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pack, nil
}
