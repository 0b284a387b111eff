package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

const motherColumns = `id, feed_a_id, feed_b_id, name, lmp, source_updated_at,
			      max_case_no, dead, state_id, district_id`

// FindMotherByFeedAID возвращает мать по идентификатору Feed-A, либо nil.
func (s *Storage) FindMotherByFeedAID(ctx context.Context, id string) (*models.Mother, error) {
	return s.findMother(ctx, "storage.FindMotherByFeedAID", "feed_a_id", id)
}

// FindMotherByFeedBID возвращает мать по идентификатору Feed-B, либо nil.
func (s *Storage) FindMotherByFeedBID(ctx context.Context, id string) (*models.Mother, error) {
	return s.findMother(ctx, "storage.FindMotherByFeedBID", "feed_b_id", id)
}

func (s *Storage) findMother(ctx context.Context, op, column, id string) (*models.Mother, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := fmt.Sprintf(`SELECT %s FROM mothers WHERE %s = $1`, motherColumns, column)
	row := s.q.QueryRowContext(ctx, query, id)

	m := &models.Mother{}
	var lmp, sourceUpdatedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.FeedAID, &m.FeedBID, &m.Name, &lmp, &sourceUpdatedAt,
		&m.MaxCaseNo, &m.Dead, &m.StateID, &m.DistrictID); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if lmp.Valid {
		m.LMP = &lmp.Time
	}
	if sourceUpdatedAt.Valid {
		m.SourceUpdatedAt = &sourceUpdatedAt.Time
	}
	return m, nil
}

// CreateMother вставляет новую запись матери и возвращает её ID.
func (s *Storage) CreateMother(ctx context.Context, m *models.Mother) (int64, error) {
	const op = "storage.CreateMother"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO mothers (feed_a_id, feed_b_id, name, lmp, source_updated_at,
			      max_case_no, dead, state_id, district_id)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  RETURNING id`
	var newID int64
	err := s.q.QueryRowContext(ctx, query,
		m.FeedAID, m.FeedBID, m.Name, m.LMP, m.SourceUpdatedAt,
		m.MaxCaseNo, m.Dead, m.StateID, m.DistrictID).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// UpdateMother обновляет запись матери по её ID.
func (s *Storage) UpdateMother(ctx context.Context, m *models.Mother) error {
	const op = "storage.UpdateMother"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE mothers
			  SET feed_a_id = $1, feed_b_id = $2, name = $3, lmp = $4,
			      source_updated_at = $5, max_case_no = $6, dead = $7,
			      state_id = $8, district_id = $9
			  WHERE id = $10`
	_, err := s.q.ExecContext(ctx, query,
		m.FeedAID, m.FeedBID, m.Name, m.LMP, m.SourceUpdatedAt,
		m.MaxCaseNo, m.Dead, m.StateID, m.DistrictID, m.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

const childColumns = `id, feed_a_id, feed_b_id, name, dob, source_updated_at,
			      dead, mother_id, state_id, district_id`

// FindChildByFeedAID возвращает ребёнка по идентификатору Feed-A, либо nil.
func (s *Storage) FindChildByFeedAID(ctx context.Context, id string) (*models.Child, error) {
	return s.findChild(ctx, "storage.FindChildByFeedAID", "feed_a_id", id)
}

// FindChildByFeedBID возвращает ребёнка по идентификатору Feed-B, либо nil.
func (s *Storage) FindChildByFeedBID(ctx context.Context, id string) (*models.Child, error) {
	return s.findChild(ctx, "storage.FindChildByFeedBID", "feed_b_id", id)
}

func (s *Storage) findChild(ctx context.Context, op, column, id string) (*models.Child, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := fmt.Sprintf(`SELECT %s FROM children WHERE %s = $1`, childColumns, column)
	row := s.q.QueryRowContext(ctx, query, id)

	c := &models.Child{}
	var dob, sourceUpdatedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.FeedAID, &c.FeedBID, &c.Name, &dob, &sourceUpdatedAt,
		&c.Dead, &c.MotherID, &c.StateID, &c.DistrictID); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if dob.Valid {
		c.DOB = &dob.Time
	}
	if sourceUpdatedAt.Valid {
		c.SourceUpdatedAt = &sourceUpdatedAt.Time
	}
	return c, nil
}

// CreateChild вставляет новую запись ребёнка и возвращает её ID.
func (s *Storage) CreateChild(ctx context.Context, c *models.Child) (int64, error) {
	const op = "storage.CreateChild"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO children (feed_a_id, feed_b_id, name, dob, source_updated_at,
			      dead, mother_id, state_id, district_id)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  RETURNING id`
	var newID int64
	err := s.q.QueryRowContext(ctx, query,
		c.FeedAID, c.FeedBID, c.Name, c.DOB, c.SourceUpdatedAt,
		c.Dead, c.MotherID, c.StateID, c.DistrictID).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// UpdateChild обновляет запись ребёнка по её ID.
func (s *Storage) UpdateChild(ctx context.Context, c *models.Child) error {
	const op = "storage.UpdateChild"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE children
			  SET feed_a_id = $1, feed_b_id = $2, name = $3, dob = $4,
			      source_updated_at = $5, dead = $6, mother_id = $7,
			      state_id = $8, district_id = $9
			  WHERE id = $10`
	_, err := s.q.ExecContext(ctx, query,
		c.FeedAID, c.FeedBID, c.Name, c.DOB, c.SourceUpdatedAt,
		c.Dead, c.MotherID, c.StateID, c.DistrictID, c.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindDeactivatedBeneficiary возвращает запись о закрытом бенефициаре
// для пары (внешний идентификатор, источник), либо nil.
func (s *Storage) FindDeactivatedBeneficiary(ctx context.Context, externalID string, feed models.Feed) (*models.DeactivatedBeneficiary, error) {
	const op = "storage.FindDeactivatedBeneficiary"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, external_id, feed, completed_subscription, deactivated_subscription
			  FROM deactivated_beneficiaries
			  WHERE external_id = $1 AND feed = $2`
	row := s.q.QueryRowContext(ctx, query, externalID, feed)

	d := &models.DeactivatedBeneficiary{}
	if err := row.Scan(&d.ID, &d.ExternalID, &d.Feed,
		&d.CompletedSubscription, &d.DeactivatedSubscription); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

// HasActiveChildSubscription сообщает, есть ли у какого-либо ребёнка
// матери открытая подписка детского пакета.
func (s *Storage) HasActiveChildSubscription(ctx context.Context, motherID int64) (bool, error) {
	const op = "storage.HasActiveChildSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS (
			  SELECT 1 FROM subscriptions sub
			  JOIN subscribers s ON s.id = sub.subscriber_id
			  JOIN children c ON c.id = s.child_id
			  WHERE c.mother_id = $1
			    AND sub.pack_type = 'child'
			    AND sub.status IN ('pending_activation', 'active'))`
	var exists bool
	if err := s.q.QueryRowContext(ctx, query, motherID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}
