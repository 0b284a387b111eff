// Package services содержит менеджер жизненного цикла подписок: создание,
// смену статусов, деактивацию по биологическим событиям и массовые
// операции зачистки.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// Ошибки создания подписки. ErrPackWindowElapsed означает тихий отказ:
// запись аудита не создаётся.
var (
	ErrAlreadySubscribed = errors.New("open subscription for this pack already exists")
	ErrPackWindowElapsed = errors.New("pack window already elapsed")
)

// SubscriptionStore определяет методы хранилища для подписок.
type SubscriptionStore interface {
	// FindOpenSubscription возвращает открытую (ACTIVE или
	// PENDING_ACTIVATION) подписку пары (абонент, пакет), либо nil.
	FindOpenSubscription(ctx context.Context, subscriberID int64, pack models.PackType) (*models.Subscription, error)
	// CreateSubscription добавляет подписку и возвращает её ID.
	CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error)
	// UpdateSubscription обновляет изменяемые поля подписки.
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	// CompletePastDue массово завершает открытые подписки с истёкшим окном.
	CompletePastDue(ctx context.Context, now time.Time) (int64, error)
	// PurgeClosedBefore вычищает закрытые подписки с датой окончания
	// старше cutoff вместе с записями дозвона и опустевшими абонентами.
	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (models.PurgeStats, error)
}

// PackProvider отдаёт определение пакета. Явная зависимость вместо
// ленивого кеша внутри менеджера.
type PackProvider interface {
	Pack(ctx context.Context, t models.PackType) (*models.SubscriptionPack, error)
}

// Manager реализует машину состояний подписки.
type Manager struct {
	store SubscriptionStore
	packs PackProvider
	log   *slog.Logger
	// Now подменяется в тестах.
	Now func() time.Time
}

// New создает новый Manager.
func New(store SubscriptionStore, packs PackProvider, log *slog.Logger) *Manager {
	return &Manager{
		store: store,
		packs: packs,
		log:   log,
		Now:   time.Now,
	}
}

// DeriveStatus выводит текущий статус подписки из дат. Явная деактивация
// необратима и не пересматривается.
func DeriveStatus(sub *models.Subscription, pack *models.SubscriptionPack, now time.Time) models.SubscriptionStatus {
	if sub.Status == models.StatusDeactivated {
		return models.StatusDeactivated
	}
	if now.Before(sub.StartDate) {
		return models.StatusPendingActivation
	}
	if pack.Elapsed(sub.StartDate, now) {
		return models.StatusCompleted
	}
	return models.StatusActive
}

// CreateSubscription применяет правила создания подписки для пары
// (происхождение, пакет). Возвращает nil без ошибки, когда подписку
// создавать не нужно и это не отказ, требующий аудита.
func (m *Manager) CreateSubscription(ctx context.Context, subscriber *models.Subscriber, packType models.PackType, origin models.SubscriptionOrigin) (*models.Subscription, error) {
	const op = "lifecycle.CreateSubscription"

	pack, err := m.packs.Pack(ctx, packType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := m.Now()

	open, err := m.store.FindOpenSubscription(ctx, subscriber.ID, packType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if origin == models.OriginCallIn {
		if open != nil {
			// Звонок абонента перехватывает владение подпиской,
			// созданной импортом.
			if open.Origin == models.OriginBulkImport {
				open.Origin = models.OriginCallIn
				if err := m.store.UpdateSubscription(ctx, open); err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				m.log.Info("flipped subscription origin to call-in",
					slog.Int64("subscription_id", open.ID))
			}
			return nil, nil
		}
		start := now.Truncate(24*time.Hour).AddDate(0, 0, 1)
		return m.create(ctx, subscriber, pack, origin, start, false, now)
	}

	if origin != models.OriginBulkImport {
		return nil, nil
	}

	switch packType {
	case models.PackChild:
		if subscriber.DOB == nil {
			return nil, nil
		}
		if open != nil {
			m.log.Info("child subscription rejected: already subscribed",
				slog.Int64("subscriber_id", subscriber.ID))
			return nil, ErrAlreadySubscribed
		}
		start := *subscriber.DOB
		if pack.Elapsed(start, now) {
			return nil, ErrPackWindowElapsed
		}
		sub, err := m.create(ctx, subscriber, pack, origin, start, true, now)
		if err != nil {
			return nil, err
		}
		// Рождение всегда закрывает открытый трек беременности.
		if err := m.DeactivateOpenSubscription(ctx, subscriber.ID, models.PackPregnancy, models.ReasonLiveBirth); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return sub, nil
	case models.PackPregnancy:
		// Наличие даты рождения означает уже случившиеся роды:
		// трек беременности не регистрируется.
		if subscriber.LMP == nil || subscriber.DOB != nil {
			return nil, nil
		}
		if open != nil {
			m.log.Info("pregnancy subscription rejected: already subscribed",
				slog.Int64("subscriber_id", subscriber.ID))
			return nil, ErrAlreadySubscribed
		}
		start := pack.StartDate(*subscriber.LMP)
		if pack.Elapsed(start, now) {
			return nil, ErrPackWindowElapsed
		}
		return m.create(ctx, subscriber, pack, origin, start, true, now)
	default:
		return nil, nil
	}
}

func (m *Manager) create(ctx context.Context, subscriber *models.Subscriber, pack *models.SubscriptionPack, origin models.SubscriptionOrigin, start time.Time, welcome bool, now time.Time) (*models.Subscription, error) {
	const op = "lifecycle.create"

	sub := models.Subscription{
		SubscriberID:        subscriber.ID,
		PackType:            pack.Type,
		Origin:              origin,
		StartDate:           start,
		NeedsWelcomeMessage: welcome,
	}
	sub.Status = DeriveStatus(&sub, pack, now)

	id, err := m.store.CreateSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub.ID = id
	m.log.Info("created subscription",
		slog.Int64("id", id),
		slog.String("pack", string(pack.Type)),
		slog.String("origin", string(origin)))
	return &sub, nil
}

// UpdateStartDate сдвигает дату старта по новой опорной дате и сразу
// перевычисляет статус.
func (m *Manager) UpdateStartDate(ctx context.Context, sub *models.Subscription, referenceDate time.Time) error {
	const op = "lifecycle.UpdateStartDate"

	pack, err := m.packs.Pack(ctx, sub.PackType)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sub.StartDate = pack.StartDate(referenceDate)
	sub.Status = DeriveStatus(sub, pack, m.Now())
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Activate переводит подписку из PENDING_ACTIVATION в ACTIVE; иначе no-op.
func (m *Manager) Activate(ctx context.Context, sub *models.Subscription) error {
	const op = "lifecycle.Activate"

	if sub.Status != models.StatusPendingActivation {
		return nil
	}
	sub.Status = models.StatusActive
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Deactivate закрывает открытую подписку с причиной; для закрытых no-op.
// Дата окончания задаётся вызывающей стороной: деактивации по
// биологическим событиям ставят текущий момент.
func (m *Manager) Deactivate(ctx context.Context, sub *models.Subscription, reason models.DeactivationReason, end time.Time) error {
	const op = "lifecycle.Deactivate"

	pack, err := m.packs.Pack(ctx, sub.PackType)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !DeriveStatus(sub, pack, m.Now()).Open() {
		return nil
	}
	sub.Status = models.StatusDeactivated
	sub.DeactivationReason = &reason
	sub.EndDate = &end
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.log.Info("deactivated subscription",
		slog.Int64("id", sub.ID),
		slog.String("reason", string(reason)))
	return nil
}

// DeactivateOpenSubscription находит открытую подписку пары (абонент,
// пакет) и закрывает её; отсутствие открытой подписки не ошибка.
func (m *Manager) DeactivateOpenSubscription(ctx context.Context, subscriberID int64, packType models.PackType, reason models.DeactivationReason) error {
	const op = "lifecycle.DeactivateOpenSubscription"

	open, err := m.store.FindOpenSubscription(ctx, subscriberID, packType)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if open == nil {
		return nil
	}
	return m.Deactivate(ctx, open, reason, m.Now())
}

// CompletePastDueSubscriptions массово завершает открытые подписки,
// стартовавшие раньше (now - длина пакета). Одно массовое обновление,
// безопасно при повторном запуске.
func (m *Manager) CompletePastDueSubscriptions(ctx context.Context) (int64, error) {
	const op = "lifecycle.CompletePastDueSubscriptions"

	n, err := m.store.CompletePastDue(ctx, m.Now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		m.log.Info("completed past due subscriptions", slog.Int64("count", n))
	}
	return n, nil
}

// PurgeOldClosedSubscriptions удаляет закрытые подписки старше окна
// хранения вместе с записями дозвона; абонент без оставшихся подписок
// удаляется целиком.
func (m *Manager) PurgeOldClosedSubscriptions(ctx context.Context, retentionWeeks int) (models.PurgeStats, error) {
	const op = "lifecycle.PurgeOldClosedSubscriptions"

	cutoff := m.Now().AddDate(0, 0, -retentionWeeks*7)
	stats, err := m.store.PurgeClosedBefore(ctx, cutoff)
	if err != nil {
		return models.PurgeStats{}, fmt.Errorf("%s: %w", op, err)
	}
	m.log.Info("purged old closed subscriptions",
		slog.Int64("subscriptions", stats.Subscriptions),
		slog.Int64("call_retries", stats.CallRetries),
		slog.Int64("subscribers", stats.Subscribers))
	return stats, nil
}
