// Package services реализует подписку и отписку по прямому звонку
// абонента. Звонящий идентифицируется только номером телефона, связь с
// бенефициаром из реестров не требуется.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
	lifecycleservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/lifecycle"
)

// Ошибки операций call-in.
var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrUnknownPack        = errors.New("unknown subscription pack")
)

// SubscriberStore определяет поиск и создание абонентов.
type SubscriberStore interface {
	FindSubscriberByMSISDN(ctx context.Context, msisdn int64) (*models.Subscriber, error)
	CreateSubscriber(ctx context.Context, s *models.Subscriber) (int64, error)
}

// CallinService обслуживает запросы IVR-шлюза.
type CallinService struct {
	store     SubscriberStore
	lifecycle *lifecycleservice.Manager
	log       *slog.Logger
}

// NewCallinService создает новый экземпляр CallinService.
func NewCallinService(store SubscriberStore, lifecycle *lifecycleservice.Manager, log *slog.Logger) *CallinService {
	return &CallinService{
		store:     store,
		lifecycle: lifecycle,
		log:       log,
	}
}

// Subscribe регистрирует подписку по звонку. Абонент заводится при
// первом обращении. Повторный звонок при открытой подписке идемпотентен:
// возвращается nil без ошибки, подписка переходит во владение звонящего.
func (s *CallinService) Subscribe(ctx context.Context, msisdn int64, pack models.PackType, language, circle *string) (*models.Subscription, error) {
	const op = "callin.Subscribe"

	if pack != models.PackPregnancy && pack != models.PackChild {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownPack, pack)
	}

	subscriber, err := s.store.FindSubscriberByMSISDN(ctx, msisdn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if subscriber == nil {
		subscriber = &models.Subscriber{
			MSISDN:   msisdn,
			Language: language,
			Circle:   circle,
		}
		id, err := s.store.CreateSubscriber(ctx, subscriber)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		subscriber.ID = id
		s.log.Info("registered new call-in subscriber", slog.Int64("subscriber_id", id))
	}

	sub, err := s.lifecycle.CreateSubscription(ctx, subscriber, pack, models.OriginCallIn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// Unsubscribe закрывает открытую подписку звонящего с причиной
// deactivated_by_user. Отсутствие открытой подписки не ошибка.
func (s *CallinService) Unsubscribe(ctx context.Context, msisdn int64, pack models.PackType) error {
	const op = "callin.Unsubscribe"

	if pack != models.PackPregnancy && pack != models.PackChild {
		return fmt.Errorf("%s: %w: %q", op, ErrUnknownPack, pack)
	}

	subscriber, err := s.store.FindSubscriberByMSISDN(ctx, msisdn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if subscriber == nil {
		return fmt.Errorf("%s: %w", op, ErrSubscriberNotFound)
	}
	if err := s.lifecycle.DeactivateOpenSubscription(ctx, subscriber.ID, pack, models.ReasonDeactivatedByUser); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
