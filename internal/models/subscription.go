package models

import "time"

// PackType обозначает пакет сообщений, на который оформляется подписка.
type PackType string

// Доступные пакеты.
const (
	PackPregnancy PackType = "pregnancy"
	PackChild     PackType = "child"
)

// SubscriptionStatus описывает состояние подписки в машине состояний
// PENDING_ACTIVATION -> ACTIVE -> {COMPLETED | DEACTIVATED}.
type SubscriptionStatus string

// Состояния подписки.
const (
	StatusPendingActivation SubscriptionStatus = "pending_activation"
	StatusActive            SubscriptionStatus = "active"
	StatusCompleted         SubscriptionStatus = "completed"
	StatusDeactivated       SubscriptionStatus = "deactivated"
)

// Open сообщает, является ли статус открытым (ACTIVE или PENDING_ACTIVATION).
func (s SubscriptionStatus) Open() bool {
	return s == StatusActive || s == StatusPendingActivation
}

// SubscriptionOrigin показывает, как подписка была создана: массовым
// импортом из реестра или прямым звонком абонента.
type SubscriptionOrigin string

// Способы создания подписки.
const (
	OriginBulkImport SubscriptionOrigin = "bulk_import"
	OriginCallIn     SubscriptionOrigin = "call_in"
)

// DeactivationReason фиксирует биологическое или пользовательское событие,
// закрывшее подписку.
type DeactivationReason string

// Причины деактивации.
const (
	ReasonLiveBirth             DeactivationReason = "live_birth"
	ReasonMiscarriageOrAbortion DeactivationReason = "miscarriage_or_abortion"
	ReasonStillBirth            DeactivationReason = "still_birth"
	ReasonMaternalDeath         DeactivationReason = "maternal_death"
	ReasonChildDeath            DeactivationReason = "child_death"
	ReasonDeactivatedByUser     DeactivationReason = "deactivated_by_user"
)

// Subscription принадлежит ровно одному абоненту и одному пакету.
// Статус в хранилище не авторитетен: текущее состояние выводится из дат,
// кроме явной деактивации, которая необратима.
type Subscription struct {
	ID                  int64
	SubscriberID        int64
	PackType            PackType
	Origin              SubscriptionOrigin
	Status              SubscriptionStatus
	StartDate           time.Time
	EndDate             *time.Time
	DeactivationReason  *DeactivationReason
	NeedsWelcomeMessage bool
}

// SubscriptionPack описывает пакет сообщений: длительность в неделях и
// смещение старта относительно опорной даты (LMP либо даты рождения).
type SubscriptionPack struct {
	Type            PackType
	LengthWeeks     int
	StartOffsetDays int
}

// Length возвращает полную длительность пакета.
func (p *SubscriptionPack) Length() time.Duration {
	return time.Duration(p.LengthWeeks) * 7 * 24 * time.Hour
}

// StartDate вычисляет дату старта подписки от опорной даты.
func (p *SubscriptionPack) StartDate(referenceDate time.Time) time.Time {
	return referenceDate.AddDate(0, 0, p.StartOffsetDays)
}

// Elapsed сообщает, истекло ли окно пакета для подписки со стартом start.
func (p *SubscriptionPack) Elapsed(start, now time.Time) bool {
	return !now.Before(start.Add(p.Length()))
}

// ReferenceDateInWindow проверяет, что опорная дата не в будущем и окно
// пакета, отсчитанное от неё, ещё не истекло полностью.
func (p *SubscriptionPack) ReferenceDateInWindow(referenceDate, now time.Time) bool {
	if referenceDate.After(now) {
		return false
	}
	return !p.Elapsed(p.StartDate(referenceDate), now)
}

// Subscriber владеет номером телефона (естественный ключ) и подписками.
// LMP и дата рождения копируются из связанного бенефициара.
type Subscriber struct {
	ID            int64
	MSISDN        int64
	Language      *string
	Circle        *string
	DOB           *time.Time
	LMP           *time.Time
	MotherID      *int64
	ChildID       *int64
	Subscriptions []*Subscription
}

// CallRetry хранит запись очереди повторного дозвона, создаваемую
// компонентом доставки. Здесь она только удаляется вместе с подпиской.
type CallRetry struct {
	ID             int64
	SubscriptionID int64
	MSISDN         int64
	AttemptCount   int
}
