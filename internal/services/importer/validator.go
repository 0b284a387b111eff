// Package services реализует конвейер импорта записей бенефициаров:
// нормализация полей, сведение идентичности, упорядоченная валидация и
// передача менеджеру жизненного цикла. Чанки обрабатываются пулом
// воркеров, каждая запись — в собственной транзакции хранилища.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/location"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
	lifecycleservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/lifecycle"
)

// recordContext — типизированные поля одной записи после нормализации.
type recordContext struct {
	feed            models.Feed
	externalID      string
	msisdn          int64
	referenceDate   *time.Time // LMP матери либо дата рождения ребёнка
	sourceUpdatedAt *time.Time
	caseNo          *int64
	record          models.RawRecord
}

// rejection — результат сработавшего правила валидации.
type rejection struct {
	reason  models.RejectionReason
	comment string
}

func reject(reason models.RejectionReason, comment string) *rejection {
	return &rejection{reason: reason, comment: comment}
}

// Validator прогоняет запись через упорядоченный список правил.
// Первое сработавшее правило выигрывает, побочных эффектов до решения нет.
type Validator struct {
	repos     Repos
	locations location.Provider
	packs     lifecycleservice.PackProvider
	now       time.Time
}

func newValidator(repos Repos, locations location.Provider, packs lifecycleservice.PackProvider, now time.Time) *Validator {
	return &Validator{repos: repos, locations: locations, packs: packs, now: now}
}

// ValidateMother применяет правила к записи матери. Возвращает отказ с
// причиной либо разрешённую географию записи.
func (v *Validator) ValidateMother(ctx context.Context, mother *models.Mother, rc recordContext) (*rejection, *location.Set, error) {
	const op = "importer.ValidateMother"

	if rej, err := v.checkMSISDN(ctx, rc.msisdn, func(sub *models.Subscriber) bool {
		return sub.MotherID != nil && (mother.ID == 0 || *sub.MotherID != mother.ID)
	}); rej != nil || err != nil {
		return rej, nil, err
	}

	// Проверка опорной даты нужна только записям, начинающим новый трек.
	if mother.ID == 0 || mother.LMP == nil {
		if rej, err := v.checkReferenceDate(ctx, models.PackPregnancy, rc.referenceDate,
			models.RejectMissingLMP, models.RejectInvalidLMPDate); rej != nil || err != nil {
			return rej, nil, err
		}
	}

	locSet, rej, err := v.checkLocation(ctx, rc.record)
	if rej != nil || err != nil {
		return rej, nil, err
	}

	if mother.ID != 0 && stale(mother.SourceUpdatedAt, rc.sourceUpdatedAt) {
		return reject(models.RejectRecordExists, "stale update"), nil, nil
	}

	if rej, err := v.checkDeactivatedBeneficiary(ctx, rc.externalID, rc.feed); rej != nil || err != nil {
		return rej, nil, err
	}

	// Уже родившийся ребёнок блокирует перерегистрацию беременности.
	if rc.feed == models.FeedA && mother.ID != 0 {
		has, err := v.repos.HasActiveChildSubscription(ctx, mother.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if has {
			return reject(models.RejectActiveChildPresent, "active child subscription present"), nil, nil
		}
	}

	if rc.feed == models.FeedB {
		if rc.caseNo == nil || *rc.caseNo <= 0 || *rc.caseNo < mother.MaxCaseNo {
			return reject(models.RejectInvalidCaseNo, fmt.Sprintf("case number %v below maximum seen %d", rc.caseNo, mother.MaxCaseNo)), nil, nil
		}
	}

	return nil, locSet, nil
}

// ValidateChild применяет правила к записи ребёнка; мать уже сведена
// вызывающей стороной.
func (v *Validator) ValidateChild(ctx context.Context, child *models.Child, mother *models.Mother, rc recordContext) (*rejection, *location.Set, error) {
	if child.ID != 0 && child.MotherID != nil && mother.ID != 0 && *child.MotherID != mother.ID {
		return reject(models.RejectAlreadySubscribed, "child already linked to a different mother"), nil, nil
	}

	if rej, err := v.checkMSISDN(ctx, rc.msisdn, func(sub *models.Subscriber) bool {
		return sub.ChildID != nil && (child.ID == 0 || *sub.ChildID != child.ID)
	}); rej != nil || err != nil {
		return rej, nil, err
	}

	if child.ID == 0 {
		if rej, err := v.checkReferenceDate(ctx, models.PackChild, rc.referenceDate,
			models.RejectMissingDOB, models.RejectInvalidDOB); rej != nil || err != nil {
			return rej, nil, err
		}
	}

	locSet, rej, err := v.checkLocation(ctx, rc.record)
	if rej != nil || err != nil {
		return rej, nil, err
	}

	if child.ID != 0 && stale(child.SourceUpdatedAt, rc.sourceUpdatedAt) {
		return reject(models.RejectRecordExists, "stale update"), nil, nil
	}

	if rej, err := v.checkDeactivatedBeneficiary(ctx, rc.externalID, rc.feed); rej != nil || err != nil {
		return rej, nil, err
	}

	// Номер случая Feed-B валидируется по матери и для детских записей.
	if rc.feed == models.FeedB {
		if rc.caseNo == nil || *rc.caseNo <= 0 || *rc.caseNo < mother.MaxCaseNo {
			return reject(models.RejectInvalidCaseNo, fmt.Sprintf("case number %v below maximum seen %d", rc.caseNo, mother.MaxCaseNo)), nil, nil
		}
	}

	return nil, locSet, nil
}

func (v *Validator) checkMSISDN(ctx context.Context, msisdn int64, ownedByOther func(*models.Subscriber) bool) (*rejection, error) {
	const op = "importer.checkMSISDN"

	if msisdn <= 0 {
		return reject(models.RejectMissingMSISDN, "phone number missing"), nil
	}
	sub, err := v.repos.FindSubscriberByMSISDN(ctx, msisdn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sub == nil {
		return nil, nil
	}
	if ownedByOther(sub) {
		return reject(models.RejectMSISDNInUse, "phone number already linked to a different beneficiary"), nil
	}
	return nil, nil
}

func (v *Validator) checkReferenceDate(ctx context.Context, pack models.PackType, ref *time.Time, missing, invalid models.RejectionReason) (*rejection, error) {
	const op = "importer.checkReferenceDate"

	if ref == nil {
		return reject(missing, "reference date missing"), nil
	}
	p, err := v.packs.Pack(ctx, pack)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !p.ReferenceDateInWindow(*ref, v.now) {
		return reject(invalid, fmt.Sprintf("reference date %s outside pack window", ref.Format("2006-01-02"))), nil
	}
	return nil, nil
}

func (v *Validator) checkLocation(ctx context.Context, rec models.RawRecord) (*location.Set, *rejection, error) {
	locSet, err := v.locations.GetLocations(ctx, rec)
	if err != nil {
		return nil, reject(models.RejectInvalidLocation, err.Error()), nil
	}
	return locSet, nil, nil
}

func (v *Validator) checkDeactivatedBeneficiary(ctx context.Context, externalID string, feed models.Feed) (*rejection, error) {
	const op = "importer.checkDeactivatedBeneficiary"

	db, err := v.repos.FindDeactivatedBeneficiary(ctx, externalID, feed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if db != nil && (db.CompletedSubscription || db.DeactivatedSubscription) {
		return reject(models.RejectRecordExists, "beneficiary already closed for this origin"), nil
	}
	return nil, nil
}

// stale сообщает, что сохранённая запись обновлена в источнике позже
// пришедшей.
func stale(stored, incoming *time.Time) bool {
	if stored == nil || incoming == nil {
		return false
	}
	return stored.After(*incoming)
}
