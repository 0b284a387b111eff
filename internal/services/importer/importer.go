package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/identity"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/lib/sl"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/location"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/normalize"
	lifecycleservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/lifecycle"
	outcomeservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/outcome"
)

// Repos объединяет методы хранилища, доступные обработке одной записи
// внутри её транзакции.
type Repos interface {
	identity.BeneficiaryStore
	lifecycleservice.SubscriptionStore

	CreateMother(ctx context.Context, m *models.Mother) (int64, error)
	UpdateMother(ctx context.Context, m *models.Mother) error
	CreateChild(ctx context.Context, c *models.Child) (int64, error)
	UpdateChild(ctx context.Context, c *models.Child) error

	FindSubscriberByMSISDN(ctx context.Context, msisdn int64) (*models.Subscriber, error)
	CreateSubscriber(ctx context.Context, s *models.Subscriber) (int64, error)
	UpdateSubscriber(ctx context.Context, s *models.Subscriber) error

	FindDeactivatedBeneficiary(ctx context.Context, externalID string, feed models.Feed) (*models.DeactivatedBeneficiary, error)
	HasActiveChildSubscription(ctx context.Context, motherID int64) (bool, error)
}

// Store — транзакционная граница конвейера: каждая запись чанка
// обрабатывается в собственной транзакции.
type Store interface {
	InTx(ctx context.Context, fn func(Repos) error) error
}

// ImportService обрабатывает чанки записей импорта.
type ImportService struct {
	store     Store
	packs     lifecycleservice.PackProvider
	locations location.Provider
	recorder  *outcomeservice.Recorder
	metrics   *Metrics
	log       *slog.Logger
	workers   int
	chunkSize int
	// Now подменяется в тестах.
	Now func() time.Time
}

// NewImportService создает новый ImportService.
func NewImportService(store Store, packs lifecycleservice.PackProvider, locations location.Provider,
	recorder *outcomeservice.Recorder, metrics *Metrics, log *slog.Logger, workers, chunkSize int) *ImportService {
	if workers < 1 {
		workers = 1
	}
	if chunkSize < 1 {
		chunkSize = 100
	}
	return &ImportService{
		store:     store,
		packs:     packs,
		locations: locations,
		recorder:  recorder,
		metrics:   metrics,
		log:       log,
		workers:   workers,
		chunkSize: chunkSize,
		Now:       time.Now,
	}
}

// ProcessBatch нарезает записи на чанки и обрабатывает их по очереди.
// Вердикты каждого чанка сбрасываются отдельным пакетным upsert.
func (s *ImportService) ProcessBatch(ctx context.Context, feed models.Feed, kind models.BeneficiaryKind, records []models.RawRecord) {
	for start := 0; start < len(records); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(records) {
			end = len(records)
		}
		s.ProcessChunk(ctx, models.ImportChunk{Feed: feed, Kind: kind, Records: records[start:end]})
	}
}

type recordResult struct {
	outcome models.ImportOutcome
	err     error
}

// ProcessChunk раздаёт записи чанка пулу воркеров, собирает вердикты в
// пакетный коллектор и сбрасывает их одним upsert. Сбой одной записи не
// прерывает чанк: он логируется и учитывается в метриках.
func (s *ImportService) ProcessChunk(ctx context.Context, chunk models.ImportChunk) {
	if len(chunk.Records) == 0 {
		return
	}

	jobs := make(chan models.RawRecord)
	results := make(chan recordResult)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				oc, err := s.safeProcessRecord(ctx, chunk.Feed, chunk.Kind, rec)
				results <- recordResult{outcome: oc, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, rec := range chunk.Records {
			jobs <- rec
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	batch := outcomeservice.NewBatchCollector()
	var failures int
	for res := range results {
		s.metrics.IncProcessed(chunk.Feed, chunk.Kind)
		if res.err != nil {
			failures++
			s.metrics.IncFailed(chunk.Feed)
			s.log.Error("record processing failed", sl.Err(res.err),
				slog.String("feed", string(chunk.Feed)),
				slog.String("kind", string(chunk.Kind)))
			continue
		}
		if res.outcome.Accepted {
			s.metrics.IncAccepted(chunk.Feed, chunk.Kind)
		} else if !res.outcome.Silent {
			s.metrics.IncRejected(chunk.Feed, res.outcome.Reason)
		}
		batch.Add(res.outcome)
	}
	s.recorder.FlushBatch(ctx, batch)

	s.log.Info("processed import chunk",
		slog.String("feed", string(chunk.Feed)),
		slog.String("kind", string(chunk.Kind)),
		slog.Int("records", len(chunk.Records)),
		slog.Int("failures", failures))
}

// ProcessRecord обрабатывает одну запись и синхронно записывает вердикт.
func (s *ImportService) ProcessRecord(ctx context.Context, feed models.Feed, kind models.BeneficiaryKind, rec models.RawRecord) (models.ImportOutcome, error) {
	const op = "importer.ProcessRecord"

	oc, err := s.safeProcessRecord(ctx, feed, kind, rec)
	if err != nil {
		return oc, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.recorder.Record(ctx, oc); err != nil {
		return oc, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}

// safeProcessRecord изолирует панику обработки одной записи, чтобы она
// не обрушила весь чанк.
func (s *ImportService) safeProcessRecord(ctx context.Context, feed models.Feed, kind models.BeneficiaryKind, rec models.RawRecord) (oc models.ImportOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("importer.processRecord: panic: %v", r)
		}
	}()
	switch kind {
	case models.KindMother:
		return s.processMother(ctx, feed, rec)
	case models.KindChild:
		return s.processChild(ctx, feed, rec)
	default:
		return models.ImportOutcome{}, fmt.Errorf("importer.processRecord: unknown beneficiary kind %q", kind)
	}
}

func (s *ImportService) processMother(ctx context.Context, feed models.Feed, rec models.RawRecord) (models.ImportOutcome, error) {
	const op = "importer.processMother"

	feedAID := optstr(rec.Get(models.FieldFeedAID))
	feedBID := optstr(rec.Get(models.FieldFeedBID))
	oc := models.ImportOutcome{
		ExternalID: externalID(feed, feedAID, feedBID),
		Feed:       feed,
		PackType:   models.PackPregnancy,
		MSISDN:     models.SentinelMSISDN,
	}
	rc := recordContext{feed: feed, externalID: oc.ExternalID, record: rec}

	if !rec.Has(models.FieldMSISDN) {
		return rejected(oc, models.RejectMissingMSISDN, "phone number missing"), nil
	}
	msisdn, err := normalize.ParseMSISDN(rec.Get(models.FieldMSISDN))
	if err != nil {
		return rejected(oc, models.RejectDataIntegrity, err.Error()), nil
	}
	oc.MSISDN, rc.msisdn = msisdn, msisdn

	var lmp *time.Time
	if rec.Has(models.FieldLMP) {
		d, err := normalize.ParseDate(rec.Get(models.FieldLMP))
		if err != nil {
			return rejected(oc, models.RejectInvalidLMPDate, err.Error()), nil
		}
		lmp = &d
	}
	rc.referenceDate = lmp

	if rec.Has(models.FieldLastUpdate) {
		d, err := normalize.ParseDate(rec.Get(models.FieldLastUpdate))
		if err != nil {
			return rejected(oc, models.RejectDataIntegrity, err.Error()), nil
		}
		rc.sourceUpdatedAt = &d
	}
	if feed == models.FeedB {
		n, err := normalize.ParseCaseNumber(rec.Get(models.FieldCaseNo))
		if err != nil {
			return rejected(oc, models.RejectInvalidCaseNo, err.Error()), nil
		}
		rc.caseNo = n
	}

	abortion := normalize.ParseAbortionFlag(rec.Get(models.FieldAbortion))
	stillbirth := normalize.ParseStillbirthFlag(rec.Get(models.FieldStillbirth))
	death := normalize.ParseDeathFlag(rec.Get(models.FieldDeath))

	txErr := s.store.InTx(ctx, func(r Repos) error {
		resolver := identity.New(r)
		mother, _, err := resolver.ResolveMother(ctx, feedAID, feedBID)
		if err != nil {
			if errors.Is(err, identity.ErrIdentityConflict) {
				oc = rejected(oc, models.RejectDataIntegrity, "external ids resolve to different mothers")
				return nil
			}
			return err
		}

		v := newValidator(r, s.locations, s.packs, s.Now())
		rej, locSet, err := v.ValidateMother(ctx, mother, rc)
		if err != nil {
			return err
		}
		if rej != nil {
			oc = rejected(oc, rej.reason, rej.comment)
			return nil
		}

		isNew := mother.ID == 0
		if rec.Has(models.FieldName) {
			mother.Name = rec.Get(models.FieldName)
		}
		if lmp != nil {
			mother.LMP = lmp
		}
		if rc.sourceUpdatedAt != nil {
			mother.SourceUpdatedAt = rc.sourceUpdatedAt
		}
		if rc.caseNo != nil && *rc.caseNo > mother.MaxCaseNo {
			mother.MaxCaseNo = *rc.caseNo
		}
		if death {
			mother.Dead = true
		}
		if locSet != nil {
			mother.StateID = &locSet.StateID
			mother.DistrictID = &locSet.DistrictID
		}
		if isNew {
			id, err := r.CreateMother(ctx, mother)
			if err != nil {
				return err
			}
			mother.ID = id
		} else if err := r.UpdateMother(ctx, mother); err != nil {
			return err
		}

		subscriber, err := s.upsertSubscriber(ctx, r, msisdn, rec, func(sub *models.Subscriber) {
			sub.LMP = mother.LMP
			sub.MotherID = &mother.ID
		})
		if err != nil {
			return err
		}

		mgr := lifecycleservice.New(r, s.packs, s.log)
		mgr.Now = s.Now

		// Свежая LMP при открытом треке сдвигает дату старта.
		open, err := r.FindOpenSubscription(ctx, subscriber.ID, models.PackPregnancy)
		if err != nil {
			return err
		}
		if open != nil && lmp != nil {
			if err := mgr.UpdateStartDate(ctx, open, *lmp); err != nil {
				return err
			}
			oc = accepted(oc, models.ActionUpdate)
		} else {
			sub, err := mgr.CreateSubscription(ctx, subscriber, models.PackPregnancy, models.OriginBulkImport)
			oc = subscriptionOutcome(oc, sub, err, isNew)
			if oc.Reason == nil && !oc.Accepted && !oc.Silent {
				return err
			}
		}

		// Биологическое событие закрывает трек беременности уже после
		// создания или обновления: оно должно деактивировать и трек,
		// зарегистрированный этим же вызовом.
		if abortion || stillbirth || death {
			reason := models.ReasonMiscarriageOrAbortion
			switch {
			case death:
				reason = models.ReasonMaternalDeath
			case stillbirth:
				reason = models.ReasonStillBirth
			}
			if err := mgr.DeactivateOpenSubscription(ctx, subscriber.ID, models.PackPregnancy, reason); err != nil {
				return err
			}
			oc = accepted(oc, actionFor(isNew))
		}
		return nil
	})
	if txErr != nil {
		return oc, fmt.Errorf("%s: %w", op, txErr)
	}
	return oc, nil
}

func (s *ImportService) processChild(ctx context.Context, feed models.Feed, rec models.RawRecord) (models.ImportOutcome, error) {
	const op = "importer.processChild"

	feedAID := optstr(rec.Get(models.FieldFeedAID))
	feedBID := optstr(rec.Get(models.FieldFeedBID))
	motherFeedAID := optstr(rec.Get(models.FieldMotherFeedAID))
	motherFeedBID := optstr(rec.Get(models.FieldMotherFeedBID))
	oc := models.ImportOutcome{
		ExternalID: externalID(feed, feedAID, feedBID),
		Feed:       feed,
		PackType:   models.PackChild,
		MSISDN:     models.SentinelMSISDN,
	}
	rc := recordContext{feed: feed, externalID: oc.ExternalID, record: rec}

	// Ссылка на мать проверяется раньше номера телефона: при обоих
	// отсутствующих полях причиной отказа остаётся ссылка.
	if motherFeedAID == nil && motherFeedBID == nil {
		return rejected(oc, models.RejectMissingMotherID, "mother reference missing"), nil
	}

	if !rec.Has(models.FieldMSISDN) {
		return rejected(oc, models.RejectMissingMSISDN, "phone number missing"), nil
	}
	msisdn, err := normalize.ParseMSISDN(rec.Get(models.FieldMSISDN))
	if err != nil {
		return rejected(oc, models.RejectDataIntegrity, err.Error()), nil
	}
	oc.MSISDN, rc.msisdn = msisdn, msisdn

	var dob *time.Time
	if rec.Has(models.FieldDOB) {
		d, err := normalize.ParseDate(rec.Get(models.FieldDOB))
		if err != nil {
			return rejected(oc, models.RejectInvalidDOB, err.Error()), nil
		}
		dob = &d
	}
	rc.referenceDate = dob

	if rec.Has(models.FieldLastUpdate) {
		d, err := normalize.ParseDate(rec.Get(models.FieldLastUpdate))
		if err != nil {
			return rejected(oc, models.RejectDataIntegrity, err.Error()), nil
		}
		rc.sourceUpdatedAt = &d
	}
	if feed == models.FeedB {
		n, err := normalize.ParseCaseNumber(rec.Get(models.FieldCaseNo))
		if err != nil {
			return rejected(oc, models.RejectInvalidCaseNo, err.Error()), nil
		}
		rc.caseNo = n
	}

	death := normalize.ParseDeathFlag(rec.Get(models.FieldDeath))

	txErr := s.store.InTx(ctx, func(r Repos) error {
		resolver := identity.New(r)
		mother, motherBackfilled, err := resolver.ResolveMother(ctx, motherFeedAID, motherFeedBID)
		if err != nil {
			if errors.Is(err, identity.ErrIdentityConflict) {
				oc = rejected(oc, models.RejectMotherIDError, "mother ids resolve to different mothers")
				return nil
			}
			return err
		}
		child, _, err := resolver.ResolveChild(ctx, feedAID, feedBID)
		if err != nil {
			if errors.Is(err, identity.ErrIdentityConflict) {
				oc = rejected(oc, models.RejectDataIntegrity, "external ids resolve to different children")
				return nil
			}
			return err
		}

		v := newValidator(r, s.locations, s.packs, s.Now())
		rej, locSet, err := v.ValidateChild(ctx, child, mother, rc)
		if err != nil {
			return err
		}
		if rej != nil {
			oc = rejected(oc, rej.reason, rej.comment)
			return nil
		}

		// Запись ребёнка может прийти раньше записи матери: тогда мать
		// заводится заготовкой из одних внешних идентификаторов.
		motherDirty := motherBackfilled
		if rc.caseNo != nil && *rc.caseNo > mother.MaxCaseNo {
			mother.MaxCaseNo = *rc.caseNo
			motherDirty = true
		}
		if mother.ID == 0 {
			id, err := r.CreateMother(ctx, mother)
			if err != nil {
				return err
			}
			mother.ID = id
		} else if motherDirty {
			if err := r.UpdateMother(ctx, mother); err != nil {
				return err
			}
		}

		isNew := child.ID == 0
		if rec.Has(models.FieldName) {
			child.Name = rec.Get(models.FieldName)
		}
		if dob != nil {
			child.DOB = dob
		}
		if rc.sourceUpdatedAt != nil {
			child.SourceUpdatedAt = rc.sourceUpdatedAt
		}
		if death {
			child.Dead = true
		}
		if locSet != nil {
			child.StateID = &locSet.StateID
			child.DistrictID = &locSet.DistrictID
		}
		child.MotherID = &mother.ID
		if isNew {
			id, err := r.CreateChild(ctx, child)
			if err != nil {
				return err
			}
			child.ID = id
		} else if err := r.UpdateChild(ctx, child); err != nil {
			return err
		}

		subscriber, err := s.upsertSubscriber(ctx, r, msisdn, rec, func(sub *models.Subscriber) {
			sub.DOB = child.DOB
			sub.ChildID = &child.ID
		})
		if err != nil {
			return err
		}

		mgr := lifecycleservice.New(r, s.packs, s.log)
		mgr.Now = s.Now

		open, err := r.FindOpenSubscription(ctx, subscriber.ID, models.PackChild)
		if err != nil {
			return err
		}
		if open != nil && dob != nil {
			if err := mgr.UpdateStartDate(ctx, open, *dob); err != nil {
				return err
			}
			oc = accepted(oc, models.ActionUpdate)
		} else {
			sub, err := mgr.CreateSubscription(ctx, subscriber, models.PackChild, models.OriginBulkImport)
			oc = subscriptionOutcome(oc, sub, err, isNew)
			if oc.Reason == nil && !oc.Accepted && !oc.Silent {
				return err
			}
		}

		// Смерть ребёнка закрывает трек уже после создания или
		// обновления: она должна деактивировать и трек,
		// зарегистрированный этим же вызовом.
		if death {
			if err := mgr.DeactivateOpenSubscription(ctx, subscriber.ID, models.PackChild, models.ReasonChildDeath); err != nil {
				return err
			}
			oc = accepted(oc, actionFor(isNew))
		}
		return nil
	})
	if txErr != nil {
		return oc, fmt.Errorf("%s: %w", op, txErr)
	}
	return oc, nil
}

// upsertSubscriber находит абонента по номеру либо создаёт нового,
// затем применяет link для привязки бенефициара и опорных дат.
func (s *ImportService) upsertSubscriber(ctx context.Context, r Repos, msisdn int64, rec models.RawRecord, link func(*models.Subscriber)) (*models.Subscriber, error) {
	subscriber, err := r.FindSubscriberByMSISDN(ctx, msisdn)
	if err != nil {
		return nil, err
	}
	if subscriber == nil {
		subscriber = &models.Subscriber{
			MSISDN:   msisdn,
			Language: optstr(rec.Get(models.FieldLanguage)),
			Circle:   optstr(rec.Get(models.FieldCircle)),
		}
		link(subscriber)
		id, err := r.CreateSubscriber(ctx, subscriber)
		if err != nil {
			return nil, err
		}
		subscriber.ID = id
		return subscriber, nil
	}
	link(subscriber)
	if err := r.UpdateSubscriber(ctx, subscriber); err != nil {
		return nil, err
	}
	return subscriber, nil
}

// subscriptionOutcome отображает результат менеджера жизненного цикла в
// вердикт записи. Истёкшее окно пакета — тихий отказ без аудита.
func subscriptionOutcome(oc models.ImportOutcome, sub *models.Subscription, err error, isNew bool) models.ImportOutcome {
	switch {
	case errors.Is(err, lifecycleservice.ErrPackWindowElapsed):
		oc.Silent = true
		return oc
	case errors.Is(err, lifecycleservice.ErrAlreadySubscribed):
		return rejected(oc, models.RejectAlreadySubscribed, "open subscription for this pack exists")
	case err != nil:
		return oc
	case sub == nil:
		return rejected(oc, models.RejectSubscription, "subscription not registered")
	default:
		return accepted(oc, actionFor(isNew))
	}
}

func accepted(oc models.ImportOutcome, action models.ImportAction) models.ImportOutcome {
	oc.Accepted = true
	oc.Action = action
	oc.Reason = nil
	oc.Silent = false
	oc.Comment = ""
	return oc
}

func rejected(oc models.ImportOutcome, reason models.RejectionReason, comment string) models.ImportOutcome {
	oc.Accepted = false
	oc.Reason = &reason
	oc.Comment = comment
	return oc
}

func actionFor(isNew bool) models.ImportAction {
	if isNew {
		return models.ActionCreate
	}
	return models.ActionUpdate
}

// externalID выбирает идентификатор источника, приславшего запись.
func externalID(feed models.Feed, feedAID, feedBID *string) string {
	switch {
	case feed == models.FeedA && feedAID != nil:
		return *feedAID
	case feed == models.FeedB && feedBID != nil:
		return *feedBID
	}
	return ""
}

func optstr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
