// Package services содержит регистратор вердиктов импорта: синхронную
// запись по одной записи и пакетный сборщик для чанков, обрабатываемых
// параллельными воркерами.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/lib/sl"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// OutcomeStore определяет запись вердиктов и аудита отказов в хранилище.
type OutcomeStore interface {
	// UpsertOutcome записывает вердикт одной записи; повторная запись
	// того же внешнего идентификатора перезаписывает вердикт.
	UpsertOutcome(ctx context.Context, oc models.ImportOutcome) error
	// UpsertOutcomes пакетно записывает вердикты чанка одним запросом.
	UpsertOutcomes(ctx context.Context, ocs []models.ImportOutcome) error
	// CreateSubscriptionError добавляет запись аудита об отказе.
	CreateSubscriptionError(ctx context.Context, e models.SubscriptionError) error
	// CreateSubscriptionErrors пакетно добавляет записи аудита.
	CreateSubscriptionErrors(ctx context.Context, errs []models.SubscriptionError) error
}

// Recorder пишет вердикты обработки записей импорта.
type Recorder struct {
	store OutcomeStore
	log   *slog.Logger
}

// NewRecorder создает новый Recorder.
func NewRecorder(store OutcomeStore, log *slog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log,
	}
}

// Record синхронно записывает вердикт одной записи. Тихие отказы не
// оставляют следа в аудите.
func (r *Recorder) Record(ctx context.Context, oc models.ImportOutcome) error {
	const op = "outcome.Record"

	if oc.Silent {
		r.log.Debug("silent rejection, no audit record",
			slog.String("external_id", oc.ExternalID))
		return nil
	}
	if err := r.store.UpsertOutcome(ctx, oc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !oc.Accepted {
		if err := r.store.CreateSubscriptionError(ctx, subscriptionError(oc)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// FlushBatch записывает собранные вердикты чанка одним пакетным upsert.
// Ошибка записи логируется, записи чанка повторно не обрабатываются.
func (r *Recorder) FlushBatch(ctx context.Context, batch *BatchCollector) {
	outcomes := batch.Outcomes()
	if len(outcomes) == 0 {
		return
	}
	if err := r.store.UpsertOutcomes(ctx, outcomes); err != nil {
		r.log.Error("failed to flush outcome batch", sl.Err(err),
			slog.Int("count", len(outcomes)))
		return
	}
	var errs []models.SubscriptionError
	for _, oc := range outcomes {
		if !oc.Accepted {
			errs = append(errs, subscriptionError(oc))
		}
	}
	if len(errs) == 0 {
		return
	}
	if err := r.store.CreateSubscriptionErrors(ctx, errs); err != nil {
		r.log.Error("failed to flush subscription errors", sl.Err(err),
			slog.Int("count", len(errs)))
	}
}

func subscriptionError(oc models.ImportOutcome) models.SubscriptionError {
	reason := models.RejectDataIntegrity
	if oc.Reason != nil {
		reason = *oc.Reason
	}
	msisdn := oc.MSISDN
	if msisdn == 0 {
		msisdn = models.SentinelMSISDN
	}
	return models.SubscriptionError{
		MSISDN:     msisdn,
		ExternalID: oc.ExternalID,
		Reason:     reason,
		PackType:   oc.PackType,
		Feed:       oc.Feed,
		Comment:    oc.Comment,
	}
}

// BatchCollector сливает вердикты чанка по внешнему идентификатору,
// сохраняя порядок первого появления; последний вердикт побеждает.
// Коллектор не потокобезопасен: один экземпляр на чанк одного воркера.
type BatchCollector struct {
	order []string
	byID  map[string]models.ImportOutcome
}

// NewBatchCollector создает новый BatchCollector.
func NewBatchCollector() *BatchCollector {
	return &BatchCollector{
		byID: make(map[string]models.ImportOutcome),
	}
}

// Add добавляет вердикт. Тихие отказы и вердикты без внешнего
// идентификатора не собираются.
func (c *BatchCollector) Add(oc models.ImportOutcome) {
	if oc.Silent || oc.ExternalID == "" {
		return
	}
	if _, seen := c.byID[oc.ExternalID]; !seen {
		c.order = append(c.order, oc.ExternalID)
	}
	c.byID[oc.ExternalID] = oc
}

// Outcomes возвращает слитые вердикты в порядке первого появления.
func (c *BatchCollector) Outcomes() []models.ImportOutcome {
	result := make([]models.ImportOutcome, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.byID[id])
	}
	return result
}

// Len возвращает число собранных вердиктов.
func (c *BatchCollector) Len() int {
	return len(c.byID)
}
