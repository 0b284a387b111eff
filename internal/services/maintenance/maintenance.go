// Package services содержит фоновые зачистки подписок: периодическое
// завершение треков с истёкшим окном и удаление закрытых подписок
// старше окна хранения.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/config"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/lib/sl"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// Sweeper определяет массовые операции менеджера жизненного цикла,
// запускаемые по расписанию.
type Sweeper interface {
	CompletePastDueSubscriptions(ctx context.Context) (int64, error)
	PurgeOldClosedSubscriptions(ctx context.Context, retentionWeeks int) (models.PurgeStats, error)
}

// MaintenanceService запускает зачистки по тикерам.
type MaintenanceService struct {
	sweeper Sweeper
	cfg     config.Maintenance
	log     *slog.Logger
	// Now подменяется в тестах.
	Now func() time.Time
}

// NewMaintenanceService создает новый экземпляр MaintenanceService.
func NewMaintenanceService(sweeper Sweeper, cfg config.Maintenance, log *slog.Logger) *MaintenanceService {
	return &MaintenanceService{
		sweeper: sweeper,
		cfg:     cfg,
		log:     log,
		Now:     time.Now,
	}
}

// RunCompleteSweep завершает просроченные подписки сразу и далее по тикеру.
func (s *MaintenanceService) RunCompleteSweep(ctx context.Context) {
	s.runComplete(ctx)

	ticker := time.NewTicker(s.cfg.CompleteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runComplete(ctx)
		}
	}
}

func (s *MaintenanceService) runComplete(ctx context.Context) {
	s.log.Info("starting sweep to complete past due subscriptions")
	n, err := s.sweeper.CompletePastDueSubscriptions(ctx)
	if err != nil {
		s.log.Error("failed to complete past due subscriptions", sl.Err(err))
		return
	}
	if n == 0 {
		s.log.Info("no past due subscriptions found")
		return
	}
	s.log.Info("completed past due subscriptions", "count", n)
}

// RunPurgeSweep ждёт настроенного времени суток, затем удаляет старые
// закрытые подписки по тикеру.
func (s *MaintenanceService) RunPurgeSweep(ctx context.Context) {
	timer := time.NewTimer(s.untilStart())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.runPurge(ctx)

	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPurge(ctx)
		}
	}
}

func (s *MaintenanceService) runPurge(ctx context.Context) {
	s.log.Info("starting sweep to purge old closed subscriptions",
		slog.Int("retention_weeks", s.cfg.RetentionWeeks))
	stats, err := s.sweeper.PurgeOldClosedSubscriptions(ctx, s.cfg.RetentionWeeks)
	if err != nil {
		s.log.Error("failed to purge old closed subscriptions", sl.Err(err))
		return
	}
	s.log.Info("purge sweep finished",
		slog.Int64("subscriptions", stats.Subscriptions),
		slog.Int64("call_retries", stats.CallRetries),
		slog.Int64("subscribers", stats.Subscribers))
}

// untilStart возвращает задержку до ближайшего настроенного времени
// суток. Пустое или некорректное значение означает немедленный запуск.
func (s *MaintenanceService) untilStart() time.Duration {
	if s.cfg.PurgeStartTime == "" {
		return 0
	}
	start, err := time.Parse("15:04", s.cfg.PurgeStartTime)
	if err != nil {
		s.log.Warn("malformed purge start time, starting immediately",
			slog.String("value", s.cfg.PurgeStartTime))
		return 0
	}
	now := s.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(),
		start.Hour(), start.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
