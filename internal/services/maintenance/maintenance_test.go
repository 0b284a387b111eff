package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/config"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

type SweeperMock struct{ mock.Mock }

func (m *SweeperMock) CompletePastDueSubscriptions(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SweeperMock) PurgeOldClosedSubscriptions(ctx context.Context, retentionWeeks int) (models.PurgeStats, error) {
	args := m.Called(ctx, retentionWeeks)
	return args.Get(0).(models.PurgeStats), args.Error(1)
}

func newService(sweeper Sweeper, cfg config.Maintenance) *MaintenanceService {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return NewMaintenanceService(sweeper, cfg, log)
}

func TestRunComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("logs count on success", func(t *testing.T) {
		sweeper := new(SweeperMock)
		sweeper.On("CompletePastDueSubscriptions", ctx).Return(int64(3), nil).Once()

		s := newService(sweeper, config.Maintenance{})
		s.runComplete(ctx)
		sweeper.AssertExpectations(t)
	})

	t.Run("sweep failure does not panic", func(t *testing.T) {
		sweeper := new(SweeperMock)
		sweeper.On("CompletePastDueSubscriptions", ctx).Return(int64(0), errors.New("db down")).Once()

		s := newService(sweeper, config.Maintenance{})
		s.runComplete(ctx)
		sweeper.AssertExpectations(t)
	})
}

func TestRunPurge_PassesRetentionWindow(t *testing.T) {
	ctx := context.Background()
	sweeper := new(SweeperMock)
	sweeper.On("PurgeOldClosedSubscriptions", ctx, 6).
		Return(models.PurgeStats{Subscriptions: 2, CallRetries: 1, Subscribers: 1}, nil).Once()

	s := newService(sweeper, config.Maintenance{RetentionWeeks: 6})
	s.runPurge(ctx)
	sweeper.AssertExpectations(t)
}

func TestUntilStart(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		name  string
		start string
		want  time.Duration
	}{
		{"empty value starts immediately", "", 0},
		{"malformed value starts immediately", "half past two", 0},
		{"later today", "23:00", 12*time.Hour + 30*time.Minute},
		{"already passed, waits for tomorrow", "02:00", 15*time.Hour + 30*time.Minute},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newService(new(SweeperMock), config.Maintenance{PurgeStartTime: tc.start})
			s.Now = func() time.Time { return now }
			assert.Equal(t, tc.want, s.untilStart())
		})
	}
}

func TestRunCompleteSweep_StopsOnContextCancel(t *testing.T) {
	sweeper := new(SweeperMock)
	sweeper.On("CompletePastDueSubscriptions", mock.Anything).Return(int64(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	s := newService(sweeper, config.Maintenance{CompleteInterval: time.Hour})

	done := make(chan struct{})
	go func() {
		s.RunCompleteSweep(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "sweep did not stop on context cancel")
	}
}
