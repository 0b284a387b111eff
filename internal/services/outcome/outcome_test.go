package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

type StoreMock struct{ mock.Mock }

func (m *StoreMock) UpsertOutcome(ctx context.Context, oc models.ImportOutcome) error {
	return m.Called(ctx, oc).Error(0)
}

func (m *StoreMock) UpsertOutcomes(ctx context.Context, ocs []models.ImportOutcome) error {
	return m.Called(ctx, ocs).Error(0)
}

func (m *StoreMock) CreateSubscriptionError(ctx context.Context, e models.SubscriptionError) error {
	return m.Called(ctx, e).Error(0)
}

func (m *StoreMock) CreateSubscriptionErrors(ctx context.Context, errs []models.SubscriptionError) error {
	return m.Called(ctx, errs).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func reasonptr(r models.RejectionReason) *models.RejectionReason { return &r }

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted outcome writes no subscription error", func(t *testing.T) {
		store := new(StoreMock)
		oc := models.ImportOutcome{ExternalID: "A1", Feed: models.FeedA, Accepted: true, Action: models.ActionCreate}
		store.On("UpsertOutcome", ctx, oc).Return(nil).Once()

		r := NewRecorder(store, newNoopLogger())
		require.NoError(t, r.Record(ctx, oc))
		store.AssertExpectations(t)
	})

	t.Run("rejected outcome writes subscription error", func(t *testing.T) {
		store := new(StoreMock)
		oc := models.ImportOutcome{
			ExternalID: "A2",
			Feed:       models.FeedA,
			PackType:   models.PackPregnancy,
			Reason:     reasonptr(models.RejectMissingMSISDN),
		}
		store.On("UpsertOutcome", ctx, oc).Return(nil).Once()
		store.On("CreateSubscriptionError", ctx, mock.MatchedBy(func(e models.SubscriptionError) bool {
			return e.ExternalID == "A2" &&
				e.Reason == models.RejectMissingMSISDN &&
				e.MSISDN == models.SentinelMSISDN
		})).Return(nil).Once()

		r := NewRecorder(store, newNoopLogger())
		require.NoError(t, r.Record(ctx, oc))
		store.AssertExpectations(t)
	})

	t.Run("silent rejection leaves no trace", func(t *testing.T) {
		store := new(StoreMock)
		r := NewRecorder(store, newNoopLogger())
		require.NoError(t, r.Record(ctx, models.ImportOutcome{ExternalID: "A3", Silent: true}))
		store.AssertExpectations(t)
	})
}

func TestBatchCollector_LastWriteWins(t *testing.T) {
	c := NewBatchCollector()
	c.Add(models.ImportOutcome{ExternalID: "X", Accepted: false, Reason: reasonptr(models.RejectMissingLMP)})
	c.Add(models.ImportOutcome{ExternalID: "Y", Accepted: true, Action: models.ActionCreate})
	c.Add(models.ImportOutcome{ExternalID: "X", Accepted: true, Action: models.ActionUpdate})

	got := c.Outcomes()
	require.Len(t, got, 2)
	// Порядок первого появления сохраняется, вердикт X перезаписан.
	assert.Equal(t, "X", got[0].ExternalID)
	assert.True(t, got[0].Accepted)
	assert.Equal(t, models.ActionUpdate, got[0].Action)
	assert.Equal(t, "Y", got[1].ExternalID)
}

func TestBatchCollector_SkipsSilentAndAnonymous(t *testing.T) {
	c := NewBatchCollector()
	c.Add(models.ImportOutcome{ExternalID: "S", Silent: true})
	c.Add(models.ImportOutcome{ExternalID: ""})
	assert.Zero(t, c.Len())
}

func TestRecorder_FlushBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("flushes outcomes and rejection audit", func(t *testing.T) {
		store := new(StoreMock)
		c := NewBatchCollector()
		c.Add(models.ImportOutcome{ExternalID: "A", Accepted: true, Action: models.ActionCreate})
		c.Add(models.ImportOutcome{ExternalID: "B", Reason: reasonptr(models.RejectInvalidDOB), MSISDN: 9876543210})

		store.On("UpsertOutcomes", ctx, mock.MatchedBy(func(ocs []models.ImportOutcome) bool {
			return len(ocs) == 2
		})).Return(nil).Once()
		store.On("CreateSubscriptionErrors", ctx, mock.MatchedBy(func(errs []models.SubscriptionError) bool {
			return len(errs) == 1 && errs[0].ExternalID == "B" && errs[0].MSISDN == 9876543210
		})).Return(nil).Once()

		r := NewRecorder(store, newNoopLogger())
		r.FlushBatch(ctx, c)
		store.AssertExpectations(t)
	})

	t.Run("flush failure is logged, not retried", func(t *testing.T) {
		store := new(StoreMock)
		c := NewBatchCollector()
		c.Add(models.ImportOutcome{ExternalID: "A", Accepted: true})
		store.On("UpsertOutcomes", ctx, mock.Anything).Return(errors.New("db down")).Once()

		r := NewRecorder(store, newNoopLogger())
		r.FlushBatch(ctx, c)
		store.AssertExpectations(t)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		store := new(StoreMock)
		r := NewRecorder(store, newNoopLogger())
		r.FlushBatch(ctx, NewBatchCollector())
		store.AssertExpectations(t)
	})
}
