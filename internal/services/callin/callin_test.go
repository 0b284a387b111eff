package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
	lifecycleservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/lifecycle"
)

type SubscriberStoreMock struct{ mock.Mock }

func (m *SubscriberStoreMock) FindSubscriberByMSISDN(ctx context.Context, msisdn int64) (*models.Subscriber, error) {
	args := m.Called(ctx, msisdn)
	if sub := args.Get(0); sub != nil {
		return sub.(*models.Subscriber), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SubscriberStoreMock) CreateSubscriber(ctx context.Context, s *models.Subscriber) (int64, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(int64), args.Error(1)
}

type SubscriptionStoreMock struct{ mock.Mock }

func (m *SubscriptionStoreMock) FindOpenSubscription(ctx context.Context, subscriberID int64, pack models.PackType) (*models.Subscription, error) {
	args := m.Called(ctx, subscriberID, pack)
	if sub := args.Get(0); sub != nil {
		return sub.(*models.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SubscriptionStoreMock) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SubscriptionStoreMock) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *SubscriptionStoreMock) CompletePastDue(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SubscriptionStoreMock) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (models.PurgeStats, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(models.PurgeStats), args.Error(1)
}

type staticPacks struct{}

func (staticPacks) Pack(_ context.Context, t models.PackType) (*models.SubscriptionPack, error) {
	if t == models.PackPregnancy {
		return &models.SubscriptionPack{Type: t, LengthWeeks: 72, StartOffsetDays: 90}, nil
	}
	return &models.SubscriptionPack{Type: models.PackChild, LengthWeeks: 48}, nil
}

var testNow = time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)

func newTestService(subscribers SubscriberStore, subs *SubscriptionStoreMock) *CallinService {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	mgr := lifecycleservice.New(subs, staticPacks{}, log)
	mgr.Now = func() time.Time { return testNow }
	return NewCallinService(subscribers, mgr, log)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("new caller gets subscriber and subscription starting tomorrow", func(t *testing.T) {
		subscribers := new(SubscriberStoreMock)
		subs := new(SubscriptionStoreMock)
		subscribers.On("FindSubscriberByMSISDN", ctx, int64(9876543210)).Return(nil, nil).Once()
		subscribers.On("CreateSubscriber", ctx, mock.MatchedBy(func(s *models.Subscriber) bool {
			return s.MSISDN == 9876543210
		})).Return(int64(7), nil).Once()
		subs.On("FindOpenSubscription", ctx, int64(7), models.PackPregnancy).Return(nil, nil).Once()
		subs.On("CreateSubscription", ctx, mock.MatchedBy(func(sub models.Subscription) bool {
			return sub.SubscriberID == 7 &&
				sub.Origin == models.OriginCallIn &&
				sub.StartDate.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)) &&
				sub.Status == models.StatusPendingActivation
		})).Return(int64(11), nil).Once()

		svc := newTestService(subscribers, subs)
		sub, err := svc.Subscribe(ctx, 9876543210, models.PackPregnancy, nil, nil)
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.EqualValues(t, 11, sub.ID)
		subscribers.AssertExpectations(t)
		subs.AssertExpectations(t)
	})

	t.Run("open bulk subscription is taken over, not duplicated", func(t *testing.T) {
		subscribers := new(SubscriberStoreMock)
		subs := new(SubscriptionStoreMock)
		existing := &models.Subscription{
			ID:           4,
			SubscriberID: 7,
			PackType:     models.PackPregnancy,
			Origin:       models.OriginBulkImport,
			Status:       models.StatusActive,
		}
		subscribers.On("FindSubscriberByMSISDN", ctx, int64(9876543210)).
			Return(&models.Subscriber{ID: 7, MSISDN: 9876543210}, nil).Once()
		subs.On("FindOpenSubscription", ctx, int64(7), models.PackPregnancy).Return(existing, nil).Once()
		subs.On("UpdateSubscription", ctx, mock.MatchedBy(func(sub *models.Subscription) bool {
			return sub.ID == 4 && sub.Origin == models.OriginCallIn
		})).Return(nil).Once()

		svc := newTestService(subscribers, subs)
		sub, err := svc.Subscribe(ctx, 9876543210, models.PackPregnancy, nil, nil)
		require.NoError(t, err)
		assert.Nil(t, sub)
		subs.AssertExpectations(t)
	})

	t.Run("unknown pack is rejected", func(t *testing.T) {
		svc := newTestService(new(SubscriberStoreMock), new(SubscriptionStoreMock))
		_, err := svc.Subscribe(ctx, 9876543210, models.PackType("vip"), nil, nil)
		require.ErrorIs(t, err, ErrUnknownPack)
	})
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("deactivates open subscription on user request", func(t *testing.T) {
		subscribers := new(SubscriberStoreMock)
		subs := new(SubscriptionStoreMock)
		open := &models.Subscription{
			ID:           4,
			SubscriberID: 7,
			PackType:     models.PackChild,
			Origin:       models.OriginCallIn,
			Status:       models.StatusActive,
			StartDate:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		}
		subscribers.On("FindSubscriberByMSISDN", ctx, int64(9876543210)).
			Return(&models.Subscriber{ID: 7, MSISDN: 9876543210}, nil).Once()
		subs.On("FindOpenSubscription", ctx, int64(7), models.PackChild).Return(open, nil).Once()
		subs.On("UpdateSubscription", ctx, mock.MatchedBy(func(sub *models.Subscription) bool {
			return sub.ID == 4 &&
				sub.Status == models.StatusDeactivated &&
				sub.DeactivationReason != nil &&
				*sub.DeactivationReason == models.ReasonDeactivatedByUser
		})).Return(nil).Once()

		svc := newTestService(subscribers, subs)
		require.NoError(t, svc.Unsubscribe(ctx, 9876543210, models.PackChild))
		subs.AssertExpectations(t)
	})

	t.Run("unknown caller", func(t *testing.T) {
		subscribers := new(SubscriberStoreMock)
		subscribers.On("FindSubscriberByMSISDN", ctx, int64(1111111111)).Return(nil, nil).Once()

		svc := newTestService(subscribers, new(SubscriptionStoreMock))
		err := svc.Unsubscribe(ctx, 1111111111, models.PackChild)
		require.ErrorIs(t, err, ErrSubscriberNotFound)
	})

	t.Run("no open subscription is a no-op", func(t *testing.T) {
		subscribers := new(SubscriberStoreMock)
		subs := new(SubscriptionStoreMock)
		subscribers.On("FindSubscriberByMSISDN", ctx, int64(9876543210)).
			Return(&models.Subscriber{ID: 7, MSISDN: 9876543210}, nil).Once()
		subs.On("FindOpenSubscription", ctx, int64(7), models.PackChild).Return(nil, nil).Once()

		svc := newTestService(subscribers, subs)
		require.NoError(t, svc.Unsubscribe(ctx, 9876543210, models.PackChild))
		subs.AssertExpectations(t)
	})
}
