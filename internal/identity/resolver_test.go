package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

type StoreMock struct{ mock.Mock }

func (m *StoreMock) FindMotherByFeedAID(ctx context.Context, id string) (*models.Mother, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Mother), args.Error(1)
}

func (m *StoreMock) FindMotherByFeedBID(ctx context.Context, id string) (*models.Mother, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Mother), args.Error(1)
}

func (m *StoreMock) FindChildByFeedAID(ctx context.Context, id string) (*models.Child, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Child), args.Error(1)
}

func (m *StoreMock) FindChildByFeedBID(ctx context.Context, id string) (*models.Child, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Child), args.Error(1)
}

func strptr(s string) *string { return &s }

func TestResolveMother(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		feedAID      *string
		feedBID      *string
		setupMocks   func(s *StoreMock)
		wantID       int64
		wantNew      bool
		wantBackfill bool
		wantErr      error
	}{
		{
			name:    "neither found constructs new entity",
			feedAID: strptr("A1"),
			feedBID: strptr("B1"),
			setupMocks: func(s *StoreMock) {
				s.On("FindMotherByFeedAID", ctx, "A1").Return(nil, nil).Once()
				s.On("FindMotherByFeedBID", ctx, "B1").Return(nil, nil).Once()
			},
			wantNew: true,
		},
		{
			name:    "found by feed b only backfills feed a id",
			feedAID: strptr("A1"),
			feedBID: strptr("B1"),
			setupMocks: func(s *StoreMock) {
				s.On("FindMotherByFeedAID", ctx, "A1").Return(nil, nil).Once()
				s.On("FindMotherByFeedBID", ctx, "B1").
					Return(&models.Mother{ID: 7, FeedBID: strptr("B1")}, nil).Once()
			},
			wantID:       7,
			wantBackfill: true,
		},
		{
			name:    "found by feed a only backfills feed b id",
			feedAID: strptr("A1"),
			feedBID: strptr("B1"),
			setupMocks: func(s *StoreMock) {
				s.On("FindMotherByFeedAID", ctx, "A1").
					Return(&models.Mother{ID: 3, FeedAID: strptr("A1")}, nil).Once()
				s.On("FindMotherByFeedBID", ctx, "B1").Return(nil, nil).Once()
			},
			wantID:       3,
			wantBackfill: true,
		},
		{
			name:    "found by both resolving to same entity",
			feedAID: strptr("A1"),
			feedBID: strptr("B1"),
			setupMocks: func(s *StoreMock) {
				same := &models.Mother{ID: 5, FeedAID: strptr("A1"), FeedBID: strptr("B1")}
				s.On("FindMotherByFeedAID", ctx, "A1").Return(same, nil).Once()
				s.On("FindMotherByFeedBID", ctx, "B1").Return(same, nil).Once()
			},
			wantID: 5,
		},
		{
			name:    "found by both resolving to different entities",
			feedAID: strptr("A1"),
			feedBID: strptr("B1"),
			setupMocks: func(s *StoreMock) {
				s.On("FindMotherByFeedAID", ctx, "A1").
					Return(&models.Mother{ID: 1, FeedAID: strptr("A1")}, nil).Once()
				s.On("FindMotherByFeedBID", ctx, "B1").
					Return(&models.Mother{ID: 2, FeedBID: strptr("B1")}, nil).Once()
			},
			wantErr: ErrIdentityConflict,
		},
		{
			name:    "single feed path found",
			feedAID: strptr("A9"),
			setupMocks: func(s *StoreMock) {
				s.On("FindMotherByFeedAID", ctx, "A9").
					Return(&models.Mother{ID: 11, FeedAID: strptr("A9")}, nil).Once()
			},
			wantID: 11,
		},
		{
			name:    "single feed path not found",
			feedAID: strptr("A9"),
			setupMocks: func(s *StoreMock) {
				s.On("FindMotherByFeedAID", ctx, "A9").Return(nil, nil).Once()
			},
			wantNew: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(StoreMock)
			tt.setupMocks(store)
			resolver := New(store)

			got, backfill, err := resolver.ResolveMother(ctx, tt.feedAID, tt.feedBID)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				store.AssertExpectations(t)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantBackfill, backfill)
			if tt.wantNew {
				assert.Zero(t, got.ID)
				if tt.feedAID != nil {
					require.NotNil(t, got.FeedAID)
					assert.Equal(t, *tt.feedAID, *got.FeedAID)
				}
			} else {
				assert.Equal(t, tt.wantID, got.ID)
			}
			store.AssertExpectations(t)
		})
	}
}

// Повторное сведение той же пары без промежуточных изменений возвращает
// ту же сущность.
func TestResolveMother_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := new(StoreMock)
	stored := &models.Mother{ID: 21, FeedAID: strptr("A2"), FeedBID: strptr("B2")}
	store.On("FindMotherByFeedAID", ctx, "A2").Return(stored, nil).Twice()
	store.On("FindMotherByFeedBID", ctx, "B2").Return(stored, nil).Twice()

	resolver := New(store)
	first, _, err := resolver.ResolveMother(ctx, strptr("A2"), strptr("B2"))
	require.NoError(t, err)
	second, _, err := resolver.ResolveMother(ctx, strptr("A2"), strptr("B2"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	store.AssertExpectations(t)
}

func TestResolveChild(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict detected", func(t *testing.T) {
		store := new(StoreMock)
		store.On("FindChildByFeedAID", ctx, "CA1").
			Return(&models.Child{ID: 1, FeedAID: strptr("CA1")}, nil).Once()
		store.On("FindChildByFeedBID", ctx, "CB1").
			Return(&models.Child{ID: 2, FeedBID: strptr("CB1")}, nil).Once()

		resolver := New(store)
		_, _, err := resolver.ResolveChild(ctx, strptr("CA1"), strptr("CB1"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIdentityConflict)
	})

	t.Run("backfill on feed b hit", func(t *testing.T) {
		store := new(StoreMock)
		store.On("FindChildByFeedAID", ctx, "CA1").Return(nil, nil).Once()
		store.On("FindChildByFeedBID", ctx, "CB1").
			Return(&models.Child{ID: 4, FeedBID: strptr("CB1")}, nil).Once()

		resolver := New(store)
		got, backfill, err := resolver.ResolveChild(ctx, strptr("CA1"), strptr("CB1"))
		require.NoError(t, err)
		assert.True(t, backfill)
		require.NotNil(t, got.FeedAID)
		assert.Equal(t, "CA1", *got.FeedAID)
	})
}
