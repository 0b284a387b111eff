package subscribe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
	lifecycleservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/lifecycle"
)

// MockService реализует интерфейс subscribe.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Subscribe(ctx context.Context, msisdn int64, pack models.PackType, language, circle *string) (*models.Subscription, error) {
	args := m.Called(ctx, msisdn, pack, language, circle)
	sub, _ := args.Get(0).(*models.Subscription)
	return sub, args.Error(1)
}

func TestSubscribeHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	start := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешная подписка",
			body: `{"msisdn": "919876543210", "pack": "pregnancy"}`,
			setupMock: func(m *MockService) {
				m.On("Subscribe", mock.Anything, int64(9876543210), models.PackPregnancy,
					(*string)(nil), (*string)(nil)).
					Return(&models.Subscription{
						ID:        7,
						Status:    models.StatusPendingActivation,
						StartDate: start,
					}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"subscription_id":7`,
		},
		{
			name: "повторный звонок идемпотентен",
			body: `{"msisdn": "919876543210", "pack": "pregnancy"}`,
			setupMock: func(m *MockService) {
				m.On("Subscribe", mock.Anything, int64(9876543210), models.PackPregnancy,
					(*string)(nil), (*string)(nil)).
					Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"result":"already_subscribed"`,
		},
		{
			name:           "некорректный JSON",
			body:           `{msisdn}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name:           "нет номера телефона",
			body:           `{"pack": "pregnancy"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field MSISDN is a required field`,
		},
		{
			name:           "неизвестный пакет",
			body:           `{"msisdn": "919876543210", "pack": "teen"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field Pack has unsupported value`,
		},
		{
			name:           "номер без цифр",
			body:           `{"msisdn": "abc", "pack": "pregnancy"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"error":"invalid msisdn"`,
		},
		{
			name: "окно пакета истекло",
			body: `{"msisdn": "919876543210", "pack": "pregnancy"}`,
			setupMock: func(m *MockService) {
				m.On("Subscribe", mock.Anything, int64(9876543210), models.PackPregnancy,
					(*string)(nil), (*string)(nil)).
					Return(nil, lifecycleservice.ErrPackWindowElapsed)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `"error":"subscription window elapsed"`,
		},
		{
			name: "ошибка сервиса",
			body: `{"msisdn": "919876543210", "pack": "pregnancy"}`,
			setupMock: func(m *MockService) {
				m.On("Subscribe", mock.Anything, int64(9876543210), models.PackPregnancy,
					(*string)(nil), (*string)(nil)).
					Return(nil, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"could not subscribe"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}

func TestSubscribeHandler_PassesLanguageAndCircle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mockService := new(MockService)
	mockService.On("Subscribe", mock.Anything, int64(9876543210), models.PackChild,
		mock.MatchedBy(func(lang *string) bool { return lang != nil && *lang == "hi" }),
		mock.MatchedBy(func(circle *string) bool { return circle != nil && *circle == "delhi" })).
		Return(&models.Subscription{ID: 1, Status: models.StatusActive,
			StartDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}, nil)

	handler := New(logger, mockService)

	body := `{"msisdn": "919876543210", "pack": "child", "language": "hi", "circle": "delhi"}`
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}
