// Package location описывает контракт внешнего справочника географии.
// Само разрешение локаций лежит вне ядра: конвейер импорта лишь вызывает
// Provider и отображает любую его ошибку в отказ INVALID_LOCATION.
package location

import (
	"context"
	"fmt"
	"strconv"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// Set — разрешённый набор ссылок на географию записи.
type Set struct {
	StateID    int64
	DistrictID int64
}

// InvalidLocationError возвращается провайдером при любой ошибке
// разрешения локации; сообщение попадает в запись аудита.
type InvalidLocationError struct {
	Message string
}

func (e *InvalidLocationError) Error() string {
	return e.Message
}

// Provider разрешает географию записи импорта.
type Provider interface {
	GetLocations(ctx context.Context, rec models.RawRecord) (*Set, error)
}

// RecordProvider — минимальная реализация поверх полей самой записи:
// state_id и district_id обязаны присутствовать и быть числами.
// Используется, пока внешний справочник не подключён.
type RecordProvider struct{}

// GetLocations читает ссылки на географию из полей записи.
func (RecordProvider) GetLocations(_ context.Context, rec models.RawRecord) (*Set, error) {
	stateID, err := parseField(rec, models.FieldStateID)
	if err != nil {
		return nil, err
	}
	districtID, err := parseField(rec, models.FieldDistrictID)
	if err != nil {
		return nil, err
	}
	return &Set{StateID: stateID, DistrictID: districtID}, nil
}

func parseField(rec models.RawRecord, field string) (int64, error) {
	raw := rec.Get(field)
	if raw == "" {
		return 0, &InvalidLocationError{Message: fmt.Sprintf("missing %s", field)}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &InvalidLocationError{Message: fmt.Sprintf("malformed %s: %q", field, raw)}
	}
	return id, nil
}
