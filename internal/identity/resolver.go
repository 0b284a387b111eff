// Package identity сводит внешние идентификаторы записи импорта (Feed-A,
// Feed-B) к единой сущности матери или ребёнка. Резолвер не пишет в
// хранилище: новая сущность конструируется в памяти, а дозапись
// недостающего идентификатора возвращается флагом, чтобы вызывающая
// сторона сохранила её только после успешной валидации записи.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// ErrIdentityConflict возвращается, когда два внешних идентификатора
// разрешаются в две разные сохранённые сущности. Это неустранимое
// повреждение данных выше по потоку: запись отклоняется без дальнейшей
// обработки.
var ErrIdentityConflict = errors.New("external ids resolve to different stored entities")

// BeneficiaryStore определяет поиск бенефициаров по внешним ключам.
// Отсутствие записи — это (nil, nil), а не ошибка.
type BeneficiaryStore interface {
	FindMotherByFeedAID(ctx context.Context, id string) (*models.Mother, error)
	FindMotherByFeedBID(ctx context.Context, id string) (*models.Mother, error)
	FindChildByFeedAID(ctx context.Context, id string) (*models.Child, error)
	FindChildByFeedBID(ctx context.Context, id string) (*models.Child, error)
}

// Resolver выполняет сведение идентификаторов поверх хранилища.
type Resolver struct {
	store BeneficiaryStore
}

// New создает новый Resolver.
func New(store BeneficiaryStore) *Resolver {
	return &Resolver{store: store}
}

// ResolveMother сводит пару внешних идентификаторов к матери. Второй
// результат истинен, когда на найденную сущность дозаписан недостающий
// идентификатор и её нужно сохранить после валидации.
func (r *Resolver) ResolveMother(ctx context.Context, feedAID, feedBID *string) (*models.Mother, bool, error) {
	const op = "identity.ResolveMother"

	var byA, byB *models.Mother
	var err error
	if feedAID != nil && *feedAID != "" {
		byA, err = r.store.FindMotherByFeedAID(ctx, *feedAID)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if feedBID != nil && *feedBID != "" {
		byB, err = r.store.FindMotherByFeedBID(ctx, *feedBID)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
	}

	switch {
	case byA == nil && byB == nil:
		return &models.Mother{FeedAID: copyID(feedAID), FeedBID: copyID(feedBID)}, false, nil
	case byA != nil && byB != nil:
		if byA.ID != byB.ID {
			return nil, false, fmt.Errorf("%s: %w", op, ErrIdentityConflict)
		}
		return byB, false, nil
	case byB != nil:
		if feedAID != nil && *feedAID != "" && byB.FeedAID == nil {
			byB.FeedAID = copyID(feedAID)
			return byB, true, nil
		}
		return byB, false, nil
	default:
		if feedBID != nil && *feedBID != "" && byA.FeedBID == nil {
			byA.FeedBID = copyID(feedBID)
			return byA, true, nil
		}
		return byA, false, nil
	}
}

// ResolveChild сводит пару внешних идентификаторов к ребёнку. Алгоритм
// идентичен ResolveMother.
func (r *Resolver) ResolveChild(ctx context.Context, feedAID, feedBID *string) (*models.Child, bool, error) {
	const op = "identity.ResolveChild"

	var byA, byB *models.Child
	var err error
	if feedAID != nil && *feedAID != "" {
		byA, err = r.store.FindChildByFeedAID(ctx, *feedAID)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if feedBID != nil && *feedBID != "" {
		byB, err = r.store.FindChildByFeedBID(ctx, *feedBID)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
	}

	switch {
	case byA == nil && byB == nil:
		return &models.Child{FeedAID: copyID(feedAID), FeedBID: copyID(feedBID)}, false, nil
	case byA != nil && byB != nil:
		if byA.ID != byB.ID {
			return nil, false, fmt.Errorf("%s: %w", op, ErrIdentityConflict)
		}
		return byB, false, nil
	case byB != nil:
		if feedAID != nil && *feedAID != "" && byB.FeedAID == nil {
			byB.FeedAID = copyID(feedAID)
			return byB, true, nil
		}
		return byB, false, nil
	default:
		if feedBID != nil && *feedBID != "" && byA.FeedBID == nil {
			byA.FeedBID = copyID(feedBID)
			return byA, true, nil
		}
		return byA, false, nil
	}
}

func copyID(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	v := *id
	return &v
}
