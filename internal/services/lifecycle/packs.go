package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// PackStore определяет чтение определений пакетов из хранилища.
type PackStore interface {
	FindPack(ctx context.Context, t models.PackType) (*models.SubscriptionPack, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(key string) error
}

// CachedPackProvider читает пакет из кеша, при промахе — из хранилища.
// Определения пакетов меняются редко, час жизни в кеше достаточен.
type CachedPackProvider struct {
	store PackStore
	cache Cache
	log   *slog.Logger
}

// NewCachedPackProvider создает новый CachedPackProvider.
func NewCachedPackProvider(store PackStore, cache Cache, log *slog.Logger) *CachedPackProvider {
	return &CachedPackProvider{
		store: store,
		cache: cache,
		log:   log,
	}
}

// Pack возвращает определение пакета по типу.
func (p *CachedPackProvider) Pack(ctx context.Context, t models.PackType) (*models.SubscriptionPack, error) {
	const op = "lifecycle.Pack"

	var pack *models.SubscriptionPack
	cacheKey := fmt.Sprintf("pack:%s", t)
	found, err := p.cache.Get(cacheKey, &pack)
	if err != nil {
		p.log.Warn("failed to read pack from cache", slog.String("key", cacheKey), slog.Any("err", err))
	}
	if found && pack != nil {
		return pack, nil
	}

	pack, err = p.store.FindPack(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := p.cache.Set(cacheKey, pack, time.Hour); err != nil {
		p.log.Warn("failed to cache pack", slog.String("key", cacheKey), slog.Any("err", err))
	}
	return pack, nil
}
