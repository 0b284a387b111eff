// Package importprocessor собирает воркер импорта: потребитель шины
// чанков и конвейер обработки записей.
package importprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/cache"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/config"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/lib/sl"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/location"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/migrations"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/rabbitmq"
	importerservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/importer"
	lifecycleservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/lifecycle"
	outcomeservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/outcome"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/storage/repository"
)

// App представляет воркер импорта.
type App struct {
	importService *importerservice.ImportService
	conn          *amqp.Connection
	ch            *amqp.Channel
	metricsServer *http.Server
	logger        *slog.Logger
}

// txStore адаптирует repository.Storage к контракту транзакций
// конвейера импорта.
type txStore struct {
	db *repository.Storage
}

func (s txStore) InTx(ctx context.Context, fn func(importerservice.Repos) error) error {
	return s.db.WithTx(ctx, func(tx *repository.Storage) error {
		return fn(tx)
	})
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр воркера импорта.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	queues := rabbitmq.GetImportQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}
	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	packs := lifecycleservice.NewCachedPackProvider(db, cacheRedis, logger)
	recorder := outcomeservice.NewRecorder(db, logger)
	metrics := importerservice.NewMetrics(prometheus.DefaultRegisterer)

	importService := importerservice.NewImportService(
		txStore{db: db}, packs, location.RecordProvider{},
		recorder, metrics, logger, cfg.Workers, cfg.ChunkSize)

	metricsServer := &http.Server{
		Addr:    cfg.AddressHTTP,
		Handler: promhttp.Handler(),
	}

	return &App{
		importService: importService,
		conn:          conn,
		ch:            ch,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", "error", err)
		}
	}
}

// Run запускает потребителя очереди чанков и ждёт отмены контекста.
func (a *App) Run(ctx context.Context) error {
	for _, q := range rabbitmq.GetImportQueues() {
		if err := rabbitmq.ConsumerMessage(ctx, a.ch, q.QueueName, a.handleChunk(ctx)); err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", q.QueueName), sl.Err(err))
			return err
		}
	}

	go func() {
		a.logger.Info("metrics server starting on", slog.String("address", a.metricsServer.Addr))
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server stopped", sl.Err(err))
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down import processor")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.metricsServer.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("failed to stop metrics server", sl.Err(err))
	}

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}
	return nil
}

// handleChunk возвращает обработчик сообщения очереди. Нечитаемое
// сообщение подтверждается и отбрасывается: повторная доставка не
// исправит его содержимое.
func (a *App) handleChunk(ctx context.Context) func([]byte) error {
	return func(body []byte) error {
		var chunk models.ImportChunk
		if err := json.Unmarshal(body, &chunk); err != nil {
			a.logger.Error("failed to decode import chunk", sl.Err(err))
			return nil
		}
		a.importService.ProcessChunk(ctx, chunk)
		return nil
	}
}
