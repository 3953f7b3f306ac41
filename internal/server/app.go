// Package server initializes and runs the credit-lines service: storage,
// the Kafka publisher and consumer, the request lock, collaborating HTTP
// clients and the ops endpoint. It stops on SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/companies"
	"github.com/dmitrijs2005/creditshare/internal/server/config"
	"github.com/dmitrijs2005/creditshare/internal/server/inbound"
	"github.com/dmitrijs2005/creditshare/internal/server/locks"
	"github.com/dmitrijs2005/creditshare/internal/server/messaging"
	"github.com/dmitrijs2005/creditshare/internal/server/metrics"
	"github.com/dmitrijs2005/creditshare/internal/server/models"
	"github.com/dmitrijs2005/creditshare/internal/server/ops"
	"github.com/dmitrijs2005/creditshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/creditshare/internal/server/services"
	"github.com/dmitrijs2005/creditshare/internal/server/share"
	"github.com/dmitrijs2005/creditshare/internal/server/tasks"
)

const (
	httpClientTimeout = 10 * time.Second
	taskLink          = "/tasks"
	lockKeyPrefix     = "creditlines:request-lock:"
)

type App struct {
	config *config.Config
	logger logging.Logger

	db     *sql.DB
	writer *kafka.Writer
	reader *kafka.Reader
	redis  *redis.Client

	CreditLines         *services.CreditLineService
	CreditLineRequests  *services.CreditLineRequestService
	DepositLoans        *services.DepositLoanService
	DepositLoanRequests *services.DepositLoanRequestService

	consumer *messaging.Consumer
	ops      *ops.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if c.CompanyStaticID == "" {
		return nil, errors.New("company static id is required")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	// The lock only saves wasted work; the unique index still guards
	// duplicates when redis is unreachable.
	var locker locks.Locker = locks.NewLocalLocker()
	if c.RedisURL != "" {
		client, err := locks.Connect(ctx, c.RedisURL)
		if err != nil {
			logger.Warn(ctx, "redis unavailable, using in-process request lock", "error", err)
		} else {
			app.redis = client
			locker = locks.NewRedisLocker(client, lockKeyPrefix, c.RequestLockTTL)
		}
	}

	app.writer = messaging.NewKafkaWriter(c.KafkaBrokers)
	publisher := messaging.NewPublisher(app.writer, messaging.PublisherConfig{
		Topic:           c.KafkaTopic,
		CompanyStaticID: c.CompanyStaticID,
		MaxAttempts:     c.PublishMaxAttempts,
		Backoff:         c.PublishBackoff,
	}, logger, m)

	binder := tasks.NewBinder(tasks.NewHTTPClient(c.TaskManagerURL, httpClientTimeout), taskLink, logger, m)
	directory := companies.NewHTTPDirectory(c.CompanyDirectoryURL, httpClientTimeout)

	app.CreditLineRequests = services.NewCreditLineRequestService(db, rm, publisher, binder, directory, locker, logger, m)
	app.DepositLoanRequests = services.NewDepositLoanRequestService(db, rm, publisher, binder, directory, locker, logger, m)

	clEngine := share.NewEngine[models.SharedCreditLine, models.CreditLine, services.CreditLineProjection, models.CreditLineRequest](
		services.NewCreditLineShareDomain(app.CreditLineRequests), publisher, logger, m)
	dlEngine := share.NewEngine[models.SharedDepositLoan, models.DepositLoan, services.DepositLoanProjection, models.DepositLoanRequest](
		services.NewDepositLoanShareDomain(app.DepositLoanRequests), publisher, logger, m)

	app.CreditLines = services.NewCreditLineService(db, rm, clEngine, app.CreditLineRequests, logger)
	app.DepositLoans = services.NewDepositLoanService(db, rm, dlEngine, app.DepositLoanRequests, logger)

	app.reader, err = messaging.NewKafkaReader(c.KafkaBrokers, c.ConsumerGroupID(), c.KafkaTopic)
	if err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("kafka consumer init error: %w", err)
	}
	processor := inbound.NewProcessor(c.CompanyStaticID, db, rm, app.CreditLineRequests, app.DepositLoanRequests, logger, m)
	app.consumer = messaging.NewConsumer(app.reader, processor, c.PublishBackoff, logger)

	app.ops = ops.NewServer(c.OpsAddr, db, reg, logger)

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startConsumer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.consumer.Run(ctx); err != nil {
		app.logger.Error(ctx, "consumer stopped", "error", err)
		cancelFunc()
	}
}

func (app *App) startOpsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.ops.Run(ctx); err != nil {
		app.logger.Error(ctx, "ops server stopped", "error", err)
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives or a component fails, then
// releases all connections.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "company_static_id", app.config.CompanyStaticID)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startConsumer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startOpsServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close(context.Background())
	app.logger.Info(ctx, "App stopped")
}

func (app *App) close(ctx context.Context) {
	if app.reader != nil {
		if err := app.reader.Close(); err != nil {
			app.logger.Error(ctx, "closing kafka reader", "error", err)
		}
	}
	if app.writer != nil {
		if err := app.writer.Close(); err != nil {
			app.logger.Error(ctx, "closing kafka writer", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error(ctx, "closing redis client", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
}
