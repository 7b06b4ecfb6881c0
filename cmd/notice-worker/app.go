package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BearBump/NoticeBox/config"
	"github.com/BearBump/NoticeBox/internal/broker/kafka"
	"github.com/BearBump/NoticeBox/internal/broker/messages"
	"github.com/BearBump/NoticeBox/internal/cache/rediscache"
	"github.com/BearBump/NoticeBox/internal/services/notices"
	"github.com/BearBump/NoticeBox/internal/services/reconciler"
	"github.com/BearBump/NoticeBox/internal/storage/pgnotice"
	"github.com/BearBump/NoticeBox/internal/verify"
	"github.com/BearBump/NoticeBox/internal/verify/voicetext"
)

// workerStorage объединяет всё, что воркеру нужно от хранилища: claim/lease
// для reconciler-а, исходные таблицы для верификатора и запись для ingest-а
// отчётов.
type workerStorage interface {
	reconciler.Repository
	voicetext.Source
	notices.Repository
}

type reportsConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newProducer    func(cfg *config.Config) reconciler.Producer
	newRateLimiter func(cfg *config.Config) reconciler.RateLimiter
	newConsumer    func(cfg *config.Config, topic, group string) reportsConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgnotice.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) reconciler.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newConsumer: func(cfg *config.Config, topic, group string) reportsConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
	}
}

func RunNoticeWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.NoticeVerifiedTopicName
	if topic == "" {
		topic = "notice.verified"
	}
	rawTopic := cfg.Kafka.RawReportsTopicName
	if rawTopic == "" {
		rawTopic = "reports.raw"
	}

	pollInterval := time.Duration(cfg.NoticeBox.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.NoticeBox.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.NoticeBox.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.NoticeBox.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.NoticeBox.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 600
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	reg := verify.NewRegistry()
	vt := voicetext.New(st, verify.Config{
		UseReportInference: cfg.NoticeBox.UseReportInference,
		WindowHours:        cfg.NoticeBox.VerifyWindowHours,
	})
	if err := reg.Register(vt); err != nil {
		return err
	}
	engine := verify.NewEngine(reg)

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)

	rec := reconciler.New(st, engine, producer, rl, topic).
		WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin).
		WithPlanner(reconciler.PlannerConfig{
			SettleDelay:  time.Duration(cfg.NoticeBox.WorkerSettleSeconds) * time.Second,
			RecheckDelay: time.Duration(cfg.NoticeBox.WorkerRecheckInconclusiveSeconds) * time.Second,
			Backoff1:     time.Duration(cfg.NoticeBox.WorkerBackoff1Seconds) * time.Second,
			Backoff2:     time.Duration(cfg.NoticeBox.WorkerBackoff2Seconds) * time.Second,
			Backoff3:     time.Duration(cfg.NoticeBox.WorkerBackoff3Seconds) * time.Second,
			Backoff4:     time.Duration(cfg.NoticeBox.WorkerBackoff4Seconds) * time.Second,
		})

	// Поток сырых писем вендора: парсим и складываем failure-записи в те же
	// исходные таблицы, что читает верификатор.
	if f.newConsumer != nil {
		group := cfg.NoticeBox.KafkaConsumerGroup
		if group == "" {
			group = "notice-worker"
		}
		ingest := notices.New(st, nil, engine, 0)
		consumer := f.newConsumer(cfg, rawTopic, group)
		go func() {
			defer func() { _ = consumer.Close() }()
			slog.Info("raw reports consumer started", "topic", rawTopic, "group", group)
			_ = consumer.Consume(ctx, func(_key, value []byte) error {
				var m messages.ReportReceived
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				kind, n, err := ingest.IngestReport(ctx, m)
				if err != nil {
					return err
				}
				slog.Info("report ingested", "message_id", m.MessageID, "kind", kind, "records", n)
				return nil
			})
		}()
	}

	if swaggerPath := os.Getenv("workerSwaggerPath"); swaggerPath != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.NoticeBox.WorkerHTTPAddr,
				swaggerPath: swaggerPath,
				reconciler:  rec,
				cfg:         cfg,
			})
			if err != nil && err != context.Canceled {
				slog.Error("worker http server", "error", err.Error())
			}
		}()
	}

	return rec.Run(ctx)
}
