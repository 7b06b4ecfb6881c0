package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/NoticeBox/config"
	"github.com/BearBump/NoticeBox/internal/broker/kafka"
	"github.com/BearBump/NoticeBox/internal/cache/rediscache"
	"github.com/BearBump/NoticeBox/internal/services/notices"
	"github.com/BearBump/NoticeBox/internal/storage/pgnotice"
	"github.com/BearBump/NoticeBox/internal/verify"
	"github.com/BearBump/NoticeBox/internal/verify/voicetext"
)

type noticeAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     noticeAPIOpts
	svc      *notices.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapNoticeAPI() *noticeAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.NoticeBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.NoticeBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "notice-api"
	}
	topic := cfg.Kafka.NoticeVerifiedTopicName
	if topic == "" {
		topic = "notice.verified"
	}

	cacheTTL := time.Duration(cfg.NoticeBox.ResultCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	engine := mustBuildEngine(st, cfg)
	svc := notices.New(st, rc, engine, cacheTTL)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &noticeAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: noticeAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

// mustBuildEngine собирает движок верификации над хранилищем. Регистрация
// двух верификаторов на один канал — ошибка конфигурации процесса, падаем
// сразу.
func mustBuildEngine(st *pgnotice.Storage, cfg *config.Config) *verify.Engine {
	reg := verify.NewRegistry()
	vt := voicetext.New(st, verify.Config{
		UseReportInference: cfg.NoticeBox.UseReportInference,
		WindowHours:        cfg.NoticeBox.VerifyWindowHours,
	})
	if err := reg.Register(vt); err != nil {
		panic(fmt.Sprintf("verifier registration: %v", err))
	}
	return verify.NewEngine(reg)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgnotice.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgnotice.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *noticeAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *noticeAPIApp) Run() error {
	return runNoticeAPI(a.ctx, a.opts, a.svc, a.consumer)
}
