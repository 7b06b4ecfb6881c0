package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	NoticeBox NoticeBoxConfig `yaml:"noticebox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	NoticeVerifiedTopicName string `yaml:"notice_verified_topic_name"`
	RawReportsTopicName     string `yaml:"raw_reports_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type NoticeBoxConfig struct {
	HTTPAddr              string `yaml:"http_addr"`
	KafkaConsumerGroup    string `yaml:"kafka_consumer_group"`
	ResultCacheTTLSeconds int    `yaml:"result_cache_ttl_seconds"`
	SwaggerPath           string `yaml:"swagger_path"`

	// Поведение delivery-check в движке верификации.
	// use_report_inference=true: "delivered" выводится из отсутствия
	// failure-репорта в окне verify_window_hours. false: читаем legacy
	// таблицу delivery_records напрямую.
	UseReportInference bool `yaml:"use_report_inference"`
	VerifyWindowHours  int  `yaml:"verify_window_hours"`

	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int    `yaml:"worker_rate_limit_per_minute"`
	WorkerHTTPAddr            string `yaml:"worker_http_addr"`

	// Reverify scheduling (optional). If not set, defaults are "prod-like":
	// conclusive results settle for 30 days, inconclusive results are
	// rechecked every 6 hours, backoff: 5/15/30/60 minutes.
	WorkerRecheckInconclusiveSeconds int `yaml:"worker_recheck_inconclusive_seconds"`
	WorkerSettleSeconds              int `yaml:"worker_settle_seconds"`
	WorkerBackoff1Seconds            int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds            int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds            int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds            int `yaml:"worker_backoff_4_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
