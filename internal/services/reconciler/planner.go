package reconciler

import (
	"time"

	"github.com/BearBump/NoticeBox/internal/models"
)

type PlannerConfig struct {
	// Заключённые результаты (DELIVERED / FAILED) отлёживаются надолго:
	// исходные таблицы по ним уже всё сказали.
	SettleDelay time.Duration // default: 30 days

	// INCONCLUSIVE и UNVERIFIED перепроверяем: отчёты вендора приходят с
	// запаздыванием до суток.
	RecheckDelay time.Duration // default: 6 hours

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		SettleDelay:  30 * 24 * time.Hour,
		RecheckDelay: 6 * time.Hour,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.RecheckDelay <= 0 {
		cfg.RecheckDelay = def.RecheckDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	return &Planner{cfg: cfg}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig())
}

// NextVerifyDelay планирует следующий проход по итоговому статусу попытки.
func (p *Planner) NextVerifyDelay(status string) time.Duration {
	switch status {
	case models.AttemptStatusDelivered, models.AttemptStatusFailed:
		return p.cfg.SettleDelay
	default:
		return p.cfg.RecheckDelay
	}
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
