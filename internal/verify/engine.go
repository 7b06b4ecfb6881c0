package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/models"
)

// Engine drives verification: one call per attempt, each call independent
// and side-effect-free on shared state (it only reads source tables), so a
// batch driver may run many in parallel.
type Engine struct {
	reg *Registry
	now func() time.Time
}

func NewEngine(reg *Registry) *Engine {
	return &Engine{reg: reg, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock (tests).
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// VerifyAttempt locates the verifier owning the attempt's channel and
// delegates. A notice on an unverifiable channel is not an error — the
// fresh result comes back unchanged. Callers always receive a result,
// possibly sparse, even alongside an error; downstream treats unset
// fields as "unknown" and uses the error only to schedule a retry.
func (e *Engine) VerifyAttempt(ctx context.Context, attempt *models.NotificationAttempt) (*models.VerificationResult, error) {
	res := models.NewVerificationResult(attempt.ID, e.now())

	v, ok := e.reg.For(attempt.Channel)
	if !ok {
		return res, nil
	}

	if err := v.Verify(ctx, attempt, res); err != nil {
		slog.Error("verification pass incomplete",
			"attempt_id", attempt.ID, "channel", attempt.Channel, "error", err.Error())
		return res, err
	}
	return res, nil
}

// ChannelStatistics is the aggregate reporting path, not part of the
// reconciliation hot path.
func (e *Engine) ChannelStatistics(ctx context.Context, ch models.ChannelID, from, to time.Time) (models.ChannelStats, error) {
	v, ok := e.reg.For(ch)
	if !ok {
		return models.ChannelStats{}, errors.Errorf("no verifier registered for channel %d", ch)
	}
	return v.Statistics(ctx, ch, from, to)
}
