package voicetext

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/models"
)

// Statistics aggregates counts and a success rate for one owned channel
// over a date range. Delivered includes inferred deliveries; the dashboard
// splits them out of the timeline, not here.
func (v *Verifier) Statistics(ctx context.Context, ch models.ChannelID, from, to time.Time) (models.ChannelStats, error) {
	if !v.CanVerify(&models.NotificationAttempt{Channel: ch}) {
		return models.ChannelStats{}, errors.Errorf("channel %d is not owned by the voicetext verifier", ch)
	}

	st, err := v.src.ChannelCounts(ctx, ch, from.UTC(), to.UTC())
	if err != nil {
		return models.ChannelStats{}, errors.Wrap(err, "channel counts")
	}

	st.Channel = ch
	st.From = from.UTC()
	st.To = to.UTC()
	if st.Attempts > 0 {
		st.SuccessRate = float64(st.Delivered) / float64(st.Attempts)
	}
	return st, nil
}
