package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/NoticeBox/internal/broker/messages"
	"github.com/BearBump/NoticeBox/internal/models"
	"github.com/BearBump/NoticeBox/internal/verify"
)

type fakeProducer struct {
	topic string
	key   []byte
	value []byte
	calls int
	err   error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.calls++
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

type fakeRL struct {
	allowed bool
	count   int64
	err     error
	lastKey string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.lastKey = key
	return r.allowed, r.count, r.err
}

type fakeVerifier struct {
	submitted bool
	delivered *bool
	err       error
}

func (v *fakeVerifier) OwnedChannels() []models.ChannelID {
	return []models.ChannelID{models.ChannelVoice, models.ChannelSMS}
}

func (v *fakeVerifier) CanVerify(at *models.NotificationAttempt) bool { return true }

func (v *fakeVerifier) Verify(ctx context.Context, at *models.NotificationAttempt, res *models.VerificationResult) error {
	if v.err != nil {
		return v.err
	}
	res.Submitted = v.submitted
	if v.delivered != nil {
		if *v.delivered {
			res.SetDelivered(true, models.DeliveryStatusDelivered, "")
			res.AddEvent(models.EventDelivered, "confirmation_records", at.AttemptedAt, nil)
		} else {
			res.SetDelivered(false, models.DeliveryStatusFailed, "Invalid phone number")
		}
	}
	return nil
}

func (v *fakeVerifier) Statistics(ctx context.Context, ch models.ChannelID, from, to time.Time) (models.ChannelStats, error) {
	return models.ChannelStats{Channel: ch}, nil
}

func newEngine(t *testing.T, v verify.Verifier) *verify.Engine {
	t.Helper()
	reg := verify.NewRegistry()
	require.NoError(t, reg.Register(v))
	return verify.NewEngine(reg)
}

func TestReconciler_processOne_okPublishes(t *testing.T) {
	delivered := true
	fp := &fakeProducer{}
	rl := &fakeRL{allowed: true}
	r := New(nil, newEngine(t, &fakeVerifier{submitted: true, delivered: &delivered}), fp, rl, "notice-verified")

	at := &models.NotificationAttempt{ID: 42, Channel: models.ChannelSMS, AttemptedAt: time.Now().UTC()}
	require.NoError(t, r.processOne(context.Background(), at))
	require.Equal(t, 1, fp.calls)
	require.Equal(t, "notice-verified", fp.topic)
	require.Equal(t, []byte("42"), fp.key)
	require.Contains(t, rl.lastKey, "rl:verify:8:")

	var msg messages.NoticeVerified
	require.NoError(t, json.Unmarshal(fp.value, &msg))
	require.Equal(t, uint64(42), msg.AttemptID)
	require.True(t, msg.Submitted)
	require.NotNil(t, msg.Delivered)
	require.True(t, *msg.Delivered)
	require.Equal(t, models.DeliveryStatusDelivered, msg.DeliveryStatus)
	require.Len(t, msg.Events, 1)
	require.Nil(t, msg.Error)
	// заключённый итог отлёживается, а не перепроверяется через часы
	require.Greater(t, time.Until(msg.NextVerifyAt), 29*24*time.Hour)
}

func TestReconciler_processOne_verifyErrorBackoff(t *testing.T) {
	fp := &fakeProducer{}
	r := New(nil, newEngine(t, &fakeVerifier{err: errors.New("submission check: db down")}), fp, nil, "notice-verified")

	at := &models.NotificationAttempt{ID: 1, Channel: models.ChannelVoice, VerifyFailCount: 2}
	require.NoError(t, r.processOne(context.Background(), at))
	require.Equal(t, 1, fp.calls)

	var msg messages.NoticeVerified
	require.NoError(t, json.Unmarshal(fp.value, &msg))
	require.NotNil(t, msg.Error)
	// третий провал подряд — backoff 30 минут
	require.WithinDuration(t, time.Now().UTC().Add(30*time.Minute), msg.NextVerifyAt, 5*time.Second)
}

func TestReconciler_processOne_inconclusiveRecheck(t *testing.T) {
	fp := &fakeProducer{}
	r := New(nil, newEngine(t, &fakeVerifier{submitted: true}), fp, nil, "notice-verified")

	at := &models.NotificationAttempt{ID: 2, Channel: models.ChannelSMS}
	require.NoError(t, r.processOne(context.Background(), at))

	var msg messages.NoticeVerified
	require.NoError(t, json.Unmarshal(fp.value, &msg))
	require.True(t, msg.Submitted)
	require.Nil(t, msg.Delivered)
	require.WithinDuration(t, time.Now().UTC().Add(6*time.Hour), msg.NextVerifyAt, 5*time.Second)
}

func TestReconciler_WithSettings(t *testing.T) {
	r := New(nil, newEngine(t, &fakeVerifier{}), &fakeProducer{}, nil, "t").
		WithSettings(5*time.Second, 7, 9, 11*time.Second, 13)
	require.Equal(t, 5*time.Second, r.pollInterval)
	require.Equal(t, 7, r.batchSize)
	require.Equal(t, 9, r.concurrency)
	require.Equal(t, 11*time.Second, r.lease)
	require.Equal(t, int64(13), r.rateLimitPerMinute)
}
