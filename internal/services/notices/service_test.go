package notices

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/NoticeBox/internal/broker/messages"
	"github.com/BearBump/NoticeBox/internal/models"
	"github.com/BearBump/NoticeBox/internal/reports"
	"github.com/BearBump/NoticeBox/internal/storage/pgnotice"
)

type fakeRepo struct {
	createIn  []models.AttemptCreateInput
	createOut []*models.NotificationAttempt
	createErr error

	getResultsIn  []uint64
	getResultsOut []*models.VerificationResult
	getResultsErr error

	refreshID  uint64
	refreshErr error

	applyUpd pgnotice.VerificationUpdate
	applyErr error

	savedFailures    []*models.FailureRecord
	savedSubmissions []*models.SubmissionRecord

	summaryMessageID string
	summaryCounts    map[string]int64

	removalsBarcode string
	removalsOut     []*models.FailureRecord
}

func (f *fakeRepo) CreateOrGetAttempts(ctx context.Context, items []models.AttemptCreateInput) ([]*models.NotificationAttempt, error) {
	f.createIn = items
	return f.createOut, f.createErr
}
func (f *fakeRepo) GetAttemptsByIDs(ctx context.Context, ids []uint64) ([]*models.NotificationAttempt, error) {
	return nil, nil
}
func (f *fakeRepo) GetResultsByAttemptIDs(ctx context.Context, ids []uint64) ([]*models.VerificationResult, error) {
	f.getResultsIn = ids
	return f.getResultsOut, f.getResultsErr
}
func (f *fakeRepo) ListTimeline(ctx context.Context, attemptID uint64, limit, offset int) ([]*models.TimelineEvent, error) {
	return nil, nil
}
func (f *fakeRepo) RefreshAttempt(ctx context.Context, attemptID uint64) error {
	f.refreshID = attemptID
	return f.refreshErr
}
func (f *fakeRepo) ApplyVerification(ctx context.Context, upd pgnotice.VerificationUpdate) error {
	f.applyUpd = upd
	return f.applyErr
}
func (f *fakeRepo) SaveFailureRecords(ctx context.Context, recs []*models.FailureRecord) error {
	f.savedFailures = recs
	return nil
}
func (f *fakeRepo) SaveSubmissionRecords(ctx context.Context, recs []*models.SubmissionRecord) error {
	f.savedSubmissions = recs
	return nil
}
func (f *fakeRepo) SaveReportSummary(ctx context.Context, messageID string, receivedAt time.Time, counts, keywordUsage map[string]int64) error {
	f.summaryMessageID = messageID
	f.summaryCounts = counts
	return nil
}
func (f *fakeRepo) FindPartialBarcodeRemovals(ctx context.Context, fullBarcode string, from, to time.Time) ([]*models.FailureRecord, error) {
	f.removalsBarcode = fullBarcode
	return f.removalsOut, nil
}

type fakeCache struct {
	m map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}

func TestService_CreateAttempts_validate(t *testing.T) {
	s := New(&fakeRepo{}, nil, nil, 0)
	_, err := s.CreateAttempts(context.Background(), nil)
	require.Error(t, err)

	_, err = s.CreateAttempts(context.Background(), []models.AttemptCreateInput{
		{Category: models.CategoryHold, Channel: models.ChannelSMS, Destination: "270-555-0123"},
	})
	require.Error(t, err)

	_, err = s.CreateAttempts(context.Background(), []models.AttemptCreateInput{
		{PatronBarcode: "b", Channel: models.ChannelSMS, Destination: "270-555-0123"},
	})
	require.Error(t, err)

	_, err = s.CreateAttempts(context.Background(), []models.AttemptCreateInput{
		{PatronBarcode: "b", Category: models.CategoryHold, Destination: "270-555-0123"},
	})
	require.Error(t, err)

	_, err = s.CreateAttempts(context.Background(), []models.AttemptCreateInput{
		{PatronBarcode: "b", Category: models.CategoryHold, Channel: models.ChannelSMS},
	})
	require.Error(t, err)
}

func TestService_CreateAttempts_dedup(t *testing.T) {
	at := time.Date(2025, 11, 8, 10, 0, 0, 0, time.UTC)
	r := &fakeRepo{createOut: []*models.NotificationAttempt{{ID: 1}}}
	s := New(r, nil, nil, 0)

	_, err := s.CreateAttempts(context.Background(), []models.AttemptCreateInput{
		{PatronBarcode: "b", Category: models.CategoryHold, Channel: models.ChannelSMS, Destination: "d", AttemptedAt: at},
		{PatronBarcode: "b", Category: models.CategoryHold, Channel: models.ChannelSMS, Destination: "d", AttemptedAt: at},
		{PatronBarcode: "b", Category: models.CategoryHold, Channel: models.ChannelVoice, Destination: "d", AttemptedAt: at},
	})
	require.NoError(t, err)
	require.Len(t, r.createIn, 2)
}

func TestService_GetResultsByAttemptIDs_cacheHit(t *testing.T) {
	r := &fakeRepo{}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, nil, 10*time.Minute)

	delivered := true
	want := &models.VerificationResult{AttemptID: 7, Submitted: true, Delivered: &delivered}
	b, _ := json.Marshal(want)
	c.m["notice:7:result"] = b

	out, err := s.GetResultsByAttemptIDs(context.Background(), []uint64{7})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, uint64(7), out[0].AttemptID)
	require.Nil(t, r.getResultsIn) // БД не трогали
}

func TestService_GetResultsByAttemptIDs_missGoesToDBAndCaches(t *testing.T) {
	r := &fakeRepo{getResultsOut: []*models.VerificationResult{{AttemptID: 9, Submitted: true}}}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, nil, 10*time.Minute)

	out, err := s.GetResultsByAttemptIDs(context.Background(), []uint64{9})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []uint64{9}, r.getResultsIn)
	require.Contains(t, c.m, "notice:9:result")
}

func TestService_RefreshAttempt_validate(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, 0)
	require.Error(t, s.RefreshAttempt(context.Background(), 0))

	require.NoError(t, s.RefreshAttempt(context.Background(), 10))
	require.Equal(t, uint64(10), r.refreshID)
}

func TestService_ApplyVerifiedUpdate_buildsUpdate(t *testing.T) {
	r := &fakeRepo{getResultsOut: []*models.VerificationResult{{AttemptID: 1}}}
	s := New(r, nil, nil, 0)
	now := time.Now().UTC()

	delivered := true
	msg := messages.NoticeVerified{
		AttemptID:      1,
		CheckedAt:      now,
		Submitted:      true,
		Delivered:      &delivered,
		DeliveryStatus: models.DeliveryStatusInferred,
		NextVerifyAt:   now.Add(30 * 24 * time.Hour),
		Events: []messages.TimelineEvent{
			{Kind: string(models.EventSubmitted), Source: "submission_records", EventTime: now},
			{Kind: string(models.EventDeliveredInferred), Source: "failure_records", EventTime: now},
		},
	}
	require.NoError(t, s.ApplyVerifiedUpdate(context.Background(), msg))
	require.Equal(t, uint64(1), r.applyUpd.AttemptID)
	require.NotNil(t, r.applyUpd.Result)
	require.True(t, r.applyUpd.Result.Submitted)
	require.Equal(t, models.DeliveryStatusInferred, r.applyUpd.Result.DeliveryStatus)
	require.Len(t, r.applyUpd.Result.Timeline, 2)
}

func TestService_ApplyVerifiedUpdate_errorPathNoResult(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, 0)

	e := "db down"
	msg := messages.NoticeVerified{AttemptID: 3, Error: &e}
	require.NoError(t, s.ApplyVerifiedUpdate(context.Background(), msg))
	require.Nil(t, r.applyUpd.Result)
	require.NotNil(t, r.applyUpd.Error)
	require.False(t, r.applyUpd.NextVerifyAt.IsZero())
}

func TestService_IngestReport_monthlySavesSummary(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, 0)

	body := `Monthly Notice Statistics

Hold notices sent: 120
Text messages sent: 340

The following patrons have invalid phone numbers:
270-555-0100 | 21234567890 | 9001
`
	kind, n, err := s.IngestReport(context.Background(), messages.ReportReceived{
		MessageID:  "mid-1",
		Subject:    "Monthly report",
		ReceivedAt: time.Now().UTC(),
		Body:       body,
	})
	require.NoError(t, err)
	require.Equal(t, reports.KindMonthly, kind)
	require.Equal(t, 1, n)
	require.Len(t, r.savedFailures, 1)
	require.Equal(t, "mid-1", r.summaryMessageID)
	require.Equal(t, int64(120), r.summaryCounts["hold_notices_sent"])
}

func TestService_IngestReport_assignsMessageID(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, 0)

	kind, n, err := s.IngestReport(context.Background(), messages.ReportReceived{
		Subject: "weather",
		Body:    "nothing relevant",
	})
	require.NoError(t, err)
	require.Equal(t, reports.KindUnrecognized, kind)
	require.Zero(t, n)
	require.Empty(t, r.savedFailures)
}

func TestService_IngestSubmissionExport(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, 0)

	n, err := s.IngestSubmissionExport(context.Background(), "export-20251108.txt", models.ChannelSMS,
		"21234567890|holds|2025-11-08 09:00:00\nmalformed line\n")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, r.savedSubmissions, 1)
	require.Equal(t, "export-20251108.txt", r.savedSubmissions[0].SourceFile)

	_, err = s.IngestSubmissionExport(context.Background(), "", models.ChannelSMS, "x")
	require.Error(t, err)
}

func TestService_BarcodeRemovals(t *testing.T) {
	r := &fakeRepo{removalsOut: []*models.FailureRecord{{PatronBarcode: "67890", BarcodePartial: true}}}
	s := New(r, nil, nil, 0)

	out, err := s.BarcodeRemovals(context.Background(), "21234567890", time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "21234567890", r.removalsBarcode)

	_, err = s.BarcodeRemovals(context.Background(), "", time.Now(), time.Now())
	require.Error(t, err)
}
