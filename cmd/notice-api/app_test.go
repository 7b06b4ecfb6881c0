package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/NoticeBox/internal/models"
	"github.com/BearBump/NoticeBox/internal/services/notices"
	"github.com/BearBump/NoticeBox/internal/storage/pgnotice"
)

type fakeRepo struct{}

func (r *fakeRepo) CreateOrGetAttempts(ctx context.Context, items []models.AttemptCreateInput) ([]*models.NotificationAttempt, error) {
	return []*models.NotificationAttempt{}, nil
}
func (r *fakeRepo) GetAttemptsByIDs(ctx context.Context, ids []uint64) ([]*models.NotificationAttempt, error) {
	return []*models.NotificationAttempt{}, nil
}
func (r *fakeRepo) GetResultsByAttemptIDs(ctx context.Context, ids []uint64) ([]*models.VerificationResult, error) {
	return []*models.VerificationResult{}, nil
}
func (r *fakeRepo) ListTimeline(ctx context.Context, attemptID uint64, limit, offset int) ([]*models.TimelineEvent, error) {
	return []*models.TimelineEvent{}, nil
}
func (r *fakeRepo) RefreshAttempt(ctx context.Context, attemptID uint64) error { return nil }
func (r *fakeRepo) ApplyVerification(ctx context.Context, upd pgnotice.VerificationUpdate) error {
	return nil
}
func (r *fakeRepo) SaveFailureRecords(ctx context.Context, recs []*models.FailureRecord) error {
	return nil
}
func (r *fakeRepo) SaveSubmissionRecords(ctx context.Context, recs []*models.SubmissionRecord) error {
	return nil
}
func (r *fakeRepo) SaveReportSummary(ctx context.Context, messageID string, receivedAt time.Time, counts, keywordUsage map[string]int64) error {
	return nil
}
func (r *fakeRepo) FindPartialBarcodeRemovals(ctx context.Context, fullBarcode string, from, to time.Time) ([]*models.FailureRecord, error) {
	return []*models.FailureRecord{}, nil
}

type fakeConsumer struct{}

func (c fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunNoticeAPI_SwaggerAndHealthServed(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc := notices.New(&fakeRepo{}, nil, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := noticeAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		topic:         "t",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runNoticeAPI(ctx, opts, svc, fakeConsumer{})
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "\"swagger\"")

	resp, err = http.Get("http://" + httpAddr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	// API-роуты примонтированы на тот же сервер
	resp, err = http.Post("http://"+httpAddr+"/attempts", "application/json", strings.NewReader(`{"items":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cancel()
	require.Error(t, <-errCh)
}

func TestRunNoticeAPI_MissingSwagger(t *testing.T) {
	svc := notices.New(&fakeRepo{}, nil, nil, time.Minute)
	err := runNoticeAPI(context.Background(), noticeAPIOpts{httpAddr: "127.0.0.1:0"}, svc, fakeConsumer{})
	require.Error(t, err)

	err = runNoticeAPI(context.Background(), noticeAPIOpts{httpAddr: "127.0.0.1:0", swaggerPath: "/nonexistent/swagger.json"}, svc, fakeConsumer{})
	require.Error(t, err)
}
