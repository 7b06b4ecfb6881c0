package notices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/broker/messages"
	"github.com/BearBump/NoticeBox/internal/cache"
	"github.com/BearBump/NoticeBox/internal/models"
	"github.com/BearBump/NoticeBox/internal/reports"
	"github.com/BearBump/NoticeBox/internal/storage/pgnotice"
	"github.com/BearBump/NoticeBox/internal/verify"
)

type Repository interface {
	CreateOrGetAttempts(ctx context.Context, items []models.AttemptCreateInput) ([]*models.NotificationAttempt, error)
	GetAttemptsByIDs(ctx context.Context, ids []uint64) ([]*models.NotificationAttempt, error)
	GetResultsByAttemptIDs(ctx context.Context, ids []uint64) ([]*models.VerificationResult, error)
	ListTimeline(ctx context.Context, attemptID uint64, limit, offset int) ([]*models.TimelineEvent, error)
	RefreshAttempt(ctx context.Context, attemptID uint64) error
	ApplyVerification(ctx context.Context, upd pgnotice.VerificationUpdate) error
	SaveFailureRecords(ctx context.Context, recs []*models.FailureRecord) error
	SaveSubmissionRecords(ctx context.Context, recs []*models.SubmissionRecord) error
	SaveReportSummary(ctx context.Context, messageID string, receivedAt time.Time, counts, keywordUsage map[string]int64) error
	FindPartialBarcodeRemovals(ctx context.Context, fullBarcode string, from, to time.Time) ([]*models.FailureRecord, error)
}

type Service struct {
	repo      Repository
	cache     cache.BytesCache
	engine    *verify.Engine
	resultTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, engine *verify.Engine, resultTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, engine: engine, resultTTL: resultTTL}
}

func (s *Service) CreateAttempts(ctx context.Context, items []models.AttemptCreateInput) ([]*models.NotificationAttempt, error) {
	if len(items) == 0 {
		return nil, errors.New("items is empty")
	}
	if len(items) > 10_000 {
		return nil, errors.New("too many items (max 10000)")
	}

	clean := make([]models.AttemptCreateInput, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.PatronBarcode == "" {
			return nil, errors.New("patronBarcode is required")
		}
		if it.Category == "" {
			return nil, errors.New("category is required")
		}
		if it.Channel == 0 {
			return nil, errors.New("channel is required")
		}
		if it.Destination == "" {
			return nil, errors.New("destination is required")
		}
		if it.AttemptedAt.IsZero() {
			it.AttemptedAt = time.Now().UTC()
		}
		k := fmt.Sprintf("%s|%s|%d|%s|%d", it.PatronBarcode, it.Category, it.Channel, it.Destination, it.AttemptedAt.Unix())
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, it)
	}

	return s.repo.CreateOrGetAttempts(ctx, clean)
}

func (s *Service) GetResultsByAttemptIDs(ctx context.Context, ids []uint64) ([]*models.VerificationResult, error) {
	if len(ids) == 0 {
		return []*models.VerificationResult{}, nil
	}
	// Кэшируем результат последнего прохода целиком как JSON.
	// Кэш "лучшее усилие": промах или битое значение — идём в БД.
	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.VerificationResult, len(ids))

	if s.cache != nil && s.resultTTL > 0 {
		for _, id := range ids {
			key := resultKey(id)
			b, ok, err := s.cache.Get(ctx, key)
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var r models.VerificationResult
			if json.Unmarshal(b, &r) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &r
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetResultsByAttemptIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.resultTTL > 0 {
			for _, r := range fromDB {
				b, _ := json.Marshal(r)
				_ = s.cache.Set(ctx, resultKey(r.AttemptID), b, s.resultTTL)
			}
		}
		for _, r := range fromDB {
			got[r.AttemptID] = r
		}
	}

	// Собираем ответ в том же порядке, что ids.
	out := make([]*models.VerificationResult, 0, len(ids))
	for _, id := range ids {
		if r, ok := got[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) ListTimeline(ctx context.Context, attemptID uint64, limit, offset int) ([]*models.TimelineEvent, error) {
	return s.repo.ListTimeline(ctx, attemptID, limit, offset)
}

func (s *Service) RefreshAttempt(ctx context.Context, attemptID uint64) error {
	if attemptID == 0 {
		return errors.New("attemptId is required")
	}
	return s.repo.RefreshAttempt(ctx, attemptID)
}

func (s *Service) ChannelStatistics(ctx context.Context, ch models.ChannelID, from, to time.Time) (models.ChannelStats, error) {
	if s.engine == nil {
		return models.ChannelStats{}, errors.New("statistics unavailable")
	}
	if !from.Before(to) {
		return models.ChannelStats{}, errors.New("from must precede to")
	}
	return s.engine.ChannelStatistics(ctx, ch, from, to)
}

// ApplyVerifiedUpdate применяет итог прохода, прилетевший из Kafka, и
// обновляет кэш результата.
func (s *Service) ApplyVerifiedUpdate(ctx context.Context, msg messages.NoticeVerified) error {
	if msg.AttemptID == 0 {
		return errors.New("attempt_id is required")
	}
	if msg.CheckedAt.IsZero() {
		msg.CheckedAt = time.Now().UTC()
	}
	if msg.NextVerifyAt.IsZero() {
		// fallback: если воркер не послал next_verify_at, ставим "через 6 часов"
		msg.NextVerifyAt = msg.CheckedAt.Add(6 * time.Hour)
	}

	upd := pgnotice.VerificationUpdate{
		AttemptID:    msg.AttemptID,
		CheckedAt:    msg.CheckedAt,
		NextVerifyAt: msg.NextVerifyAt,
		Error:        msg.Error,
	}

	if msg.Error == nil {
		res := models.NewVerificationResult(msg.AttemptID, msg.CheckedAt)
		res.Submitted = msg.Submitted
		res.SubmittedAt = msg.SubmittedAt
		res.SubmissionFile = msg.SubmissionFile
		res.Verified = msg.Verified
		res.VerifiedAt = msg.VerifiedAt
		res.ConfirmationFile = msg.ConfirmationFile
		res.Delivered = msg.Delivered
		res.DeliveryStatus = msg.DeliveryStatus
		res.FailureReason = msg.FailureReason
		for _, e := range msg.Events {
			res.AddEvent(models.EventKind(e.Kind), e.Source, e.EventTime, e.Payload)
		}
		upd.Result = res
	}

	if err := s.repo.ApplyVerification(ctx, upd); err != nil {
		return err
	}

	if s.cache != nil && s.resultTTL > 0 && msg.Error == nil {
		// Перечитываем одну запись из БД, чтобы кэш совпадал с хранилищем.
		rs, err := s.repo.GetResultsByAttemptIDs(ctx, []uint64{msg.AttemptID})
		if err == nil && len(rs) == 1 {
			b, _ := json.Marshal(rs[0])
			_ = s.cache.Set(ctx, resultKey(msg.AttemptID), b, s.resultTTL)
		}
	}

	return nil
}

// PreviewReport парсит отчёт вендора без записи в хранилище.
func (s *Service) PreviewReport(meta reports.ReportMeta, body string) (reports.ReportKind, []*models.FailureRecord, *reports.Summary) {
	kind, recs := reports.Parse(meta, body)
	if kind != reports.KindMonthly {
		return kind, recs, nil
	}
	sum := reports.ExtractSummary(body)
	return kind, recs, &sum
}

// IngestReport парсит сырое письмо вендора и сохраняет извлечённое.
// Возвращает распознанный вид и число сохранённых failure-записей.
func (s *Service) IngestReport(ctx context.Context, msg messages.ReportReceived) (reports.ReportKind, int, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	meta := reports.ReportMeta{
		MessageID:  msg.MessageID,
		Subject:    msg.Subject,
		From:       msg.From,
		ReceivedAt: msg.ReceivedAt,
	}
	kind, recs := reports.Parse(meta, msg.Body)

	if len(recs) > 0 {
		if err := s.repo.SaveFailureRecords(ctx, recs); err != nil {
			return kind, 0, err
		}
	}

	if kind == reports.KindMonthly {
		sum := reports.ExtractSummary(msg.Body)
		if err := s.repo.SaveReportSummary(ctx, msg.MessageID, msg.ReceivedAt, sum.Counts, sum.KeywordUsage); err != nil {
			return kind, len(recs), err
		}
	}

	return kind, len(recs), nil
}

// IngestSubmissionExport загружает delimited-выгрузку переданных вендору
// уведомлений.
func (s *Service) IngestSubmissionExport(ctx context.Context, sourceFile string, channel models.ChannelID, content string) (int, error) {
	if sourceFile == "" {
		return 0, errors.New("sourceFile is required")
	}
	recs := reports.ParseSubmissionExport(sourceFile, channel, content)
	if len(recs) == 0 {
		return 0, nil
	}
	if err := s.repo.SaveSubmissionRecords(ctx, recs); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// BarcodeRemovals отдаёт redacted-записи об удалении, чей частичный
// штрихкод является суффиксом полного.
func (s *Service) BarcodeRemovals(ctx context.Context, fullBarcode string, from, to time.Time) ([]*models.FailureRecord, error) {
	if fullBarcode == "" {
		return nil, errors.New("barcode is required")
	}
	return s.repo.FindPartialBarcodeRemovals(ctx, fullBarcode, from, to)
}

func resultKey(id uint64) string {
	return fmt.Sprintf("notice:%d:result", id)
}
