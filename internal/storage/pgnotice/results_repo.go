package pgnotice

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/models"
)

type VerificationUpdate struct {
	AttemptID uint64

	CheckedAt time.Time

	Result *models.VerificationResult

	NextVerifyAt time.Time

	Error *string
}

func (s *Storage) ListTimeline(ctx context.Context, attemptID uint64, limit, offset int) ([]*models.TimelineEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, attempt_id, kind, source, event_time, payload, created_at
FROM verification_events
WHERE attempt_id = $1
ORDER BY event_time ASC, id ASC
LIMIT $2 OFFSET $3
`, attemptID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TimelineEvent
	for rows.Next() {
		var e models.TimelineEvent
		var kind string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AttemptID, &kind, &e.Source, &e.EventTime, &payload, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.Kind = models.EventKind(kind)
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ApplyVerification применяет итог одной сверки: статус попытки, строку
// результата и события таймлайна. События конвергентны между проходами —
// повтор с теми же (kind, source, event_time) молча игнорируется.
func (s *Storage) ApplyVerification(ctx context.Context, upd VerificationUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if upd.Error != nil && *upd.Error != "" {
		_, err := tx.Exec(ctx, `
UPDATE notice_attempts
SET
  verify_fail_count = verify_fail_count + 1,
  last_error = $2,
  next_verify_at = $3,
  updated_at = now()
WHERE id = $1
`, upd.AttemptID, *upd.Error, upd.NextVerifyAt.UTC())
		if err != nil {
			return errors.Wrap(err, "update attempt (error)")
		}
		return errors.Wrap(tx.Commit(ctx), "commit tx")
	}

	res := upd.Result
	if res == nil {
		return errors.New("verification update without result")
	}

	_, err = tx.Exec(ctx, `
UPDATE notice_attempts
SET
  status = $2,
  verify_fail_count = 0,
  last_error = NULL,
  next_verify_at = $3,
  updated_at = now()
WHERE id = $1
`, upd.AttemptID, res.AttemptStatus(), upd.NextVerifyAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update attempt (ok)")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO verification_results (
  attempt_id, checked_at,
  submitted, submitted_at, submission_file,
  verified, verified_at, confirmation_file,
  delivered, delivery_status, failure_reason, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
ON CONFLICT (attempt_id) DO UPDATE SET
  checked_at = EXCLUDED.checked_at,
  submitted = EXCLUDED.submitted,
  submitted_at = EXCLUDED.submitted_at,
  submission_file = EXCLUDED.submission_file,
  verified = EXCLUDED.verified,
  verified_at = EXCLUDED.verified_at,
  confirmation_file = EXCLUDED.confirmation_file,
  delivered = EXCLUDED.delivered,
  delivery_status = EXCLUDED.delivery_status,
  failure_reason = EXCLUDED.failure_reason,
  updated_at = now()
`, upd.AttemptID, upd.CheckedAt.UTC(),
		res.Submitted, res.SubmittedAt, res.SubmissionFile,
		res.Verified, res.VerifiedAt, res.ConfirmationFile,
		res.Delivered, res.DeliveryStatus, res.FailureReason)
	if err != nil {
		return errors.Wrap(err, "upsert result")
	}

	for _, e := range res.Timeline {
		var payload []byte
		if len(e.Payload) > 0 {
			payload, _ = json.Marshal(e.Payload)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO verification_events (attempt_id, kind, source, event_time, payload, created_at)
VALUES ($1,$2,$3,$4,$5, now())
ON CONFLICT (attempt_id, kind, source, event_time) DO NOTHING
`, upd.AttemptID, string(e.Kind), e.Source, e.EventTime.UTC(), payload)
		if err != nil {
			return errors.Wrap(err, "insert event")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// GetResultsByAttemptIDs возвращает сохранённые результаты (без таймлайна;
// таймлайн отдаёт ListTimeline).
func (s *Storage) GetResultsByAttemptIDs(ctx context.Context, ids []uint64) ([]*models.VerificationResult, error) {
	if len(ids) == 0 {
		return []*models.VerificationResult{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT
  attempt_id, checked_at,
  submitted, submitted_at, submission_file,
  verified, verified_at, confirmation_file,
  delivered, delivery_status, failure_reason
FROM verification_results
WHERE attempt_id = ANY($1)
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select results")
	}
	defer rows.Close()

	out := make([]*models.VerificationResult, 0, len(ids))
	for rows.Next() {
		var r models.VerificationResult
		if err := rows.Scan(
			&r.AttemptID, &r.CreatedAt,
			&r.Submitted, &r.SubmittedAt, &r.SubmissionFile,
			&r.Verified, &r.VerifiedAt, &r.ConfirmationFile,
			&r.Delivered, &r.DeliveryStatus, &r.FailureReason,
		); err != nil {
			return nil, errors.Wrap(err, "scan result")
		}
		r.Created = true
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// SaveReportSummary сохраняет агрегаты месячного отчёта; повтор по
// message_id — no-op.
func (s *Storage) SaveReportSummary(ctx context.Context, messageID string, receivedAt time.Time, counts, keywordUsage map[string]int64) error {
	cb, err := json.Marshal(counts)
	if err != nil {
		return errors.Wrap(err, "marshal counts")
	}
	kb, err := json.Marshal(keywordUsage)
	if err != nil {
		return errors.Wrap(err, "marshal keyword usage")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO report_summaries (message_id, received_at, counts, keyword_usage, created_at)
VALUES ($1,$2,$3,$4, now())
ON CONFLICT (message_id) DO NOTHING
`, messageID, receivedAt.UTC(), cb, kb)
	return errors.Wrap(err, "insert report summary")
}
