package pgnotice

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/models"
	"github.com/BearBump/NoticeBox/internal/verify/match"
)

// FindSubmission ищет свидетельство передачи вендору: barcode + категория
// вендора + тот же календарный день (UTC), самая ранняя запись.
func (s *Storage) FindSubmission(ctx context.Context, barcode, category string, channels []models.ChannelID, day time.Time) (*models.SubmissionRecord, error) {
	from, to := dayBounds(day)

	row := s.db.QueryRow(ctx, `
SELECT id, patron_barcode, category, channel, submitted_at, source_file
FROM submission_records
WHERE patron_barcode = $1
  AND category = $2
  AND channel = ANY($3)
  AND submitted_at >= $4 AND submitted_at < $5
ORDER BY submitted_at ASC
LIMIT 1
`, barcode, category, channelInts(channels), from, to)

	var r models.SubmissionRecord
	var channel int32
	err := row.Scan(&r.ID, &r.PatronBarcode, &r.Category, &channel, &r.SubmittedAt, &r.SourceFile)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select submission")
	}
	r.Channel = models.ChannelID(channel)
	return &r, nil
}

// FindConfirmation: barcode + календарный день, сужение по item barcode,
// когда он есть у попытки.
func (s *Storage) FindConfirmation(ctx context.Context, barcode string, day time.Time, itemBarcode *string) (*models.ConfirmationRecord, error) {
	from, to := dayBounds(day)

	q := `
SELECT id, patron_barcode, item_barcode, noticed_at, source_file
FROM confirmation_records
WHERE patron_barcode = $1
  AND noticed_at >= $2 AND noticed_at < $3
`
	args := []any{barcode, from, to}
	if itemBarcode != nil && *itemBarcode != "" {
		q += `  AND item_barcode = $4
`
		args = append(args, *itemBarcode)
	}
	q += `ORDER BY noticed_at ASC
LIMIT 1`

	var r models.ConfirmationRecord
	err := s.db.QueryRow(ctx, q, args...).Scan(&r.ID, &r.PatronBarcode, &r.ItemBarcode, &r.NoticedAt, &r.SourceFile)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select confirmation")
	}
	return &r, nil
}

// FindEarliestFailure: ранний failure-репорт по телефону в закрытом окне
// [from, to] (границы включаются — см. match.WithinWindow).
func (s *Storage) FindEarliestFailure(ctx context.Context, phone string, failureTypes []string, from, to time.Time) (*models.FailureRecord, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, phone, patron_barcode, barcode_partial, patron_id, patron_name,
       branch, notice_type, failure_type, reason, account_status,
       received_at, source_message, raw
FROM failure_records
WHERE phone = $1
  AND barcode_partial = FALSE
  AND failure_type = ANY($2)
  AND received_at >= $3 AND received_at <= $4
ORDER BY received_at ASC
LIMIT 1
`, phone, failureTypes, from.UTC(), to.UTC())

	var r models.FailureRecord
	err := row.Scan(&r.ID, &r.Phone, &r.PatronBarcode, &r.BarcodePartial, &r.PatronID, &r.PatronName,
		&r.Branch, &r.NoticeType, &r.FailureType, &r.Reason, &r.AccountStatus,
		&r.ReceivedAt, &r.SourceMessage, &r.Raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select failure")
	}
	return &r, nil
}

// FindPartialBarcodeRemovals is the only sanctioned way to line partial
// (redacted) records up against a full barcode: suffix match on the visible
// digits, результат всегда помечен как partial.
func (s *Storage) FindPartialBarcodeRemovals(ctx context.Context, fullBarcode string, from, to time.Time) ([]*models.FailureRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, phone, patron_barcode, barcode_partial, patron_id, patron_name,
       branch, notice_type, failure_type, reason, account_status,
       received_at, source_message, raw
FROM failure_records
WHERE barcode_partial = TRUE
  AND received_at >= $1 AND received_at <= $2
ORDER BY received_at ASC
`, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "select partial failures")
	}
	defer rows.Close()

	var out []*models.FailureRecord
	for rows.Next() {
		var r models.FailureRecord
		if err := rows.Scan(&r.ID, &r.Phone, &r.PatronBarcode, &r.BarcodePartial, &r.PatronID, &r.PatronName,
			&r.Branch, &r.NoticeType, &r.FailureType, &r.Reason, &r.AccountStatus,
			&r.ReceivedAt, &r.SourceMessage, &r.Raw); err != nil {
			return nil, errors.Wrap(err, "scan partial failure")
		}
		if match.MatchesPartial(fullBarcode, r.PatronBarcode) {
			out = append(out, &r)
		}
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) FindEarliestDelivery(ctx context.Context, phone string, from, to time.Time) (*models.DeliveryRecord, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, phone, channel, status, carrier, failure_reason, reported_at, source_file
FROM delivery_records
WHERE phone = $1
  AND reported_at >= $2 AND reported_at <= $3
ORDER BY reported_at ASC
LIMIT 1
`, phone, from.UTC(), to.UTC())

	var r models.DeliveryRecord
	var channel int32
	err := row.Scan(&r.ID, &r.Phone, &channel, &r.Status, &r.Carrier, &r.FailureReason, &r.ReportedAt, &r.SourceFile)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery")
	}
	r.Channel = models.ChannelID(channel)
	return &r, nil
}

func (s *Storage) SaveSubmissionRecords(ctx context.Context, recs []*models.SubmissionRecord) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range recs {
		_, err := tx.Exec(ctx, `
INSERT INTO submission_records (patron_barcode, category, channel, submitted_at, source_file)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (patron_barcode, category, channel, submitted_at) DO NOTHING
`, r.PatronBarcode, r.Category, int32(r.Channel), r.SubmittedAt.UTC(), r.SourceFile)
		if err != nil {
			return errors.Wrap(err, "insert submission")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) SaveConfirmationRecords(ctx context.Context, recs []*models.ConfirmationRecord) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range recs {
		_, err := tx.Exec(ctx, `
INSERT INTO confirmation_records (patron_barcode, item_barcode, noticed_at, source_file)
VALUES ($1,$2,$3,$4)
`, r.PatronBarcode, r.ItemBarcode, r.NoticedAt.UTC(), r.SourceFile)
		if err != nil {
			return errors.Wrap(err, "insert confirmation")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) SaveFailureRecords(ctx context.Context, recs []*models.FailureRecord) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range recs {
		_, err := tx.Exec(ctx, `
INSERT INTO failure_records (
  phone, patron_barcode, barcode_partial, patron_id, patron_name, branch,
  notice_type, failure_type, reason, account_status, received_at, source_message, raw
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, r.Phone, r.PatronBarcode, r.BarcodePartial, r.PatronID, r.PatronName, r.Branch,
			r.NoticeType, r.FailureType, r.Reason, r.AccountStatus, r.ReceivedAt.UTC(), r.SourceMessage, r.Raw)
		if err != nil {
			return errors.Wrap(err, "insert failure")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) SaveDeliveryRecords(ctx context.Context, recs []*models.DeliveryRecord) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range recs {
		_, err := tx.Exec(ctx, `
INSERT INTO delivery_records (phone, channel, status, carrier, failure_reason, reported_at, source_file)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, r.Phone, int32(r.Channel), r.Status, r.Carrier, r.FailureReason, r.ReportedAt.UTC(), r.SourceFile)
		if err != nil {
			return errors.Wrap(err, "insert delivery")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// ChannelCounts: агрегаты по каналу за период для Statistics.
func (s *Storage) ChannelCounts(ctx context.Context, channel models.ChannelID, from, to time.Time) (models.ChannelStats, error) {
	var st models.ChannelStats
	err := s.db.QueryRow(ctx, `
SELECT
  count(*),
  count(*) FILTER (WHERE a.status = $4),
  count(*) FILTER (WHERE a.status = $5),
  count(*) FILTER (WHERE a.status = $6),
  count(*) FILTER (WHERE r.submitted),
  count(*) FILTER (WHERE r.verified)
FROM notice_attempts a
LEFT JOIN verification_results r ON r.attempt_id = a.id
WHERE a.channel = $1
  AND a.attempted_at >= $2 AND a.attempted_at < $3
`, int32(channel), from.UTC(), to.UTC(),
		models.AttemptStatusDelivered, models.AttemptStatusFailed, models.AttemptStatusInconclusive).
		Scan(&st.Attempts, &st.Delivered, &st.Failed, &st.Inconclusive, &st.Submitted, &st.Confirmed)
	if err != nil {
		return models.ChannelStats{}, errors.Wrap(err, "channel counts")
	}
	return st, nil
}

func channelInts(channels []models.ChannelID) []int32 {
	out := make([]int32, 0, len(channels))
	for _, ch := range channels {
		out = append(out, int32(ch))
	}
	return out
}

// dayBounds: границы календарного дня в UTC, [from, to).
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour)
}
