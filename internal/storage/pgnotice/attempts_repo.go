package pgnotice

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/models"
)

const attemptColumns = `
  id, patron_id, patron_barcode, category, channel, destination,
  attempted_at, item_barcode,
  status, next_verify_at, verify_fail_count, last_error,
  created_at, updated_at`

func (s *Storage) CreateOrGetAttempts(ctx context.Context, items []models.AttemptCreateInput) ([]*models.NotificationAttempt, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO notice_attempts (
  patron_id, patron_barcode, category, channel, destination,
  attempted_at, item_barcode, status, next_verify_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (patron_barcode, category, channel, destination, attempted_at)
DO UPDATE SET updated_at = notice_attempts.updated_at
RETURNING id
`, it.PatronID, it.PatronBarcode, it.Category, int32(it.Channel), it.Destination,
			it.AttemptedAt.UTC(), it.ItemBarcode, models.AttemptStatusUnverified, now, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert attempt")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetAttemptsByIDs(ctx, ids)
}

func (s *Storage) GetAttemptsByIDs(ctx context.Context, ids []uint64) ([]*models.NotificationAttempt, error) {
	if len(ids) == 0 {
		return []*models.NotificationAttempt{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT`+attemptColumns+`
FROM notice_attempts
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select attempts")
	}
	defer rows.Close()

	out := make([]*models.NotificationAttempt, 0, len(ids))
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) RefreshAttempt(ctx context.Context, attemptID uint64) error {
	_, err := s.db.Exec(ctx, `UPDATE notice_attempts SET next_verify_at = now(), updated_at = now() WHERE id = $1`, attemptID)
	return errors.Wrap(err, "refresh attempt")
}

// ClaimDueAttempts выбирает пачку попыток, готовых к сверке, и "бронирует"
// их, чтобы они не попадали в повторную выборку, пока воркер их
// обрабатывает. Использует SELECT ... FOR UPDATE SKIP LOCKED.
// Попытки с окончательным статусом не пересверяются.
func (s *Storage) ClaimDueAttempts(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.NotificationAttempt, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+attemptColumns+`
FROM notice_attempts
WHERE next_verify_at <= $1
  AND status NOT IN ($2, $3)
ORDER BY next_verify_at ASC
LIMIT $4
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.AttemptStatusDelivered, models.AttemptStatusFailed, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due attempts")
	}
	defer rows.Close()

	var picked []*models.NotificationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		picked = append(picked, a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, a := range picked {
		_, err := tx.Exec(ctx, `UPDATE notice_attempts SET next_verify_at = $2, updated_at = now() WHERE id = $1`, a.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease attempt")
		}
		a.NextVerifyAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func scanAttempt(rows pgx.Rows) (*models.NotificationAttempt, error) {
	var a models.NotificationAttempt
	var channel int32
	var itemBarcode *string
	var lastError *string
	if err := rows.Scan(
		&a.ID, &a.PatronID, &a.PatronBarcode, &a.Category, &channel, &a.Destination,
		&a.AttemptedAt, &itemBarcode,
		&a.Status, &a.NextVerifyAt, &a.VerifyFailCount, &lastError,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan attempt")
	}
	a.Channel = models.ChannelID(channel)
	a.ItemBarcode = itemBarcode
	a.LastError = lastError
	return &a, nil
}
