package pgnotice

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS notice_attempts (
  id BIGSERIAL PRIMARY KEY,
  patron_id TEXT NOT NULL DEFAULT '',
  patron_barcode TEXT NOT NULL,
  category TEXT NOT NULL,
  channel INT NOT NULL,
  destination TEXT NOT NULL,
  attempted_at TIMESTAMPTZ NOT NULL,
  item_barcode TEXT NULL,
  status TEXT NOT NULL,
  next_verify_at TIMESTAMPTZ NOT NULL,
  verify_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (patron_barcode, category, channel, destination, attempted_at)
)`,
		`CREATE INDEX IF NOT EXISTS idx_notice_attempts_next_verify_at ON notice_attempts(next_verify_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notice_attempts_channel_attempted ON notice_attempts(channel, attempted_at)`,
		`
CREATE TABLE IF NOT EXISTS submission_records (
  id BIGSERIAL PRIMARY KEY,
  patron_barcode TEXT NOT NULL,
  category TEXT NOT NULL,
  channel INT NOT NULL,
  submitted_at TIMESTAMPTZ NOT NULL,
  source_file TEXT NOT NULL DEFAULT '',
  UNIQUE (patron_barcode, category, channel, submitted_at)
)`,
		`CREATE INDEX IF NOT EXISTS idx_submission_records_barcode ON submission_records(patron_barcode, category)`,
		`
CREATE TABLE IF NOT EXISTS confirmation_records (
  id BIGSERIAL PRIMARY KEY,
  patron_barcode TEXT NOT NULL,
  item_barcode TEXT NULL,
  noticed_at TIMESTAMPTZ NOT NULL,
  source_file TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_confirmation_records_barcode ON confirmation_records(patron_barcode, noticed_at)`,
		`
CREATE TABLE IF NOT EXISTS failure_records (
  id BIGSERIAL PRIMARY KEY,
  phone TEXT NOT NULL DEFAULT '',
  patron_barcode TEXT NOT NULL DEFAULT '',
  barcode_partial BOOLEAN NOT NULL DEFAULT FALSE,
  patron_id TEXT NOT NULL DEFAULT '',
  patron_name TEXT NOT NULL DEFAULT '',
  branch TEXT NOT NULL DEFAULT '',
  notice_type TEXT NOT NULL DEFAULT '',
  failure_type TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  account_status TEXT NOT NULL DEFAULT '',
  received_at TIMESTAMPTZ NOT NULL,
  source_message TEXT NOT NULL DEFAULT '',
  raw TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_failure_records_phone ON failure_records(phone, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_failure_records_partial ON failure_records(barcode_partial, received_at)`,
		`
CREATE TABLE IF NOT EXISTS delivery_records (
  id BIGSERIAL PRIMARY KEY,
  phone TEXT NOT NULL,
  channel INT NOT NULL,
  status TEXT NOT NULL,
  carrier TEXT NOT NULL DEFAULT '',
  failure_reason TEXT NOT NULL DEFAULT '',
  reported_at TIMESTAMPTZ NOT NULL,
  source_file TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_records_phone ON delivery_records(phone, reported_at)`,
		`
CREATE TABLE IF NOT EXISTS verification_results (
  attempt_id BIGINT PRIMARY KEY REFERENCES notice_attempts(id) ON DELETE CASCADE,
  checked_at TIMESTAMPTZ NOT NULL,
  submitted BOOLEAN NOT NULL DEFAULT FALSE,
  submitted_at TIMESTAMPTZ NULL,
  submission_file TEXT NOT NULL DEFAULT '',
  verified BOOLEAN NOT NULL DEFAULT FALSE,
  verified_at TIMESTAMPTZ NULL,
  confirmation_file TEXT NOT NULL DEFAULT '',
  delivered BOOLEAN NULL,
  delivery_status TEXT NOT NULL DEFAULT '',
  failure_reason TEXT NOT NULL DEFAULT '',
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS verification_events (
  id BIGSERIAL PRIMARY KEY,
  attempt_id BIGINT NOT NULL REFERENCES notice_attempts(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  source TEXT NOT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  payload JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_events_attempt ON verification_events(attempt_id, event_time)`,
		// Enforce de-duplication of timeline events between passes.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_verification_events_dedup ON verification_events(attempt_id, kind, source, event_time)`,
		`
CREATE TABLE IF NOT EXISTS report_summaries (
  id BIGSERIAL PRIMARY KEY,
  message_id TEXT NOT NULL,
  received_at TIMESTAMPTZ NOT NULL,
  counts JSONB NOT NULL,
  keyword_usage JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  UNIQUE (message_id)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
