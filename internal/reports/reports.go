// Package reports turns loosely structured vendor reports (email bodies,
// plain text, delimited exports) into structured failure, submission and
// summary records. Parsing is tolerant of format drift: a malformed section
// degrades to "no match", it never aborts the rest of the document.
package reports

import (
	"log/slog"
	"time"

	"github.com/BearBump/NoticeBox/internal/models"
)

type ReportKind string

const (
	KindUnrecognized ReportKind = "unrecognized"
	KindVoiceFailure ReportKind = "voice_failure"
	KindTextFailure  ReportKind = "text_failure"
	KindMonthly      ReportKind = "monthly_summary"
)

// ReportMeta describes the message the body came from.
type ReportMeta struct {
	MessageID  string
	Subject    string
	From       string
	ReceivedAt time.Time
}

// Parse classifies the report and extracts every failure record it can.
// Unrecognized reports yield zero records (fail closed — never guessed into
// the wrong category).
func Parse(meta ReportMeta, body string) (ReportKind, []*models.FailureRecord) {
	kind := Classify(meta, body)
	if kind == KindUnrecognized {
		slog.Warn("unrecognized report, no records extracted",
			"message_id", meta.MessageID, "subject", meta.Subject)
		return kind, nil
	}
	return kind, ExtractFailures(body, kind, meta)
}

// ExtractFailures runs the kind-specific extraction and drops records that
// carry no identity at all.
func ExtractFailures(body string, kind ReportKind, meta ReportMeta) []*models.FailureRecord {
	var recs []*models.FailureRecord
	switch kind {
	case KindVoiceFailure:
		recs = extractVoiceTable(body)
	case KindTextFailure:
		recs = extractSections(body)
	case KindMonthly:
		// Монтли-репорт комплексный: секции + redacted-баркоды.
		recs = append(extractSections(body), extractRedactedBarcodes(body)...)
	default:
		return nil
	}

	out := recs[:0]
	for _, r := range recs {
		if !r.Valid() {
			slog.Warn("dropping failure record without phone or patron identity",
				"message_id", meta.MessageID, "reason", r.Reason)
			continue
		}
		r.ReceivedAt = meta.ReceivedAt.UTC()
		r.SourceMessage = meta.MessageID
		out = append(out, r)
	}
	return out
}
