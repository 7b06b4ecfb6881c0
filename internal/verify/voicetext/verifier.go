// Package voicetext verifies notices delivered through the voice/SMS
// vendor: submission exports, vendor "phone notice" confirmations and
// failure reports all come from the same vendor feed family.
package voicetext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/models"
	"github.com/BearBump/NoticeBox/internal/verify"
)

const (
	sourceSubmissions  = "submission_records"
	sourcePhoneNotices = "confirmation_records"
	sourceFailures     = "failure_records"
	sourceDeliveries   = "delivery_records"
)

// Source is the read-only evidence store the verifier consults.
type Source interface {
	FindSubmission(ctx context.Context, barcode, category string, channels []models.ChannelID, day time.Time) (*models.SubmissionRecord, error)
	FindConfirmation(ctx context.Context, barcode string, day time.Time, itemBarcode *string) (*models.ConfirmationRecord, error)
	FindEarliestFailure(ctx context.Context, phone string, failureTypes []string, from, to time.Time) (*models.FailureRecord, error)
	FindEarliestDelivery(ctx context.Context, phone string, from, to time.Time) (*models.DeliveryRecord, error)
	ChannelCounts(ctx context.Context, channel models.ChannelID, from, to time.Time) (models.ChannelStats, error)
}

type Verifier struct {
	src Source
	cfg verify.Config

	lookupErrors atomic.Int64
}

func New(src Source, cfg verify.Config) *Verifier {
	return &Verifier{src: src, cfg: cfg}
}

func (v *Verifier) OwnedChannels() []models.ChannelID {
	return []models.ChannelID{models.ChannelVoice, models.ChannelSMS}
}

func (v *Verifier) CanVerify(a *models.NotificationAttempt) bool {
	for _, ch := range v.OwnedChannels() {
		if a.Channel == ch {
			return true
		}
	}
	return false
}

// LookupErrors reports how many delivery-step evidence lookups errored and
// were swallowed. The result itself cannot tell "no evidence" from "lookup
// errored"; this counter keeps the gap observable.
func (v *Verifier) LookupErrors() int64 {
	return v.lookupErrors.Load()
}

// Сопоставление категории из лога уведомлений с формулировкой вендора.
// Несколько подтипов overdue схлопываются в одну категорию вендора.
var vendorCategories = map[string]string{
	models.CategoryHold:     "holds",
	models.CategoryOverdue:  "overdue",
	models.CategoryOverdue2: "overdue",
	models.CategoryOverdue3: "overdue",
	models.CategoryRenewal:  "renewal",
}

// VendorCategory maps a notice-log category to the vendor's wording.
// Unmapped categories yield "unknown" and simply match nothing — that is
// not an error.
func VendorCategory(category string) string {
	if c, ok := vendorCategories[category]; ok {
		return c
	}
	return "unknown"
}

// Verify gathers evidence in three ordered steps: submission, confirmation,
// delivery. Each step may append a timeline event and update the top-level
// flags. Only the delivery step swallows data-source errors (the legacy
// tables are not always provisioned); submission/confirmation errors
// propagate and leave the pass incomplete.
func (v *Verifier) Verify(ctx context.Context, a *models.NotificationAttempt, res *models.VerificationResult) error {
	if err := v.checkSubmission(ctx, a, res); err != nil {
		return err
	}
	if err := v.checkConfirmation(ctx, a, res); err != nil {
		return err
	}
	if v.cfg.UseReportInference {
		v.checkFailureReports(ctx, a, res)
	} else {
		v.checkDeliveryRecords(ctx, a, res)
	}
	return nil
}

func (v *Verifier) checkSubmission(ctx context.Context, a *models.NotificationAttempt, res *models.VerificationResult) error {
	cat := VendorCategory(a.Category)
	sub, err := v.src.FindSubmission(ctx, a.PatronBarcode, cat, v.OwnedChannels(), a.AttemptedAt)
	if err != nil {
		return errors.Wrap(err, "submission check")
	}
	if sub == nil {
		return nil
	}
	at := sub.SubmittedAt
	res.Submitted = true
	res.SubmittedAt = &at
	res.SubmissionFile = sub.SourceFile
	res.AddEvent(models.EventSubmitted, sourceSubmissions, at, map[string]string{
		"barcode":  sub.PatronBarcode,
		"category": sub.Category,
		"file":     sub.SourceFile,
	})
	return nil
}

func (v *Verifier) checkConfirmation(ctx context.Context, a *models.NotificationAttempt, res *models.VerificationResult) error {
	conf, err := v.src.FindConfirmation(ctx, a.PatronBarcode, a.AttemptedAt, a.ItemBarcode)
	if err != nil {
		return errors.Wrap(err, "confirmation check")
	}
	if conf == nil {
		return nil
	}
	at := conf.NoticedAt
	res.Verified = true
	res.VerifiedAt = &at
	res.ConfirmationFile = conf.SourceFile
	payload := map[string]string{
		"barcode": conf.PatronBarcode,
		"file":    conf.SourceFile,
	}
	if conf.ItemBarcode != nil {
		payload["item_barcode"] = *conf.ItemBarcode
	}
	res.AddEvent(models.EventVerified, sourcePhoneNotices, at, payload)
	return nil
}

// failureTypesFor: какие категории фейлов релевантны каналу.
func failureTypesFor(ch models.ChannelID) []string {
	if ch == models.ChannelVoice {
		return []string{models.FailureVoiceUndelivered, models.FailureOptedOut, models.FailureInvalidNumber, models.FailureBarcodeRemoved}
	}
	return []string{models.FailureOptedOut, models.FailureInvalidNumber, models.FailureBarcodeRemoved}
}

// checkFailureReports is the report-inference mode: a failure report inside
// the window is conclusive negative evidence; no failure plus a confirmed
// submission infers success. The inference is probabilistic and stays
// distinguishable downstream via DeliveryStatusInferred.
func (v *Verifier) checkFailureReports(ctx context.Context, a *models.NotificationAttempt, res *models.VerificationResult) {
	w := v.cfg.Window()
	rec, err := v.src.FindEarliestFailure(ctx, a.Destination, failureTypesFor(a.Channel),
		a.AttemptedAt.Add(-w), a.AttemptedAt.Add(w))
	if err != nil {
		v.swallowLookupError(a, "failure_records", err)
		return
	}

	if rec != nil {
		if res.SetDelivered(false, models.DeliveryStatusFailed, failureReasonFor(rec)) {
			res.AddEvent(models.EventDeliveryFailed, sourceFailures, rec.ReceivedAt, map[string]string{
				"phone":        rec.Phone,
				"failure_type": rec.FailureType,
				"reason":       failureReasonFor(rec),
			})
		}
		return
	}

	if !res.Submitted || res.DeliveryConcluded() {
		return
	}
	if res.SetDelivered(true, models.DeliveryStatusInferred, "") {
		res.AddEvent(models.EventDeliveredInferred, sourceFailures, a.AttemptedAt, map[string]string{
			"basis":        fmt.Sprintf("no failure report within %dh of attempt", int(w.Hours())),
			"window_hours": fmt.Sprintf("%d", int(w.Hours())),
		})
	}
}

// Окно legacy-отчётов: вендор иногда проставляет время чуть раньше попытки.
const (
	deliveryLookBehind = 2 * time.Hour
	deliveryLookAhead  = 24 * time.Hour
)

// checkDeliveryRecords is the direct-record (legacy) mode: earliest
// structured delivery row for the phone wins, status and failure reason
// copied verbatim.
func (v *Verifier) checkDeliveryRecords(ctx context.Context, a *models.NotificationAttempt, res *models.VerificationResult) {
	rec, err := v.src.FindEarliestDelivery(ctx, a.Destination,
		a.AttemptedAt.Add(-deliveryLookBehind), a.AttemptedAt.Add(deliveryLookAhead))
	if err != nil {
		v.swallowLookupError(a, "delivery_records", err)
		return
	}
	if rec == nil {
		return
	}
	delivered := strings.EqualFold(rec.Status, "delivered")
	if res.SetDelivered(delivered, rec.Status, rec.FailureReason) {
		res.AddEvent(models.EventDelivered, sourceDeliveries, rec.ReportedAt, map[string]string{
			"phone":   rec.Phone,
			"status":  rec.Status,
			"carrier": rec.Carrier,
		})
	}
}

func (v *Verifier) swallowLookupError(a *models.NotificationAttempt, source string, err error) {
	v.lookupErrors.Add(1)
	slog.Warn("delivery evidence lookup unavailable, delivery left unknown",
		"attempt_id", a.ID, "source", source, "error", err.Error())
}

// Дефолтные формулировки причин, когда репорт не принёс свободный текст.
var failureReasons = map[string]string{
	models.FailureInvalidNumber:    "Invalid phone number",
	models.FailureOptedOut:         "Patron opted out of notices",
	models.FailureVoiceUndelivered: "Voice call not delivered",
	models.FailureBarcodeRemoved:   "Barcode removed from vendor account",
}

func failureReasonFor(rec *models.FailureRecord) string {
	if rec.Reason != "" {
		return rec.Reason
	}
	if r, ok := failureReasons[rec.FailureType]; ok {
		return r
	}
	return rec.FailureType
}
