package models

import "time"

// Channel identifiers as logged by the ILS notification log.
type ChannelID int32

const (
	ChannelMail  ChannelID = 1
	ChannelEmail ChannelID = 2
	ChannelVoice ChannelID = 5
	ChannelSMS   ChannelID = 8
)

// Notice categories (reason the patron was contacted).
const (
	CategoryHold     = "hold"
	CategoryOverdue  = "overdue"
	CategoryOverdue2 = "overdue2"
	CategoryOverdue3 = "overdue3"
	CategoryRenewal  = "renewal"
	CategoryBill     = "bill"
)

// Нормализованные статусы попытки (можно расширять).
const (
	AttemptStatusUnverified   = "UNVERIFIED"
	AttemptStatusInconclusive = "INCONCLUSIVE"
	AttemptStatusDelivered    = "DELIVERED"
	AttemptStatusFailed       = "FAILED"
)

// NotificationAttempt is one logged instance of the library trying to reach
// a patron. Owned by the notification-log ingestion; the verification core
// reads it and never mutates the upstream ILS.
type NotificationAttempt struct {
	ID            uint64
	PatronID      string
	PatronBarcode string
	Category      string
	Channel       ChannelID
	Destination   string // phone number or email address the notice went to
	AttemptedAt   time.Time
	ItemBarcode   *string

	Status          string
	NextVerifyAt    time.Time
	VerifyFailCount int32
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type AttemptCreateInput struct {
	PatronID      string
	PatronBarcode string
	Category      string
	Channel       ChannelID
	Destination   string
	AttemptedAt   time.Time
	ItemBarcode   *string
}

// SubmissionRecord: уведомление передано вендору (строка из submission-файла).
type SubmissionRecord struct {
	ID            uint64
	PatronBarcode string
	Category      string // vendor wording: "holds", "overdue", "renewal"
	Channel       ChannelID
	SubmittedAt   time.Time
	SourceFile    string
}

// ConfirmationRecord: вендор сам зарегистрировал и поставил уведомление в
// очередь ("phone notice"). Это ещё не доставка.
type ConfirmationRecord struct {
	ID            uint64
	PatronBarcode string
	ItemBarcode   *string
	NoticedAt     time.Time
	SourceFile    string
}

// Failure categories extracted from vendor failure reports.
const (
	FailureOptedOut         = "opted_out"
	FailureInvalidNumber    = "invalid_number"
	FailureVoiceUndelivered = "voice_undelivered"
	FailureBarcodeRemoved   = "barcode_removed"
)

const (
	AccountActive  = "active"
	AccountDeleted = "deleted"
)

// FailureRecord is evidence that a specific delivery did NOT succeed,
// parsed out of a free-text vendor report. PatronBarcode may be partial
// (redacted in the source report); BarcodePartial flags that explicitly so
// a partial value is never mistaken for a full barcode match.
type FailureRecord struct {
	ID             uint64
	Phone          string
	PatronBarcode  string
	BarcodePartial bool
	PatronID       string
	PatronName     string
	Branch         string
	NoticeType     string
	FailureType    string
	Reason         string
	AccountStatus  string
	ReceivedAt     time.Time
	SourceMessage  string
	Raw            *string
}

// Valid reports whether the record carries enough identity to ever be
// matched: a phone, a patron identifier, or a partial barcode.
func (f *FailureRecord) Valid() bool {
	return f.Phone != "" || f.PatronID != "" || f.PatronBarcode != ""
}

// DeliveryRecord is a row from the legacy structured vendor delivery report.
type DeliveryRecord struct {
	ID            uint64
	Phone         string
	Channel       ChannelID
	Status        string
	Carrier       string
	FailureReason string
	ReportedAt    time.Time
	SourceFile    string
}

// ChannelStats is the aggregate report for one channel over a date range.
type ChannelStats struct {
	Channel      ChannelID  `json:"channel"`
	From         time.Time  `json:"from"`
	To           time.Time  `json:"to"`
	Attempts     int64      `json:"attempts"`
	Submitted    int64      `json:"submitted"`
	Confirmed    int64      `json:"confirmed"`
	Delivered    int64      `json:"delivered"`
	Failed       int64      `json:"failed"`
	Inconclusive int64      `json:"inconclusive"`
	SuccessRate  float64    `json:"successRate"`
}
