package messages

import "time"

// NoticeVerified публикуется после каждого прохода сверки по одной попытке.
// Consumer в notice-api применяет его к хранилищу и кэшу.
type NoticeVerified struct {
	AttemptID uint64    `json:"attempt_id"`
	CheckedAt time.Time `json:"checked_at"`

	Submitted      bool       `json:"submitted"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	SubmissionFile string     `json:"submission_file,omitempty"`

	Verified         bool       `json:"verified"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	ConfirmationFile string     `json:"confirmation_file,omitempty"`

	Delivered      *bool  `json:"delivered,omitempty"`
	DeliveryStatus string `json:"delivery_status,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`

	NextVerifyAt time.Time `json:"next_verify_at"`

	Events []TimelineEvent `json:"events,omitempty"`

	Error *string `json:"error,omitempty"`
}

type TimelineEvent struct {
	Kind      string            `json:"kind"`
	Source    string            `json:"source"`
	EventTime time.Time         `json:"event_time"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// ReportReceived — сырое письмо вендора, снятое с почтового шлюза.
// MessageID — uuid письма в шлюзе, по нему дедупим повторную доставку.
type ReportReceived struct {
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
	Body       string    `json:"body"`
}
