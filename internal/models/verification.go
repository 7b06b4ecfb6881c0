package models

import "time"

type EventKind string

const (
	EventSubmitted         EventKind = "submitted"
	EventVerified          EventKind = "verified"
	EventDelivered         EventKind = "delivered"
	EventDeliveryFailed    EventKind = "delivery_failed"
	EventDeliveredInferred EventKind = "delivered_inferred"
)

const (
	DeliveryStatusDelivered = "Delivered"
	DeliveryStatusFailed    = "Failed"
	// DeliveryStatusInferred: доставка выведена из отсутствия failure-репорта,
	// а не подтверждена напрямую. Downstream обязан отличать её от Delivered.
	DeliveryStatusInferred = "Inferred"
)

// TimelineEvent is one entry in the evidence timeline. Source names the
// source table/dataset the corroborating record came from.
type TimelineEvent struct {
	ID        uint64            `json:"id,omitempty"`
	AttemptID uint64            `json:"attemptId,omitempty"`
	Kind      EventKind         `json:"kind"`
	Source    string            `json:"source"`
	EventTime time.Time         `json:"eventTime"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
}

// VerificationResult accumulates the outcome of one verification pass for
// one NotificationAttempt. It is fully derived from current source data —
// a view, never a system of record. Within a pass the timeline is
// append-only and Delivered is set at most once (first conclusive evidence
// wins).
type VerificationResult struct {
	AttemptID uint64    `json:"attemptId"`
	Created   bool      `json:"created"`
	CreatedAt time.Time `json:"createdAt"`

	Submitted      bool       `json:"submitted"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	SubmissionFile string     `json:"submissionFile,omitempty"`

	Verified         bool       `json:"verified"`
	VerifiedAt       *time.Time `json:"verifiedAt,omitempty"`
	ConfirmationFile string     `json:"confirmationFile,omitempty"`

	// Delivered: nil = unknown (ни положительных, ни отрицательных данных).
	Delivered      *bool  `json:"delivered,omitempty"`
	DeliveryStatus string `json:"deliveryStatus,omitempty"`
	FailureReason  string `json:"failureReason,omitempty"`

	Timeline []TimelineEvent `json:"timeline"`
}

func NewVerificationResult(attemptID uint64, now time.Time) *VerificationResult {
	return &VerificationResult{
		AttemptID: attemptID,
		Created:   true,
		CreatedAt: now.UTC(),
	}
}

// AddEvent appends to the timeline. Entries are never removed or reordered
// within a pass.
func (r *VerificationResult) AddEvent(kind EventKind, source string, at time.Time, payload map[string]string) {
	r.Timeline = append(r.Timeline, TimelineEvent{
		AttemptID: r.AttemptID,
		Kind:      kind,
		Source:    source,
		EventTime: at.UTC(),
		Payload:   payload,
	})
}

// SetDelivered records a delivery outcome. Returns false without touching
// the result if an outcome is already set.
func (r *VerificationResult) SetDelivered(delivered bool, status, reason string) bool {
	if r.Delivered != nil {
		return false
	}
	r.Delivered = &delivered
	r.DeliveryStatus = status
	r.FailureReason = reason
	return true
}

func (r *VerificationResult) DeliveryConcluded() bool {
	return r.Delivered != nil
}

// AttemptStatus derives the attempt row status from the pass outcome.
func (r *VerificationResult) AttemptStatus() string {
	switch {
	case r.Delivered != nil && *r.Delivered:
		return AttemptStatusDelivered
	case r.Delivered != nil:
		return AttemptStatusFailed
	case r.Submitted || r.Verified:
		return AttemptStatusInconclusive
	default:
		return AttemptStatusUnverified
	}
}
