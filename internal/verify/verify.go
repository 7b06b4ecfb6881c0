// Package verify is the entry point of the delivery verification engine:
// the plugin contract for channel verifiers, the registry that routes a
// notification attempt to the verifier owning its channel, and the
// orchestrator that produces a VerificationResult per attempt.
package verify

import (
	"context"
	"time"

	"github.com/BearBump/NoticeBox/internal/models"
)

// Verifier encapsulates the full evidence-gathering and status-derivation
// logic for one delivery channel family.
//
// Verify only reads source records and only mutates the passed-in result.
// A lookup error from the submission/confirmation steps may be returned;
// the engine logs it and still hands the caller the (sparse) result.
type Verifier interface {
	OwnedChannels() []models.ChannelID
	CanVerify(attempt *models.NotificationAttempt) bool
	Verify(ctx context.Context, attempt *models.NotificationAttempt, res *models.VerificationResult) error
	Statistics(ctx context.Context, channel models.ChannelID, from, to time.Time) (models.ChannelStats, error)
}

// Config is the explicit engine configuration, read once per construction.
// No global settings service: the former "magic config key" toggle lives
// here.
type Config struct {
	// UseReportInference selects the delivery-check mode: true derives
	// "delivered" from the absence of a failure report inside Window;
	// false reads the legacy delivery_records table directly.
	UseReportInference bool
	WindowHours        int
}

const DefaultWindowHours = 24

func (c Config) Window() time.Duration {
	h := c.WindowHours
	if h <= 0 {
		h = DefaultWindowHours
	}
	return time.Duration(h) * time.Hour
}
