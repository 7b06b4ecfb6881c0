package verify

import (
	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/models"
)

// Registry is the process-lifetime map from channel id to verifier,
// populated once at startup by explicit Register calls. Channel ownership
// is exclusive: a second verifier claiming an already-owned channel is a
// configuration error, rejected at registration time.
type Registry struct {
	byChannel map[models.ChannelID]Verifier
}

func NewRegistry() *Registry {
	return &Registry{byChannel: map[models.ChannelID]Verifier{}}
}

func (r *Registry) Register(v Verifier) error {
	owned := v.OwnedChannels()
	if len(owned) == 0 {
		return errors.New("verifier owns no channels")
	}
	for _, ch := range owned {
		if _, taken := r.byChannel[ch]; taken {
			return errors.Errorf("channel %d already has a registered verifier", ch)
		}
	}
	for _, ch := range owned {
		r.byChannel[ch] = v
	}
	return nil
}

func (r *Registry) For(ch models.ChannelID) (Verifier, bool) {
	v, ok := r.byChannel[ch]
	return v, ok
}
