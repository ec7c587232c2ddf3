package realtime

import (
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/greenhub/internal/metrics"
)

// Dispatcher pushes events to every open handle of a principal.
//
// Delivery is at-most-once per currently open handle: there is no
// acknowledgement, retry or replay. A handle that fails to accept a frame is
// closed and removed so the remaining handles still receive it.
type Dispatcher struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Broadcast sends payload to every handle principalID holds on channel c and
// returns how many handles accepted it.
func (d *Dispatcher) Broadcast(c Channel, principalID int64, payload any) int {
	return d.BroadcastMany(c, []int64{principalID}, payload)
}

// BroadcastMany sends one encoding of payload to each listed principal.
func (d *Dispatcher) BroadcastMany(c Channel, principalIDs []int64, payload any) int {
	var frame []byte
	delivered := 0

	for _, id := range principalIDs {
		handles := d.registry.HandlesFor(c, id)
		if len(handles) == 0 {
			continue
		}

		if frame == nil {
			data, err := json.Marshal(payload)
			if err != nil {
				d.logger.Error().Err(err).Str("channel", string(c)).Msg("failed to encode event")
				return 0
			}
			frame = EncodeFrame("", ulid.Make().String(), data)
		}

		for _, h := range handles {
			if err := h.Send(frame); err != nil {
				d.evict(c, id, h, err)
				continue
			}
			delivered++
		}
	}

	if delivered == 0 {
		d.logger.Debug().Str("channel", string(c)).Int("principals", len(principalIDs)).Msg("no open streams for event")
		return 0
	}
	metrics.FramesDelivered.WithLabelValues(string(c)).Add(float64(delivered))
	return delivered
}

// evict drops a handle that could not take a frame.
func (d *Dispatcher) evict(c Channel, principalID int64, h Handle, cause error) {
	h.Close()
	if d.registry.Unregister(c, principalID, h) {
		metrics.StreamEvictions.WithLabelValues(string(c)).Inc()
	}
	d.logger.Warn().
		Err(cause).
		Str("channel", string(c)).
		Int64("user_id", principalID).
		Msg("dropped stream handle")
}
