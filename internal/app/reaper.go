package app

import (
	"context"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Reaper deletes participants whose heartbeat stopped, so crashed or
// unloaded clients do not linger as present or keep the floor.
type Reaper struct {
	store    domain.RoomStore
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewReaper(store domain.RoomStore, ttl, interval time.Duration) *Reaper {
	return &Reaper{store: store, ttl: ttl, interval: interval, now: time.Now}
}

func (r *Reaper) Run(ctx context.Context) error {
	log.Info().Str("module", "app.reaper").Dur("ttl", r.ttl).Dur("interval", r.interval).Msg("reaper started")
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reaper").Msg("reaper stopped")
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Warn().Err(err).Str("module", "app.reaper").Msg("sweep failed")
			}
		}
	}
}

// Sweep removes every stale participant and returns how many were removed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	stale, err := r.store.ListStaleParticipants(ctx, r.now().Add(-r.ttl))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ref := range stale {
		err := r.store.Commit(ctx, ref.RoomID, domain.Batch{
			DeleteParticipants: []domain.UserID{ref.UID},
			ReleaseFloorOf:     ref.UID,
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "app.reaper").Str("room", string(ref.RoomID)).Str("uid", string(ref.UID)).Msg("reap failed")
			continue
		}
		n++
		log.Info().Str("module", "app.reaper").Str("room", string(ref.RoomID)).Str("uid", string(ref.UID)).Msg("reaped stale participant")
	}
	return n, nil
}
