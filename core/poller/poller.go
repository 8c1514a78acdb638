// Package poller re-fetches song lists while any song is still processing.
package poller

import (
	"context"
	"time"

	"VibeTune/logger"
	"VibeTune/model"
)

// DefaultInterval is the fixed re-fetch period.
const DefaultInterval = 5 * time.Second

// FetchFunc returns the current song list.
type FetchFunc func(ctx context.Context) ([]*model.Song, error)

// Poller fetches immediately and then every Interval while any song is processing.
type Poller struct {
	Interval time.Duration
	Fetch    FetchFunc
}

// New returns a poller with the given fetch function; interval <= 0 uses DefaultInterval.
func New(interval time.Duration, fetch FetchFunc) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{Interval: interval, Fetch: fetch}
}

// AnyProcessing reports whether at least one song is still being generated.
func AnyProcessing(songs []*model.Song) bool {
	for _, s := range songs {
		if s != nil && s.Status == model.SongStatusProcessing {
			return true
		}
	}
	return false
}

// Run reports every fetched list to onUpdate. It returns nil once no song is
// processing, ctx.Err() on cancellation, or the first fetch error.
func (p *Poller) Run(ctx context.Context, onUpdate func([]*model.Song)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		songs, err := p.Fetch(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("[Poller] fetch failed", logger.ErrorField(err))
			return err
		}
		onUpdate(songs)
		if !AnyProcessing(songs) {
			logger.Debug("[Poller] nothing processing, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
