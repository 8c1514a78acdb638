package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"VibeTune/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func songs(statuses ...string) []*model.Song {
	out := make([]*model.Song, len(statuses))
	for i, s := range statuses {
		out[i] = &model.Song{ID: string(rune('a' + i)), Status: s}
	}
	return out
}

func TestRunStopsWhenNothingProcessing(t *testing.T) {
	var calls int32
	p := New(time.Millisecond, func(context.Context) ([]*model.Song, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return songs(model.SongStatusProcessing, model.SongStatusCompleted), nil
		}
		return songs(model.SongStatusFailed, model.SongStatusCompleted), nil
	})

	var updates int
	err := p.Run(context.Background(), func(list []*model.Song) { updates++ })
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 3, updates)
}

func TestRunFetchesOnceWhenIdle(t *testing.T) {
	var calls int32
	p := New(time.Hour, func(context.Context) ([]*model.Song, error) {
		atomic.AddInt32(&calls, 1)
		return songs(model.SongStatusCompleted), nil
	})
	require.NoError(t, p.Run(context.Background(), func([]*model.Song) {}))
	assert.Equal(t, int32(1), calls)
}

func TestRunHonoursInterval(t *testing.T) {
	var calls int32
	p := New(time.Hour, func(context.Context) ([]*model.Song, error) {
		atomic.AddInt32(&calls, 1)
		return songs(model.SongStatusProcessing), nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Run(ctx, func([]*model.Song) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls)
}

func TestRunReturnsFetchError(t *testing.T) {
	boom := errors.New("boom")
	p := New(time.Millisecond, func(context.Context) ([]*model.Song, error) { return nil, boom })
	called := false
	err := p.Run(context.Background(), func([]*model.Song) { called = true })
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestNewDefaultsInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(0, nil).Interval)
	assert.False(t, AnyProcessing(nil))
}
