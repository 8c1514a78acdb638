package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

type tickers struct {
	mu  sync.Mutex
	all []*manualTicker
}

func (f *tickers) factory(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	f.all = append(f.all, t)
	return t
}

// tick delivers one tick on the current ticker; the send returns once the
// session loop has received it.
func (f *tickers) tick(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	require.NotEmpty(t, f.all)
	cur := f.all[len(f.all)-1]
	f.mu.Unlock()
	select {
	case cur.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick not consumed")
	}
}

type fakeStream struct {
	id     string
	closed bool
}

func (s *fakeStream) DeviceID() string { return s.id }
func (s *fakeStream) Close() error     { s.closed = true; return nil }

type fakeRecording struct {
	capture *fakeCapture
	stopped bool
}

func (r *fakeRecording) Stop() (Media, error) {
	r.capture.mu.Lock()
	defer r.capture.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		r.capture.active--
	}
	return Media{Path: "", MIMEType: "video/webm", Duration: time.Second}, nil
}

type fakeCapture struct {
	mu         sync.Mutex
	streams    []*fakeStream
	active     int
	maxActive  int
	recordings int
	openErr    error
}

func (c *fakeCapture) Devices(context.Context) ([]Device, error) {
	return []Device{{ID: "cam0"}, {ID: "cam1"}}, nil
}

func (c *fakeCapture) Open(_ context.Context, deviceID string) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	if deviceID == "" {
		deviceID = "cam0"
	}
	for _, s := range c.streams {
		if !s.closed {
			return nil, fmt.Errorf("device busy: %s still open", s.id)
		}
	}
	s := &fakeStream{id: deviceID}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeCapture) StartRecording(Stream) (Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
	c.recordings++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	return &fakeRecording{capture: c}, nil
}

func (c *fakeCapture) openStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.streams {
		if !s.closed {
			n++
		}
	}
	return n
}

func startRecording(t *testing.T, s *Session, tk *tickers) {
	t.Helper()
	m, err := s.Start()
	require.NoError(t, err)
	require.Equal(t, StateCountdown, m.State)
	for i := 0; i < CountdownTicks; i++ {
		tk.tick(t)
	}
	m, err = s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, StateRecording, m.State)
}

func TestSessionAutoStopsAtCeiling(t *testing.T) {
	capture := &fakeCapture{}
	tk := &tickers{}
	s := NewSession(capture, "", tk.factory)
	defer s.Close()

	startRecording(t, s, tk)
	for i := 1; i < MaxRecordingSeconds; i++ {
		tk.tick(t)
	}
	m, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, StateRecording, m.State)
	assert.Equal(t, MaxRecordingSeconds-1, m.Elapsed)

	tk.tick(t)
	m, err = s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, StatePlayback, m.State)
	assert.Equal(t, MaxRecordingSeconds, m.Elapsed)

	tk.mu.Lock()
	last := tk.all[len(tk.all)-1]
	tk.mu.Unlock()
	last.mu.Lock()
	assert.True(t, last.stopped)
	last.mu.Unlock()

	media, err := s.Accept()
	require.NoError(t, err)
	require.NotNil(t, media)
	assert.Equal(t, "video/webm", media.MIMEType)
}

func TestSessionNeverRunsTwoRecorders(t *testing.T) {
	capture := &fakeCapture{}
	tk := &tickers{}
	s := NewSession(capture, "cam0", tk.factory)

	startRecording(t, s, tk)
	_, err := s.Stop()
	require.NoError(t, err)
	_, err = s.Discard()
	require.NoError(t, err)
	startRecording(t, s, tk)
	_, err = s.Stop()
	require.NoError(t, err)

	assert.Equal(t, 2, capture.recordings)
	assert.Equal(t, 1, capture.maxActive)
	assert.Equal(t, 1, capture.openStreams())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, capture.openStreams())
	assert.Equal(t, 0, capture.active)
}

func TestSessionSwitchDeviceReacquires(t *testing.T) {
	capture := &fakeCapture{}
	tk := &tickers{}
	s := NewSession(capture, "cam0", tk.factory)
	defer s.Close()

	_, err := s.Start()
	require.NoError(t, err)
	_, err = s.Stop()
	require.NoError(t, err)

	m, err := s.SwitchDevice("cam1")
	require.NoError(t, err)
	assert.Equal(t, "cam1", m.DeviceID)
	assert.True(t, m.StreamHeld)
	assert.Equal(t, 1, capture.openStreams())

	startRecording(t, s, tk)
	_, err = s.SwitchDevice("cam0")
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSessionAcquireFailureReturnsToIdle(t *testing.T) {
	capture := &fakeCapture{openErr: errors.New("no camera")}
	s := NewSession(capture, "cam0", (&tickers{}).factory)
	defer s.Close()

	m, err := s.Start()
	require.Error(t, err)
	assert.Equal(t, StateIdle, m.State)
	assert.False(t, m.StreamHeld)
}

func TestSessionRejectsInvalidEventsAndClose(t *testing.T) {
	s := NewSession(&fakeCapture{}, "", (&tickers{}).factory)

	_, err := s.Accept()
	assert.ErrorIs(t, err, ErrInvalidEvent)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Start()
	assert.ErrorIs(t, err, ErrClosed)
}
