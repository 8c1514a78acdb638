package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"VibeTune/logger"
)

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("recorder session closed")

// Device is a capture device.
type Device struct {
	ID    string
	Label string
}

// Media is a finished recording.
type Media struct {
	Path     string
	MIMEType string
	Duration time.Duration
}

// Stream is an open capture device.
type Stream interface {
	DeviceID() string
	Close() error
}

// Recording is a running recorder bound to a stream.
type Recording interface {
	Stop() (Media, error)
}

// Capture is the device backend used by Session.
type Capture interface {
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, deviceID string) (Stream, error)
	StartRecording(stream Stream) (Recording, error)
}

// Ticker delivers the one-second ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates tickers; tests inject manual ones.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// RealTicker is the TickerFactory backed by time.Ticker.
func RealTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type request struct {
	ev       Event
	snapshot bool
	close    bool
	reply    chan response
}

type response struct {
	machine Machine
	media   *Media
	err     error
}

// Session owns one capture stream and executes machine effects on a single
// event-loop goroutine.
type Session struct {
	capture   Capture
	newTicker TickerFactory

	requests chan request
	updates  chan Machine
	done     chan struct{}

	// loop-owned
	machine   Machine
	stream    Stream
	recording Recording
	ticker    Ticker
	media     *Media
}

// NewSession starts the event loop. newTicker may be nil for RealTicker.
func NewSession(capture Capture, deviceID string, newTicker TickerFactory) *Session {
	if newTicker == nil {
		newTicker = RealTicker
	}
	s := &Session{
		capture:   capture,
		newTicker: newTicker,
		requests:  make(chan request),
		updates:   make(chan Machine, 64),
		done:      make(chan struct{}),
		machine:   NewMachine(deviceID),
	}
	go s.loop()
	return s
}

// Updates delivers the machine after every change, including ticks. Slow
// readers miss intermediate values. The channel is closed by Close.
func (s *Session) Updates() <-chan Machine {
	return s.updates
}

func (s *Session) Start() (Machine, error) { return s.send(Event{Kind: EventStart}) }
func (s *Session) Stop() (Machine, error)  { return s.send(Event{Kind: EventStop}) }

// Discard drops the last recording and returns to idle.
func (s *Session) Discard() (Machine, error) { return s.send(Event{Kind: EventDiscard}) }

// SwitchDevice rebinds the session to another device.
func (s *Session) SwitchDevice(deviceID string) (Machine, error) {
	return s.send(Event{Kind: EventSwitchDevice, DeviceID: deviceID})
}

// Accept hands over the last recording and returns to idle.
func (s *Session) Accept() (*Media, error) {
	resp, err := s.do(request{ev: Event{Kind: EventAccept}})
	if err != nil {
		return nil, err
	}
	return resp.media, resp.err
}

// Snapshot returns the current machine.
func (s *Session) Snapshot() (Machine, error) {
	resp, err := s.do(request{snapshot: true})
	if err != nil {
		return Machine{}, err
	}
	return resp.machine, nil
}

// Close stops any recording, releases the stream and ends the loop.
func (s *Session) Close() error {
	resp, err := s.do(request{close: true})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	<-s.done
	return resp.err
}

func (s *Session) send(ev Event) (Machine, error) {
	resp, err := s.do(request{ev: ev})
	if err != nil {
		return Machine{}, err
	}
	return resp.machine, resp.err
}

func (s *Session) do(req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case s.requests <- req:
	case <-s.done:
		return response{}, ErrClosed
	}
	return <-req.reply, nil
}

func (s *Session) loop() {
	defer close(s.done)
	defer close(s.updates)

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C()
		}

		select {
		case <-tick:
			if _, err := s.apply(Event{Kind: EventTick}); err != nil {
				logger.Warn("[Recorder] tick failed", logger.ErrorField(err))
			}
		case req := <-s.requests:
			switch {
			case req.close:
				req.reply <- response{machine: s.machine, err: s.shutdown()}
				return
			case req.snapshot:
				req.reply <- response{machine: s.machine}
			default:
				media, err := s.apply(req.ev)
				req.reply <- response{machine: s.machine, media: media, err: err}
			}
		}
	}
}

// apply runs one transition and its effects. If an effect fails the session
// falls back to idle with the ticker and recorder stopped.
func (s *Session) apply(ev Event) (*Media, error) {
	next, effects, err := Transition(s.machine, ev)
	if err != nil {
		return nil, err
	}
	prev := s.machine.State
	s.machine = next

	var delivered *Media
	for _, eff := range effects {
		media, err := s.execute(eff)
		if err != nil {
			s.recover()
			s.publish()
			return nil, fmt.Errorf("%s: %w", eff.Kind, err)
		}
		if media != nil {
			delivered = media
		}
	}
	if prev != s.machine.State {
		logger.Debug("[Recorder] state changed",
			logger.String("from", string(prev)),
			logger.String("to", string(s.machine.State)))
	}
	s.publish()
	return delivered, nil
}

func (s *Session) execute(eff Effect) (*Media, error) {
	switch eff.Kind {
	case EffectAcquireStream:
		if s.stream != nil {
			s.closeStream()
		}
		stream, err := s.capture.Open(context.Background(), eff.DeviceID)
		if err != nil {
			s.machine.StreamHeld = false
			return nil, err
		}
		s.stream = stream
		s.machine.StreamHeld = true
		s.machine.DeviceID = stream.DeviceID()

	case EffectReleaseStream:
		s.closeStream()

	case EffectStartTicker:
		s.stopTicker()
		s.ticker = s.newTicker(time.Second)

	case EffectStopTicker:
		s.stopTicker()

	case EffectStartRecorder:
		if s.recording != nil {
			s.stopRecording()
		}
		if s.stream == nil {
			return nil, errors.New("no capture stream")
		}
		rec, err := s.capture.StartRecording(s.stream)
		if err != nil {
			return nil, err
		}
		s.recording = rec

	case EffectStopRecorder:
		media, err := s.stopRecording()
		if err != nil {
			return nil, err
		}
		s.media = media

	case EffectDeliverMedia:
		media := s.media
		s.media = nil
		if media == nil {
			return nil, errors.New("no recording to deliver")
		}
		return media, nil

	case EffectDiscardMedia:
		s.discardMedia()
	}
	return nil, nil
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) stopRecording() (*Media, error) {
	if s.recording == nil {
		return nil, nil
	}
	rec := s.recording
	s.recording = nil
	media, err := rec.Stop()
	if err != nil {
		return nil, fmt.Errorf("stop recorder: %w", err)
	}
	return &media, nil
}

func (s *Session) closeStream() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		logger.Warn("[Recorder] failed to close stream", logger.ErrorField(err))
	}
	s.stream = nil
	s.machine.StreamHeld = false
}

func (s *Session) discardMedia() {
	if s.media != nil && s.media.Path != "" {
		if err := os.Remove(s.media.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn("[Recorder] failed to remove recording", logger.String("path", s.media.Path), logger.ErrorField(err))
		}
	}
	s.media = nil
}

func (s *Session) recover() {
	s.stopTicker()
	if _, err := s.stopRecording(); err != nil {
		logger.Warn("[Recorder] failed to stop recorder", logger.ErrorField(err))
	}
	s.machine.State = StateIdle
	s.machine.Countdown = 0
	s.machine.Elapsed = 0
	s.machine.StreamHeld = s.stream != nil
}

func (s *Session) shutdown() error {
	s.stopTicker()
	_, err := s.stopRecording()
	s.discardMedia()
	s.closeStream()
	s.machine = NewMachine(s.machine.DeviceID)
	return err
}

func (s *Session) publish() {
	select {
	case s.updates <- s.machine:
	default:
	}
}
