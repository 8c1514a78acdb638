// Package recorder drives a capture device through countdown, recording and
// playback. Machine and Transition are pure; Session executes the effects.
package recorder

import (
	"errors"
	"fmt"
)

const (
	// CountdownTicks is the number of one-second ticks before recording starts.
	CountdownTicks = 3
	// MaxRecordingSeconds is the recording ceiling; the machine stops itself there.
	MaxRecordingSeconds = 30
)

var (
	ErrInvalidEvent = errors.New("event not allowed in current state")
	ErrBusy         = errors.New("cannot switch devices while recording")
)

// State of the recorder.
type State string

const (
	StateIdle      State = "idle"
	StateCountdown State = "countdown"
	StateRecording State = "recording"
	StatePlayback  State = "playback"
)

// EventKind enumerates the inputs of the machine.
type EventKind int

const (
	EventStart EventKind = iota
	EventTick
	EventStop
	EventDiscard
	EventAccept
	EventSwitchDevice
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventTick:
		return "tick"
	case EventStop:
		return "stop"
	case EventDiscard:
		return "discard"
	case EventAccept:
		return "accept"
	case EventSwitchDevice:
		return "switch-device"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one input. DeviceID is only read for EventSwitchDevice.
type Event struct {
	Kind     EventKind
	DeviceID string
}

// EffectKind enumerates the side effects a transition asks for.
type EffectKind int

const (
	EffectAcquireStream EffectKind = iota
	EffectReleaseStream
	EffectStartTicker
	EffectStopTicker
	EffectStartRecorder
	EffectStopRecorder
	EffectDeliverMedia
	EffectDiscardMedia
)

func (k EffectKind) String() string {
	return [...]string{
		"acquire-stream", "release-stream", "start-ticker", "stop-ticker",
		"start-recorder", "stop-recorder", "deliver-media", "discard-media",
	}[k]
}

// Effect is a side effect; DeviceID is set for EffectAcquireStream.
type Effect struct {
	Kind     EffectKind
	DeviceID string
}

// Machine is the recorder state as a value.
type Machine struct {
	State      State
	Countdown  int
	Elapsed    int
	DeviceID   string
	StreamHeld bool
}

// NewMachine returns an idle machine bound to deviceID.
func NewMachine(deviceID string) Machine {
	return Machine{State: StateIdle, DeviceID: deviceID}
}

// Transition applies ev to m. On error m is returned unchanged with no effects.
func Transition(m Machine, ev Event) (Machine, []Effect, error) {
	if ev.Kind == EventSwitchDevice {
		return switchDevice(m, ev.DeviceID)
	}

	switch m.State {
	case StateIdle:
		if ev.Kind == EventStart {
			var effects []Effect
			if !m.StreamHeld {
				effects = append(effects, Effect{Kind: EffectAcquireStream, DeviceID: m.DeviceID})
				m.StreamHeld = true
			}
			m.State = StateCountdown
			m.Countdown = CountdownTicks
			m.Elapsed = 0
			return m, append(effects, Effect{Kind: EffectStartTicker}), nil
		}

	case StateCountdown:
		switch ev.Kind {
		case EventTick:
			m.Countdown--
			if m.Countdown > 0 {
				return m, nil, nil
			}
			m.State = StateRecording
			m.Countdown = 0
			m.Elapsed = 0
			return m, []Effect{{Kind: EffectStopTicker}, {Kind: EffectStartRecorder}, {Kind: EffectStartTicker}}, nil
		case EventStop:
			m.State = StateIdle
			m.Countdown = 0
			return m, []Effect{{Kind: EffectStopTicker}}, nil
		}

	case StateRecording:
		switch ev.Kind {
		case EventTick:
			m.Elapsed++
			if m.Elapsed < MaxRecordingSeconds {
				return m, nil, nil
			}
			return leaveRecording(m)
		case EventStop:
			return leaveRecording(m)
		}

	case StatePlayback:
		switch ev.Kind {
		case EventDiscard:
			m.State = StateIdle
			m.Elapsed = 0
			return m, []Effect{{Kind: EffectDiscardMedia}}, nil
		case EventAccept:
			m.State = StateIdle
			m.Elapsed = 0
			return m, []Effect{{Kind: EffectDeliverMedia}}, nil
		}
	}

	return m, nil, fmt.Errorf("%w: %s in %s", ErrInvalidEvent, ev.Kind, m.State)
}

// leaveRecording stops the ticker before the recorder.
func leaveRecording(m Machine) (Machine, []Effect, error) {
	m.State = StatePlayback
	return m, []Effect{{Kind: EffectStopTicker}, {Kind: EffectStopRecorder}}, nil
}

func switchDevice(m Machine, deviceID string) (Machine, []Effect, error) {
	if m.State == StateRecording {
		return m, nil, ErrBusy
	}
	m.DeviceID = deviceID
	if !m.StreamHeld {
		return m, nil, nil
	}
	return m, []Effect{
		{Kind: EffectReleaseStream},
		{Kind: EffectAcquireStream, DeviceID: deviceID},
	}, nil
}
