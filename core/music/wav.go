package music

import (
	"bytes"
	"fmt"

	"github.com/go-audio/wav"
)

// Audio is a generated WAV file and its metadata.
type Audio struct {
	Data       []byte
	Duration   float64 // seconds
	SampleRate int
	Channels   int
	BitDepth   int
}

// DecodeWAV validates a WAV payload and reads its format metadata.
func DecodeWAV(data []byte) (*Audio, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	audio := &Audio{
		Data:       data,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	bytesPerSecond := audio.SampleRate * audio.Channels * audio.BitDepth / 8
	if bytesPerSecond <= 0 {
		return nil, fmt.Errorf("%w: invalid format header", ErrDecode)
	}
	audio.Duration = float64(dec.PCMSize) / float64(bytesPerSecond)
	return audio, nil
}
