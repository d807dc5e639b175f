package lipsync

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
)

// PlaybackState is what an audio source reports when polled.
type PlaybackState int

const (
	StateIdle PlaybackState = iota
	StatePlaying
	StatePaused
	StateEnded
)

func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Source is a playing voice track. State must not block.
type Source interface {
	State() PlaybackState
	Connect() (Tap, error)
}

// Tap is a connection into a source's output.
type Tap interface {
	// Window copies the most recent len(buf) samples, oldest first, and
	// returns how many were real audio. The rest of buf is zeroed.
	Window(buf []float64) int
	SampleRate() int
	Close() error
}

// Clocked sources are advanced by the analyzer once per frame. Sources that
// play on their own clock don't implement it.
type Clocked interface {
	Advance(dt float32)
}

// Format is the sample encoding of raw PCM bytes.
type Format int

const (
	FormatInt16 Format = iota
	FormatFloat32
)

var ErrTapClosed = errors.New("tap already closed")

// PCMSource plays mono PCM held in memory. It starts idle; Play, Pause and End
// are safe to call from any goroutine.
type PCMSource struct {
	mu      sync.Mutex
	samples []float64
	rate    int
	cursor  float64
	state   PlaybackState
	taps    int
}

// NewPCMSource decodes little-endian PCM. A trailing partial sample is
// ignored.
func NewPCMSource(data []byte, format Format, sampleRate int) (*PCMSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	samples, err := decodePCM(data, format)
	if err != nil {
		return nil, err
	}
	return NewSampleSource(samples, sampleRate), nil
}

// NewSampleSource wraps already-decoded samples in [-1,1].
func NewSampleSource(samples []float64, sampleRate int) *PCMSource {
	return &PCMSource{samples: samples, rate: sampleRate}
}

func decodePCM(data []byte, format Format) ([]float64, error) {
	switch format {
	case FormatInt16:
		out := make([]float64, len(data)/2)
		for i := range out {
			sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
			out[i] = float64(sample) / 32768.0
		}
		return out, nil
	case FormatFloat32:
		out := make([]float64, len(data)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown pcm format %d", format)
}

func (s *PCMSource) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEnded {
		s.state = StatePlaying
	}
}

func (s *PCMSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePlaying {
		s.state = StatePaused
	}
}

func (s *PCMSource) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateEnded
}

func (s *PCMSource) State() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance moves the playback cursor while playing and ends the source when the
// samples run out.
func (s *PCMSource) Advance(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying || dt <= 0 {
		return
	}
	s.cursor += float64(dt) * float64(s.rate)
	if s.cursor >= float64(len(s.samples)) {
		s.cursor = float64(len(s.samples))
		s.state = StateEnded
	}
}

// Duration is the track length in seconds.
func (s *PCMSource) Duration() float64 {
	return float64(len(s.samples)) / float64(s.rate)
}

// Position is the playback cursor in seconds.
func (s *PCMSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor / float64(s.rate)
}

// OpenTaps reports how many taps are connected and not yet closed.
func (s *PCMSource) OpenTaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taps
}

func (s *PCMSource) Connect() (Tap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return nil, errors.New("source has ended")
	}
	s.taps++
	return &pcmTap{src: s}, nil
}

type pcmTap struct {
	src    *PCMSource
	closed bool
}

func (t *pcmTap) Window(buf []float64) int {
	s := t.src
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range buf {
		buf[i] = 0
	}
	if t.closed {
		return 0
	}
	end := int(s.cursor)
	start := end - len(buf)
	n := 0
	for i := range buf {
		j := start + i
		if j < 0 || j >= len(s.samples) {
			continue
		}
		buf[i] = s.samples[j]
		n++
	}
	return n
}

func (t *pcmTap) SampleRate() int {
	return t.src.rate
}

func (t *pcmTap) Close() error {
	s := t.src
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	t.closed = true
	s.taps--
	return nil
}
