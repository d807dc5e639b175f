// Package lipsync turns a playing voice track into smoothed viseme weights on
// a rig's mouth-shape channels.
package lipsync

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/rig"
)

var ErrAudioGraph = errors.New("audio graph connection failed")

const (
	visemeAa = iota
	visemeIh
	visemeOu
	visemeEe
	visemeOh
	numVisemes
)

const numBands = 5

// bandMix holds each viseme's weights over the low, low-mid, mid, mid-high
// and high bands. Order follows rig.MouthShapes.
var bandMix = [numVisemes][numBands]float64{
	visemeAa: {0.3, 0.5, 0.2, 0, 0},
	visemeIh: {0, 0, 0.5, 0.5, 0},
	visemeOu: {0.7, 0, 0.3, 0, 0},
	visemeEe: {0, 0, 0, 0.4, 0.6},
	visemeOh: {0.6, 0.4, 0, 0, 0},
}

// snapBelow is where a decaying weight is written as exactly zero.
const snapBelow = 1e-3

type Config struct {
	FFTSize          int     `mapstructure:"fft_size"`
	Smoothing        float64 `mapstructure:"smoothing"`
	Sensitivity      float64 `mapstructure:"sensitivity"`
	SilenceThreshold float64 `mapstructure:"silence_threshold"`
	MaxAmplitude     float64 `mapstructure:"max_amplitude"`
	MinDecibels      float64 `mapstructure:"min_decibels"`
	MaxDecibels      float64 `mapstructure:"max_decibels"`
	BandEdges        []int   `mapstructure:"band_edges"`
}

func DefaultConfig() Config {
	return Config{
		FFTSize:          256,
		Smoothing:        0.7,
		Sensitivity:      1.5,
		SilenceThreshold: 0.1,
		MaxAmplitude:     1,
		MinDecibels:      -100,
		MaxDecibels:      -30,
		BandEdges:        []int{0, 8, 24, 48, 80, 128},
	}
}

func (c Config) Bins() int {
	return c.FFTSize / 2
}

func (c Config) Validate() error {
	switch {
	case c.FFTSize < 32 || c.FFTSize&(c.FFTSize-1) != 0:
		return fmt.Errorf("fft size %d must be a power of two >= 32", c.FFTSize)
	case c.Smoothing < 0 || c.Smoothing >= 1:
		return fmt.Errorf("smoothing %v must be in [0,1)", c.Smoothing)
	case c.Sensitivity <= 0:
		return fmt.Errorf("sensitivity must be positive")
	case c.MaxAmplitude <= 0 || c.MaxAmplitude > 1:
		return fmt.Errorf("max amplitude %v must be in (0,1]", c.MaxAmplitude)
	case c.MinDecibels >= c.MaxDecibels:
		return fmt.Errorf("min decibels must be below max decibels")
	case len(c.BandEdges) != numBands+1:
		return fmt.Errorf("need %d band edges, got %d", numBands+1, len(c.BandEdges))
	}
	prev := -1
	for _, e := range c.BandEdges {
		if e <= prev || e > c.Bins() {
			return fmt.Errorf("band edges %v must increase within %d bins", c.BandEdges, c.Bins())
		}
		prev = e
	}
	return nil
}

type Options struct {
	Avatar string
	Bus    *bus.EventBus
	Logger zerolog.Logger
}

type session struct {
	id  string
	src Source
	tap Tap
}

// Analyzer runs at most one lip-sync session on a rig. Start, Update and Stop
// must be called from the frame loop.
type Analyzer struct {
	rig    *rig.Rig
	cfg    Config
	avatar string
	bus    *bus.EventBus
	logger zerolog.Logger

	fft      *fourier.FFT
	samples  []float64
	coeffs   []complex128
	spectrum []float64
	mouth    [numVisemes]rig.Channel
	present  [numVisemes]bool

	session  *session
	smoothed [numVisemes]float64
}

func New(r *rig.Rig, cfg Config, opts Options) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{
		rig:      r,
		cfg:      cfg,
		avatar:   opts.Avatar,
		bus:      opts.Bus,
		logger:   opts.Logger.With().Str("component", "lipsync").Str("avatar", opts.Avatar).Logger(),
		fft:      fourier.NewFFT(cfg.FFTSize),
		samples:  make([]float64, cfg.FFTSize),
		coeffs:   make([]complex128, cfg.FFTSize/2+1),
		spectrum: make([]float64, cfg.Bins()),
	}
	for i, name := range rig.MouthShapes {
		a.mouth[i] = rig.Expression(name)
		a.present[i] = r.Has(a.mouth[i])
	}
	if err := r.Require(a.mouth[:]...); err != nil {
		a.logger.Debug().Err(err).Msg("Lip sync drives a partial mouth")
	}
	return a, nil
}

// Start binds src, replacing any running session. If src is already playing
// the graph is connected now and a failure is returned wrapped in
// ErrAudioGraph; otherwise connection waits for a later Update that sees the
// source playing.
func (a *Analyzer) Start(src Source) (string, error) {
	if a.session != nil {
		a.Stop()
	}
	sess := &session{id: uuid.NewString(), src: src}
	a.session = sess

	if src.State() == StatePlaying {
		if err := a.connect(sess); err != nil {
			return "", err
		}
	} else {
		a.logger.Debug().Str("session", sess.id).Str("state", src.State().String()).Msg("Waiting for audio source")
	}
	return sess.id, nil
}

func (a *Analyzer) connect(sess *session) error {
	tap, err := sess.src.Connect()
	if err != nil {
		a.session = nil
		a.zeroMouth()
		a.logger.Warn().Err(err).Str("session", sess.id).Msg("Lip sync not started")
		a.bus.Publish(bus.Event{Type: bus.EventTypeLipSyncFailed, Data: map[string]any{
			"avatar":  a.avatar,
			"session": sess.id,
			"error":   err.Error(),
		}})
		return fmt.Errorf("%w: %w", ErrAudioGraph, err)
	}
	sess.tap = tap
	metrics.LipSyncSessions.Inc()
	a.logger.Info().Str("session", sess.id).Int("sampleRate", tap.SampleRate()).Msg("Lip sync started")
	a.bus.Publish(bus.Event{Type: bus.EventTypeLipSyncStarted, Data: map[string]any{
		"avatar":  a.avatar,
		"session": sess.id,
	}})
	return nil
}

// release closes the tap and zeroes the mouth. The session itself survives so
// a paused source can reconnect.
func (a *Analyzer) release(sess *session, reason string) {
	if sess.tap == nil {
		return
	}
	if err := sess.tap.Close(); err != nil {
		a.logger.Debug().Err(err).Str("session", sess.id).Msg("Closing audio tap")
	}
	sess.tap = nil
	metrics.LipSyncSessions.Dec()
	a.zeroMouth()
	a.bus.Publish(bus.Event{Type: bus.EventTypeLipSyncStopped, Data: map[string]any{
		"avatar":  a.avatar,
		"session": sess.id,
		"reason":  reason,
	}})
}

// Stop ends the session, releases its graph and forces every mouth shape to 0.
func (a *Analyzer) Stop() {
	sess := a.session
	a.session = nil
	if sess != nil {
		a.release(sess, "stopped")
		a.logger.Debug().Str("session", sess.id).Msg("Lip sync stopped")
	}
	a.zeroMouth()
}

// Active reports whether a session is connected and analyzing.
func (a *Analyzer) Active() bool {
	return a.session != nil && a.session.tap != nil
}

// Session returns the id of the bound session, connected or waiting.
func (a *Analyzer) Session() string {
	if a.session == nil {
		return ""
	}
	return a.session.id
}

// Weights returns the smoothed viseme weights in rig.MouthShapes order.
func (a *Analyzer) Weights() [5]float32 {
	var out [5]float32
	for i, w := range a.smoothed {
		out[i] = float32(w)
	}
	return out
}

func (a *Analyzer) Update(dt float32) {
	sess := a.session
	if sess == nil {
		return
	}
	if c, ok := sess.src.(Clocked); ok {
		c.Advance(dt)
	}

	switch sess.src.State() {
	case StateEnded:
		a.release(sess, "ended")
		a.session = nil
		return
	case StatePaused, StateIdle:
		a.release(sess, "paused")
		return
	}

	if sess.tap == nil {
		if err := a.connect(sess); err != nil {
			return
		}
	}

	a.analyze(sess.tap)
}

func (a *Analyzer) analyze(tap Tap) {
	var targets [numVisemes]float64
	if tap.Window(a.samples) > 0 {
		bands := a.bandEnergies()
		mean := 0.0
		for _, e := range bands {
			mean += e
		}
		mean /= numBands
		if mean >= a.cfg.SilenceThreshold {
			for v := range targets {
				w := 0.0
				for b, mix := range bandMix[v] {
					w += mix * bands[b]
				}
				targets[v] = math.Min(math.Max(w*a.cfg.Sensitivity, 0), a.cfg.MaxAmplitude)
			}
		}
	}

	k := a.cfg.Smoothing
	for v := range a.smoothed {
		s := a.smoothed[v]*k + targets[v]*(1-k)
		if targets[v] == 0 && s < snapBelow {
			s = 0
		}
		a.smoothed[v] = s
		if a.present[v] {
			a.rig.Write(a.mouth[v], float32(s))
		}
	}
}

// bandEnergies windows the samples, transforms them and returns the mean
// dB-normalized magnitude of each band.
func (a *Analyzer) bandEnergies() [numBands]float64 {
	window.Hann(a.samples)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.samples)

	n := float64(a.cfg.FFTSize)
	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	for i := range a.spectrum {
		mag := cmplx.Abs(a.coeffs[i]) / n
		db := a.cfg.MinDecibels
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		a.spectrum[i] = math.Min(math.Max((db-a.cfg.MinDecibels)/span, 0), 1)
	}

	var bands [numBands]float64
	edges := a.cfg.BandEdges
	for b := range bands {
		lo, hi := edges[b], edges[b+1]
		sum := 0.0
		for _, v := range a.spectrum[lo:hi] {
			sum += v
		}
		bands[b] = sum / float64(hi-lo)
	}
	return bands
}

func (a *Analyzer) zeroMouth() {
	for v := range a.smoothed {
		a.smoothed[v] = 0
		if a.present[v] {
			a.rig.Write(a.mouth[v], 0)
		}
	}
}
