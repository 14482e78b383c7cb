// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package haptic

import (
	"context"
	"math"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/wneessen/navinudge/internal/logger"
)

const (
	sampleRate     = beep.SampleRate(44100)
	pulseFrequency = 160.0
	pulseDuration  = time.Millisecond * 120
	pulseVolume    = 0.6
	maxQueued      = 2
)

// Audio is a Sink that plays a short low-frequency thump. It is meant for devices without
// a vibration motor, or as an addition to a notification. The speaker is opened and fed on
// the goroutine of run, Prepare and Trigger only signal it.
type Audio struct {
	logger *logger.Logger
	mixer  *beep.Mixer
	ready  bool
	failed bool

	initFn   func(beep.SampleRate, int) error
	playFn   func(...beep.Streamer)
	lockFn   func()
	unlockFn func()

	pending chan struct{}
	warm    chan struct{}
}

// NewAudio returns an Audio sink whose goroutine lives until ctx is done. The speaker is
// opened on the first Prepare or Trigger.
func NewAudio(ctx context.Context, log *logger.Logger) *Audio {
	a := newAudio(log)
	go a.run(ctx)
	return a
}

func newAudio(log *logger.Logger) *Audio {
	return &Audio{
		logger:   log,
		mixer:    &beep.Mixer{},
		initFn:   speaker.Init,
		playFn:   speaker.Play,
		lockFn:   speaker.Lock,
		unlockFn: speaker.Unlock,
		pending:  make(chan struct{}, maxQueued),
		warm:     make(chan struct{}, 1),
	}
}

// Prepare requests the speaker to be opened.
func (a *Audio) Prepare() {
	select {
	case a.warm <- struct{}{}:
	default:
	}
}

// Trigger requests a pulse. Requests beyond maxQueued are dropped.
func (a *Audio) Trigger() {
	select {
	case a.pending <- struct{}{}:
	default:
	}
}

func (a *Audio) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.warm:
			a.open()
		case <-a.pending:
			if a.open() {
				a.play()
			}
		}
	}
}

// open initializes the speaker once. A failed initialization is not retried.
func (a *Audio) open() bool {
	if a.ready || a.failed {
		return a.ready
	}
	if err := a.initFn(sampleRate, sampleRate.N(time.Millisecond*100)); err != nil {
		a.logger.Warn("failed to initialize audio output, audio pulses disabled", logger.Err(err))
		a.failed = true
		return false
	}
	a.playFn(a.mixer)
	a.ready = true
	return true
}

// play adds a pulse to the mixer unless maxQueued pulses are still playing.
func (a *Audio) play() {
	a.lockFn()
	defer a.unlockFn()
	if a.mixer.Len() >= maxQueued {
		return
	}
	a.mixer.Add(newPulse(sampleRate, pulseFrequency, pulseDuration))
}

// pulse is a sine wave with an exponential decay, close to the feel of a short vibration.
type pulse struct {
	rate     beep.SampleRate
	freq     float64
	position int
	total    int
}

func newPulse(rate beep.SampleRate, freq float64, duration time.Duration) *pulse {
	return &pulse{rate: rate, freq: freq, total: rate.N(duration)}
}

func (p *pulse) Stream(samples [][2]float64) (n int, ok bool) {
	if p.position >= p.total {
		return 0, false
	}
	for i := range samples {
		if p.position >= p.total {
			return i, true
		}
		t := float64(p.position) / float64(p.rate)
		decay := math.Exp(-5 * float64(p.position) / float64(p.total))
		val := pulseVolume * decay * math.Sin(2*math.Pi*p.freq*t)
		samples[i][0] = val
		samples[i][1] = val
		p.position++
	}
	return len(samples), true
}

func (p *pulse) Err() error { return nil }
