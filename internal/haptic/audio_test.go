// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package haptic

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/gopxl/beep"

	"github.com/wneessen/navinudge/internal/logger"
)

// fakeSpeaker stands in for the beep speaker and guards the mixer like speaker.Lock does.
type fakeSpeaker struct {
	mu      sync.Mutex
	inits   atomic.Int32
	initErr error
	block   chan struct{}
}

// syncBuffer is a log output that can be read while the sink goroutine writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (f *fakeSpeaker) queued(a *Audio) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return a.mixer.Len()
}

func testAudio(t *testing.T, speaker *fakeSpeaker) (*Audio, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	audio := newAudio(logger.NewLogger(slog.LevelInfo, buf))
	audio.initFn = func(beep.SampleRate, int) error {
		speaker.inits.Add(1)
		if speaker.block != nil {
			<-speaker.block
		}
		return speaker.initErr
	}
	audio.playFn = func(...beep.Streamer) {}
	audio.lockFn = speaker.mu.Lock
	audio.unlockFn = speaker.mu.Unlock
	return audio, buf
}

func TestAudio(t *testing.T) {
	t.Run("prepare opens the speaker once", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			speaker := &fakeSpeaker{}
			audio, _ := testAudio(t, speaker)
			go audio.run(ctx)

			audio.Prepare()
			synctest.Wait()
			audio.Prepare()
			audio.Trigger()
			synctest.Wait()
			if got := speaker.inits.Load(); got != 1 {
				t.Errorf("expected 1 speaker init, got %d", got)
			}
			if got := speaker.queued(audio); got != 1 {
				t.Errorf("expected 1 queued pulse, got %d", got)
			}
		})
	})
	t.Run("prepare and trigger do not wait for the speaker", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			speaker := &fakeSpeaker{block: make(chan struct{})}
			audio, _ := testAudio(t, speaker)
			go audio.run(ctx)

			audio.Prepare()
			for i := 0; i < 10; i++ {
				audio.Prepare()
				audio.Trigger()
			}
			synctest.Wait()
			if got := speaker.inits.Load(); got != 1 {
				t.Fatalf("expected speaker init to be in progress, got %d inits", got)
			}
			close(speaker.block)
			synctest.Wait()
			if got := speaker.queued(audio); got != maxQueued {
				t.Errorf("expected %d queued pulses, got %d", maxQueued, got)
			}
		})
	})
	t.Run("pulses do not pile up", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			speaker := &fakeSpeaker{}
			audio, _ := testAudio(t, speaker)
			go audio.run(ctx)

			for i := 0; i < 10; i++ {
				audio.Trigger()
				synctest.Wait()
			}
			if got := speaker.queued(audio); got != maxQueued {
				t.Errorf("expected %d queued pulses, got %d", maxQueued, got)
			}
		})
	})
	t.Run("failing speaker disables the sink", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			speaker := &fakeSpeaker{initErr: errors.New("no audio device")}
			audio, buf := testAudio(t, speaker)
			go audio.run(ctx)

			audio.Trigger()
			synctest.Wait()
			audio.Trigger()
			synctest.Wait()
			if got := speaker.queued(audio); got != 0 {
				t.Errorf("expected no queued pulse, got %d", got)
			}
			if got := speaker.inits.Load(); got != 1 {
				t.Errorf("expected a failed init not to be retried, got %d inits", got)
			}
			if !strings.Contains(buf.String(), "audio pulses disabled") {
				t.Errorf("expected warning in log output, got %q", buf.String())
			}
		})
	})
}

func TestPulse(t *testing.T) {
	duration := time.Millisecond * 10
	p := newPulse(sampleRate, pulseFrequency, duration)
	total := sampleRate.N(duration)

	samples := make([][2]float64, 128)
	streamed := 0
	peak := 0.0
	for {
		n, ok := p.Stream(samples)
		for i := 0; i < n; i++ {
			if samples[i][0] != samples[i][1] {
				t.Fatalf("expected mono signal at sample %d", streamed+i)
			}
			peak = math.Max(peak, math.Abs(samples[i][0]))
		}
		streamed += n
		if !ok {
			break
		}
	}
	if streamed != total {
		t.Errorf("expected %d samples, got %d", total, streamed)
	}
	if peak == 0 || peak > pulseVolume {
		t.Errorf("expected peak within (0, %f], got %f", pulseVolume, peak)
	}
	if p.Err() != nil {
		t.Errorf("expected no error, got %s", p.Err())
	}
}
