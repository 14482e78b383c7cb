// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

// stdLibSignalSource is the production implementation.
type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleSignals reacts on user signals until ctx is done. SIGUSR1 pauses or resumes the
// haptic alerts, SIGUSR2 logs the current monitoring status.
func (s *Service) HandleSignals(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				s.togglePause(ctx)
			case syscall.SIGUSR2:
				s.logStatus(ctx)
			}
		}
	}
}

func (s *Service) togglePause(ctx context.Context) {
	if s.paused.Load() {
		s.paused.Store(false)
		s.logger.Info("haptic alerts resumed")
		s.release(ctx, holdPaused)
		return
	}
	s.paused.Store(true)
	s.hold(ctx, holdPaused)
	s.logger.Info("haptic alerts paused")
}
