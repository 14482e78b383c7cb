// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/navinudge/internal/logger"
)

const (
	login1Path      = dbus.ObjectPath("/org/freedesktop/login1")
	login1Interface = "org.freedesktop.login1.Manager"
	login1Member    = "PrepareForSleep"

	resumeDebounce   = 2 * time.Second
	signalBufferSize = 8

	busReconnectDelay   = 5 * time.Second
	reconnectDelay      = 2 * time.Second
	subscribeRetryDelay = 10 * time.Second
)

// sleepState remembers when the system went to sleep and when it last resumed, as unix nanos.
type sleepState struct {
	sleptAt    atomic.Int64
	lastResume atomic.Int64
}

// monitorSleepResume follows the login1 PrepareForSleep signal. Monitoring is stopped before
// the system suspends and started again after resume, keeping the trigger state of all
// destinations.
func (s *Service) monitorSleepResume(ctx context.Context) {
	for {
		conn, sigCh, ok := s.subscribeSleepSignals(ctx)
		if !ok {
			return
		}
		s.handleSleepSignals(ctx, sigCh)

		conn.RemoveSignal(sigCh)
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close system bus connection", logger.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
			s.logger.Debug("reconnecting to system bus for sleep signals")
		}
	}
}

// subscribeSleepSignals connects to the system bus and subscribes to PrepareForSleep. It
// retries until it succeeds and only returns false once ctx is canceled.
func (s *Service) subscribeSleepSignals(ctx context.Context) (*dbus.Conn, chan *dbus.Signal, bool) {
	for {
		conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
		if err != nil {
			if !sleepCtx(ctx, busReconnectDelay) {
				return nil, nil, false
			}
			continue
		}

		if err = conn.AddMatchSignal(dbus.WithMatchObjectPath(login1Path),
			dbus.WithMatchInterface(login1Interface), dbus.WithMatchMember(login1Member),
		); err != nil {
			s.logger.Error("failed to subscribe to sleep signal", slog.String("interface", login1Interface),
				slog.String("member", login1Member), logger.Err(err))
			_ = conn.Close()
			if !sleepCtx(ctx, subscribeRetryDelay) {
				return nil, nil, false
			}
			continue
		}

		sigCh := make(chan *dbus.Signal, signalBufferSize)
		conn.Signal(sigCh)
		s.logger.Debug("subscribed to sleep signal", slog.String("interface", login1Interface),
			slog.String("member", login1Member))
		return conn, sigCh, true
	}
}

// handleSleepSignals processes signals until ctx is canceled or the connection went away.
func (s *Service) handleSleepSignals(ctx context.Context, sigCh chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sgn, ok := <-sigCh:
			if !ok {
				return
			}
			s.processSleepSignal(ctx, sgn)
		}
	}
}

// processSleepSignal dispatches a PrepareForSleep signal. Its only argument is true before
// suspend and false after resume.
func (s *Service) processSleepSignal(ctx context.Context, sgn *dbus.Signal) {
	if len(sgn.Body) != 1 {
		return
	}
	sleeping, ok := sgn.Body[0].(bool)
	if !ok {
		return
	}
	if sleeping {
		s.handleSleepEvent(ctx)
		return
	}
	s.handleResumeEvent(ctx)
}

// handleSleepEvent stops monitoring so no pulse fires while the system goes down.
func (s *Service) handleSleepEvent(ctx context.Context) {
	s.logger.Debug("system is going to sleep, stopping proximity monitoring")
	s.sleep.sleptAt.Store(time.Now().UnixNano())
	s.hold(ctx, holdSuspended)
}

// handleResumeEvent restarts monitoring after the system woke up. Resume events within
// resumeDebounce of the previous one are ignored.
func (s *Service) handleResumeEvent(ctx context.Context) {
	now := time.Now()
	last := s.sleep.lastResume.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < resumeDebounce {
		return
	}
	s.sleep.lastResume.Store(now.UnixNano())

	attrs := []any{}
	if sleptAt := s.sleep.sleptAt.Swap(0); sleptAt != 0 {
		attrs = append(attrs, slog.Duration("slept", now.Sub(time.Unix(0, sleptAt))))
	}
	s.logger.Debug("resuming from sleep, restarting proximity monitoring", attrs...)
	s.release(ctx, holdSuspended)
}

// sleepCtx waits for d and reports false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
