// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package proximity

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
)

// DefaultInboxSize is the number of events that can be queued before callers block.
const DefaultInboxSize = 64

var (
	// ErrMonitorClosed is returned when an event is sent after Run returned.
	ErrMonitorClosed = errors.New("proximity monitor is closed")

	// ErrMonitorHeld is returned by Start while at least one hold is active.
	ErrMonitorHeld = errors.New("proximity monitor is held")
)

type eventKind int

const (
	eventFix eventKind = iota
	eventSync
	eventStart
	eventStop
	eventHold
	eventRelease
	eventStatus
)

type event struct {
	kind    eventKind
	fix     Fix
	targets []Target
	reason  string
	reply   chan reply
}

type reply struct {
	err    error
	status Status
}

// Status is a point in time view of the engine.
type Status struct {
	Monitoring bool
	Tracked    int
	Holds      []string
}

// Monitor owns an Engine and applies all events to it on a single goroutine. Fixes,
// destination updates and start/stop requests share one queue, so they are applied in the
// order they were sent. A hold keeps monitoring off until it is released, regardless of
// Start requests queued in the meantime.
type Monitor struct {
	engine   *Engine
	inbox    chan event
	done     chan struct{}
	stopping atomic.Int32
	holds    map[string]struct{}
}

// NewMonitor returns a Monitor for engine. size is the capacity of the event queue. The
// given holds are active from the start.
func NewMonitor(engine *Engine, size int, holds ...string) *Monitor {
	if size <= 0 {
		size = DefaultInboxSize
	}
	m := &Monitor{
		engine: engine,
		inbox:  make(chan event, size),
		done:   make(chan struct{}),
		holds:  make(map[string]struct{}, len(holds)),
	}
	for _, reason := range holds {
		m.holds[reason] = struct{}{}
	}
	return m
}

// Run processes events until ctx is done. It must be called exactly once.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.inbox:
			m.handle(ev)
		}
	}
}

func (m *Monitor) handle(ev event) {
	var res reply
	switch ev.kind {
	case eventFix:
		// Queued fixes are dropped while a stop request is pending
		if m.stopping.Load() == 0 {
			m.engine.OnFix(ev.fix)
		}
	case eventSync:
		m.engine.Sync(ev.targets)
	case eventStart:
		res.err = m.start()
	case eventStop:
		m.engine.Stop()
		m.stopping.Add(-1)
	case eventHold:
		m.holds[ev.reason] = struct{}{}
		m.engine.Stop()
		m.stopping.Add(-1)
	case eventRelease:
		if _, ok := m.holds[ev.reason]; ok {
			delete(m.holds, ev.reason)
			res.err = m.start()
		}
	case eventStatus:
		res.status = Status{Monitoring: m.engine.Monitoring(), Tracked: m.engine.Tracked()}
		for reason := range m.holds {
			res.status.Holds = append(res.status.Holds, reason)
		}
		slices.Sort(res.status.Holds)
	}
	if ev.reply != nil {
		ev.reply <- res
	}
}

func (m *Monitor) start() error {
	if len(m.holds) > 0 {
		return ErrMonitorHeld
	}
	return m.engine.Start()
}

// Fix queues a position fix for evaluation.
func (m *Monitor) Fix(ctx context.Context, fix Fix) error {
	return m.send(ctx, event{kind: eventFix, fix: fix})
}

// Sync queues a complete destination snapshot. Every fix sent after Sync returned is
// evaluated against the new snapshot.
func (m *Monitor) Sync(ctx context.Context, targets []Target) error {
	snapshot := make([]Target, len(targets))
	copy(snapshot, targets)
	return m.send(ctx, event{kind: eventSync, targets: snapshot})
}

// Start enables monitoring and waits until it was applied. It returns ErrNoDestinations if
// no destination is tracked and ErrMonitorHeld while a hold is active.
func (m *Monitor) Start(ctx context.Context) error {
	res, err := m.request(ctx, event{kind: eventStart})
	if err != nil {
		return err
	}
	return res.err
}

// Stop disables monitoring. Once it returned, the sink is not called anymore until the
// next Start. Fixes still queued when Stop is called are discarded.
func (m *Monitor) Stop(ctx context.Context) error {
	return m.stop(ctx, event{kind: eventStop})
}

// Hold stops monitoring like Stop and keeps it off until Release is called with the same
// reason. Holding an already held reason again has no further effect.
func (m *Monitor) Hold(ctx context.Context, reason string) error {
	return m.stop(ctx, event{kind: eventHold, reason: reason})
}

// Release drops the hold for reason. Monitoring is started again once no hold is left,
// with the errors of Start. Releasing a reason that is not held does nothing.
func (m *Monitor) Release(ctx context.Context, reason string) error {
	res, err := m.request(ctx, event{kind: eventRelease, reason: reason})
	if err != nil {
		return err
	}
	return res.err
}

func (m *Monitor) stop(ctx context.Context, ev event) error {
	m.stopping.Add(1)
	ev.reply = make(chan reply, 1)
	if err := m.send(ctx, ev); err != nil {
		m.stopping.Add(-1)
		return err
	}
	_, err := m.wait(ctx, ev)
	return err
}

// Status returns the current state of the engine.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	res, err := m.request(ctx, event{kind: eventStatus})
	return res.status, err
}

func (m *Monitor) request(ctx context.Context, ev event) (reply, error) {
	ev.reply = make(chan reply, 1)
	if err := m.send(ctx, ev); err != nil {
		return reply{}, err
	}
	return m.wait(ctx, ev)
}

func (m *Monitor) wait(ctx context.Context, ev event) (reply, error) {
	select {
	case res := <-ev.reply:
		return res, nil
	case <-m.done:
		select {
		case res := <-ev.reply:
			return res, nil
		default:
			return reply{}, ErrMonitorClosed
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (m *Monitor) send(ctx context.Context, ev event) error {
	select {
	case <-m.done:
		return ErrMonitorClosed
	default:
	}
	select {
	case m.inbox <- ev:
		return nil
	case <-m.done:
		return ErrMonitorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
