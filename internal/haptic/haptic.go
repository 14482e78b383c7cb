// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package haptic implements the actuators that are fired when a destination is reached.
// All sinks are fire-and-forget: Trigger and Prepare return immediately and never queue up
// more than one pending pulse.
package haptic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wneessen/navinudge/internal/logger"
)

const (
	SinkNotify = "notify"
	SinkAudio  = "audio"
	SinkLog    = "log"
)

// Message is the text shown by sinks that display something.
type Message struct {
	Summary string
	Body    string
}

// DefaultMessage is used when no localized message is available.
var DefaultMessage = Message{
	Summary: "Destination nearby",
	Body:    "You are approaching one of your destinations.",
}

// Sink is a tactile (or audible/visual) actuator.
type Sink interface {
	// Trigger fires an alert now.
	Trigger()
	// Prepare warms the actuator up for a likely upcoming Trigger. It may be called often.
	Prepare()
}

// Log is a Sink that only writes a log record for every pulse.
type Log struct {
	logger *logger.Logger
}

// NewLog returns a Sink writing to log.
func NewLog(log *logger.Logger) *Log {
	return &Log{logger: log}
}

func (l *Log) Trigger() {
	l.logger.Info("haptic pulse: destination nearby")
}

func (l *Log) Prepare() {}

// Multi fans every call out to all of its sinks.
type Multi []Sink

func (m Multi) Trigger() {
	for _, sink := range m {
		sink.Trigger()
	}
}

func (m Multi) Prepare() {
	for _, sink := range m {
		sink.Prepare()
	}
}

// New builds the sinks named in names. Sinks that need a running goroutine are bound to
// ctx. An unknown name is an error, an audio device that cannot be opened is only logged.
func New(ctx context.Context, log *logger.Logger, names []string, msg Message) (Multi, error) {
	kinds := make([]string, 0, len(names))
	for _, name := range names {
		kind := strings.ToLower(strings.TrimSpace(name))
		switch kind {
		case SinkNotify, SinkAudio, SinkLog:
			kinds = append(kinds, kind)
		default:
			return nil, fmt.Errorf("unsupported haptic sink: %q", name)
		}
	}

	sinks := make(Multi, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case SinkNotify:
			sinks = append(sinks, NewNotify(ctx, log, msg))
		case SinkAudio:
			sinks = append(sinks, NewAudio(ctx, log))
		case SinkLog:
			sinks = append(sinks, NewLog(log))
		}
	}
	log.Debug("haptic sinks initialized", slog.Int("count", len(sinks)))
	return sinks, nil
}
