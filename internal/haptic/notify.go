// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package haptic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/navinudge/internal/logger"
)

const (
	notifyDestination = "org.freedesktop.Notifications"
	notifyPath        = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod      = "org.freedesktop.Notifications.Notify"
	notifyAppName     = "navinudge"
	notifyIcon        = "find-location"
	notifyExpire      = int32(5000)
	urgencyCritical   = byte(2)
)

// Notify is a Sink that shows a desktop notification through the freedesktop
// notification service on the session bus. Notification daemons on mobile Linux
// (feedbackd, phosh) turn critical notifications into a vibration.
type Notify struct {
	logger   *logger.Logger
	summary  string
	body     string
	objectFn func() (dbus.BusObject, error)
	object   dbus.BusObject

	pending chan struct{}
	warm    chan struct{}
}

// NewNotify returns a Notify sink. Calls to the notification service are made on a
// goroutine that lives until ctx is done.
func NewNotify(ctx context.Context, log *logger.Logger, msg Message) *Notify {
	n := newNotify(log, msg, sessionNotifications)
	go n.run(ctx)
	return n
}

func newNotify(log *logger.Logger, msg Message, objectFn func() (dbus.BusObject, error)) *Notify {
	if msg.Summary == "" {
		msg = DefaultMessage
	}
	return &Notify{
		logger:   log,
		summary:  msg.Summary,
		body:     msg.Body,
		objectFn: objectFn,
		pending:  make(chan struct{}, 1),
		warm:     make(chan struct{}, 1),
	}
}

// Trigger requests a notification. Triggers arriving while one is pending are coalesced.
func (n *Notify) Trigger() {
	select {
	case n.pending <- struct{}{}:
	default:
	}
}

// Prepare requests the session bus connection to be established.
func (n *Notify) Prepare() {
	select {
	case n.warm <- struct{}{}:
	default:
	}
}

func (n *Notify) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.warm:
			_, _ = n.connect()
		case <-n.pending:
			if err := n.notify(); err != nil {
				n.logger.Error("failed to send desktop notification", logger.Err(err))
			}
		}
	}
}

func (n *Notify) connect() (dbus.BusObject, error) {
	if n.object != nil {
		return n.object, nil
	}
	obj, err := n.objectFn()
	if err != nil {
		n.logger.Warn("notification service not available", logger.Err(err))
		return nil, err
	}
	n.object = obj
	n.logger.Debug("connected to notification service", slog.String("destination", notifyDestination))
	return obj, nil
}

func (n *Notify) notify() error {
	obj, err := n.connect()
	if err != nil {
		return err
	}
	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(urgencyCritical),
		"category":      dbus.MakeVariant("navigation"),
		"desktop-entry": dbus.MakeVariant(notifyAppName),
	}
	call := obj.Go(notifyMethod, dbus.FlagNoReplyExpected, nil,
		notifyAppName, uint32(0), notifyIcon, n.summary, n.body, []string{}, hints, notifyExpire)
	if call != nil && call.Err != nil {
		// Drop the connection so the next pulse reconnects
		n.object = nil
		return fmt.Errorf("notification call failed: %w", call.Err)
	}
	return nil
}

func sessionNotifications() (dbus.BusObject, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return conn.Object(notifyDestination, notifyPath), nil
}
