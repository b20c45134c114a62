// SPDX-License-Identifier: MPL-2.0

package subscribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/invoke"
	"github.com/invowk/msrun/internal/metrics"
)

const (
	// DefaultInterval is the pause between two liveness checks.
	DefaultInterval = 1500 * time.Millisecond

	// StoppedMessage is the notification text sent when the container dies.
	StoppedMessage = "Container unexpectedly stopped"
)

// ErrSubscribe is the sentinel error wrapped by SubscribeError.
var ErrSubscribe = errors.New("subscription failed")

type (
	// Invoker runs the initial event invocation. *invoke.Engine satisfies it.
	Invoker interface {
		Exec(ctx context.Context, req invoke.Request) (*invoke.Result, error)
	}

	// Instance is the container a subscription watches.
	// *lifecycle.Manager satisfies it.
	Instance interface {
		IsRunning(ctx context.Context) (bool, error)
		Stderr(ctx context.Context) (string, error)
		Stop(ctx context.Context) (container.ContainerID, error)
	}

	// Clock provides the polling timer.
	Clock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
	}

	// RealClock implements Clock with the system time.
	RealClock struct{}

	// Request identifies the event to subscribe to.
	Request struct {
		Action string
		Event  string
		Args   map[string]string
		Env    map[string]string
	}

	// Notification reports a change observed by a subscription.
	Notification struct {
		Status bool
		Notif  string
		// Log carries the container's stderr for failures.
		Log  string
		Time time.Time
	}

	// SubscribeError is returned when the initial invocation fails. Stderr
	// holds the container's stderr at that time.
	SubscribeError struct {
		Action string
		Event  string
		Stderr string
		Cause  error
	}

	// Option configures a Subscriber.
	Option func(*Subscriber)

	// Subscriber creates subscriptions against one instance.
	Subscriber struct {
		invoker  Invoker
		instance Instance
		clock    Clock
		interval time.Duration
		logger   *log.Logger
		metrics  *metrics.Metrics
	}

	// Subscription is a running liveness watch. Notifications is closed
	// once the watch ends.
	Subscription struct {
		// Initial is the result of the invocation that opened the subscription.
		Initial *invoke.Result

		notifications chan Notification
		cancel        chan struct{}
		cancelOnce    sync.Once
		done          chan struct{}
	}
)

// Now returns the current system time.
func (RealClock) Now() time.Time { return time.Now() }

// After returns a channel that receives after d.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Error implements the error interface.
func (e *SubscribeError) Error() string {
	msg := fmt.Sprintf("failed subscribing to event %s of action %s: %v", e.Event, e.Action, e.Cause)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

// Unwrap returns the sentinel and the cause.
func (e *SubscribeError) Unwrap() []error { return []error{ErrSubscribe, e.Cause} }

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *Subscriber) {
		s.clock = c
	}
}

// WithInterval sets the polling interval. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Subscriber) {
		s.logger = l.WithPrefix("subscribe")
	}
}

// WithMetrics tracks active subscriptions on the given instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Subscriber) {
		s.metrics = m
	}
}

// New creates a Subscriber.
func New(invoker Invoker, instance Instance, opts ...Option) *Subscriber {
	s := &Subscriber{
		invoker:  invoker,
		instance: instance,
		clock:    RealClock{},
		interval: DefaultInterval,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "subscribe", Level: log.WarnLevel}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe runs the event's command once and starts watching the
// container. Requests that fail validation are returned as is and leave
// the container alone. When the command itself fails a still-running
// container is stopped and a *SubscribeError is returned.
//
// The watch ends when ctx is done, Cancel is called, or the container is
// found stopped; in the last case one failure Notification is delivered
// first.
func (s *Subscriber) Subscribe(ctx context.Context, req Request) (*Subscription, error) {
	res, err := s.invoker.Exec(ctx, invoke.Request{Action: req.Action, Event: req.Event, Args: req.Args, Env: req.Env})
	if err != nil {
		var failure *invoke.ExecutionFailureError
		if !errors.As(err, &failure) {
			return nil, err
		}
		if running, _ := s.instance.IsRunning(ctx); running {
			if _, stopErr := s.instance.Stop(ctx); stopErr != nil {
				s.logger.Warn("stop after failed subscription", "error", stopErr)
			}
		}
		stderr, _ := s.instance.Stderr(ctx)
		return nil, &SubscribeError{Action: req.Action, Event: req.Event, Stderr: stderr, Cause: err}
	}

	sub := &Subscription{
		Initial:       res,
		notifications: make(chan Notification, 1),
		cancel:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	s.metrics.SubscriptionStarted()
	s.logger.Debug("subscribed", "action", req.Action, "event", req.Event, "interval", s.interval)
	go s.watch(ctx, sub)
	return sub, nil
}

func (s *Subscriber) watch(ctx context.Context, sub *Subscription) {
	defer close(sub.done)
	defer close(sub.notifications)
	defer s.metrics.SubscriptionEnded()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.cancel:
			return
		case <-s.clock.After(s.interval):
		}

		running, err := s.instance.IsRunning(ctx)
		if ctx.Err() != nil {
			return
		}
		if running {
			continue
		}

		n := Notification{Status: false, Notif: StoppedMessage, Time: s.clock.Now()}
		if err != nil {
			n.Log = err.Error()
		} else {
			n.Log, _ = s.instance.Stderr(ctx)
		}
		s.logger.Warn(StoppedMessage, "inspect_error", err)

		select {
		case sub.notifications <- n:
		case <-ctx.Done():
		case <-sub.cancel:
		}
		return
	}
}

// Notifications delivers at most one failure notification and is closed
// when the watch ends.
func (sub *Subscription) Notifications() <-chan Notification {
	return sub.notifications
}

// Cancel ends the watch without a notification. It is safe to call more
// than once.
func (sub *Subscription) Cancel() {
	sub.cancelOnce.Do(func() { close(sub.cancel) })
}

// Done is closed after the watch has ended.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}
