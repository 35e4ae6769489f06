// Package delivery sends routed events to their destinations and classifies
// the result of every attempt.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/picorelay/pkg/bus"
	"github.com/tinyland-inc/picorelay/pkg/events"
	"github.com/tinyland-inc/picorelay/pkg/logger"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

const (
	DefaultConcurrency = 4
	DefaultSendTimeout = 10 * time.Second
)

// Sender performs the provider call for one destination.
type Sender interface {
	Deliver(ctx context.Context, destinationID string, ev events.Event) error
	SendText(ctx context.Context, chatID string, text string) error
}

// StatsRecorder counts resolved attempts.
type StatsRecorder interface {
	RecordDelivery(ctx context.Context, delivered bool) error
}

// Notifier tells operators about failures. Implementations must not block.
type Notifier interface {
	Notify(n bus.Notice)
}

// Observer sees every counted attempt after it was classified.
type Observer func(ctx context.Context, a Attempt)

// Attempt is the outcome of one provider call for one destination.
type Attempt struct {
	Event         events.Event
	SourceID      string
	DestinationID string
	Outcome       Outcome
	Err           error
	StartedAt     time.Time
	Duration      time.Duration
}

// Detail is the failure text, empty for a delivered attempt.
func (a Attempt) Detail() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

type Option func(*Engine)

func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sendTimeout = d
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithTransientThreshold notifies operators after n consecutive transient
// failures for the same destination. Zero disables it.
func WithTransientThreshold(n int) Option {
	return func(e *Engine) { e.transientThreshold = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	sender             Sender
	stats              StatsRecorder
	notifier           Notifier
	observers          []Observer
	concurrency        int
	sendTimeout        time.Duration
	transientThreshold int
	now                func() time.Time

	mu        sync.Mutex
	transient map[string]int
}

func NewEngine(sender Sender, stats StatsRecorder, opts ...Option) *Engine {
	e := &Engine{
		sender:      sender,
		stats:       stats,
		concurrency: DefaultConcurrency,
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
		transient:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliver attempts every destination of rule exactly once. Attempts are
// independent: one failing destination never prevents the others. The
// result is in the rule's destination order.
func (e *Engine) Deliver(ctx context.Context, ev events.Event, rule store.Rule) []Attempt {
	attempts := make([]Attempt, len(rule.DestinationIDs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, dest := range rule.DestinationIDs {
		g.Go(func() error {
			attempts[i] = e.attempt(ctx, ev, rule.SourceID, dest)
			return nil
		})
	}
	_ = g.Wait()

	return attempts
}

func (e *Engine) attempt(ctx context.Context, ev events.Event, sourceID, dest string) Attempt {
	start := e.now()
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	err := e.sender.Deliver(sendCtx, dest, ev)
	cancel()

	a := Attempt{
		Event:         ev,
		SourceID:      sourceID,
		DestinationID: dest,
		Outcome:       Classify(err),
		Err:           err,
		StartedAt:     start,
		Duration:      e.now().Sub(start),
	}

	// Recording uses a detached context so a cancelled request still counts.
	if rerr := e.stats.RecordDelivery(context.WithoutCancel(ctx), a.Outcome == Delivered); rerr != nil {
		logger.WarnCF("delivery", "Failed to record delivery stats", map[string]any{
			"error": rerr.Error(),
		})
	}

	e.report(a)
	for _, o := range e.observers {
		o(ctx, a)
	}
	return a
}

func (e *Engine) report(a Attempt) {
	fields := map[string]any{
		"event_id":       a.Event.EventID,
		"source_id":      a.SourceID,
		"destination_id": a.DestinationID,
		"message_id":     a.Event.MessageID,
		"outcome":        a.Outcome.String(),
		"duration_ms":    a.Duration.Milliseconds(),
	}

	switch a.Outcome {
	case Delivered:
		logger.InfoCF("delivery", "Message relayed", fields)
		e.resetTransient(a.DestinationID)

	case PermanentFailure:
		fields["error"] = a.Detail()
		logger.ErrorCF("delivery", "Destination rejected message", fields)
		e.resetTransient(a.DestinationID)
		e.notify(bus.Notice{
			Severity:      bus.SeverityError,
			SourceID:      a.SourceID,
			DestinationID: a.DestinationID,
			Text: fmt.Sprintf(
				"Relay from %s to %s failed permanently: %s\nThe rule stays active. Fix the destination or remove it with /remove_destination %s.",
				a.SourceID, a.DestinationID, a.Detail(), a.DestinationID),
		})

	case TransientFailure:
		fields["error"] = a.Detail()
		logger.WarnCF("delivery", "Delivery failed, message dropped", fields)
		if n, hit := e.countTransient(a.DestinationID); hit {
			e.notify(bus.Notice{
				Severity:      bus.SeverityWarning,
				SourceID:      a.SourceID,
				DestinationID: a.DestinationID,
				Text: fmt.Sprintf("Relay from %s to %s failed %d times in a row. Last error: %s",
					a.SourceID, a.DestinationID, n, a.Detail()),
			})
		}
	}
}

func (e *Engine) countTransient(dest string) (int, bool) {
	if e.transientThreshold <= 0 {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transient[dest]++
	n := e.transient[dest]
	if n >= e.transientThreshold {
		e.transient[dest] = 0
		return n, true
	}
	return n, false
}

func (e *Engine) resetTransient(dest string) {
	if e.transientThreshold <= 0 {
		return
	}
	e.mu.Lock()
	delete(e.transient, dest)
	e.mu.Unlock()
}

func (e *Engine) notify(n bus.Notice) {
	if e.notifier == nil {
		return
	}
	n.ID = uuid.NewString()
	n.At = e.now()
	e.notifier.Notify(n)
}

// Probe sends text to every destination of rule and classifies each result.
// Probes are not counted in stats and do not notify.
func (e *Engine) Probe(ctx context.Context, rule store.Rule, text string) []Attempt {
	attempts := make([]Attempt, len(rule.DestinationIDs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, dest := range rule.DestinationIDs {
		g.Go(func() error {
			start := e.now()
			sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
			err := e.sender.SendText(sendCtx, dest, text)
			cancel()
			attempts[i] = Attempt{
				SourceID:      rule.SourceID,
				DestinationID: dest,
				Outcome:       Classify(err),
				Err:           err,
				StartedAt:     start,
				Duration:      e.now().Sub(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	return attempts
}
