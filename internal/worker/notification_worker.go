// Package worker runs background delivery of ticket events.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

var (
	// ErrQueueFull is returned when the forwarder cannot accept more events.
	ErrQueueFull = errors.New("event queue full")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("event forwarder closed")
)

const (
	defaultQueueSize = 256
	sendTimeout      = 5 * time.Second
)

// Sender delivers one event to an external system.
type Sender interface {
	Send(ctx context.Context, event events.Event) error
}

// EventForwarder queues events in memory and delivers them from a single
// goroutine so request handlers never wait on the broker.
type EventForwarder struct {
	sender Sender
	logger *zap.Logger
	queue  chan events.Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewEventForwarder creates a forwarder with the given queue capacity.
func NewEventForwarder(sender Sender, logger *zap.Logger, size int) *EventForwarder {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventForwarder{
		sender: sender,
		logger: logger,
		queue:  make(chan events.Event, size),
		done:   make(chan struct{}),
	}
}

// Send enqueues the event without blocking.
func (f *EventForwarder) Send(_ context.Context, event events.Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	select {
	case f.queue <- event:
		return nil
	default:
		f.logger.Warn("dropping event, queue full",
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID))
		return ErrQueueFull
	}
}

// Run delivers queued events until Close is called and the queue is drained.
func (f *EventForwarder) Run(ctx context.Context) {
	defer close(f.done)
	for event := range f.queue {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		if err := f.sender.Send(sendCtx, event); err != nil {
			f.logger.Warn("forward event failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits for Run to drain the queue. Run must
// have been started.
func (f *EventForwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	<-f.done
}

// StartNotificationWorker registers notification handlers and starts the
// forwarder loop. The returned function drains pending events.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, forwarder *EventForwarder) func() {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if forwarder == nil {
		return func() {}
	}
	go forwarder.Run(ctx)
	return forwarder.Close
}
