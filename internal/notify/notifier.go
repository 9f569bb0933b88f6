// Package notify pushes progress snapshots to an external subscriber.
// Delivery is best-effort and at-most-once: the progress store is the state
// of record, never this stream.
package notify

import (
	"log/slog"
	"sync"
)

// Event is the payload pushed to the subscriber after each persisted batch
// and on terminal transitions.
type Event struct {
	JobID      int64   `json:"jobId"`
	OwnerID    int64   `json:"ownerId"`
	Progress   float64 `json:"progress"`
	Total      int     `json:"total"`
	Processed  int     `json:"processed"`
	Status     string  `json:"status"`
	SourceName string  `json:"sourceName"`

	// AuthToken authorizes the HTTP fallback call. Never serialized.
	AuthToken string `json:"-"`
}

// Notifier delivers events without ever blocking or failing the caller.
type Notifier interface {
	Notify(Event)
}

// Discard is a Notifier that drops everything. Useful when no subscriber is
// configured and in tests.
type Discard struct{}

func (Discard) Notify(Event) {}

// Dispatcher fans events out on a dedicated goroutine. Callers observe no
// latency: a full buffer drops the event rather than waiting. Route order:
// established duplex socket first, HTTP fallback when a token is present,
// otherwise drop.
type Dispatcher struct {
	events  chan Event
	socket  *Socket
	webhook *Webhook
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine.
// socket and webhook may each be nil when unconfigured.
func NewDispatcher(socket *Socket, webhook *Webhook, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		events:  make(chan Event, buffer),
		socket:  socket,
		webhook: webhook,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues the event. Never blocks; drops when the buffer is full.
func (d *Dispatcher) Notify(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.logger.Debug("notification dropped, buffer full", "job_id", ev.JobID)
	}
}

// Close stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.events) })
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	// An established socket wins. A failed send counts as attempted: it marks
	// the socket disconnected so later events take the fallback, but this one
	// is not re-sent.
	if d.socket != nil && d.socket.Connected() {
		if err := d.socket.Send(ev); err != nil {
			d.logger.Warn("socket push failed", "job_id", ev.JobID, "error", err)
		}
		return
	}

	if d.webhook != nil && ev.AuthToken != "" {
		if err := d.webhook.Send(ev); err != nil {
			d.logger.Warn("fallback notification failed", "job_id", ev.JobID, "error", err)
		}
		return
	}

	d.logger.Debug("notification dropped, no delivery path", "job_id", ev.JobID)
}
