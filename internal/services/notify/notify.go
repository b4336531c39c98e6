package notify

import (
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindStatusUpdated Kind = "status_updated"
	KindStatusFailed  Kind = "status_failed"
	KindCheckedIn     Kind = "checked_in"
	KindCheckInFailed Kind = "check_in_failed"
	KindPermission    Kind = "permission"
	KindOrderLoaded   Kind = "order_loaded"
	KindOrderFailed   Kind = "order_failed"
	KindInvalidInput  Kind = "invalid_input"
)

// Event is a user-visible outcome, the equivalent of a toast on the device.
type Event struct {
	At      time.Time `json:"at"`
	OrderID int       `json:"orderId,omitempty"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Code    int       `json:"code,omitempty"`
	Body    string    `json:"body,omitempty"`
}

func (e Event) Failed() bool {
	switch e.Kind {
	case KindStatusFailed, KindCheckInFailed, KindOrderFailed, KindInvalidInput:
		return true
	}
	return false
}

type Notifier interface {
	Notify(e Event)
}

type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

// Log writes events to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (n Log) Notify(e Event) {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	args := []any{"kind", string(e.Kind), "order_id", e.OrderID}
	if e.Code != 0 {
		args = append(args, "code", e.Code)
	}
	if e.Body != "" {
		args = append(args, "body", e.Body)
	}
	if e.Failed() {
		l.Warn(e.Message, args...)
		return
	}
	l.Info(e.Message, args...)
}

// Recorder keeps the most recent events for the control API.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 100
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append([]Event(nil), r.events[over:]...)
	}
}

// Events returns a copy, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

// Multi fans out to every non-nil notifier.
func Multi(ns ...Notifier) Notifier {
	return Func(func(e Event) {
		for _, n := range ns {
			if n != nil {
				n.Notify(e)
			}
		}
	})
}
