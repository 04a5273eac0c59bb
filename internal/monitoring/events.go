// internal/monitoring/events.go
package monitoring

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscriber receives events. A returned error or a panic is logged and
// does not stop delivery to other subscribers.
type Subscriber func(Event) error

// EventFilter selects stored events. Zero fields match everything; Limit
// keeps the newest matches. Since is inclusive, Until exclusive.
type EventFilter struct {
	Type   string
	Level  string
	Source string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// RecordEvent stores an event and delivers it synchronously to the
// subscribers of its type, in registration order. It returns the event id.
func (s *System) RecordEvent(e Event) string {
	if e.ID == "" {
		e.ID = "evt_" + uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	e.Tags = e.Tags.clone()

	s.mu.Lock()
	s.events.push(e)
	var targets []subscription
	for _, sub := range s.subs {
		if sub.eventType == e.Type || sub.eventType == AllEvents {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	s.exporter.observeEvent(e)

	for _, sub := range targets {
		s.deliver(sub, e)
	}
	return e.ID
}

func (s *System) deliver(sub subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.subscriberFailed(&SubscriberError{SubscriptionID: sub.id, EventType: e.Type, Cause: r})
		}
	}()
	if err := sub.fn(e); err != nil {
		s.subscriberFailed(&SubscriberError{SubscriptionID: sub.id, EventType: e.Type, Cause: err})
	}
}

func (s *System) subscriberFailed(err *SubscriberError) {
	s.exporter.subscriberErrors.Inc()
	s.logger.Error("event subscriber failed",
		zap.String("subscription", err.SubscriptionID),
		zap.String("event_type", err.EventType),
		zap.Error(err))
}

// Subscribe registers fn for eventType ("*" for every type) and returns
// the subscription id
func (s *System) Subscribe(eventType string, fn Subscriber) string {
	id := "sub_" + uuid.New().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscription{id: id, eventType: eventType, fn: fn})
	return id
}

// Unsubscribe removes a subscription and reports whether it existed
func (s *System) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Events returns stored events matching f, oldest first
func (s *System) Events(f EventFilter) []Event {
	s.mu.RLock()
	all := s.events.items()
	s.mu.RUnlock()

	out := make([]Event, 0, len(all))
	for _, e := range all {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// EventCount returns the number of stored events
func (s *System) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.len()
}
