// internal/monitoring/events_test.go
package monitoring

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordEvent_Defaults(t *testing.T) {
	h := newHarness(t, nil)

	id := h.sys.RecordEvent(Event{Type: EventSystem, Message: "booted"})
	assert.Regexp(t, `^evt_[0-9a-f-]{36}$`, id)

	events := h.sys.Events(EventFilter{})
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, LevelInfo, events[0].Level)
	assert.Equal(t, h.clock.Now(), events[0].Timestamp)
}

func TestRecordEvent_MaxEventsKeepsNewest(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxEvents = 5 })

	for i := 0; i < 8; i++ {
		h.sys.RecordEvent(Event{Type: "test", Message: fmt.Sprintf("e%d", i)})
	}

	events := h.sys.Events(EventFilter{})
	require.Len(t, events, 5)
	assert.Equal(t, 5, h.sys.EventCount())
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("e%d", i+3), e.Message)
	}
}

func TestSubscribe_BackendHealth(t *testing.T) {
	h := newHarness(t, nil)

	var got []Event
	id := h.sys.Subscribe(EventBackendHealth, func(e Event) error {
		got = append(got, e)
		return nil
	})
	assert.Regexp(t, `^sub_`, id)

	eventID := h.sys.RecordEvent(Event{Type: EventBackendHealth, Source: "be1", Message: "down"})
	h.sys.RecordEvent(Event{Type: EventInference, Source: "be1"})

	require.Len(t, got, 1)
	assert.Equal(t, eventID, got[0].ID)
	assert.Equal(t, "down", got[0].Message)

	assert.True(t, h.sys.Unsubscribe(id))
	h.sys.RecordEvent(Event{Type: EventBackendHealth, Source: "be1"})
	assert.Len(t, got, 1)

	assert.False(t, h.sys.Unsubscribe(id))
}

func TestSubscribe_UniqueIDs(t *testing.T) {
	h := newHarness(t, nil)
	noop := func(Event) error { return nil }

	a := h.sys.Subscribe("x", noop)
	b := h.sys.Subscribe("x", noop)
	assert.NotEqual(t, a, b)
}

func TestSubscribe_OrderAndWildcard(t *testing.T) {
	h := newHarness(t, nil)

	var order []string
	h.sys.Subscribe("job", func(Event) error { order = append(order, "first"); return nil })
	h.sys.Subscribe(AllEvents, func(Event) error { order = append(order, "wildcard"); return nil })
	h.sys.Subscribe("job", func(Event) error { order = append(order, "third"); return nil })

	h.sys.RecordEvent(Event{Type: "job"})
	assert.Equal(t, []string{"first", "wildcard", "third"}, order)

	order = nil
	h.sys.RecordEvent(Event{Type: "other"})
	assert.Equal(t, []string{"wildcard"}, order)
}

func TestSubscribe_FailuresAreIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := newHarness(t, nil)
	h.sys.logger = zap.New(core)

	var delivered int
	h.sys.Subscribe("job", func(Event) error { panic("boom") })
	h.sys.Subscribe("job", func(Event) error { return errors.New("refused") })
	h.sys.Subscribe("job", func(Event) error { delivered++; return nil })

	require.NotPanics(t, func() {
		h.sys.RecordEvent(Event{Type: "job"})
	})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, h.sys.EventCount())
	assert.Equal(t, 2, logs.FilterMessage("event subscriber failed").Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.sys.exporter.subscriberErrors))
}

func TestSubscribe_CallbackMayReenter(t *testing.T) {
	h := newHarness(t, nil)

	h.sys.Subscribe("job", func(e Event) error {
		h.sys.RecordMetric("jobs_seen", 1, nil)
		_ = h.sys.Events(EventFilter{})
		return nil
	})

	done := make(chan struct{})
	go func() {
		h.sys.RecordEvent(Event{Type: "job"})
		close(done)
	}()
	<-done

	_, ok := h.sys.LatestMetric("jobs_seen", nil)
	assert.True(t, ok)
}

func TestEvents_Filter(t *testing.T) {
	h := newHarness(t, nil)

	h.sys.RecordEvent(Event{Type: "a", Level: LevelInfo, Source: "x"})
	h.sys.RecordEvent(Event{Type: "a", Level: LevelError, Source: "y"})
	h.clock.Advance(time.Minute)
	since := h.clock.Now()
	h.sys.RecordEvent(Event{Type: "b", Level: LevelError, Source: "x"})
	h.sys.RecordEvent(Event{Type: "a", Level: LevelError, Source: "x"})

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"all", EventFilter{}, 4},
		{"by type", EventFilter{Type: "a"}, 3},
		{"by level", EventFilter{Level: LevelError}, 3},
		{"by source", EventFilter{Source: "y"}, 1},
		{"since", EventFilter{Since: since}, 2},
		{"until", EventFilter{Until: since}, 2},
		{"since and until", EventFilter{Since: since, Until: since.Add(time.Second)}, 2},
		{"limit keeps newest", EventFilter{Type: "a", Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, h.sys.Events(tt.filter), tt.want)
		})
	}

	last := h.sys.Events(EventFilter{Type: "a", Limit: 1})
	assert.Equal(t, since, last[0].Timestamp)
}
