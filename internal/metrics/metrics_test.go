package metrics

import (
	"testing"
	"time"

	"eddm-registry/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNotifyCountsEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Notify(events.RouteLookup, nil)
	m.Notify(events.RouteLookupFailed, nil)
	m.Notify(events.NewOptOut, nil)
	m.Notify(events.NewOptOut, nil)
	m.Notify(events.RepeatOptOut, nil)
	m.Notify(events.MilestoneReached, map[string]any{"threshold": 50})
	m.Notify("unrelated", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Registrations.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations.WithLabelValues("repeat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Milestones.WithLabelValues("50")))
}

func TestObserveDurations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Notify(events.RouteLookup, map[string]any{"elapsed": 120 * time.Millisecond})
	m.Notify(events.NewOptOut, map[string]any{"elapsed": 8 * time.Millisecond})
	m.Notify(events.RepeatOptOut, map[string]any{"elapsed": "not a duration"})

	assert.Equal(t, 1, testutil.CollectAndCount(m.LookupDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RegistrationDuration))
}
