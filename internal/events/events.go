// Package events is the analytics side channel. Callers notify observers and never
// depend on the outcome.
package events

import (
	"sync"

	"go.uber.org/zap"
)

const (
	RouteLookup       = "route_lookup"
	RouteLookupFailed = "route_lookup_failed"
	NewOptOut         = "new_opt_out"
	RepeatOptOut      = "repeat_opt_out"
	OptOutFailed      = "opt_out_failed"
	MilestoneReached  = "milestone_reached"
)

// Observer receives analytics events.
type Observer interface {
	Notify(event string, fields map[string]any)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event string, fields map[string]any)

func (f ObserverFunc) Notify(event string, fields map[string]any) { f(event, fields) }

// Nop discards events.
type Nop struct{}

func (Nop) Notify(string, map[string]any) {}

// Multi fans an event out to every observer.
type Multi []Observer

func (m Multi) Notify(event string, fields map[string]any) {
	for _, o := range m {
		if o != nil {
			o.Notify(event, fields)
		}
	}
}

// Async delivers events on a separate goroutine and swallows observer panics,
// so a broken observer can never stall or crash the request that emitted the event.
type Async struct {
	next Observer
	logr *zap.Logger
	wg   sync.WaitGroup
}

func NewAsync(next Observer, logr *zap.Logger) *Async {
	if logr == nil {
		logr = zap.NewNop()
	}
	return &Async{next: next, logr: logr}
}

func (a *Async) Notify(event string, fields map[string]any) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logr.Warn("observer panicked", zap.String("event", event), zap.Any("panic", r))
			}
		}()
		a.next.Notify(event, fields)
	}()
}

// Wait blocks until in-flight notifications finish. Used on shutdown and in tests.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Logging writes every event at debug level.
type Logging struct {
	Logr *zap.Logger
}

func (l Logging) Notify(event string, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("event", event))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	l.Logr.Debug("analytics event", zf...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	Name   string
	Fields map[string]any
}

func (r *Recorder) Notify(event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Name: event, Fields: fields})
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.Events))
	for i, e := range r.Events {
		names[i] = e.Name
	}
	return names
}
