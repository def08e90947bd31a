package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"eddm-registry/internal/client"
	"eddm-registry/internal/events"
	"eddm-registry/internal/models"

	"go.uber.org/zap"
)

const (
	lookupFailedMsg = "Failed to look up address, please try again"
	optOutFailedMsg = "Failed to register opt-out, please try again"
)

// API is the part of the registry the flow talks to.
type API interface {
	LookupRoute(ctx context.Context, address string) (*models.RouteLookup, error)
	RouteStats(ctx context.Context, zipRoute, state string) (*models.RouteStats, error)
	OptOut(ctx context.Context, req models.OptOutRequest) (*models.OptOutResult, error)
}

var _ API = (*client.Client)(nil)

// Flow drives one visitor through lookup and opt-out. It is safe for concurrent use; a
// second request while one is in flight is ignored.
type Flow struct {
	api           API
	tracker       events.Observer
	logr          *zap.Logger
	lookupTimeout time.Duration

	mu    sync.Mutex
	state State
}

func New(api API, tracker events.Observer, lookupTimeout time.Duration, logr *zap.Logger) *Flow {
	if tracker == nil {
		tracker = events.Nop{}
	}
	if logr == nil {
		logr = zap.NewNop()
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 10 * time.Second
	}
	return &Flow{api: api, tracker: tracker, logr: logr, lookupTimeout: lookupTimeout}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// dispatch applies e and reports whether the phase moved.
func (f *Flow) dispatch(e Event) (State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := f.state.Phase
	f.state = Reduce(f.state, e)
	return f.state, f.state.Phase != before
}

// Lookup resolves address to its route. The opt-out map is fetched afterwards and a failure
// there leaves the route result intact.
func (f *Flow) Lookup(ctx context.Context, address string) State {
	s, moved := f.dispatch(AddressSubmitted{Address: address})
	if !moved {
		return s
	}

	lctx, cancel := context.WithTimeout(ctx, f.lookupTimeout)
	defer cancel()

	started := time.Now()
	route, err := f.api.LookupRoute(lctx, address)
	if err != nil {
		f.logr.Warn("route lookup failed", zap.Error(err))
		f.tracker.Notify(events.RouteLookupFailed, map[string]any{
			"status":  client.StatusOf(err),
			"elapsed": time.Since(started),
		})
		s, _ = f.dispatch(ResolveFailed{Err: userMessage(err, lookupFailedMsg)})
		return s
	}

	f.tracker.Notify(events.RouteLookup, map[string]any{
		"zip_route": route.ZipRoute,
		"elapsed":   time.Since(started),
	})
	s, _ = f.dispatch(RouteResolved{Route: route})

	stats, err := f.api.RouteStats(lctx, route.ZipRoute, route.State)
	if err != nil {
		f.logr.Debug("opt-out map unavailable", zap.String("zip_route", route.ZipRoute), zap.Error(err))
		return s
	}
	s, _ = f.dispatch(MapLoaded{Locations: stats.OptOutLocations})
	return s
}

// OptOut registers the looked-up address. On failure the route is kept so it can be retried.
func (f *Flow) OptOut(ctx context.Context, email string) State {
	s, moved := f.dispatch(OptOutSubmitted{Email: email})
	if !moved {
		return s
	}

	route := s.Route
	// the hash is taken over the resolver's canonical form so spelling variants dedupe
	canonical := route.StandardizedAddress
	if canonical == "" {
		canonical = s.Address
	}
	req := models.OptOutRequest{
		Address:      canonical,
		CarrierRoute: route.CarrierRoute.CarrierRoute,
		ZipCode:      route.ZipCode,
		City:         route.City,
		State:        route.State,
		Lat:          route.Lat,
		Lng:          route.Lng,
		Email:        email,
	}

	started := time.Now()
	result, err := f.api.OptOut(ctx, req)
	if err != nil {
		f.logr.Warn("opt-out failed", zap.String("zip_route", route.ZipRoute), zap.Error(err))
		f.tracker.Notify(events.OptOutFailed, map[string]any{
			"zip_route": route.ZipRoute,
			"status":    client.StatusOf(err),
			"elapsed":   time.Since(started),
		})
		s, _ = f.dispatch(OptOutRejected{Err: userMessage(err, optOutFailedMsg)})
		return s
	}

	name := events.RepeatOptOut
	if result.IsNewOptOut {
		name = events.NewOptOut
	}
	f.tracker.Notify(name, map[string]any{
		"zip_route": result.ZipRoute,
		"count":     result.OptOutCount,
		"percent":   result.PercentOptedOut,
		"has_email": email != "",
		"elapsed":   time.Since(started),
	})
	if result.MilestoneReached != nil {
		f.tracker.Notify(events.MilestoneReached, map[string]any{
			"zip_route": result.ZipRoute,
			"threshold": *result.MilestoneReached,
		})
	}

	s, _ = f.dispatch(OptOutRecorded{Result: result})
	return s
}

func (f *Flow) Reset() State {
	s, _ := f.dispatch(Reset{})
	return s
}

// userMessage prefers the server's own text for 4xx replies; anything else gets fallback.
func userMessage(err error, fallback string) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
