package flow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"eddm-registry/internal/client"
	"eddm-registry/internal/events"
	"eddm-registry/internal/geo"
	"eddm-registry/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	mu sync.Mutex

	route     *models.RouteLookup
	lookupErr error
	block     bool

	stats    *models.RouteStats
	statsErr error

	result    *models.OptOutResult
	optOutErr error
	requests  []models.OptOutRequest
}

func (s *stubAPI) LookupRoute(ctx context.Context, address string) (*models.RouteLookup, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.route, s.lookupErr
}

func (s *stubAPI) RouteStats(ctx context.Context, zipRoute, state string) (*models.RouteStats, error) {
	return s.stats, s.statsErr
}

func (s *stubAPI) OptOut(ctx context.Context, req models.OptOutRequest) (*models.OptOutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result, s.optOutErr
}

func springfield() *models.RouteLookup {
	return &models.RouteLookup{
		CarrierRoute: models.CarrierRoute{
			CarrierRoute: "C045", ZipRoute: "62704C045", ZipCode: "62704", City: "Springfield", State: "IL",
		},
		StandardizedAddress: "123 Main St, Springfield IL 62704",
		Lat:                 39.78,
		Lng:                 -89.65,
	}
}

func TestFlowLookupAndOptOut(t *testing.T) {
	threshold := 25
	api := &stubAPI{
		route: springfield(),
		stats: &models.RouteStats{OptOutLocations: []geo.ClusteredLocation{{Lat: 39.78, Lng: -89.65, Count: 3}}},
		result: &models.OptOutResult{
			ZipRoute: "62704C045", OptOutCount: 138, PercentOptedOut: 25.09, IsNewOptOut: true, MilestoneReached: &threshold,
		},
	}
	rec := &events.Recorder{}
	f := New(api, rec, time.Second, nil)

	s := f.Lookup(context.Background(), "123 Main St")
	require.Equal(t, RouteFound, s.Phase)
	assert.Equal(t, "62704C045", s.Route.ZipRoute)
	assert.Len(t, s.Locations, 1)

	s = f.OptOut(context.Background(), "a@b.org")
	require.Equal(t, OptedOut, s.Phase)
	assert.Equal(t, 138, s.Result.OptOutCount)

	require.Len(t, api.requests, 1)
	assert.Equal(t, models.OptOutRequest{
		Address: "123 Main St, Springfield IL 62704", CarrierRoute: "C045", ZipCode: "62704", City: "Springfield",
		State: "IL", Lat: 39.78, Lng: -89.65, Email: "a@b.org",
	}, api.requests[0])

	assert.Equal(t, []string{events.RouteLookup, events.NewOptOut, events.MilestoneReached}, rec.Names())
}

func TestFlowOptOutSendsStandardizedAddress(t *testing.T) {
	api := &stubAPI{route: springfield(), stats: &models.RouteStats{}, result: &models.OptOutResult{OptOutCount: 1, IsNewOptOut: true}}
	ctx := context.Background()

	for _, typed := range []string{"123 Main St, Springfield, IL", "123 Main Street Springfield IL 62704"} {
		f := New(api, nil, time.Second, nil)
		f.Lookup(ctx, typed)
		f.OptOut(ctx, "")
	}

	require.Len(t, api.requests, 2)
	assert.Equal(t, "123 Main St, Springfield IL 62704", api.requests[0].Address)
	assert.Equal(t, api.requests[0].Address, api.requests[1].Address)
}

func TestFlowOptOutFallsBackToTypedAddress(t *testing.T) {
	route := springfield()
	route.StandardizedAddress = ""
	api := &stubAPI{route: route, stats: &models.RouteStats{}, result: &models.OptOutResult{OptOutCount: 1}}
	f := New(api, nil, time.Second, nil)

	f.Lookup(context.Background(), "123 Main St")
	f.OptOut(context.Background(), "")

	require.Len(t, api.requests, 1)
	assert.Equal(t, "123 Main St", api.requests[0].Address)
}

func TestFlowRepeatOptOutEvent(t *testing.T) {
	api := &stubAPI{route: springfield(), stats: &models.RouteStats{}, result: &models.OptOutResult{OptOutCount: 5}}
	rec := &events.Recorder{}
	f := New(api, rec, time.Second, nil)

	f.Lookup(context.Background(), "123 Main St")
	s := f.OptOut(context.Background(), "")

	assert.Equal(t, OptedOut, s.Phase)
	assert.False(t, s.Result.IsNewOptOut)
	assert.Equal(t, []string{events.RouteLookup, events.RepeatOptOut}, rec.Names())
}

func TestFlowLookupFailure(t *testing.T) {
	api := &stubAPI{lookupErr: &client.APIError{Status: http.StatusBadGateway, Message: "upstream exploded"}}
	rec := &events.Recorder{}
	f := New(api, rec, time.Second, nil)

	s := f.Lookup(context.Background(), "123 Main St")
	assert.Equal(t, LookupFailed, s.Phase)
	assert.Equal(t, lookupFailedMsg, s.Err)
	assert.Equal(t, []string{events.RouteLookupFailed}, rec.Names())

	// a new address can be entered right away
	api.lookupErr = nil
	api.route = springfield()
	s = f.Lookup(context.Background(), "123 Main St")
	assert.Equal(t, RouteFound, s.Phase)
}

func TestFlowLookupShowsValidationMessage(t *testing.T) {
	api := &stubAPI{lookupErr: &client.APIError{Status: http.StatusBadRequest, Message: "Could not understand address"}}
	f := New(api, nil, time.Second, nil)

	s := f.Lookup(context.Background(), "???")
	assert.Equal(t, "Could not understand address", s.Err)
}

func TestFlowLookupTimeout(t *testing.T) {
	api := &stubAPI{block: true}
	f := New(api, nil, 20*time.Millisecond, nil)

	start := time.Now()
	s := f.Lookup(context.Background(), "123 Main St")

	assert.Equal(t, LookupFailed, s.Phase)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFlowMapFailureIsNotCritical(t *testing.T) {
	api := &stubAPI{route: springfield(), statsErr: errors.New("boom")}
	f := New(api, nil, time.Second, nil)

	s := f.Lookup(context.Background(), "123 Main St")
	assert.Equal(t, RouteFound, s.Phase)
	assert.Empty(t, s.Err)
	assert.Nil(t, s.Locations)
}

func TestFlowOptOutFailureCanRetry(t *testing.T) {
	api := &stubAPI{route: springfield(), stats: &models.RouteStats{}, optOutErr: errors.New("connection reset")}
	rec := &events.Recorder{}
	f := New(api, rec, time.Second, nil)

	f.Lookup(context.Background(), "123 Main St")
	s := f.OptOut(context.Background(), "")
	require.Equal(t, OptOutFailed, s.Phase)
	assert.Equal(t, optOutFailedMsg, s.Err)
	assert.NotNil(t, s.Route)

	api.optOutErr = nil
	api.result = &models.OptOutResult{OptOutCount: 1, IsNewOptOut: true}
	s = f.OptOut(context.Background(), "")
	assert.Equal(t, OptedOut, s.Phase)
	assert.Len(t, api.requests, 2)
	assert.Equal(t, []string{events.RouteLookup, events.OptOutFailed, events.NewOptOut}, rec.Names())
}

func TestFlowOptOutBeforeLookupIsIgnored(t *testing.T) {
	api := &stubAPI{}
	f := New(api, nil, time.Second, nil)

	s := f.OptOut(context.Background(), "")
	assert.Equal(t, Idle, s.Phase)
	assert.Empty(t, api.requests)
}

func TestFlowReset(t *testing.T) {
	api := &stubAPI{route: springfield(), stats: &models.RouteStats{}}
	f := New(api, nil, time.Second, nil)
	f.Lookup(context.Background(), "123 Main St")

	assert.Equal(t, State{Phase: Idle}, f.Reset())
	assert.Equal(t, Idle, f.State().Phase)
}
