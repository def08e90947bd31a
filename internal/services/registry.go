package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"sort"
	"strings"
	"time"

	"eddm-registry/internal/address"
	"eddm-registry/internal/events"
	"eddm-registry/internal/geo"
	"eddm-registry/internal/households"
	"eddm-registry/internal/logger"
	"eddm-registry/internal/models"

	"go.uber.org/zap"
)

var (
	ErrInvalidAddress = errors.New("could not understand address")
	ErrInvalidRequest = errors.New("invalid request")
	ErrResolution     = errors.New("failed to look up address")
	ErrStorage        = errors.New("storage unavailable")
	ErrRouteNotFound  = errors.New("route not found")
)

const maxAddressLength = 300

// AddressResolver turns a free-text address into a standardized one with its carrier route.
type AddressResolver interface {
	Resolve(ctx context.Context, freeText string) (models.ResolvedAddress, error)
}

// StatsCache holds per-route activity. Implementations may be lossy; every error is
// treated as a miss.
type StatsCache interface {
	Get(ctx context.Context, zipRoute string) (models.RouteActivity, bool, error)
	Set(ctx context.Context, activity models.RouteActivity) error
	Invalidate(ctx context.Context, zipRoute string) error
}

type RegistryOptions struct {
	Thresholds          []int
	MinClusterSize      int
	CoordinatePrecision int
	LookupTimeout       time.Duration
}

type RegistryService struct {
	store     OptOutStore
	resolver  AddressResolver
	estimator households.Source
	clusterer geo.Clusterer
	hasher    address.Hasher
	cache     StatsCache
	observer  events.Observer
	opts      RegistryOptions
	logr      *logger.Logger
}

// NewRegistryService wires the registry. cache and observer may be nil.
func NewRegistryService(
	store OptOutStore,
	resolver AddressResolver,
	estimator households.Source,
	clusterer geo.Clusterer,
	hasher address.Hasher,
	cache StatsCache,
	observer events.Observer,
	opts RegistryOptions,
	logr *logger.Logger,
) *RegistryService {
	if observer == nil {
		observer = events.Nop{}
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 8 * time.Second
	}
	if len(opts.Thresholds) == 0 {
		opts.Thresholds = []int{25, 50, 75, 100}
	}
	thresholds := append([]int(nil), opts.Thresholds...)
	sort.Ints(thresholds)
	opts.Thresholds = thresholds
	if logr == nil {
		logr = logger.Nop()
	}
	return &RegistryService{
		store:     store,
		resolver:  resolver,
		estimator: estimator,
		clusterer: clusterer,
		hasher:    hasher,
		cache:     cache,
		observer:  observer,
		opts:      opts,
		logr:      logr,
	}
}

// LookupRoute resolves an address to its carrier route and returns the route's current stats.
func (s *RegistryService) LookupRoute(ctx context.Context, freeText string) (*models.RouteLookup, error) {
	freeText = strings.TrimSpace(freeText)
	if freeText == "" || len(freeText) > maxAddressLength || address.Normalize(freeText) == "" {
		return nil, ErrInvalidAddress
	}

	start := time.Now()
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.LookupTimeout)
	defer cancel()

	resolved, err := s.resolver.Resolve(lookupCtx, freeText)
	if err != nil {
		s.observer.Notify(events.RouteLookupFailed, map[string]any{"elapsed": time.Since(start)})
		return nil, fmt.Errorf("%w: %v", ErrResolution, err)
	}

	zipRoute := address.ZipRoute(resolved.ZipCode, resolved.CarrierRoute)
	if _, _, ok := address.SplitZipRoute(zipRoute); !ok {
		s.observer.Notify(events.RouteLookupFailed, map[string]any{"elapsed": time.Since(start)})
		return nil, fmt.Errorf("%w: unexpected carrier route %q for zip %q", ErrResolution, resolved.CarrierRoute, resolved.ZipCode)
	}

	stats, err := s.RouteStats(ctx, zipRoute, resolved.State)
	if err != nil {
		return nil, err
	}

	s.observer.Notify(events.RouteLookup, map[string]any{
		"zip_route": zipRoute,
		"state":     resolved.State,
		"elapsed":   time.Since(start),
	})

	return &models.RouteLookup{
		CarrierRoute: models.CarrierRoute{
			CarrierRoute: strings.ToUpper(resolved.CarrierRoute),
			ZipRoute:     zipRoute,
			ZipCode:      resolved.ZipCode,
			City:         resolved.City,
			State:        resolved.State,
			RouteType:    households.ParseRouteType(resolved.CarrierRoute),
		},
		StandardizedAddress: resolved.Standardized(),
		Lat:                 resolved.Lat,
		Lng:                 resolved.Lng,
		Stats:               stats,
	}, nil
}

// RouteStats aggregates the current count, household estimate and clustered locations of
// one route. state is optional; the state recorded on the route counter is used otherwise.
func (s *RegistryService) RouteStats(ctx context.Context, zipRoute, state string) (models.RouteStats, error) {
	zip, route, ok := address.SplitZipRoute(zipRoute)
	if !ok {
		return models.RouteStats{}, fmt.Errorf("%w: zipRoute must look like 62704C045", ErrInvalidRequest)
	}

	activity, err := s.routeActivity(ctx, zip+route)
	if err != nil {
		return models.RouteStats{}, err
	}
	if strings.TrimSpace(state) == "" {
		state = activity.State
	}

	// the estimate depends on the caller's state, so it is never cached
	estimate := s.estimator.Estimate(route, state, zip)
	return models.RouteStats{
		ZipRoute:            activity.ZipRoute,
		OptOutCount:         activity.OptOutCount,
		EstimatedHouseholds: estimate.Households,
		Confidence:          estimate.Confidence,
		EstimateSource:      estimate.Source,
		PercentOptedOut:     RoundPercent(PercentOptedOut(activity.OptOutCount, estimate.Households)),
		OptOutLocations:     activity.OptOutLocations,
	}, nil
}

// routeActivity reads the count and clustered locations of a route, through the cache.
func (s *RegistryService) routeActivity(ctx context.Context, zipRoute string) (models.RouteActivity, error) {
	if s.cache != nil {
		cached, found, err := s.cache.Get(ctx, zipRoute)
		if err != nil {
			s.logr.Warn("stats cache read failed", zap.String("zip_route", zipRoute), zap.Error(err))
		} else if found {
			return cached, nil
		}
	}

	counter, _, err := s.store.Counter(ctx, zipRoute)
	if err != nil {
		return models.RouteActivity{}, fmt.Errorf("%w: read counter: %v", ErrStorage, err)
	}
	locations, err := s.store.Locations(ctx, zipRoute)
	if err != nil {
		return models.RouteActivity{}, fmt.Errorf("%w: read locations: %v", ErrStorage, err)
	}

	activity := models.RouteActivity{
		ZipRoute:        zipRoute,
		State:           counter.State,
		OptOutCount:     counter.OptOutCount,
		OptOutLocations: geo.FilterMinCount(s.clusterer.Cluster(locations), s.opts.MinClusterSize),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, activity); err != nil {
			s.logr.Warn("stats cache write failed", zap.String("zip_route", zipRoute), zap.Error(err))
		}
	}
	return activity, nil
}

// Register records an opt-out for the address. Resubmitting an address already on file is
// not an error: it returns the current stats with IsNewOptOut false.
func (s *RegistryService) Register(ctx context.Context, req models.OptOutRequest) (*models.OptOutResult, error) {
	start := time.Now()

	reg, err := s.newRegistration(req)
	if err != nil {
		return nil, err
	}

	outcome, err := s.store.Register(ctx, reg)
	if err != nil {
		s.observer.Notify(events.OptOutFailed, map[string]any{"zip_route": reg.ZipRoute, "elapsed": time.Since(start)})
		return nil, fmt.Errorf("%w: register: %v", ErrStorage, err)
	}

	counter := outcome.Counter
	if counter.ZipRoute == "" {
		counter.ZipRoute = reg.ZipRoute
		counter.CarrierRoute = reg.CarrierRoute
		counter.Zip = reg.Zip
	}
	state := counter.State
	if state == "" {
		state = reg.State
	}

	estimate := s.estimator.Estimate(counter.CarrierRoute, state, counter.Zip)
	after := PercentOptedOut(counter.OptOutCount, estimate.Households)

	result := &models.OptOutResult{
		ZipRoute:            counter.ZipRoute,
		OptOutCount:         counter.OptOutCount,
		EstimatedHouseholds: estimate.Households,
		PercentOptedOut:     RoundPercent(after),
		IsNewOptOut:         outcome.IsNew,
	}

	if !outcome.IsNew {
		s.logr.Info("repeat opt-out", zap.String("zip_route", counter.ZipRoute), logger.HashField(reg.AddressHash))
		s.observer.Notify(events.RepeatOptOut, map[string]any{"zip_route": counter.ZipRoute, "elapsed": time.Since(start)})
		return result, nil
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, counter.ZipRoute); err != nil {
			s.logr.Warn("stats cache invalidate failed", zap.String("zip_route", counter.ZipRoute), zap.Error(err))
		}
	}

	before := PercentOptedOut(counter.OptOutCount-1, estimate.Households)
	if threshold := CrossedMilestone(before, after, s.opts.Thresholds); threshold != nil {
		recorded, err := s.store.RecordMilestone(ctx, counter.ZipRoute, *threshold, counter.OptOutCount)
		switch {
		case err != nil:
			// the count-based crossing is already unique per route, so still report it
			s.logr.Warn("record milestone failed", zap.String("zip_route", counter.ZipRoute), zap.Int("milestone", *threshold), zap.Error(err))
			result.MilestoneReached = threshold
		case recorded:
			result.MilestoneReached = threshold
		}
	}

	s.logr.Info("new opt-out",
		zap.String("zip_route", counter.ZipRoute),
		zap.Bool("is_new", true),
		zap.Int("opt_out_count", counter.OptOutCount),
		logger.HashField(reg.AddressHash),
	)
	s.observer.Notify(events.NewOptOut, map[string]any{
		"zip_route":     counter.ZipRoute,
		"opt_out_count": counter.OptOutCount,
		"elapsed":       time.Since(start),
	})
	if result.MilestoneReached != nil {
		s.logr.Info("milestone reached", zap.String("zip_route", counter.ZipRoute), zap.Int("milestone", *result.MilestoneReached))
		s.observer.Notify(events.MilestoneReached, map[string]any{
			"zip_route": counter.ZipRoute,
			"threshold": *result.MilestoneReached,
		})
	}
	return result, nil
}

// newRegistration validates the request and reduces it to what may be stored: the hash,
// the route and coarsened coordinates.
func (s *RegistryService) newRegistration(req models.OptOutRequest) (models.NewRegistration, error) {
	if len(req.Address) > maxAddressLength {
		return models.NewRegistration{}, ErrInvalidAddress
	}
	hash, err := s.hasher.Hash(req.Address)
	if err != nil {
		return models.NewRegistration{}, ErrInvalidAddress
	}

	zip, route, ok := address.SplitZipRoute(address.ZipRoute(req.ZipCode, req.CarrierRoute))
	if !ok {
		return models.NewRegistration{}, fmt.Errorf("%w: carrier route and zip code are required", ErrInvalidRequest)
	}
	if !address.ValidCoordinate(req.Lat, req.Lng) {
		return models.NewRegistration{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidRequest)
	}

	var email *string
	if e := strings.TrimSpace(req.Email); e != "" {
		parsed, err := mail.ParseAddress(e)
		if err != nil {
			return models.NewRegistration{}, fmt.Errorf("%w: invalid email", ErrInvalidRequest)
		}
		normalized := strings.ToLower(parsed.Address)
		email = &normalized
	}

	return models.NewRegistration{
		AddressHash:  hash,
		ZipRoute:     zip + route,
		CarrierRoute: route,
		Zip:          zip,
		City:         strings.TrimSpace(req.City),
		State:        strings.ToUpper(strings.TrimSpace(req.State)),
		Lat:          address.Coarsen(req.Lat, s.opts.CoordinatePrecision),
		Lng:          address.Coarsen(req.Lng, s.opts.CoordinatePrecision),
		Email:        email,
	}, nil
}

// TopRoutes is the admin leaderboard.
func (s *RegistryService) TopRoutes(ctx context.Context, filter models.RouteFilter) ([]models.RouteSummary, error) {
	counters, err := s.store.TopRoutes(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: top routes: %v", ErrStorage, err)
	}
	out := make([]models.RouteSummary, 0, len(counters))
	for _, c := range counters {
		est := s.estimator.Estimate(c.CarrierRoute, c.State, c.Zip)
		out = append(out, models.RouteSummary{
			RouteCounter:        c,
			EstimatedHouseholds: est.Households,
			PercentOptedOut:     RoundPercent(PercentOptedOut(c.OptOutCount, est.Households)),
		})
	}
	return out, nil
}

func (s *RegistryService) Subscribers(ctx context.Context, zipRoute string) ([]models.Subscriber, error) {
	zip, route, ok := address.SplitZipRoute(zipRoute)
	if !ok {
		return nil, fmt.Errorf("%w: zipRoute must look like 62704C045", ErrInvalidRequest)
	}
	_, found, err := s.store.Counter(ctx, zip+route)
	if err != nil {
		return nil, fmt.Errorf("%w: read counter: %v", ErrStorage, err)
	}
	if !found {
		return nil, ErrRouteNotFound
	}
	subs, err := s.store.Subscribers(ctx, zip+route)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribers: %v", ErrStorage, err)
	}
	return subs, nil
}

func (s *RegistryService) Milestones(ctx context.Context, limit int) ([]models.RouteMilestone, error) {
	milestones, err := s.store.Milestones(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: milestones: %v", ErrStorage, err)
	}
	return milestones, nil
}

// PercentOptedOut is count as a percentage of households, and 0 when there are no
// households to divide by.
func PercentOptedOut(count, households int) float64 {
	if households <= 0 || count <= 0 {
		return 0
	}
	return float64(count) * 100 / float64(households)
}

// RoundPercent rounds to two decimals for display.
func RoundPercent(p float64) float64 {
	return math.Round(p*100) / 100
}

// CrossedMilestone returns the highest threshold t with before <= t < after, i.e. the
// highest threshold this registration pushed the route past. thresholds must be sorted.
func CrossedMilestone(before, after float64, thresholds []int) *int {
	var crossed *int
	for i := range thresholds {
		t := float64(thresholds[i])
		if before <= t && t < after {
			v := thresholds[i]
			crossed = &v
		}
	}
	return crossed
}
