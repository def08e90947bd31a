// Package households estimates how many delivery points a USPS carrier route serves.
//
// The numbers come from static per-route-type averages scaled by a per-state density
// factor. They are approximations for advocacy statistics, not authoritative USPS counts.
package households

import (
	"math"
	"strings"
	"unicode"
)

type RouteType string

const (
	RouteCity            RouteType = "city"
	RouteRural           RouteType = "rural"
	RouteHighway         RouteType = "highway"
	RoutePOBox           RouteType = "po_box"
	RouteGeneralDelivery RouteType = "general_delivery"
	RouteUnknown         RouteType = "unknown"
)

// defaultDensityFactor applies to states missing from stateDensity.
const defaultDensityFactor = 0.9

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

const (
	SourceBoxExclusion = "eddm_box_route_exclusion"
	SourceRouteAverage = "route_type_average"
)

// Estimate is the household count attributed to one carrier route.
type Estimate struct {
	Households int        `json:"estimate"`
	Confidence Confidence `json:"confidence"`
	Source     string     `json:"source"`
	RouteType  RouteType  `json:"routeType"`
}

// Source provides household estimates. The aggregator depends on this rather than on
// Estimator so a verified-count source can replace the heuristic later.
type Source interface {
	Estimate(carrierRoute, state, zip string) Estimate
}

var baseHouseholds = map[RouteType]int{
	RouteCity:    550,
	RouteRural:   450,
	RouteHighway: 400,
}

// stateDensity scales the route-type base by how densely each state is settled.
var stateDensity = map[string]float64{
	"AL": 0.90, "AK": 0.70, "AZ": 1.00, "AR": 0.85, "CA": 1.15,
	"CO": 1.00, "CT": 1.10, "DE": 1.00, "DC": 1.30, "FL": 1.10,
	"GA": 1.00, "HI": 1.05, "ID": 0.80, "IL": 1.00, "IN": 0.95,
	"IA": 0.85, "KS": 0.85, "KY": 0.90, "LA": 0.90, "ME": 0.80,
	"MD": 1.10, "MA": 1.15, "MI": 0.95, "MN": 0.95, "MS": 0.85,
	"MO": 0.90, "MT": 0.70, "NE": 0.85, "NV": 1.00, "NH": 0.90,
	"NJ": 1.25, "NM": 0.80, "NY": 1.20, "NC": 0.95, "ND": 0.75,
	"OH": 1.00, "OK": 0.85, "OR": 0.95, "PA": 1.05, "RI": 1.10,
	"SC": 0.90, "SD": 0.75, "TN": 0.90, "TX": 1.05, "UT": 0.95,
	"VT": 0.75, "VA": 1.00, "WA": 1.05, "WV": 0.80, "WI": 0.95,
	"WY": 0.70,
}

// Estimator is the static-table household estimator.
type Estimator struct{}

// NewEstimator returns the default estimator.
func NewEstimator() Estimator {
	return Estimator{}
}

// ParseRouteType derives the route type from the route code prefix.
func ParseRouteType(carrierRoute string) RouteType {
	code := strings.TrimSpace(carrierRoute)
	if code == "" {
		return RouteUnknown
	}
	first := rune(code[0])
	if !unicode.IsLetter(first) {
		return RouteUnknown
	}
	switch unicode.ToUpper(first) {
	case 'C':
		return RouteCity
	case 'R':
		return RouteRural
	case 'H':
		return RouteHighway
	case 'B':
		return RoutePOBox
	case 'G':
		return RouteGeneralDelivery
	default:
		return RouteUnknown
	}
}

// DensityFactor returns the state multiplier and whether the state has an explicit entry.
func DensityFactor(state string) (float64, bool) {
	f, ok := stateDensity[strings.ToUpper(strings.TrimSpace(state))]
	if !ok {
		return defaultDensityFactor, false
	}
	return f, true
}

// Estimate never fails: unrecognised input falls back to a low-confidence city average.
// The zip argument is accepted for interface stability and is not used by the formula.
func (Estimator) Estimate(carrierRoute, state, _ string) Estimate {
	routeType := ParseRouteType(carrierRoute)
	if routeType == RoutePOBox || routeType == RouteGeneralDelivery {
		// EDDM saturation mail is never delivered to box-only routes
		return Estimate{
			Households: 0,
			Confidence: ConfidenceHigh,
			Source:     SourceBoxExclusion,
			RouteType:  routeType,
		}
	}

	base, ok := baseHouseholds[routeType]
	if !ok {
		base = baseHouseholds[RouteCity]
	}
	factor, explicit := DensityFactor(state)

	confidence := ConfidenceLow
	if routeType == RouteCity && explicit {
		confidence = ConfidenceMedium
	}

	return Estimate{
		Households: int(math.Round(float64(base) * factor)),
		Confidence: confidence,
		Source:     SourceRouteAverage,
		RouteType:  routeType,
	}
}
