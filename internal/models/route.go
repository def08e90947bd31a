package models

import (
	"eddm-registry/internal/geo"
	"eddm-registry/internal/households"
)

// CarrierRoute is the resolved USPS route an address belongs to.
type CarrierRoute struct {
	CarrierRoute string               `json:"carrierRoute"`
	ZipRoute     string               `json:"zipRoute"`
	ZipCode      string               `json:"zipCode"`
	City         string               `json:"city"`
	State        string               `json:"state"`
	RouteType    households.RouteType `json:"routeType"`
}

// RouteStats is the aggregate view of one route. It is always recomputed, never stored.
type RouteStats struct {
	ZipRoute            string                  `json:"zipRoute"`
	OptOutCount         int                     `json:"optOutCount"`
	EstimatedHouseholds int                     `json:"estimatedHouseholds"`
	Confidence          households.Confidence   `json:"confidence"`
	EstimateSource      string                  `json:"estimateSource"`
	PercentOptedOut     float64                 `json:"percentOptedOut"`
	OptOutLocations     []geo.ClusteredLocation `json:"optOutLocations,omitempty"`
}

// RouteActivity is what the store knows about a route, independent of the household
// estimate. The stats cache holds this; the estimate is applied on every read.
type RouteActivity struct {
	ZipRoute        string                  `json:"zipRoute"`
	State           string                  `json:"state,omitempty"`
	OptOutCount     int                     `json:"optOutCount"`
	OptOutLocations []geo.ClusteredLocation `json:"optOutLocations,omitempty"`
}

// RouteLookup is the POST /carrier-route payload.
type RouteLookup struct {
	CarrierRoute
	StandardizedAddress string     `json:"standardizedAddress"`
	Lat                 float64    `json:"lat"`
	Lng                 float64    `json:"lng"`
	Stats               RouteStats `json:"stats"`
}

// OptOutRequest is the POST /do-not-deliver body.
type OptOutRequest struct {
	Address      string  `json:"address"`
	CarrierRoute string  `json:"carrierRoute"`
	ZipCode      string  `json:"zipCode"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Email        string  `json:"email,omitempty"`
}

// OptOutResult is the POST /do-not-deliver payload.
type OptOutResult struct {
	ZipRoute            string  `json:"zipRoute"`
	OptOutCount         int     `json:"optOutCount"`
	EstimatedHouseholds int     `json:"estimatedHouseholds"`
	PercentOptedOut     float64 `json:"percentOptedOut"`
	MilestoneReached    *int    `json:"milestoneReached,omitempty"`
	IsNewOptOut         bool    `json:"isNewOptOut"`
}

// RouteSummary is one admin leaderboard row.
type RouteSummary struct {
	RouteCounter
	EstimatedHouseholds int     `json:"estimatedHouseholds"`
	PercentOptedOut     float64 `json:"percentOptedOut"`
}

// ResolvedAddress is what the address resolution collaborator returns for a free-text address.
type ResolvedAddress struct {
	DeliveryLine1 string
	LastLine      string
	ZipCode       string
	City          string
	State         string
	CarrierRoute  string
	Lat           float64
	Lng           float64
}

// Standardized joins the two delivery lines the way they are printed on a mail piece.
func (r ResolvedAddress) Standardized() string {
	switch {
	case r.DeliveryLine1 == "":
		return r.LastLine
	case r.LastLine == "":
		return r.DeliveryLine1
	}
	return r.DeliveryLine1 + ", " + r.LastLine
}
