package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OptOutRegistration is one "do not deliver" vote. The address itself is never stored,
// only its hash, which is unique.
type OptOutRegistration struct {
	bun.BaseModel `bun:"table:opt_out_registrations,alias:oor"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	AddressHash  string    `bun:"address_hash,notnull,unique" json:"-"`
	ZipRoute     string    `bun:"zip_route,notnull" json:"zipRoute"`
	CarrierRoute string    `bun:"carrier_route,notnull" json:"carrierRoute"`
	Zip          string    `bun:"zip,notnull" json:"zipCode"`
	City         string    `bun:"city" json:"city"`
	State        string    `bun:"state" json:"state"`
	Lat          float64   `bun:"lat" json:"-"`
	Lng          float64   `bun:"lng" json:"-"`
	Email        *string   `bun:"email" json:"-"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// RouteCounter is the denormalized per-route opt-out count, bumped atomically with
// every new registration.
type RouteCounter struct {
	bun.BaseModel `bun:"table:route_counters,alias:rc"`

	ZipRoute     string    `bun:"zip_route,pk" json:"zipRoute"`
	CarrierRoute string    `bun:"carrier_route,notnull" json:"carrierRoute"`
	Zip          string    `bun:"zip,notnull" json:"zipCode"`
	State        string    `bun:"state" json:"state"`
	OptOutCount  int       `bun:"opt_out_count,notnull,default:0" json:"optOutCount"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// RouteMilestone records the first time a route crossed a percent threshold.
type RouteMilestone struct {
	bun.BaseModel `bun:"table:route_milestones,alias:rm"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	ZipRoute    string    `bun:"zip_route,notnull,unique:route_threshold" json:"zipRoute"`
	Threshold   int       `bun:"threshold,notnull,unique:route_threshold" json:"threshold"`
	OptOutCount int       `bun:"opt_out_count,notnull" json:"optOutCount"`
	ReachedAt   time.Time `bun:"reached_at,notnull,default:current_timestamp" json:"reachedAt"`
}

// NewRegistration is the store input. It carries the hash, never the address.
type NewRegistration struct {
	AddressHash  string
	ZipRoute     string
	CarrierRoute string
	Zip          string
	City         string
	State        string
	Lat          float64
	Lng          float64
	Email        *string
}

// RegistrationOutcome is what the store reports back for one Register call. Counter is
// the state of the route right after the call.
type RegistrationOutcome struct {
	IsNew   bool
	Counter RouteCounter
}

// Subscriber is an email left for milestone outreach on a route.
type Subscriber struct {
	Email     string    `bun:"email" json:"email"`
	CreatedAt time.Time `bun:"created_at" json:"createdAt"`
}

// RouteFilter narrows admin leaderboard queries.
type RouteFilter struct {
	States []string
	Limit  int
	Offset int
}
