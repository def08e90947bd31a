// Package flow is the client side of the opt-out: a pure state machine plus a controller
// that drives it against the registry API.
package flow

import (
	"eddm-registry/internal/geo"
	"eddm-registry/internal/models"
)

type Phase int

const (
	Idle Phase = iota
	LookingUp
	RouteFound
	LookupFailed
	OptingOut
	OptedOut
	OptOutFailed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case LookingUp:
		return "lookingUp"
	case RouteFound:
		return "routeFound"
	case LookupFailed:
		return "lookupFailed"
	case OptingOut:
		return "optingOut"
	case OptedOut:
		return "optedOut"
	case OptOutFailed:
		return "optOutFailed"
	}
	return "unknown"
}

// InFlight reports whether a request is outstanding in this phase.
func (p Phase) InFlight() bool {
	return p == LookingUp || p == OptingOut
}

// State is everything the UI renders. Route survives an opt-out failure so the user can
// retry without resolving the address again.
type State struct {
	Phase     Phase
	Address   string
	Email     string
	Route     *models.RouteLookup
	Locations []geo.ClusteredLocation
	Result    *models.OptOutResult
	Err       string
}

// CanOptOut reports whether an opt-out may be submitted from this state.
func (s State) CanOptOut() bool {
	return s.Route != nil && (s.Phase == RouteFound || s.Phase == OptOutFailed)
}

// Event is one input to Reduce.
type Event interface {
	isEvent()
}

type (
	AddressSubmitted struct{ Address string }
	RouteResolved    struct{ Route *models.RouteLookup }
	ResolveFailed    struct{ Err string }
	MapLoaded        struct{ Locations []geo.ClusteredLocation }
	OptOutSubmitted  struct{ Email string }
	OptOutRecorded   struct{ Result *models.OptOutResult }
	OptOutRejected   struct{ Err string }
	Reset            struct{}
)

func (AddressSubmitted) isEvent() {}
func (RouteResolved) isEvent()    {}
func (ResolveFailed) isEvent()    {}
func (MapLoaded) isEvent()        {}
func (OptOutSubmitted) isEvent()  {}
func (OptOutRecorded) isEvent()   {}
func (OptOutRejected) isEvent()   {}
func (Reset) isEvent()            {}

// Reduce returns the state after e. Events that do not apply to the current phase leave the
// state unchanged.
func Reduce(s State, e Event) State {
	switch ev := e.(type) {
	case Reset:
		return State{Phase: Idle}

	case AddressSubmitted:
		if s.Phase.InFlight() {
			return s
		}
		return State{Phase: LookingUp, Address: ev.Address}

	case RouteResolved:
		if s.Phase != LookingUp || ev.Route == nil {
			return s
		}
		s.Phase = RouteFound
		s.Route = ev.Route
		s.Err = ""
		return s

	case ResolveFailed:
		if s.Phase != LookingUp {
			return s
		}
		return State{Phase: LookupFailed, Address: s.Address, Err: ev.Err}

	case MapLoaded:
		if s.Route == nil {
			return s
		}
		s.Locations = ev.Locations
		return s

	case OptOutSubmitted:
		if !s.CanOptOut() {
			return s
		}
		s.Phase = OptingOut
		s.Email = ev.Email
		s.Err = ""
		return s

	case OptOutRecorded:
		if s.Phase != OptingOut || ev.Result == nil {
			return s
		}
		s.Phase = OptedOut
		s.Result = ev.Result
		return s

	case OptOutRejected:
		if s.Phase != OptingOut {
			return s
		}
		s.Phase = OptOutFailed
		s.Err = ev.Err
		return s
	}
	return s
}
