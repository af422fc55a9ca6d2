package effects

import "slices"

// Event is the unit published on the event channel, either by the host
// (Engine.Dispatch) or by a task (Put). Events must not be mutated once
// published.
type Event struct {
	Type    string
	Payload any
}

// Pattern selects the events a Take waits for.
// Only the patterns defined in this package implement it.
type Pattern interface {
	Match(Event) bool
	sealedPattern()
}

var (
	_ Pattern = Exact("")
	_ Pattern = OneOf{}
	_ Pattern = Where(nil)
	_ Pattern = Wildcard
)

// Exact matches events of a single type.
type Exact string

func (p Exact) Match(ev Event) bool { return ev.Type == string(p) }
func (Exact) sealedPattern()        {}

// OneOf matches events whose type is in the set.
type OneOf []string

func (p OneOf) Match(ev Event) bool { return slices.Contains(p, ev.Type) }
func (OneOf) sealedPattern()        {}

// Where matches events accepted by the predicate.
type Where func(Event) bool

func (p Where) Match(ev Event) bool { return p != nil && p(ev) }
func (Where) sealedPattern()        {}

type wildcard struct{}

func (wildcard) Match(Event) bool { return true }
func (wildcard) sealedPattern()   {}

// Wildcard matches every event.
var Wildcard Pattern = wildcard{}
