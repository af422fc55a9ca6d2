package effects

import (
	"context"
	"fmt"
	"time"
)

// Kind enumerates the effect variants understood by the scheduler.
type Kind int

const (
	KindCall Kind = iota + 1
	KindPut
	KindTake
	KindFork
	KindSpawn
	KindRace
	KindAll
	KindDelay
	KindCancel
	KindCancelled
	KindSelect
	KindJoin
)

var kindNames = map[Kind]string{
	KindCall:      "call",
	KindPut:       "put",
	KindTake:      "take",
	KindFork:      "fork",
	KindSpawn:     "spawn",
	KindRace:      "race",
	KindAll:       "all",
	KindDelay:     "delay",
	KindCancel:    "cancel",
	KindCancelled: "cancelled",
	KindSelect:    "select",
	KindJoin:      "join",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Effect is a sealed description of one unit of work a workflow asks the
// scheduler to perform. Only the effect types of this package implement it.
type Effect interface {
	Kind() Kind
	sealedEffect()
}

// CallFunc is the external asynchronous function run by a Call effect.
// ctx is cancelled when the calling task is cancelled or loses a race.
type CallFunc func(ctx context.Context, args ...any) (any, error)

// Workflow is the body of a task. It runs on its own goroutine, but only
// between a resume and its next effect, so it never races with the scheduler.
type Workflow func(t *Task, args ...any) (any, error)

// Call invokes Fn and suspends until it settles.
// Calls sharing a non-empty Key run in submission order.
type Call struct {
	Fn   CallFunc
	Args []any
	Name string
	Key  string
}

// Put publishes Event without suspending.
type Put struct {
	Event Event
}

// Take suspends until an event matching Pattern is published.
// A nil Pattern matches every event.
type Take struct {
	Pattern Pattern
}

// Fork starts Workflow as a child bound to the lifecycle of the forking task.
// It resolves to the child's *Task.
type Fork struct {
	Workflow Workflow
	Args     []any
	Name     string
}

// Spawn starts Workflow as a detached task: cancelling the spawning task
// does not reach it. It resolves to the new *Task.
type Spawn struct {
	Workflow Workflow
	Args     []any
	Name     string
}

// Alternative is one labelled branch of a Race.
type Alternative struct {
	Label  string
	Effect Effect
}

// Race runs its alternatives concurrently and resolves to the first one to
// settle. Ties go to the earlier alternative.
type Race struct {
	Alternatives []Alternative
}

// RaceResult is the value a Race resolves to.
type RaceResult struct {
	Label string
	Value any
}

// All runs Effects concurrently and resolves to their results in input
// order. The first failure cancels the remaining effects.
type All struct {
	Effects []Effect
}

// Delay suspends for Duration and resolves to nil.
type Delay struct {
	Duration time.Duration
}

// Cancel requests cancellation of Task and its owned descendants.
// A nil Task cancels the current task.
type Cancel struct {
	Task *Task
}

// Cancelled resolves to true while the current task is being cancelled.
type Cancelled struct{}

// Select resolves to Selector applied to the host state.
type Select struct {
	Selector func(state any) any
}

// Join suspends until Task is terminal and resolves to its result.
type Join struct {
	Task *Task
}

func (Call) Kind() Kind      { return KindCall }
func (Put) Kind() Kind       { return KindPut }
func (Take) Kind() Kind      { return KindTake }
func (Fork) Kind() Kind      { return KindFork }
func (Spawn) Kind() Kind     { return KindSpawn }
func (Race) Kind() Kind      { return KindRace }
func (All) Kind() Kind       { return KindAll }
func (Delay) Kind() Kind     { return KindDelay }
func (Cancel) Kind() Kind    { return KindCancel }
func (Cancelled) Kind() Kind { return KindCancelled }
func (Select) Kind() Kind    { return KindSelect }
func (Join) Kind() Kind      { return KindJoin }

func (Call) sealedEffect()      {}
func (Put) sealedEffect()       {}
func (Take) sealedEffect()      {}
func (Fork) sealedEffect()      {}
func (Spawn) sealedEffect()     {}
func (Race) sealedEffect()      {}
func (All) sealedEffect()       {}
func (Delay) sealedEffect()     {}
func (Cancel) sealedEffect()    {}
func (Cancelled) sealedEffect() {}
func (Select) sealedEffect()    {}
func (Join) sealedEffect()      {}

// allowedWhileCancelling lists the effects a task may still perform once
// the cancellation signal has been delivered.
func allowedWhileCancelling(eff Effect) bool {
	switch eff.(type) {
	case Call, Put, Select, Cancelled, Cancel, Spawn:
		return true
	default:
		return false
	}
}
