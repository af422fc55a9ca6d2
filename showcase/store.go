package showcase

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/on-the-ground/saga_ive_go/effects"
)

// State is the host-visible application state. Values handed out by the
// store are never mutated; Reduce always builds a new State.
type State struct {
	Counter   int
	Todos     []Todo
	Users     []User
	Weather   map[string]Weather
	Forecasts map[string]Forecast
	Pending   map[string]bool
	Errors    map[string]string
}

// Reduce returns the state after ev. It never mutates s.
func Reduce(s State, ev effects.Event) State {
	next := s
	switch ev.Type {
	case Increment:
		next.Counter++
	case Decrement:
		next.Counter--
	case FetchTodosSuccess:
		if todos, ok := effects.Payload[[]Todo](ev); ok {
			next.Todos = slices.Clone(todos)
		}
	case AddTodoSuccess:
		if todo, ok := effects.Payload[Todo](ev); ok {
			next.Todos = append(slices.Clone(s.Todos), todo)
		}
	case UpdateTodoSuccess:
		if todo, ok := effects.Payload[Todo](ev); ok {
			next.Todos = upsert(s.Todos, todo, func(t Todo) int { return t.ID })
		}
	case MarkAllCompletedSuccess:
		if todos, ok := effects.Payload[[]Todo](ev); ok {
			next.Todos = s.Todos
			for _, todo := range todos {
				next.Todos = upsert(next.Todos, todo, func(t Todo) int { return t.ID })
			}
		}
	case FetchUsersSuccess, RefreshUsersSuccess:
		if users, ok := effects.Payload[[]User](ev); ok {
			next.Users = slices.Clone(users)
		}
	case UpdateUserSuccess:
		if user, ok := effects.Payload[User](ev); ok {
			next.Users = upsert(s.Users, user, func(u User) int { return u.ID })
		}
	case FetchWeatherSuccess:
		if w, ok := effects.Payload[Weather](ev); ok {
			next.Weather = with(s.Weather, w.City, w)
		}
	case FetchForecastSuccess:
		if f, ok := effects.Payload[Forecast](ev); ok {
			next.Forecasts = with(s.Forecasts, f.City, f)
		}
	case RefreshAllWeatherSuccess:
		if r, ok := effects.Payload[WeatherReport](ev); ok {
			next.Weather = merge(s.Weather, r.Weather)
			next.Forecasts = merge(s.Forecasts, r.Forecasts)
		}
	}

	op, phase, ok := Phase(ev.Type)
	if !ok {
		return next
	}
	next.Pending = with(s.Pending, op, phase == "REQUEST")
	switch phase {
	case "SUCCESS":
		if _, failed := s.Errors[op]; failed {
			next.Errors = maps.Clone(s.Errors)
			delete(next.Errors, op)
		}
	case "FAILURE":
		if f, ok := effects.Payload[Failure](ev); ok {
			next.Errors = with(s.Errors, op, f.Error)
		}
	}
	return next
}

func upsert[T any](items []T, item T, id func(T) int) []T {
	out := slices.Clone(items)
	if i := slices.IndexFunc(out, func(x T) bool { return id(x) == id(item) }); i >= 0 {
		out[i] = item
		return out
	}
	return append(out, item)
}

func with[V any](m map[string]V, k string, v V) map[string]V {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[string]V, 1)
	}
	out[k] = v
	return out
}

func merge[V any](m, other map[string]V) map[string]V {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[string]V, len(other))
	}
	maps.Copy(out, other)
	return out
}

// Store holds the current State and folds published events into it.
type Store struct {
	mu    sync.Mutex
	state atomic.Pointer[State]
}

func NewStore() *Store {
	s := &Store{}
	s.state.Store(&State{})
	return s
}

// Listener reduces ev into the store. Subscribe it to the engine.
func (s *Store) Listener(ev effects.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := Reduce(*s.state.Load(), ev)
	s.state.Store(&next)
}

// GetState returns the current *State. It is the engine's state accessor.
func (s *Store) GetState() any {
	return s.state.Load()
}

// Snapshot returns the current State.
func (s *Store) Snapshot() State {
	return *s.state.Load()
}

func SelectTodos(state any) any {
	if s, ok := state.(*State); ok {
		return s.Todos
	}
	return []Todo(nil)
}

func SelectIncompleteTodos(state any) any {
	s, ok := state.(*State)
	if !ok {
		return []Todo(nil)
	}
	var out []Todo
	for _, todo := range s.Todos {
		if !todo.Completed {
			out = append(out, todo)
		}
	}
	return out
}

func SelectUsers(state any) any {
	if s, ok := state.(*State); ok {
		return s.Users
	}
	return []User(nil)
}

func SelectCounter(state any) any {
	if s, ok := state.(*State); ok {
		return s.Counter
	}
	return 0
}
