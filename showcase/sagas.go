package showcase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/on-the-ground/saga_ive_go/config"
	"github.com/on-the-ground/saga_ive_go/effects"
)

// Sagas holds the worker workflows of the showcase.
type Sagas struct {
	api *API
	cfg config.ShowcaseConfig
}

// NewSagas binds the workflows to api and the timings in cfg.
func NewSagas(api *API, cfg config.ShowcaseConfig) *Sagas {
	return &Sagas{api: api, cfg: cfg}
}

// fail puts a failure event for err unless err is the cancellation signal,
// which is returned so the worker ends as cancelled.
func fail(t *effects.Task, eventType string, err error) (any, error) {
	if effects.IsCancelled(err) {
		return nil, err
	}
	op, _, _ := Phase(eventType)
	t.Logger().Warn("request failed", zap.String("op", op), zap.Error(err))
	return nil, t.Put(effects.Event{Type: eventType, Payload: Failure{Op: op, Error: err.Error()}})
}

func succeed(t *effects.Task, eventType string, payload any) (any, error) {
	return payload, t.Put(effects.Event{Type: eventType, Payload: payload})
}

func (s *Sagas) IncrementAsync(t *effects.Task, _ effects.Event) (any, error) {
	if err := t.Delay(s.cfg.CounterDelay); err != nil {
		return nil, err
	}
	return nil, t.Put(effects.Event{Type: Increment})
}

func (s *Sagas) FetchTodos(t *effects.Task, _ effects.Event) (any, error) {
	todos, err := effects.CallWithRetryAs[[]Todo](t, effects.Call{
		Name: OpFetchTodos,
		Fn:   func(ctx context.Context, _ ...any) (any, error) { return s.api.FetchTodos(ctx) },
	}, s.cfg.FetchAttempts, s.cfg.RetryBackoff)
	if err != nil {
		return fail(t, FetchTodosFailure, err)
	}
	return succeed(t, FetchTodosSuccess, todos)
}

func (s *Sagas) AddTodo(t *effects.Task, ev effects.Event) (any, error) {
	req, ok := effects.Payload[AddTodo](ev)
	if !ok {
		return fail(t, AddTodoFailure, fmt.Errorf("%w: payload %T", ErrInvalidInput, ev.Payload))
	}
	todo, err := effects.CallAs[Todo](t, effects.Call{
		Name: OpAddTodo,
		Fn:   func(ctx context.Context, _ ...any) (any, error) { return s.api.AddTodo(ctx, req.Title) },
	})
	if err != nil {
		return fail(t, AddTodoFailure, err)
	}
	return succeed(t, AddTodoSuccess, todo)
}

// updateTodoCall serialises updates of the same todo.
func (s *Sagas) updateTodoCall(todo Todo) effects.Call {
	return effects.Call{
		Name: OpUpdateTodo,
		Key:  fmt.Sprintf("todo-%d", todo.ID),
		Fn:   func(ctx context.Context, _ ...any) (any, error) { return s.api.UpdateTodo(ctx, todo) },
	}
}

func (s *Sagas) UpdateTodo(t *effects.Task, ev effects.Event) (any, error) {
	req, ok := effects.Payload[Todo](ev)
	if !ok {
		return fail(t, UpdateTodoFailure, fmt.Errorf("%w: payload %T", ErrInvalidInput, ev.Payload))
	}
	todo, err := effects.CallAs[Todo](t, s.updateTodoCall(req))
	if err != nil {
		return fail(t, UpdateTodoFailure, err)
	}
	return succeed(t, UpdateTodoSuccess, todo)
}

// MarkAllCompleted forks one update per incomplete todo and waits for all of
// them before reporting.
func (s *Sagas) MarkAllCompleted(t *effects.Task, _ effects.Event) (any, error) {
	incomplete, err := effects.SelectAs[[]Todo](t, SelectIncompleteTodos)
	if err != nil {
		return fail(t, MarkAllCompletedFailure, err)
	}

	updates := make([]*effects.Task, 0, len(incomplete))
	for _, todo := range incomplete {
		todo.Completed = true
		task, err := t.Do(effects.Fork{
			Name: fmt.Sprintf("complete-todo-%d", todo.ID),
			Workflow: func(t *effects.Task, _ ...any) (any, error) {
				return effects.CallAs[Todo](t, s.updateTodoCall(todo))
			},
		})
		if err != nil {
			return nil, err
		}
		updates = append(updates, task.(*effects.Task))
	}

	results, err := t.All(effects.JoinAll(updates...)...)
	if err != nil {
		return fail(t, MarkAllCompletedFailure, err)
	}
	completed := make([]Todo, 0, len(results))
	for _, r := range results {
		completed = append(completed, r.(Todo))
	}
	return succeed(t, MarkAllCompletedSuccess, completed)
}

func (s *Sagas) fetchUsersCall() effects.Call {
	return effects.Call{
		Name: OpFetchUsers,
		Fn:   func(ctx context.Context, _ ...any) (any, error) { return s.api.FetchUsers(ctx) },
	}
}

func (s *Sagas) FetchUsers(t *effects.Task, _ effects.Event) (any, error) {
	users, err := effects.CallAs[[]User](t, s.fetchUsersCall())
	if err != nil {
		return fail(t, FetchUsersFailure, err)
	}
	return succeed(t, FetchUsersSuccess, users)
}

func (s *Sagas) UpdateUser(t *effects.Task, ev effects.Event) (any, error) {
	req, ok := effects.Payload[User](ev)
	if !ok {
		return fail(t, UpdateUserFailure, fmt.Errorf("%w: payload %T", ErrInvalidInput, ev.Payload))
	}
	user, err := effects.CallAs[User](t, effects.Call{
		Name: OpUpdateUser,
		Key:  fmt.Sprintf("user-%d", req.ID),
		Fn:   func(ctx context.Context, _ ...any) (any, error) { return s.api.UpdateUser(ctx, req) },
	})
	if err != nil {
		return fail(t, UpdateUserFailure, err)
	}
	return succeed(t, UpdateUserSuccess, user)
}

// RefreshUsers races the user fetch against the refresh timeout.
func (s *Sagas) RefreshUsers(t *effects.Task, _ effects.Event) (any, error) {
	v, err := t.WithTimeout(s.fetchUsersCall(), s.cfg.RefreshTimeout)
	if err != nil {
		var te *effects.TimeoutError
		if errors.As(err, &te) {
			t.Logger().Warn("user refresh timed out", zap.Duration("after", te.After))
		}
		return fail(t, RefreshUsersFailure, err)
	}
	users, _ := v.([]User)
	return succeed(t, RefreshUsersSuccess, users)
}

func (s *Sagas) weatherCall(city string) effects.Call {
	return effects.Call{
		Name: OpFetchWeather,
		Fn:   func(ctx context.Context, _ ...any) (any, error) { return s.api.FetchWeather(ctx, city) },
	}
}

func (s *Sagas) forecastCall(city string) effects.Call {
	return effects.Call{
		Name: OpFetchForecast,
		Fn:   func(ctx context.Context, _ ...any) (any, error) { return s.api.FetchForecast(ctx, city) },
	}
}

func (s *Sagas) FetchWeather(t *effects.Task, ev effects.Event) (any, error) {
	req, ok := effects.Payload[CityRequest](ev)
	if !ok {
		return fail(t, FetchWeatherFailure, fmt.Errorf("%w: payload %T", ErrInvalidInput, ev.Payload))
	}
	w, err := effects.CallAs[Weather](t, s.weatherCall(req.City))
	if err != nil {
		return fail(t, FetchWeatherFailure, err)
	}
	return succeed(t, FetchWeatherSuccess, w)
}

func (s *Sagas) FetchForecast(t *effects.Task, ev effects.Event) (any, error) {
	req, ok := effects.Payload[CityRequest](ev)
	if !ok {
		return fail(t, FetchForecastFailure, fmt.Errorf("%w: payload %T", ErrInvalidInput, ev.Payload))
	}
	f, err := effects.CallAs[Forecast](t, s.forecastCall(req.City))
	if err != nil {
		return fail(t, FetchForecastFailure, err)
	}
	return succeed(t, FetchForecastSuccess, f)
}

// RefreshAllWeather forks a weather and a forecast fetch per configured city
// and joins them before reporting.
func (s *Sagas) RefreshAllWeather(t *effects.Task, _ effects.Event) (any, error) {
	callTask := func(call effects.Call) effects.Workflow {
		return func(t *effects.Task, _ ...any) (any, error) { return t.Do(call) }
	}

	var tasks []*effects.Task
	for _, city := range s.cfg.Cities {
		for _, call := range []effects.Call{s.weatherCall(city), s.forecastCall(city)} {
			task, err := t.Do(effects.Fork{Name: call.Name + ":" + city, Workflow: callTask(call)})
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task.(*effects.Task))
		}
	}

	results, err := t.All(effects.JoinAll(tasks...)...)
	if err != nil {
		return fail(t, RefreshAllWeatherFailure, err)
	}
	report := WeatherReport{
		Weather:   make(map[string]Weather, len(s.cfg.Cities)),
		Forecasts: make(map[string]Forecast, len(s.cfg.Cities)),
	}
	for _, r := range results {
		switch v := r.(type) {
		case Weather:
			report.Weather[v.City] = v
		case Forecast:
			report.Forecasts[v.City] = v
		}
	}
	return succeed(t, RefreshAllWeatherSuccess, report)
}
