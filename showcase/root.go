package showcase

import (
	"go.uber.org/zap"

	"github.com/on-the-ground/saga_ive_go/config"
	"github.com/on-the-ground/saga_ive_go/effects"
	"github.com/on-the-ground/saga_ive_go/effects/watcher"
)

// Bindings lists the watchers the root composition forks.
func (s *Sagas) Bindings() []watcher.Binding {
	return []watcher.Binding{
		{Name: "counter", Pattern: effects.Exact(IncrementAsync), Worker: s.IncrementAsync, Strategy: watcher.Every},

		{Name: "fetch-todos", Pattern: effects.Exact(FetchTodosRequest), Worker: s.FetchTodos, Strategy: watcher.Latest},
		{Name: "add-todo", Pattern: effects.Exact(AddTodoRequest), Worker: s.AddTodo, Strategy: watcher.Every},
		{Name: "update-todo", Pattern: effects.Exact(UpdateTodoRequest), Worker: s.UpdateTodo, Strategy: watcher.Every},
		{Name: "mark-all-completed", Pattern: effects.Exact(MarkAllCompletedRequest), Worker: s.MarkAllCompleted, Strategy: watcher.Leading},

		{Name: "fetch-users", Pattern: effects.Exact(FetchUsersRequest), Worker: s.FetchUsers, Strategy: watcher.Latest},
		{Name: "update-user", Pattern: effects.Exact(UpdateUserRequest), Worker: s.UpdateUser, Strategy: watcher.Every},
		{Name: "refresh-users", Pattern: effects.Exact(RefreshUsersRequest), Worker: s.RefreshUsers, Strategy: watcher.Latest},

		{Name: "fetch-weather", Pattern: effects.Exact(FetchWeatherRequest), Worker: s.FetchWeather, Strategy: watcher.Latest},
		{Name: "fetch-forecast", Pattern: effects.Exact(FetchForecastRequest), Worker: s.FetchForecast, Strategy: watcher.Latest},
		{Name: "refresh-all-weather", Pattern: effects.Exact(RefreshAllWeatherRequest), Worker: s.RefreshAllWeather, Strategy: watcher.Leading},
	}
}

// Root returns the root composition: it forks every watcher and then stays
// alive through them until it is cancelled.
func Root(api *API, cfg config.ShowcaseConfig) effects.Workflow {
	sagas := NewSagas(api, cfg)
	return func(t *effects.Task, _ ...any) (any, error) {
		bindings := sagas.Bindings()
		if _, err := watcher.ForkAll(t, bindings...); err != nil {
			return nil, err
		}
		t.Logger().Info("watchers started", zap.Int("count", len(bindings)))
		return nil, nil
	}
}
