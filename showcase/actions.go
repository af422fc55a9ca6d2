// Package showcase wires the engine to a set of example workflows: a
// counter, a todo list, a user directory and a weather panel, all backed by
// an in-memory mock backend.
package showcase

import (
	"strings"
	"time"
)

// Event types. Requests are dispatched by the host; success and failure
// events are put by the workflows.
const (
	IncrementAsync = "INCREMENT_ASYNC"
	Increment      = "INCREMENT"
	Decrement      = "DECREMENT"

	FetchTodosRequest = "FETCH_TODOS_REQUEST"
	FetchTodosSuccess = "FETCH_TODOS_SUCCESS"
	FetchTodosFailure = "FETCH_TODOS_FAILURE"

	AddTodoRequest = "ADD_TODO_REQUEST"
	AddTodoSuccess = "ADD_TODO_SUCCESS"
	AddTodoFailure = "ADD_TODO_FAILURE"

	UpdateTodoRequest = "UPDATE_TODO_REQUEST"
	UpdateTodoSuccess = "UPDATE_TODO_SUCCESS"
	UpdateTodoFailure = "UPDATE_TODO_FAILURE"

	MarkAllCompletedRequest = "MARK_ALL_COMPLETED_REQUEST"
	MarkAllCompletedSuccess = "MARK_ALL_COMPLETED_SUCCESS"
	MarkAllCompletedFailure = "MARK_ALL_COMPLETED_FAILURE"

	FetchUsersRequest = "FETCH_USERS_REQUEST"
	FetchUsersSuccess = "FETCH_USERS_SUCCESS"
	FetchUsersFailure = "FETCH_USERS_FAILURE"

	UpdateUserRequest = "UPDATE_USER_REQUEST"
	UpdateUserSuccess = "UPDATE_USER_SUCCESS"
	UpdateUserFailure = "UPDATE_USER_FAILURE"

	RefreshUsersRequest = "REFRESH_USERS_REQUEST"
	RefreshUsersSuccess = "REFRESH_USERS_SUCCESS"
	RefreshUsersFailure = "REFRESH_USERS_FAILURE"

	FetchWeatherRequest = "FETCH_WEATHER_REQUEST"
	FetchWeatherSuccess = "FETCH_WEATHER_SUCCESS"
	FetchWeatherFailure = "FETCH_WEATHER_FAILURE"

	FetchForecastRequest = "FETCH_FORECAST_REQUEST"
	FetchForecastSuccess = "FETCH_FORECAST_SUCCESS"
	FetchForecastFailure = "FETCH_FORECAST_FAILURE"

	RefreshAllWeatherRequest = "REFRESH_ALL_WEATHER_REQUEST"
	RefreshAllWeatherSuccess = "REFRESH_ALL_WEATHER_SUCCESS"
	RefreshAllWeatherFailure = "REFRESH_ALL_WEATHER_FAILURE"
)

const (
	suffixRequest = "_REQUEST"
	suffixSuccess = "_SUCCESS"
	suffixFailure = "_FAILURE"
)

// Phase splits an event type into its operation and request phase.
// Types without a phase suffix return ok false.
func Phase(eventType string) (op, phase string, ok bool) {
	for _, suffix := range []string{suffixRequest, suffixSuccess, suffixFailure} {
		if op, found := strings.CutSuffix(eventType, suffix); found {
			return op, strings.TrimPrefix(suffix, "_"), true
		}
	}
	return "", "", false
}

type Todo struct {
	ID        int
	Title     string
	Completed bool
}

type User struct {
	ID    int
	Name  string
	Email string
}

type Weather struct {
	City      string
	TempC     float64
	Condition string
	FetchedAt time.Time
}

type DayForecast struct {
	Day       int
	HighC     float64
	LowC      float64
	Condition string
}

type Forecast struct {
	City string
	Days []DayForecast
}

// AddTodo is the payload of ADD_TODO_REQUEST.
type AddTodo struct {
	Title string
}

// CityRequest is the payload of the weather and forecast requests.
type CityRequest struct {
	City string
}

// WeatherReport is the payload of REFRESH_ALL_WEATHER_SUCCESS.
type WeatherReport struct {
	Weather   map[string]Weather
	Forecasts map[string]Forecast
}

// Failure is the payload of every *_FAILURE event.
type Failure struct {
	Op    string
	Error string
}
