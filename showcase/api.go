package showcase

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	ristretto "github.com/dgraph-io/ristretto/v2"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/on-the-ground/saga_ive_go/config"
)

var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
)

const (
	tableTodo = "todo"
	tableUser = "user"
	indexID   = "id"
)

// Operation names, as reported by API.Calls.
const (
	OpFetchTodos    = "fetchTodos"
	OpAddTodo       = "addTodo"
	OpUpdateTodo    = "updateTodo"
	OpFetchUsers    = "fetchUsers"
	OpUpdateUser    = "updateUser"
	OpFetchWeather  = "fetchWeather"
	OpFetchForecast = "fetchForecast"
)

var conditions = []string{"sunny", "cloudy", "rain", "wind", "snow"}

func schema() *memdb.DBSchema {
	table := func(name string) *memdb.TableSchema {
		return &memdb.TableSchema{
			Name: name,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.IntFieldIndex{Field: "ID"},
				},
			},
		}
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTodo: table(tableTodo),
			tableUser: table(tableUser),
		},
	}
}

// API is the mock backend the showcase workflows call. Every operation waits
// for the configured latency, honouring ctx, and fails with the configured
// probability.
type API struct {
	cfg   config.ShowcaseConfig
	db    *memdb.MemDB
	cache *ristretto.Cache[string, any]
	now   func() time.Time

	mu     sync.Mutex
	nextID int
	calls  map[string]int
}

func NewAPI(cfg config.ShowcaseConfig) (*API, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        max(10*cfg.CacheMaxItems, 100),
		MaxCost:            max(cfg.CacheMaxItems, 1),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	a := &API{
		cfg:   cfg,
		db:    db,
		cache: cache,
		now:   time.Now,
		calls: make(map[string]int),
	}
	if err := a.seed(); err != nil {
		cache.Close()
		return nil, err
	}
	return a, nil
}

func (a *API) seed() error {
	txn := a.db.Txn(true)
	defer txn.Abort()

	todos := []*Todo{
		{ID: 1, Title: "Learn effects", Completed: true},
		{ID: 2, Title: "Write a watcher", Completed: false},
		{ID: 3, Title: "Race a timeout", Completed: false},
	}
	users := []*User{
		{ID: 1, Name: "Ada", Email: "ada@example.com"},
		{ID: 2, Name: "Grace", Email: "grace@example.com"},
		{ID: 3, Name: "Linus", Email: "linus@example.com"},
	}
	for _, todo := range todos {
		if err := txn.Insert(tableTodo, todo); err != nil {
			return err
		}
	}
	for _, user := range users {
		if err := txn.Insert(tableUser, user); err != nil {
			return err
		}
	}
	txn.Commit()
	a.nextID = len(todos)
	return nil
}

// Close releases the response cache.
func (a *API) Close() {
	a.cache.Close()
}

// Calls reports how many times op has been invoked.
func (a *API) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *API) simulate(ctx context.Context, op string, latency time.Duration) error {
	a.mu.Lock()
	a.calls[op]++
	a.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if a.cfg.FailureRate > 0 && rand.Float64() < a.cfg.FailureRate {
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, op)
	}
	return nil
}

func (a *API) FetchTodos(ctx context.Context) ([]Todo, error) {
	if err := a.simulate(ctx, OpFetchTodos, a.cfg.Latency); err != nil {
		return nil, err
	}
	return readAll[Todo](a.db, tableTodo, func(x, y Todo) int { return cmp.Compare(x.ID, y.ID) })
}

func (a *API) AddTodo(ctx context.Context, title string) (Todo, error) {
	if err := a.simulate(ctx, OpAddTodo, a.cfg.Latency); err != nil {
		return Todo{}, err
	}
	if title == "" {
		return Todo{}, fmt.Errorf("%w: empty todo title", ErrInvalidInput)
	}

	a.mu.Lock()
	a.nextID++
	todo := Todo{ID: a.nextID, Title: title}
	a.mu.Unlock()

	txn := a.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableTodo, &todo); err != nil {
		return Todo{}, err
	}
	txn.Commit()
	return todo, nil
}

func (a *API) UpdateTodo(ctx context.Context, todo Todo) (Todo, error) {
	if err := a.simulate(ctx, OpUpdateTodo, a.cfg.Latency); err != nil {
		return Todo{}, err
	}
	if err := replace(a.db, tableTodo, todo.ID, &todo); err != nil {
		return Todo{}, err
	}
	return todo, nil
}

func (a *API) FetchUsers(ctx context.Context) ([]User, error) {
	if err := a.simulate(ctx, OpFetchUsers, a.cfg.FetchUsersLatency); err != nil {
		return nil, err
	}
	return readAll[User](a.db, tableUser, func(x, y User) int { return cmp.Compare(x.ID, y.ID) })
}

func (a *API) UpdateUser(ctx context.Context, user User) (User, error) {
	if err := a.simulate(ctx, OpUpdateUser, a.cfg.Latency); err != nil {
		return User{}, err
	}
	if err := replace(a.db, tableUser, user.ID, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// FetchWeather returns the current weather for city. Reports are cached for
// the configured TTL.
func (a *API) FetchWeather(ctx context.Context, city string) (Weather, error) {
	key := "weather:" + city
	if v, ok := a.cache.Get(key); ok {
		return v.(Weather), nil
	}
	if err := a.simulate(ctx, OpFetchWeather, a.cfg.Latency); err != nil {
		return Weather{}, err
	}

	h := xxhash.Sum64String(city)
	w := Weather{
		City:      city,
		TempC:     float64(h%400)/10 - 5,
		Condition: conditions[h%uint64(len(conditions))],
		FetchedAt: a.now(),
	}
	a.cache.SetWithTTL(key, w, 1, a.cfg.CacheTTL)
	a.cache.Wait()
	return w, nil
}

// FetchForecast returns a five day forecast for city, cached like FetchWeather.
func (a *API) FetchForecast(ctx context.Context, city string) (Forecast, error) {
	key := "forecast:" + city
	if v, ok := a.cache.Get(key); ok {
		return v.(Forecast), nil
	}
	if err := a.simulate(ctx, OpFetchForecast, a.cfg.Latency); err != nil {
		return Forecast{}, err
	}

	f := Forecast{City: city, Days: make([]DayForecast, 5)}
	for day := range f.Days {
		h := xxhash.Sum64String(fmt.Sprintf("%s/%d", city, day))
		low := float64(h%250)/10 - 5
		f.Days[day] = DayForecast{
			Day:       day + 1,
			LowC:      low,
			HighC:     low + float64(h%100)/10,
			Condition: conditions[h%uint64(len(conditions))],
		}
	}
	a.cache.SetWithTTL(key, f, 1, a.cfg.CacheTTL)
	a.cache.Wait()
	return f, nil
}

func readAll[T any](db *memdb.MemDB, table string, order func(a, b T) int) ([]T, error) {
	txn := db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, indexID)
	if err != nil {
		return nil, err
	}
	var out []T
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, *obj.(*T))
	}
	slices.SortFunc(out, order)
	return out, nil
}

func replace(db *memdb.MemDB, table string, id int, record any) error {
	txn := db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(table, indexID, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s %d", ErrNotFound, table, id)
	}
	if err := txn.Insert(table, record); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
