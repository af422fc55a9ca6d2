package effects_test

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/on-the-ground/saga_ive_go/effects"
	"github.com/on-the-ground/saga_ive_go/shared/helper"
)

func sleepy(d time.Duration, v any) effects.CallFunc {
	return func(ctx context.Context, _ ...any) (any, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestCall_ResultAndErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	boom := errors.New("boom")

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		sum, err := effects.CallAs[int](t, effects.Call{
			Name: "sum",
			Fn: func(_ context.Context, args ...any) (any, error) {
				return args[0].(int) + args[1].(int), nil
			},
			Args: []any{1, 2},
		})
		if err != nil {
			return nil, err
		}
		_, failed := t.Do(effects.Call{Name: "fail", Fn: func(context.Context, ...any) (any, error) { return nil, boom }})
		_, panicked := t.Call(func(context.Context, ...any) (any, error) { panic("callee") })
		return []any{sum, failed, panicked}, nil
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	res := v.([]any)
	assert.Equal(t, 3, res[0])

	failed := res[1].(error)
	assert.ErrorIs(t, failed, effects.ErrCallFailed)
	assert.ErrorIs(t, failed, boom)
	var ce *effects.CallError
	require.ErrorAs(t, failed, &ce)
	assert.Equal(t, "fail", ce.Name)

	var pe *effects.PanicError
	assert.ErrorAs(t, res[2].(error), &pe)
	assert.ErrorIs(t, res[2].(error), effects.ErrCallFailed)
}

func TestCallWithRetry(t *testing.T) {
	e, _ := newTestEngine(t)
	var calls atomic.Int32
	flaky := effects.Call{Name: "flaky", Fn: func(context.Context, ...any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("not yet")
		}
		return "ok", nil
	}}

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		if _, err := effects.CallWithRetry(t, flaky, 2, time.Millisecond); err == nil {
			return nil, errors.New("expected two attempts to fail")
		} else if !errors.Is(err, helper.ErrMaxAttempts) || !errors.Is(err, effects.ErrCallFailed) {
			return nil, err
		}
		return effects.CallWithRetryAs[string](t, flaky, 3, time.Millisecond)
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCall_HandlerMiddleware(t *testing.T) {
	var seen atomic.Int32
	handler := func(ctx context.Context, call effects.Call) (any, error) {
		seen.Add(1)
		return effects.DirectCall(ctx, call)
	}
	e, _ := newTestEngine(t, effects.WithCallHandler(handler))

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		return t.Call(sleepy(0, "ok"))
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.EqualValues(t, 1, seen.Load())
}

func TestCall_SameKeyRunsInOrder(t *testing.T) {
	e, _ := newTestEngine(t, effects.WithCallPartitions(2))
	var (
		active  atomic.Int32
		overlap atomic.Bool
	)
	update := func(ctx context.Context, _ ...any) (any, error) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		effs := make([]effects.Effect, 5)
		for i := range effs {
			effs[i] = effects.Call{Fn: update, Key: "todo-1"}
		}
		return t.All(effs...)
	})

	_, err := wait(t, root)
	require.NoError(t, err)
	assert.False(t, overlap.Load())
}

func TestRace_FirstToSettleWins(t *testing.T) {
	e, _ := newTestEngine(t)
	loserCtx := make(chan error, 1)

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		return t.Race(
			effects.Alternative{Label: "slow", Effect: effects.Call{Fn: func(ctx context.Context, _ ...any) (any, error) {
				<-ctx.Done()
				loserCtx <- ctx.Err()
				return nil, ctx.Err()
			}}},
			effects.Alternative{Label: "fast", Effect: effects.Delay{Duration: 5 * time.Millisecond}},
		)
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, effects.RaceResult{Label: "fast"}, v)
	select {
	case err := <-loserCtx:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("losing call was not cancelled")
	}
}

func TestRace_SynchronousTieGoesToFirstDeclared(t *testing.T) {
	e, _ := newTestEngine(t, effects.WithStateAccessor(func() any { return "state" }))
	rec := record(e)

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		return t.Race(
			effects.Alternative{Label: "first", Effect: effects.Select{}},
			effects.Alternative{Label: "second", Effect: effects.Put{Event: effects.Event{Type: "NOT_STARTED"}}},
		)
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, effects.RaceResult{Label: "first", Value: "state"}, v)
	assert.Zero(t, rec.Count("NOT_STARTED"))
}

// onGo waits for a GO event, then finishes with v and err.
func onGo(v any, err error) effects.Workflow {
	return func(t *effects.Task, _ ...any) (any, error) {
		if _, takeErr := t.Take(effects.Exact("GO")); takeErr != nil {
			return nil, takeErr
		}
		return v, err
	}
}

func TestRace_EqualDelaysGoToFirstDeclared(t *testing.T) {
	e, _ := newTestEngine(t)
	const rounds = 100
	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		winners := make([]string, 0, rounds)
		for range rounds {
			res, err := t.Race(
				effects.Alternative{Label: "first", Effect: effects.Delay{Duration: time.Millisecond}},
				effects.Alternative{Label: "second", Effect: effects.Delay{Duration: time.Millisecond}},
			)
			if err != nil {
				return nil, err
			}
			winners = append(winners, res.Label)
		}
		return winners, nil
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, slices.Repeat([]string{"first"}, rounds), v)
}

func TestRace_SameTurnSettlementsGoToFirstDeclared(t *testing.T) {
	e, _ := newTestEngine(t)
	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		early, err := t.Fork(onGo("early", nil))
		if err != nil {
			return nil, err
		}
		late, err := t.Fork(onGo("late", nil))
		if err != nil {
			return nil, err
		}
		return t.Race(
			effects.Alternative{Label: "late", Effect: effects.Join{Task: late}},
			effects.Alternative{Label: "early", Effect: effects.Join{Task: early}},
		)
	})
	require.NoError(t, e.Dispatch(effects.Event{Type: "GO"}))

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, effects.RaceResult{Label: "late", Value: "late"}, v)
}

func TestRace_LosingTakeIsUnregistered(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := record(e)

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		res, err := t.Race(
			effects.Alternative{Label: "take", Effect: effects.Take{Pattern: effects.Exact("PING")}},
			effects.Alternative{Label: "timeout", Effect: effects.Delay{Duration: time.Millisecond}},
		)
		if err != nil {
			return nil, err
		}
		if err := t.Put(effects.Event{Type: "RACED", Payload: res.Label}); err != nil {
			return nil, err
		}
		ev, err := t.Take(effects.Wildcard)
		return ev.Type, err
	})

	eventually(t, func() bool { return rec.Count("RACED") == 1 }, "race settled")
	require.NoError(t, e.Dispatch(effects.Event{Type: "PING"}))

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, []any{"timeout"}, rec.Payloads("RACED"))
	assert.Equal(t, "PING", v)
}

func TestRace_ErroringWinnerFailsRace(t *testing.T) {
	e, _ := newTestEngine(t)
	boom := errors.New("boom")

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		return t.Race(
			effects.Alternative{Label: "call", Effect: effects.Call{Fn: func(context.Context, ...any) (any, error) { return nil, boom }}},
			effects.Alternative{Label: "timeout", Effect: effects.Delay{Duration: time.Hour}},
		)
	})

	_, err := wait(t, root)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, effects.ErrCallFailed)
}

func TestRace_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		return t.Race()
	})
	_, err := wait(t, root)
	assert.ErrorIs(t, err, effects.ErrEmptyRace)
}

func TestWithTimeout(t *testing.T) {
	e, _ := newTestEngine(t)
	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		fast, err := t.WithTimeout(effects.Call{Fn: sleepy(0, "fast")}, time.Hour)
		if err != nil {
			return nil, err
		}
		_, err = t.WithTimeout(effects.Call{Fn: sleepy(time.Hour, "slow")}, 5*time.Millisecond)
		return fast, err
	})

	v, err := wait(t, root)
	assert.Equal(t, "fast", v)
	assert.ErrorIs(t, err, effects.ErrTimeout)
	var te *effects.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 5*time.Millisecond, te.After)
}

func TestAll_ResultsInInputOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		return t.All(
			effects.Call{Fn: sleepy(15*time.Millisecond, "a")},
			effects.Call{Fn: sleepy(time.Millisecond, "b")},
			effects.Select{Selector: func(any) any { return "c" }},
		)
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, v)
}

func TestAll_FirstFailureCancelsTheRest(t *testing.T) {
	e, _ := newTestEngine(t)
	boom := errors.New("boom")
	cancelled := make(chan error, 1)

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		return t.All(
			effects.Call{Fn: func(ctx context.Context, _ ...any) (any, error) {
				<-ctx.Done()
				cancelled <- ctx.Err()
				return nil, ctx.Err()
			}},
			effects.Call{Fn: func(context.Context, ...any) (any, error) {
				time.Sleep(time.Millisecond)
				return nil, boom
			}},
		)
	})

	_, err := wait(t, root)
	assert.ErrorIs(t, err, boom)
	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("pending call was not cancelled")
	}
}

func TestAll_SameTurnFailuresReportFirstDeclared(t *testing.T) {
	e, _ := newTestEngine(t)
	errEarly := errors.New("early")
	errLate := errors.New("late")

	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		early, err := t.Fork(onGo(nil, errEarly))
		if err != nil {
			return nil, err
		}
		late, err := t.Fork(onGo(nil, errLate))
		if err != nil {
			return nil, err
		}
		return t.All(effects.JoinAll(late, early)...)
	})
	require.NoError(t, e.Dispatch(effects.Event{Type: "GO"}))

	_, err := wait(t, root)
	assert.ErrorIs(t, err, errLate)
	assert.NotErrorIs(t, err, errEarly)
}

func TestAll_EmptyAndJoin(t *testing.T) {
	e, _ := newTestEngine(t)
	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		empty, err := t.All()
		if err != nil {
			return nil, err
		}
		var forked []*effects.Task
		for i := range 3 {
			child, err := t.Fork(func(t *effects.Task, _ ...any) (any, error) {
				if err := t.Delay(time.Duration(3-i) * time.Millisecond); err != nil {
					return nil, err
				}
				return i, nil
			})
			if err != nil {
				return nil, err
			}
			forked = append(forked, child)
		}
		joined, err := t.All(effects.JoinAll(forked...)...)
		return []any{empty, joined}, err
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	res := v.([]any)
	assert.Equal(t, []any{}, res[0])
	assert.Equal(t, []any{0, 1, 2}, res[1])
}

func TestDelay_NonPositiveResolvesImmediately(t *testing.T) {
	e, _ := newTestEngine(t)
	root := boot(t, e, func(t *effects.Task, _ ...any) (any, error) {
		if err := t.Delay(0); err != nil {
			return nil, err
		}
		return "done", t.Delay(-time.Second)
	})

	v, err := wait(t, root)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}
