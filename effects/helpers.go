package effects

import (
	"time"

	"go.uber.org/zap"

	"github.com/on-the-ground/saga_ive_go/shared/helper"
)

// CallAs performs a Call and asserts its result to T.
func CallAs[T any](t *Task, call Call) (T, error) {
	return helper.GetTypedValueOf[T](func() (any, error) { return t.Do(call) })
}

// SelectAs applies selector to the host state and asserts the result to T.
func SelectAs[T any](t *Task, selector func(state any) any) (T, error) {
	return helper.GetTypedValueOf[T](func() (any, error) { return t.Select(selector) })
}

// JoinAs joins target and asserts its result to T.
func JoinAs[T any](t *Task, target *Task) (T, error) {
	return helper.GetTypedValueOf[T](func() (any, error) { return t.Join(target) })
}

// Payload asserts the payload of ev to T.
func Payload[T any](ev Event) (T, bool) {
	p, ok := ev.Payload.(T)
	return p, ok
}

// JoinAll returns the Join effects for tasks, for use with All.
func JoinAll(tasks ...*Task) []Effect {
	effs := make([]Effect, len(tasks))
	for i, task := range tasks {
		effs[i] = Join{Task: task}
	}
	return effs
}

// CallWithRetry performs call up to attempts times. Between failed attempts
// the task is delayed by backoff times the attempt number. The cancellation
// signal is never retried.
func CallWithRetry(t *Task, call Call, attempts int, backoff time.Duration) (any, error) {
	var v any
	err := helper.RetryWithWait(attempts,
		func(err error) bool { return !IsCancelled(err) },
		func(attempt int) error {
			t.Logger().Debug("retrying call", zap.String("call", call.Name), zap.Int("attempt", attempt))
			return t.Delay(backoff * time.Duration(attempt))
		},
		func() error {
			var err error
			v, err = t.Do(call)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CallWithRetryAs is CallWithRetry with the result asserted to T.
func CallWithRetryAs[T any](t *Task, call Call, attempts int, backoff time.Duration) (T, error) {
	return helper.GetTypedValueOf[T](func() (any, error) { return CallWithRetry(t, call, attempts, backoff) })
}
