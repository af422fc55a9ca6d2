package helper_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/on-the-ground/saga_ive_go/shared/helper"
)

func TestGetTypedValueOf(t *testing.T) {
	v, err := helper.GetTypedValueOf[int](func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	p, err := helper.GetTypedValueOf[*int](func() (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = helper.GetTypedValueOf[string](func() (any, error) { return 42, nil })
	assert.ErrorIs(t, err, helper.ErrUnexpectedType)

	boom := errors.New("boom")
	_, err = helper.GetTypedValueOf[string](func() (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := helper.Retry(3, nil, func() error {
		calls++
		return boom
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, helper.ErrMaxAttempts)
	assert.ErrorIs(t, err, boom)
}

func TestRetry_SucceedsEventually(t *testing.T) {
	calls := 0
	err := helper.Retry(5, nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ShouldRetryFilter(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := helper.Retry(5, func(err error) bool { return !errors.Is(err, fatal) }, func() error {
		calls++
		return fatal
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, fatal, err)
}

func TestRetryWithWait_WaitsBetweenAttempts(t *testing.T) {
	var waits []int
	calls := 0
	err := helper.RetryWithWait(3, nil, func(attempt int) error {
		waits = append(waits, attempt)
		return nil
	}, func() error {
		calls++
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, helper.ErrMaxAttempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, waits)
}

func TestRetryWithWait_WaitErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := helper.RetryWithWait(5, nil, func(int) error { return stop }, func() error {
		calls++
		return errors.New("boom")
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
}
