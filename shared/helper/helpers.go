package helper

import (
	"fmt"
)

// GetTypedValueOf safely asserts the result of a getter function to the expected type T.
// A nil result yields the zero value of T. Returns an error if type assertion fails.
func GetTypedValueOf[T any](getFn func() (any, error)) (T, error) {
	var zero T

	res, err := getFn()
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}

	val, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedType, res, zero)
	}

	return val, nil
}

var (
	ErrUnexpectedType = fmt.Errorf("unexpected type")
	ErrMaxAttempts    = fmt.Errorf("max attempts reached")
)

// Retry calls fn until it succeeds, up to maxAttempts times in total.
// shouldRetry filters which errors are worth another attempt; nil retries all.
func Retry(maxAttempts int, shouldRetry func(error) bool, fn func() error) error {
	return RetryWithWait(maxAttempts, shouldRetry, nil, fn)
}

// RetryWithWait is Retry with wait called before each new attempt, with the
// number of attempts made so far. An error from wait ends the retries and is
// returned as is.
func RetryWithWait(maxAttempts int, shouldRetry func(error) bool, wait func(attempt int) error, fn func() error) error {
	numAttempts := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		numAttempts++
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if numAttempts >= maxAttempts {
			return fmt.Errorf("%w: %d, %w", ErrMaxAttempts, numAttempts, err)
		}
		if wait != nil {
			if werr := wait(numAttempts); werr != nil {
				return werr
			}
		}
	}
}
