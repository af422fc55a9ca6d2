package effects

import (
	"context"

	"go.uber.org/zap"
)

// CallHandler performs a Call effect. Handlers can be layered as middleware
// around DirectCall, e.g. for tracing.
type CallHandler func(ctx context.Context, call Call) (any, error)

// DirectCall invokes the call's function with its arguments.
func DirectCall(ctx context.Context, call Call) (any, error) {
	if call.Fn == nil {
		return nil, ErrNilCall
	}
	return call.Fn(ctx, call.Args...)
}

const defaultCallPartitions = 4

type options struct {
	logger         *zap.Logger
	state          func() any
	callHandler    CallHandler
	callPartitions int
}

func defaultOptions() options {
	return options{
		logger:         zap.NewNop(),
		state:          func() any { return nil },
		callHandler:    DirectCall,
		callPartitions: defaultCallPartitions,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger for the engine and its tasks.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStateAccessor sets the function Select effects read the host state from.
func WithStateAccessor(getState func() any) Option {
	return func(o *options) {
		if getState != nil {
			o.state = getState
		}
	}
}

// WithCallHandler replaces DirectCall as the performer of Call effects.
func WithCallHandler(h CallHandler) Option {
	return func(o *options) {
		if h != nil {
			o.callHandler = h
		}
	}
}

// WithCallPartitions sets how many ordered queues serve keyed calls.
func WithCallPartitions(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.callPartitions = n
		}
	}
}
