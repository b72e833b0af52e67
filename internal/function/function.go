// Package function defines the contract between the execution engine and the
// business logic it runs. A Function is bound once, when the office is
// compiled, and invoked through Execute for every job.
package function

import "context"

// Function is one executable step of an office.
//
// Returning a value continues with the configured next function, which
// receives the value as its parameter. Returning an error escalates.
type Function interface {
	Execute(ctx Context) (any, error)
}

// Func adapts an ordinary function to Function.
type Func func(ctx Context) (any, error)

// Execute calls f(ctx).
func (f Func) Execute(ctx Context) (any, error) { return f(ctx) }

// Context is handed to a Function for the duration of one execution.
type Context interface {
	// Context carries cancellation for the office floor.
	Context() context.Context
	// ProcessID identifies the process the function executes within.
	ProcessID() string
	// Parameter is the argument the function was instigated with.
	Parameter() any
	// Object returns the managed object at position index of the
	// function's object registry.
	Object(index int) (any, error)
	// DoFlow instigates the flow registered under key. Flows are started
	// once the function returns without error.
	DoFlow(key string, parameter any) error
}

// Source builds a Function from configuration. It is consulted once per
// configured function when the office is compiled.
type Source interface {
	Function(ctx SourceContext) (Function, error)
}

// SourceFunc adapts an ordinary function to Source.
type SourceFunc func(ctx SourceContext) (Function, error)

// Function calls f(ctx).
func (f SourceFunc) Function(ctx SourceContext) (Function, error) { return f(ctx) }

// SourceContext describes the configured function being built.
type SourceContext interface {
	Office() string
	Name() string
	// Property returns the configured value or def when unset.
	Property(name, def string) string
	// Objects lists the names bound to the object registry, in index order.
	Objects() []string
	// FlowKeys lists the configured flow keys.
	FlowKeys() []string
}

// Of returns a Source that always yields fn, regardless of configuration.
func Of(fn Function) Source {
	return SourceFunc(func(SourceContext) (Function, error) { return fn, nil })
}
