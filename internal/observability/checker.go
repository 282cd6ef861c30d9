package observability

import "context"

// Checker is a dependency probed by the readiness endpoint.
// Check must honour ctx and be safe to call concurrently.
type Checker interface {
	// Name identifies the component in the readiness body, e.g. "postgres".
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

// Name returns the component name.
func (c CheckerFunc) Name() string { return c.ComponentName }

// Check runs the wrapped function.
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
