// Package validation holds constructor-time contract checks.
package validation

import "fmt"

// AssertNotNil panics if ptr is nil. Use it in constructors where a
// dependency is mandatory; runtime failures must be returned as errors instead.
//
//	validation.AssertNotNil(pool, "database pool")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotNilInterface panics if v is a nil interface value.
func AssertNotNilInterface(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}
