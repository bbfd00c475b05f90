package es

import "context"

// Compile-time assertions that NoOpLogger satisfies Logger and never
// panics regardless of argument shape.
var _ Logger = NoOpLogger{}

func ExampleNoOpLogger() {
	var l Logger = NoOpLogger{}
	ctx := context.Background()
	l.Debug(ctx, "debug", "key", "value")
	l.Info(ctx, "info")
	l.Error(ctx, "error", "err", nil)
	// Output:
}
