// Package dispatch executes call envelopes on the pools of a registry.
//
// Synchronous execution (Execute) resolves the route of the envelope, submits it
// and waits for whichever comes first: completion, the resolved timeout or the
// caller's context. A timeout aborts the envelope and marks it timed out unless
// the completion won the race. A rejected submission ends as too-busy without
// running the call.
//
// Asynchronous execution (ExecuteAsync) returns a handle right after submission.
// A guard task on a dedicated pool enforces the timeout, falling back to
// DefaultGuardTimeout when the resolved timeout is not positive. If the guard
// pool is saturated the guard runs on its own goroutine, an async call is never
// left without a guard.
//
// Observability is pluggable through Sink. LogSink ships with the package, a
// prometheus sink lives in the metrics package.
//
// Usage Example:
//
//	doc, _ := config.Load("routing.yaml")
//	d, _ := dispatch.FromDocument(doc, dispatch.WithSink(dispatch.NewLogSink()))
//	defer d.Close(context.Background())
//
//	res := d.Execute(ctx, httpcall.NewCall("billing", "charge", client, req))
//	switch res.Status() {
//	case call.StatusSuccess:
//	case call.StatusTooBusy, call.StatusTimedOut:
//	}
package dispatch
