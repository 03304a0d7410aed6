// Package call defines the unit of work handled by the dispatch engine: the call
// envelope, its result container and the executor strategy that talks to a backend.
//
// Key Components:
//
//   - Envelope: Carries the identity of a single backend invocation (a UUID assigned
//     per submission), the call name (system plus method), the resolved route
//     (queue and timeout), the executor, an optional converter and completion
//     callback, a statistics record and a snapshot of the caller's log fields.
//
//   - Result: The terminal state of an envelope. Exactly one of normal completion,
//     timeout abort, rejection or internal failure sets it; every later attempt is
//     ignored and reported as false. Done() closes on the terminal transition so
//     waiters can select on it.
//
//   - Executor: The strategy that performs the actual backend I/O. Execute receives
//     a context that is cancelled when the envelope is aborted; Abort is called
//     exactly once for backends that hold resources a context cannot reach.
//
//   - Handle: Returned by asynchronous dispatch. It exposes the same Result as the
//     envelope and a Wait helper.
//
// Usage Example:
//
//	env := call.New("billing", "createInvoice", call.ExecutorFunc(func(ctx context.Context) (*call.Payload, error) {
//	    return &call.Payload{StatusCode: 200, Body: []byte("ok")}, nil
//	}))
//	res := dispatcher.Execute(ctx, env)
//	if res.Status() == call.StatusSuccess {
//	    fmt.Println(string(res.Payload().Body))
//	}
//
// Envelopes are single-use: submitting the same envelope twice yields an
// internal-failure result for the second submission.
package call
