/*
Package resilience guards calls to remote dependencies with a circuit breaker.

The host's completion client wraps every backend call in a Breaker. After
enough consecutive hard failures the breaker opens and calls fail fast with
ErrCircuitOpen, which the coordinator reports as "no suggestion" instead of
waiting out a dead backend on every keystroke. After Timeout one trial call
is let through (half-open); its outcome closes or reopens the breaker.

IsSuccessful decides what counts as a failure. The completion client treats
a throttled answer as success: the backend is alive, just pacing us.

	breaker := resilience.New("completion", resilience.Settings{
		Timeout:      30 * time.Second,
		IsSuccessful: func(err error) bool { return err == nil || completion.IsThrottled(err) },
	})

	resp, err := resilience.Do(breaker, func() (completion.Response, error) {
		return backend.Complete(ctx, req)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// skip this cycle
	}
*/
package resilience
