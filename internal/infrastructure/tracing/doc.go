/*
Package tracing records lightweight spans for host requests.

A trace follows one client request through the host: the protocol request
id seeds the trace id, and work done on its behalf (forwarding to an
interceptor's control socket, status server handlers) opens child spans.
Finished spans are logged by a background collector.

# Usage

	tracer := tracing.New("hostd", log)
	defer tracer.Close()

	span, ctx := tracer.StartSpan(tracing.WithTrace(ctx, env.ID), "send-command")
	defer tracer.Submit(span)
	span.SetTag("session_id", id)

	router.Use(tracing.HTTPMiddleware(tracer))

A nil *Tracer is valid and records nothing.
*/
package tracing
