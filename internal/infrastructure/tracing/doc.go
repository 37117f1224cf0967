/*
Package tracing provides lightweight request tracing.

Spans are created per HTTP request and per registry operation, carry a trace
id through context.Context, and are logged asynchronously through zap when
they end.

# Usage

	tracer := tracing.New("registry", logger, 0)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "registry.commit")
	defer span.End(err)

# Headers

  - X-Trace-ID / X-Request-ID: joins an existing trace
  - X-Span-ID: parent span of the incoming request
*/
package tracing
