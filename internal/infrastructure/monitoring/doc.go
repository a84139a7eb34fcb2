/*
Package monitoring provides metrics collection for the host daemon.

# Overview

Metrics are registered on an injected Prometheus registry rather than the
global default, so several hosts (or tests) can live in one process.

# Features

- Session registry size, registrations and idle evictions
- Protocol frames and transport errors
- Hooks received by kind
- Completion outcomes, remote latency and cache size
- Dispatch deliveries, drops and usage windows
- Status server HTTP requests and WebSocket window connections

# Usage

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordHook("edit-buffer")
	metrics.RecordCompletion("cache_hit")

A nil *Metrics is valid and records nothing.
*/
package monitoring
