/*
Package monitoring provides Prometheus metrics for the HTTP API and the
mounted images.

# Overview

A [Metrics] owns its own Prometheus registry, so several instances can live
side by side (one per server, one per test). It tracks HTTP requests through
[Middleware], engine operations through [Metrics.RecordOperation], and the
usage of every mounted image through an [ImageCollector].

# Usage

	metrics := monitoring.NewMetrics()
	metrics.Register(monitoring.NewImageCollector(registry))

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
