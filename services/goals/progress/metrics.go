// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for progress operations.
var (
	tracer = otel.Tracer("mandala.progress")
	meter  = otel.Meter("mandala.progress")
)

// Metrics for the progress engine.
var (
	progressCacheHits   metric.Int64Counter
	progressCacheMisses metric.Int64Counter
	recalcTotal         metric.Int64Counter
	recalcFailures      metric.Int64Counter
	recalcLatency       metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		progressCacheHits, err = meter.Int64Counter(
			"progress_cache_hits_total",
			metric.WithDescription("Total number of progress cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		progressCacheMisses, err = meter.Int64Counter(
			"progress_cache_misses_total",
			metric.WithDescription("Total number of progress cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recalcTotal, err = meter.Int64Counter(
			"progress_recalculations_total",
			metric.WithDescription("Total number of hierarchical recalculations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recalcFailures, err = meter.Int64Counter(
			"progress_recalculation_failures_total",
			metric.WithDescription("Total number of failed recalculations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recalcLatency, err = meter.Float64Histogram(
			"progress_recalculation_duration_seconds",
			metric.WithDescription("Duration of hierarchical recalculations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordCacheHit records a cache hit for one entity kind.
func recordCacheHit(ctx context.Context, kind EntityKind) {
	if err := initMetrics(); err != nil {
		return
	}
	progressCacheHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("entity.kind", string(kind))),
	)
}

// recordCacheMiss records a cache miss for one entity kind.
func recordCacheMiss(ctx context.Context, kind EntityKind) {
	if err := initMetrics(); err != nil {
		return
	}
	progressCacheMisses.Add(ctx, 1,
		metric.WithAttributes(attribute.String("entity.kind", string(kind))),
	)
}

// recordRecalculation records the outcome and latency of one
// recalculation chain.
func recordRecalculation(ctx context.Context, duration time.Duration, failed bool) {
	if err := initMetrics(); err != nil {
		return
	}
	recalcTotal.Add(ctx, 1)
	if failed {
		recalcFailures.Add(ctx, 1)
	}
	recalcLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("failed", failed)),
	)
}

// startSpan creates a span for an engine operation.
func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine."+operation, trace.WithAttributes(attrs...))
}
