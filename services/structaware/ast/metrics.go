// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for structural extraction.
var (
	tracer = otel.Tracer("structaware.ast")
	meter  = otel.Meter("structaware.ast")
)

// Metrics for build and strip operations.
var (
	buildLatency    metric.Float64Histogram
	buildTotal      metric.Int64Counter
	leavesExtracted metric.Int64Histogram
	edgesExtracted  metric.Int64Histogram
	stripFailures   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"ast_build_duration_seconds",
			metric.WithDescription("Duration of structure extraction (parse, leaves, data flow)"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"ast_build_total",
			metric.WithDescription("Total number of structure extractions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		leavesExtracted, err = meter.Int64Histogram(
			"ast_leaves_extracted",
			metric.WithDescription("Number of AST leaves extracted per sample"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesExtracted, err = meter.Int64Histogram(
			"ast_dfg_edges_extracted",
			metric.WithDescription("Number of data-flow edges extracted per sample"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stripFailures, err = meter.Int64Counter(
			"ast_strip_failures_total",
			metric.WithDescription("Samples whose comment/docstring stripping failed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a build operation.
//
// Parameters:
//   - ctx: Context for metric recording
//   - language: Language being parsed (e.g., "python")
//   - duration: How long the build took
//   - leaves: Number of leaves extracted
//   - edges: Number of data-flow edges extracted
//   - success: Whether the build succeeded
func recordBuildMetrics(ctx context.Context, language string, duration time.Duration, leaves, edges int, success bool) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}

	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", success),
	)

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if success {
		langAttr := metric.WithAttributes(attribute.String("language", language))
		leavesExtracted.Record(ctx, int64(leaves), langAttr)
		edgesExtracted.Record(ctx, int64(edges), langAttr)
	}
}

// recordStripFailure counts a failed strip.
func recordStripFailure(ctx context.Context, language string) {
	if err := initMetrics(); err != nil {
		return
	}
	stripFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("language", language)))
}

// startBuildSpan creates a span for a build or strip operation.
//
// Returns:
//   - ctx: Context with span
//   - span: The created span (caller must call span.End())
func startBuildSpan(ctx context.Context, op, language string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("ast.language", language),
			attribute.Int("ast.content_size", contentSize),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, leaves, edges int) {
	span.SetAttributes(
		attribute.Int("ast.leaf_count", leaves),
		attribute.Int("ast.edge_count", edges),
	)
}
