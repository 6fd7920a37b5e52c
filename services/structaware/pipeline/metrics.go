// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sample outcomes used as metric labels and report keys.
const (
	outcomeOK         = "ok"
	outcomeParse      = "parse_error"
	outcomeStructural = "structural_mismatch"
	outcomeEmptyDFG   = "empty_dfg"
)

// =============================================================================
// Prometheus Metrics for Feature Preparation
// =============================================================================

var (
	// samplesTotal counts processed samples by outcome.
	// Labels: split, outcome (ok, parse_error, structural_mismatch, empty_dfg)
	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "structaware",
		Subsystem: "pipeline",
		Name:      "samples_total",
		Help:      "Total samples processed by outcome",
	}, []string{"split", "outcome"})

	// chunksTotal counts chunks by how they were obtained.
	// Labels: split, source (written, resumed)
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "structaware",
		Subsystem: "pipeline",
		Name:      "chunks_total",
		Help:      "Total chunks written or resumed from the manifest",
	}, []string{"split", "source"})

	// chunkDuration measures the time to derive and write one chunk.
	// Labels: split
	chunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "structaware",
		Subsystem: "pipeline",
		Name:      "chunk_duration_seconds",
		Help:      "Time to derive features for and write one chunk",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"split"})

	// passDuration measures post passes over all chunks.
	// Labels: pass (index_node_types, reduce_similarities)
	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "structaware",
		Subsystem: "pipeline",
		Name:      "pass_duration_seconds",
		Help:      "Time of post passes over stored chunks",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800},
	}, []string{"pass"})

	// leavesPerSample tracks AST leaf counts, sentinels excluded.
	leavesPerSample = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "structaware",
		Subsystem: "pipeline",
		Name:      "leaves_per_sample",
		Help:      "Distribution of AST leaf counts per sample",
		Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
	})
)
