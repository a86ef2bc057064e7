// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seya",
		Subsystem: "scraper",
		Name:      "pages_total",
		Help:      "Pages processed, labeled by outcome.",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "seya",
		Subsystem: "scraper",
		Name:      "fetch_duration_seconds",
		Help:      "Wall time to fetch and archive one page.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
