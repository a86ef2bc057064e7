// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seya",
		Subsystem: "retriever",
		Name:      "searches_total",
		Help:      "Search requests handled, labeled by outcome.",
	}, []string{"outcome"})

	hitsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seya",
		Subsystem: "retriever",
		Name:      "hits_published_total",
		Help:      "Search result events published to the scraper queue.",
	})
)
