// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleSearch returns the gin handler for synchronous retrieval.
//
// # Description
//
// Accepts a RetrieveRequest, runs the allow-listed search, and replies
// with the filtered hits. A missing correlation id is minted here so the
// caller can still join this response with later events.
func HandleSearch(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RetrieveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
			return
		}

		correlationID := strings.TrimSpace(req.CorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		results, err := svc.Retrieve(c.Request.Context(), req.Query, req.MaxResults)
		if err != nil {
			searchesTotal.WithLabelValues("error").Inc()
			slog.Error("retrieval failed", "correlationId", correlationID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "retrieval failed"})
			return
		}

		searchesTotal.WithLabelValues("success").Inc()
		c.JSON(http.StatusOK, RetrieveResponse{CorrelationID: correlationID, Results: results})
	}
}
