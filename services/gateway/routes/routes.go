// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seya-ai/chat-assistant/services/gateway/handlers"
	"github.com/seya-ai/chat-assistant/services/gateway/ratelimit"
)

// SetupRoutes registers the gateway's endpoints.
func SetupRoutes(router *gin.Engine, opener handlers.StreamOpener, limiter ratelimit.Limiter) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(opener, limiter))
	}
}
