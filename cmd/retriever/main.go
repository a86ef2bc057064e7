// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The retriever service answers search requests with allow-listed web
// hits and feeds each hit to the scraper queue.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/seya-ai/chat-assistant/pkg/logging"
	"github.com/seya-ai/chat-assistant/services/retriever"
)

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		slog.Warn("ignoring invalid integer environment variable", "key", key, "value", v)
	}
	return fallback
}

func main() {
	logging.Setup("retriever")

	port := envStr("RETRIEVER_PORT", "12310")
	serperURL := envStr("SERPER_BASE_URL", "https://google.serper.dev")
	serperKey := os.Getenv("SERPER_API_KEY")
	if serperKey == "" {
		slog.Error("SERPER_API_KEY is required")
		os.Exit(1)
	}
	allowPath := envStr("ALLOWLIST_FILE", "/etc/seya/allowlist.yaml")
	redisAddr := envStr("REDIS_ADDR", "redis:6379")

	allow, err := retriever.LoadAllowList(allowPath)
	if err != nil {
		slog.Error("failed to load the allow list", "path", allowPath, "error", err)
		os.Exit(1)
	}
	stop := make(chan struct{})
	defer close(stop)
	if err := allow.Watch(stop); err != nil {
		slog.Error("failed to watch the allow list", "path", allowPath, "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("failed to reach redis", "addr", redisAddr, "error", err)
		os.Exit(1)
	}

	search := retriever.NewSerperClient(serperURL, serperKey,
		time.Duration(envInt("SERPER_TIMEOUT_MS", 3000))*time.Millisecond)
	svc := retriever.NewService(search, allow, envInt("RETRIEVAL_MAX_RESULTS", 10))
	pub := retriever.NewPublisher(rdb, retriever.StreamSearchResults)

	listenCtx, cancelListen := context.WithCancel(context.Background())
	defer cancelListen()
	listener := retriever.NewListener(rdb, svc, pub, retriever.StreamSearchRequests)
	go func() {
		if err := listener.Run(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("search request listener failed", "error", err)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/api/retriever/search", retriever.HandleSearch(svc))

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		slog.Info("retriever listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("retriever server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down retriever")
	cancelListen()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("retriever shutdown failed", "error", err)
	}
}
